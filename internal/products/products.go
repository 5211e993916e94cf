// Package products holds the product registry: static configuration for
// every data product this tool knows how to fetch, plus the resolution
// of a caller's invocation into a fully-specified fetch request.
package products

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProduct is returned when a product name is not registered.
var ErrUnknownProduct = errors.New("unknown product")

// HourRange is an inclusive range of forecast hours or ensemble members.
type HourRange struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

// Hours expands the range into its ordered values.
func (r HourRange) Hours() []int {
	if r.Last < r.First {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for h := r.First; h <= r.Last; h++ {
		out = append(out, h)
	}
	return out
}

// Spec is the static configuration for one data product. Exactly one
// discovery mode applies per fetch: listing-based when MatchPattern is
// set, template-based otherwise.
type Spec struct {
	Name          string            `yaml:"name"`
	Source        string            `yaml:"source"` // bucket name, http(s) URL, or ftp URL
	Types         map[string]string `yaml:"types"`  // alias -> canonical product type
	LastRun       string            `yaml:"last_run"`
	KeyPattern    string            `yaml:"key_pattern"`
	KeyPatternAlt string            `yaml:"key_pattern_alt,omitempty"`
	PathDef       string            `yaml:"path_def,omitempty"` // literal the alternate pattern patches
	Forecasts     HourRange         `yaml:"forecasts"`
	Members       *HourRange        `yaml:"mems,omitempty"`
	SearchStr     string            `yaml:"search_str,omitempty"`
	SearchStrType map[string]string `yaml:"search_str_type,omitempty"` // per-alias overrides
	ODSName       string            `yaml:"ods_name,omitempty"`
	MatchPattern  string            `yaml:"match_pattern,omitempty"`
	StepHours     int               `yaml:"step_hours,omitempty"` // cadence; 6 for known 6-hourly products
	ChunkTypes    []string          `yaml:"chunk_types,omitempty"`
	APCPFix       bool              `yaml:"apcp_hourly_fix,omitempty"`
	Decompress    bool              `yaml:"decompress,omitempty"`
}

// Step returns the product's cycle cadence in hours.
func (s Spec) Step() int {
	if s.StepHours > 0 {
		return s.StepHours
	}
	return 1
}

// Chunked reports whether full-file transfers of the given product type
// should be chunked.
func (s Spec) Chunked(productType string) bool {
	for _, t := range s.ChunkTypes {
		if t == productType {
			return true
		}
	}
	return false
}

// Registry is a name-keyed product configuration table.
type Registry map[string]Spec

// Builtin returns the default registry of commonly fetched products.
func Builtin() Registry {
	return Registry{
		"hrrr": {
			Name:       "NOAA High-Resolution Rapid Refresh (HRRR) Model",
			Source:     "noaa-hrrr-bdp-pds",
			Types:      map[string]string{"": "sfc", "subh": "subh", "prs": "prs", "nat": "nat"},
			LastRun:    "{day}{prev_hr}",
			KeyPattern: "hrrr.{day}/conus/hrrr.t{hr:02d}z.wrf{prod_type}f{fxx:02d}.grib2",
			Forecasts:  HourRange{First: 0, Last: 18},
			SearchStr:  "FRICV|HPBL",
			SearchStrType: map[string]string{
				"subh": "DSWRF",
				"prs":  "PRES:surface",
				"nat":  "GUST",
			},
		},
		"gfs": {
			Name:       "NOAA Global Forecast System (GFS)",
			Source:     "noaa-gfs-bdp-pds",
			Types:      map[string]string{"": "0p25", "half": "0p50"},
			LastRun:    "{day_sub3h}{last_gfs_run}",
			KeyPattern: "gfs.{day}/{hr:02d}/atmos/gfs.t{hr:02d}z.pgrb2.{prod_type}.f{fxx:03d}",
			ODSName:    "{day}_{hr:02d}00/{yyjjj}{hr:02d}000{fxx:03d}",
			Forecasts:  HourRange{First: 0, Last: 63},
			SearchStr:  "(:TMP:surface|:PRATE:surface|:APCP:surface)",
			StepHours:  6,
		},
		"blend": {
			Name:       "NOAA National Blend of Models (NBM)",
			Source:     "noaa-nbm-grib2-pds",
			Types:      map[string]string{"": "core"},
			LastRun:    "{day}{prev_hr}",
			KeyPattern: "blend.{day}/{hr:02d}/core/blend.t{hr:02d}z.core.f{fxx:03d}.co.grib2",
			Forecasts:  HourRange{First: 1, Last: 18},
			SearchStr:  "(:TMP:surface|:WIND:surface|:WDIR:surface|:APCP:surface|:PTYPE:surface)",
			APCPFix:    true,
		},
		"rrfs_hr": {
			Name:          "NOAA Rapid Refresh Forecast System (RRFS) - hourly runtimes",
			Source:        "noaa-rrfs-pds",
			Types:         map[string]string{"": "natlev", "prs": "prslev", "test": "testbed", "fip": "ififip"},
			LastRun:       "{two_hrs_back}",
			PathDef:       "ALTPATH",
			KeyPattern:    "rrfs_a/rrfs_a.{day}/{hr:02d}/control/rrfs.t{hr:02d}z.{prod_type}.f{fxx:03d}.grib2",
			KeyPatternAlt: "rrfs_a/rrfs_a.{day}/{hr:02d}/control/rrfs.t{hr:02d}z.{prod_type}.f{fxx:03d}.ALTPATH.grib2",
			Forecasts:     HourRange{First: 0, Last: 18},
			ChunkTypes:    []string{"natlev", "prslev"},
		},
		"rrfs": {
			Name:          "NOAA Rapid Refresh Forecast System (RRFS) - at 6 hour runtimes",
			Source:        "noaa-rrfs-pds",
			Types:         map[string]string{"": "natlev", "prs": "prslev", "test": "testbed", "fip": "ififip"},
			LastRun:       "{last_ofs_run}",
			PathDef:       "ALTPATH",
			KeyPattern:    "rrfs_a/rrfs_a.{day}/{hr:02d}/control/rrfs.t{hr:02d}z.{prod_type}.f{fxx:03d}.grib2",
			KeyPatternAlt: "rrfs_a/rrfs_a.{day}/{hr:02d}/control/rrfs.t{hr:02d}z.{prod_type}.f{fxx:03d}.ALTPATH.grib2",
			Forecasts:     HourRange{First: 19, Last: 60},
			StepHours:     6,
			ChunkTypes:    []string{"natlev", "prslev"},
		},
		"rrfs_ens": {
			Name:          "NOAA Rapid Refresh Forecast System (RRFS) - Multi physics ensemble",
			Source:        "noaa-rrfs-pds",
			Types:         map[string]string{"": "prslev", "test": "testbed"},
			LastRun:       "{last_ofs_run}",
			PathDef:       "ALTPATH",
			KeyPattern:    "rrfs_a/rrfs_a.{day}/{hr:02d}/mem{mem:04d}/rrfs.t{hr:02d}z.m{mem:02d}.{prod_type}.f{fxx:03d}.conus.grib2",
			KeyPatternAlt: "rrfs_a/rrfs_a.{day}/{hr:02d}/mem{mem:04d}/rrfs.t{hr:02d}z.m{mem:02d}.{prod_type}.f{fxx:03d}.ALTPATH.grib2",
			Forecasts:     HourRange{First: 0, Last: 60},
			Members:       &HourRange{First: 1, Last: 5},
			StepHours:     6,
		},
		"rap": {
			Name:       "NOAA Rapid Refresh (RAP)",
			Source:     "noaa-rap-pds",
			Types:      map[string]string{"": "prs", "nat": "nat"},
			LastRun:    "{day}{prev_hr}",
			KeyPattern: "rap.{day}/rap.t{hr:02d}z.wrf{prod_type}f{fxx:02d}.grib2",
			Forecasts:  HourRange{First: 0, Last: 18},
			SearchStr:  "REF",
		},
	}
}

// MergeFile merges product entries from an auxiliary YAML registry into
// r. Entries with the same name replace the built-in definition.
func (r Registry) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read registry %s: %w", path, err)
	}
	var extra map[string]Spec
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return fmt.Errorf("parse registry %s: %w", path, err)
	}
	for name, spec := range extra {
		r[name] = spec
	}
	return nil
}

// Query carries the caller-supplied knobs of one invocation, before
// resolution against the registry.
type Query struct {
	TypeAlias  string
	Vars       *string // nil = use registry default; empty = whole file
	Forecasts  []int
	Members    []int
	Path       string // alternate path request (hi, ak, pr, ...)
	Match      string // filename pattern override for listing mode
	Start      *time.Time
	End        *time.Time
	CyclesBack int
	Dest       string
	ODS        bool
	DryRun     bool
	SaveIndex  bool
	ForceHTTP  bool
}

// Request is the fully-resolved parameterization of one invocation.
// Every effective set (forecasts, members, field expression) is resolved
// here, never partially defaulted downstream.
type Request struct {
	Product      string
	ProductType  string // canonical
	Spec         Spec   // with any alternate key pattern already applied
	SearchStr    string
	Forecasts    []int
	Members      []int // nil when the product has no ensemble dimension
	MatchPattern string
	Start        *time.Time
	End          *time.Time
	CyclesBack   int
	Dest         string
	ODS          bool
	DryRun       bool
	SaveIndex    bool
	AltPath      bool
}

// Resolve looks up product in the registry and resolves the query into a
// Request.
func (r Registry) Resolve(product string, q Query) (*Request, error) {
	spec, ok := r[product]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, product)
	}

	productType, ok := spec.Types[q.TypeAlias]
	if !ok {
		return nil, fmt.Errorf("product %s has no type %q", product, q.TypeAlias)
	}

	if q.Path != "" {
		if spec.KeyPatternAlt == "" || spec.PathDef == "" {
			return nil, fmt.Errorf("product %s does not define an alternate path pattern", product)
		}
		spec.KeyPattern = strings.ReplaceAll(spec.KeyPatternAlt, spec.PathDef, q.Path)
	}

	req := &Request{
		Product:      product,
		ProductType:  productType,
		Spec:         spec,
		SearchStr:    resolveSearch(spec, q),
		Forecasts:    q.Forecasts,
		MatchPattern: spec.MatchPattern,
		Start:        q.Start,
		End:          q.End,
		CyclesBack:   q.CyclesBack,
		Dest:         q.Dest,
		ODS:          q.ODS,
		DryRun:       q.DryRun,
		SaveIndex:    q.SaveIndex,
		AltPath:      q.Path != "",
	}
	if len(req.Forecasts) == 0 {
		req.Forecasts = spec.Forecasts.Hours()
	}
	req.Members = q.Members
	if len(req.Members) == 0 && spec.Members != nil {
		req.Members = spec.Members.Hours()
	}
	if q.Match != "" {
		req.MatchPattern = q.Match
	}
	return req, nil
}

// resolveSearch picks the effective field-selection expression: an
// explicit empty --vars means "whole file", a set --vars wins, otherwise
// the per-type override, then the product default.
func resolveSearch(spec Spec, q Query) string {
	if q.Vars != nil {
		return *q.Vars
	}
	if s, ok := spec.SearchStrType[q.TypeAlias]; ok {
		return s
	}
	return spec.SearchStr
}
