// Package cycle computes valid model-run reference times: the latest
// run a product should have published, and the concrete [start, end)
// window a fetch spans.
package cycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/gsd-data/gridfetch/internal/products"
)

// runLayout is the wire form of a fully-rendered last_run template.
const runLayout = "2006010215"

// sixHourly maps an hour to its most recent 6-hour cycle boundary.
var sixHourly = [4]string{"00", "06", "12", "18"}

// Resolver derives run times from "now". The clock is injectable so the
// calendar arithmetic is testable at fixed instants.
type Resolver struct {
	Now func() time.Time
}

// NewResolver returns a resolver on the UTC wall clock.
func NewResolver() *Resolver {
	return &Resolver{Now: func() time.Time { return time.Now().UTC() }}
}

// derived holds the reference values a last_run template can select.
// The offsets encode typical publication lag: hourly products trail the
// clock by about an hour, 6-hourly products by two to nearly four.
type derived struct {
	year       string // year of the previous whole hour
	day        string // YYYYMMDD of the previous whole hour
	prevHr     string // HH of the previous whole hour
	daySub3h   string // YYYYMMDD as of 3.6 hours ago
	twoHrsBack string // YYYYMMDDHH as of 2 hours ago
	lastGFSRun string // 6-hour boundary HH as of 3.6 hours ago
	lastOFSRun string // YYYYMMDD (2h ago) + 6-hour boundary HH as of 2.1 hours ago
}

func (r *Resolver) derive() derived {
	now := r.Now().UTC()
	lastHr := now.Add(-1 * time.Hour)
	sub3h6 := now.Add(-(3*time.Hour + 36*time.Minute))
	sub2h := now.Add(-2 * time.Hour)
	sub2h6m := now.Add(-(2*time.Hour + 6*time.Minute))

	twoHrsBack := sub2h.Format(runLayout)
	return derived{
		year:       lastHr.Format("2006"),
		day:        lastHr.Format("20060102"),
		prevHr:     fmt.Sprintf("%02d", lastHr.Hour()),
		daySub3h:   sub3h6.Format("20060102"),
		twoHrsBack: twoHrsBack,
		lastGFSRun: sixHourly[sub3h6.Hour()/6],
		lastOFSRun: twoHrsBack[:8] + sixHourly[sub2h6m.Hour()/6],
	}
}

// LatestRun resolves a product's last_run cadence template into the
// most recent run time it should have published, truncated to the hour.
func (r *Resolver) LatestRun(spec products.Spec) (time.Time, error) {
	d := r.derive()
	rendered := strings.NewReplacer(
		"{year}", d.year,
		"{day}", d.day,
		"{prev_hr}", d.prevHr,
		"{day_sub3h}", d.daySub3h,
		"{two_hrs_back}", d.twoHrsBack,
		"{last_gfs_run}", d.lastGFSRun,
		"{last_ofs_run}", d.lastOFSRun,
	).Replace(spec.LastRun)

	run, err := time.ParseInLocation(runLayout, rendered, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("last_run template %q rendered to %q: %w",
			spec.LastRun, rendered, err)
	}
	return run, nil
}

// Window resolves the [start, end) fetch window. An omitted start means
// the latest run; an omitted end defaults to one cycle past start.
// cyclesBack then shifts start earlier, so a backfill widens the window
// without losing the latest cycle.
func (r *Resolver) Window(spec products.Spec, start, end *time.Time, stepHours, cyclesBack int) (time.Time, time.Time, error) {
	var s time.Time
	if start != nil {
		s = *start
	} else {
		latest, err := r.LatestRun(spec)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		s = latest
	}

	var e time.Time
	if end != nil {
		e = *end
	} else {
		e = s.Add(time.Duration(stepHours) * time.Hour)
	}

	if cyclesBack > 0 {
		s = s.Add(-time.Duration(stepHours*cyclesBack) * time.Hour)
	}
	return s, e, nil
}
