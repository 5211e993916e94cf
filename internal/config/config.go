// Package config holds the invocation options shared by every
// component. The value is built once per run and is read-only after
// that.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DefaultDest is the download destination when none is specified.
const DefaultDest = "/tmp/grid_fetched"

// Options are the caller-supplied parameters of one invocation, after
// flag parsing but before registry resolution.
type Options struct {
	Product      string
	ProductType  string
	Vars         *string // nil = registry default; "" = whole file
	Forecasts    []int
	Members      []int
	Path         string
	Match        string
	Start        string // YYYY-MM-DD[-HH]
	End          string
	CyclesBack   int
	Dest         string
	RegistryHint string // auxiliary YAML registry path
	ODS          bool
	DryRun       bool
	SaveIndex    bool
	ForceHTTP    bool

	LogFormat   string
	LogLevel    string
	MetricsAddr string
}

// LoadEnv fills unset options from the environment, reading a .env file
// first when one is present next to the working directory.
func (o *Options) LoadEnv() {
	_ = godotenv.Load()

	if o.Dest == "" {
		o.Dest = getenvDefault("GRIDFETCH_DEST", DefaultDest)
	}
	if o.LogFormat == "" {
		o.LogFormat = getenvDefault("GRIDFETCH_LOG_FORMAT", "text")
	}
	if o.LogLevel == "" {
		o.LogLevel = getenvDefault("GRIDFETCH_LOG_LEVEL", "info")
	}
	if o.MetricsAddr == "" {
		o.MetricsAddr = os.Getenv("GRIDFETCH_METRICS_ADDR")
	}
	if o.RegistryHint == "" {
		o.RegistryHint = os.Getenv("GRIDFETCH_REGISTRY")
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
