package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gsd-data/gridfetch/internal/backend"
	"github.com/gsd-data/gridfetch/internal/config"
	"github.com/gsd-data/gridfetch/internal/cycle"
	"github.com/gsd-data/gridfetch/internal/fetcher"
	"github.com/gsd-data/gridfetch/internal/logging"
	"github.com/gsd-data/gridfetch/internal/metrics"
	"github.com/gsd-data/gridfetch/internal/products"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gridfetch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts config.Options

	flags := pflag.NewFlagSet("gridfetch", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gridfetch [flags] <product> [product_type]\n\n")
		fmt.Fprintf(os.Stderr, "Fetch model output from open data sources.\n\nFlags:\n")
		fmt.Fprint(os.Stderr, flags.FlagUsages())
	}

	varsFlag := flags.String("vars", "", "regular expression selecting fields to subset (empty selects the whole file)")
	fcsts := flags.IntSlice("fcsts", nil, "forecast hours to retrieve")
	mems := flags.IntSlice("mems", nil, "ensemble members to retrieve")
	flags.StringVar(&opts.Path, "path", "", "alternate product path (hi, ak, pr, ...)")
	flags.StringVar(&opts.Match, "match", "", "filename pattern for listing-mode products")
	flags.StringVar(&opts.Start, "start", "", "start date <YYYY-MM-DD[-HH]>")
	flags.StringVar(&opts.End, "end", "", "end date <YYYY-MM-DD[-HH]>")
	flags.IntVarP(&opts.CyclesBack, "cycles-back", "b", 0, "how many cycles back to start, for backfills")
	flags.StringVarP(&opts.Dest, "dest", "d", "", "destination directory for downloads")
	flags.StringVar(&opts.RegistryHint, "conf", "", "YAML file with additional or overriding product definitions")
	flags.BoolVar(&opts.ODS, "ods", false, "write files under their distribution names")
	flags.BoolVar(&opts.DryRun, "dryrun", false, "only report what would be downloaded")
	flags.BoolVar(&opts.SaveIndex, "idx", false, "save the sidecar index next to each file")
	flags.BoolVar(&opts.ForceHTTP, "http", false, "fetch over HTTPS rather than the object store API")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	args := flags.Args()
	if len(args) < 1 || len(args) > 2 {
		flags.Usage()
		return fmt.Errorf("expected <product> [product_type], got %d arguments", len(args))
	}
	opts.Product = args[0]
	if len(args) == 2 {
		opts.ProductType = args[1]
	}
	if flags.Changed("vars") {
		opts.Vars = varsFlag
	}
	opts.Forecasts = *fcsts
	opts.Members = *mems

	opts.LoadEnv()

	logging.Setup(logging.Config{Format: opts.LogFormat, Level: opts.LogLevel})
	log := logging.Component("main")

	reg := products.Builtin()
	if opts.RegistryHint != "" {
		if err := reg.MergeFile(opts.RegistryHint); err != nil {
			return fmt.Errorf("load product config: %w", err)
		}
	}

	start, err := parseDate(opts.Start)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := parseDate(opts.End)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}

	req, err := reg.Resolve(opts.Product, products.Query{
		TypeAlias:  opts.ProductType,
		Vars:       opts.Vars,
		Forecasts:  opts.Forecasts,
		Members:    opts.Members,
		Path:       opts.Path,
		Match:      opts.Match,
		Start:      start,
		End:        end,
		CyclesBack: opts.CyclesBack,
		Dest:       opts.Dest,
		ODS:        opts.ODS,
		DryRun:     opts.DryRun,
		SaveIndex:  opts.SaveIndex,
		ForceHTTP:  opts.ForceHTTP,
	})
	if err != nil {
		return err
	}

	b, err := backend.New(req.Spec.Source, opts.ForceHTTP)
	if err != nil {
		return fmt.Errorf("open source %s: %w", req.Spec.Source, err)
	}
	defer b.Close()

	var m *metrics.Metrics
	if opts.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := metrics.Serve(opts.MetricsAddr); err != nil {
				log.Error("metrics listener failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	f := fetcher.New(req, b, cycle.NewResolver(), m)
	if err := f.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown complete")
			return nil
		}
		return err
	}
	return nil
}

// parseDate parses the CLI date format YYYY-MM-DD[-HH] as UTC. An empty
// string resolves to nil, meaning "derive from the product's run cycle".
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, fmt.Errorf("want YYYY-MM-DD[-HH], got %q", s)
	}
	hour := 0
	if len(parts) == 4 {
		h, err := strconv.Atoi(parts[3])
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("bad hour in %q", s)
		}
		hour = h
	}
	t, err := time.ParseInLocation("2006-01-02", strings.Join(parts[:3], "-"), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD[-HH], got %q", s)
	}
	t = t.Add(time.Duration(hour) * time.Hour)
	return &t, nil
}
