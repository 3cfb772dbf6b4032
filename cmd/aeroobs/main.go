package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/magnusuMET/pyaerocom/internal/config"
	"github.com/magnusuMET/pyaerocom/internal/logger"
	"github.com/magnusuMET/pyaerocom/internal/reader"
	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"

	// Register the archive readers.
	_ "github.com/magnusuMET/pyaerocom/internal/reader/aeronet"
	_ "github.com/magnusuMET/pyaerocom/internal/reader/ebas"
)

// Version is set at build time
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "read":
		runRead(os.Args[2:])
	case "stations":
		runStations(os.Args[2:])
	case "extract":
		runExtract(os.Args[2:])
	case "filter":
		runFilter(os.Args[2:])
	case "datasets":
		runDatasets(os.Args[2:])
	case "version":
		fmt.Printf("aeroobs %s\n", Version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `aeroobs - ungridded observation archive tool

Usage:
  aeroobs <command> [flags]

Commands:
  read      read a dataset and report its contents
  stations  read a dataset and list its stations
  extract   materialize one station's time series
  filter    read a dataset and apply metadata filters
  datasets  list the supported dataset ids
  version   print the version

Run 'aeroobs <command> -h' for command flags.
`)
}

// commonFlags are shared by every reading command.
type commonFlags struct {
	configPath string
	dataset    string
	vars       string
	workers    int
	noCache    bool
	firstFile  bool
	logLevel   string
	logFormat  string
}

func addCommonFlags(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.configPath, "config", "", "config file (default: aeroobs.toml search path)")
	fs.StringVar(&cf.dataset, "dataset", "", "dataset id, e.g. EBASMC (required)")
	fs.StringVar(&cf.vars, "vars", "", "comma-separated variables (default: reader defaults)")
	fs.IntVar(&cf.workers, "workers", 0, "override the configured worker count")
	fs.BoolVar(&cf.noCache, "no-cache", false, "bypass the read cache")
	fs.BoolVar(&cf.firstFile, "first-file", false, "read only the first file of the batch")
	fs.StringVar(&cf.logLevel, "log-level", "", "override the configured log level")
	fs.StringVar(&cf.logFormat, "log-format", "", "override the configured log format")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads the config, initializes logging and returns a context that
// cancels on SIGINT/SIGTERM.
func setup(cf *commonFlags) (*config.Config, context.Context, context.CancelFunc) {
	cfg, err := config.Load(cf.configPath)
	if err != nil {
		fatal("Failed to load config: %v", err)
	}
	level, format := cfg.Log.Level, cfg.Log.Format
	if cf.logLevel != "" {
		level = cf.logLevel
	}
	if cf.logFormat != "" {
		format = cf.logFormat
	}
	logger.SetBufferSize(cfg.Log.BufferSize)
	logger.Setup(level, format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return cfg, ctx, cancel
}

// readDataset runs one batch read for the commands that start from a full
// container.
func readDataset(ctx context.Context, cfg *config.Config, cf *commonFlags) (*ungridded.Data, *reader.Report) {
	if cf.dataset == "" {
		fatal("-dataset is required (supported: %s)", strings.Join(reader.Supported(), ", "))
	}
	r, err := reader.For(cf.dataset, cfg, log.Logger)
	if err != nil {
		fatal("%v", err)
	}

	var opts reader.ReadOptions
	if op, ok := r.(reader.OptionProvider); ok {
		opts = op.RunOptions()
	} else if opts, err = reader.OptionsFromConfig(cfg, log.Logger); err != nil {
		fatal("%v", err)
	}
	if cf.workers > 0 {
		opts.Workers = cf.workers
	}
	if cf.noCache {
		opts.Cache = nil
	}
	opts.FirstFileOnly = cf.firstFile
	if cf.vars != "" {
		opts.Vars = splitList(cf.vars)
	}

	data, report, err := reader.Read(ctx, r, opts)
	if err != nil {
		fatal("Read failed: %v", err)
	}
	return data, report
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func runRead(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var cf commonFlags
	addCommonFlags(fs, &cf)
	showHist := fs.Bool("history", false, "print the container's filter history")
	fs.Parse(args)

	cfg, ctx, cancel := setup(&cf)
	defer cancel()

	data, report := readDataset(ctx, cfg, &cf)
	rows, _ := data.Shape()

	fmt.Printf("dataset:   %s (revision %s)\n", report.DataID, data.Revision(report.DataID))
	fmt.Printf("session:   %s\n", report.SessionID)
	fmt.Printf("variables: %s\n", strings.Join(data.ContainsVars(), ", "))
	fmt.Printf("stations:  %d\n", data.CountStations())
	fmt.Printf("rows:      %d\n", rows)
	if report.CacheHit {
		fmt.Printf("source:    cache\n")
	} else {
		fmt.Printf("files:     %d read, %d failed\n", report.FilesRead, len(report.Failed))
	}
	fmt.Printf("elapsed:   %s\n", report.Elapsed.Round(time.Millisecond))

	for _, f := range report.Failed {
		fmt.Printf("  failed: %s: %s\n", f.Path, f.Err)
	}
	if *showHist {
		fmt.Println("filter history:")
		for _, e := range data.FilterHistory() {
			fmt.Printf("  %s\n", e)
		}
	}
	replayWarnings()
}

func runStations(args []string) {
	fs := flag.NewFlagSet("stations", flag.ExitOnError)
	var cf commonFlags
	addCommonFlags(fs, &cf)
	fs.Parse(args)

	cfg, ctx, cancel := setup(&cf)
	defer cancel()

	data, _ := readDataset(ctx, cfg, &cf)

	type stationRow struct {
		name     string
		lat, lon float64
		vars     map[string]bool
	}
	byName := make(map[string]*stationRow)
	for _, key := range data.MetaKeys() {
		meta, ok := data.Meta(key)
		if !ok {
			continue
		}
		row, seen := byName[meta.StationName]
		if !seen {
			row = &stationRow{
				name: meta.StationName,
				lat:  meta.Latitude,
				lon:  meta.Longitude,
				vars: make(map[string]bool),
			}
			byName[meta.StationName] = row
		}
		for _, v := range meta.Variables {
			row.vars[v] = true
		}
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-32s %9s %9s  %s\n", "station", "lat", "lon", "variables")
	for _, name := range names {
		row := byName[name]
		vars := make([]string, 0, len(row.vars))
		for v := range row.vars {
			vars = append(vars, v)
		}
		sort.Strings(vars)
		fmt.Printf("%-32s %9.4f %9.4f  %s\n", row.name, row.lat, row.lon, strings.Join(vars, ","))
	}
	fmt.Printf("%d stations\n", len(names))
	replayWarnings()
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	var cf commonFlags
	addCommonFlags(fs, &cf)
	station := fs.String("station", "", "station name or glob pattern (required)")
	start := fs.String("start", "", "window start, YYYY-MM-DD or RFC3339")
	stop := fs.String("stop", "", "window stop, YYYY-MM-DD or RFC3339")
	freq := fs.String("freq", "", "resample to a coarser frequency (hourly, daily, weekly, monthly)")
	noMerge := fs.Bool("no-merge", false, "keep multiple records of the same station separate")
	fs.Parse(args)

	if *station == "" {
		fatal("-station is required")
	}
	cfg, ctx, cancel := setup(&cf)
	defer cancel()

	data, _ := readDataset(ctx, cfg, &cf)

	opts := ungridded.DefaultStationOptions()
	opts.MergeIfMulti = !*noMerge
	var err error
	if opts.Start, err = parseWhen(*start); err != nil {
		fatal("bad -start: %v", err)
	}
	if opts.Stop, err = parseWhen(*stop); err != nil {
		fatal("bad -stop: %v", err)
	}
	if *freq != "" {
		if opts.Freq, err = obs.ParseTsType(*freq); err != nil {
			fatal("bad -freq: %v", err)
		}
	}
	varNames := splitList(cf.vars)

	sd, err := data.ToStationData(ungridded.ByName(*station), varNames, opts)
	if err != nil {
		fatal("Extraction failed: %v", err)
	}

	fmt.Printf("# station %s (%.4f, %.4f) source %s\n",
		sd.StationName, sd.Latitude, sd.Longitude, sd.DataID)
	for _, name := range sd.VarsAvailable() {
		ser := sd.Data[name]
		unit := ""
		if vi, ok := sd.VarInfo[name]; ok {
			unit = vi.Units
		}
		fmt.Printf("# %s [%s], %d samples, %d valid\n", name, unit, ser.Len(), ser.ValidCount())
		for i, t := range ser.Times {
			if math.IsNaN(ser.Values[i]) {
				continue
			}
			fmt.Printf("%s,%s,%g\n", name, t.UTC().Format(time.RFC3339), ser.Values[i])
		}
		if ov, ok := sd.Overlap[name]; ok && ov.Len() > 0 {
			fmt.Printf("# %s: %d overlapping samples discarded during merge\n", name, ov.Len())
		}
	}
	replayWarnings()
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	var cf commonFlags
	addCommonFlags(fs, &cf)
	var wheres stringList
	fs.Var(&wheres, "where", "metadata condition key=value, key=a|b or key=low..high (repeatable)")
	fs.Parse(args)

	if len(wheres) == 0 {
		fatal("at least one -where condition is required")
	}
	spec, err := parseFilterSpec(wheres)
	if err != nil {
		fatal("%v", err)
	}

	cfg, ctx, cancel := setup(&cf)
	defer cancel()

	data, _ := readDataset(ctx, cfg, &cf)
	filtered, err := data.FilterByMeta(spec)
	if err != nil {
		fatal("Filter failed: %v", err)
	}

	rows, _ := filtered.Shape()
	origRows, _ := data.Shape()
	fmt.Printf("stations: %d of %d\n", filtered.CountStations(), data.CountStations())
	fmt.Printf("rows:     %d of %d\n", rows, origRows)
	fmt.Printf("datasets: %s\n", strings.Join(filtered.ContainsDatasets(), ", "))
	for _, name := range filtered.UniqueStationNames() {
		fmt.Printf("  %s\n", name)
	}
	if last, ok := filtered.LastFilter(); ok {
		fmt.Printf("applied:  %s\n", last)
	}
	replayWarnings()
}

func runDatasets(args []string) {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	fs.Parse(args)
	for _, id := range reader.Supported() {
		fmt.Println(id)
	}
}

// replayWarnings prints the warnings and errors captured during the run,
// so they are visible after the summary even with JSON log output.
func replayWarnings() {
	entries := logger.GlobalBuffer().Recent(50, "warn", 0)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "warnings:")
	for _, e := range entries {
		fmt.Fprintf(os.Stderr, "  [%s] %s: %s\n", e.Level, e.Component, e.Message)
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseFilterSpec turns -where conditions into a FilterSpec. "a|b" makes a
// membership set, "low..high" a numeric range, anything else an exact
// string match.
func parseFilterSpec(conds []string) (ungridded.FilterSpec, error) {
	spec := make(ungridded.FilterSpec, len(conds))
	for _, cond := range conds {
		key, val, ok := strings.Cut(cond, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("bad -where condition %q, want key=value", cond)
		}
		switch {
		case strings.Contains(val, ".."):
			lowStr, highStr, _ := strings.Cut(val, "..")
			low, err1 := strconv.ParseFloat(lowStr, 64)
			high, err2 := strconv.ParseFloat(highStr, 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("bad range in %q, want low..high", cond)
			}
			spec[key] = ungridded.Range{Low: low, High: high}
		case strings.Contains(val, "|"):
			spec[key] = strings.Split(val, "|")
		default:
			spec[key] = val
		}
	}
	return spec, nil
}

func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
