package reader

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/internal/cache"
	"github.com/magnusuMET/pyaerocom/internal/config"
	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// ReadOptions configure one batch read.
type ReadOptions struct {
	// Vars are the variables to retrieve; empty means the reader's
	// defaults.
	Vars []string

	// Workers bounds the number of files read concurrently.
	Workers int

	// FirstFileOnly reads only the first file of the batch. Debug aid;
	// the cache is bypassed.
	FirstFileOnly bool

	// Cache, when set, is probed before reading and written after.
	Cache *cache.Handler

	// LowMemoryTrim shrinks each worker's container before the reduce.
	LowMemoryTrim bool

	// MergeMeta collapses equal metadata blocks after the reduce,
	// ignoring the attributes in MergeIgnoreKeys.
	MergeMeta       bool
	MergeIgnoreKeys []string

	// RemoveOutliers drops values outside each variable's registered
	// range after reading.
	RemoveOutliers bool

	// Filters, when non-empty, is applied to the result and recorded in
	// the filter history.
	Filters ungridded.FilterSpec

	// Registry resolves variable units and outlier ranges. Nil keeps the
	// container's default.
	Registry *obs.VarRegistry

	// PrefAttrs maps dataset ids to the metadata attribute preferred
	// when station records are merged.
	PrefAttrs map[string]string

	Logger zerolog.Logger
}

// WithVars returns a copy of the options reading the given variables.
func (o ReadOptions) WithVars(vars []string) ReadOptions {
	o.Vars = vars
	return o
}

// OptionsFromConfig assembles the batch options shared by all readers:
// worker count, cache handler, variable registry and merge preferences.
// Dataset-specific settings (merge-meta, ignore keys) stay with the
// reader constructors.
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) (ReadOptions, error) {
	opts := ReadOptions{
		Workers:       cfg.Reader.Workers,
		LowMemoryTrim: cfg.Reader.LowMemoryTrim,
		Logger:        log,
	}

	reg, err := cfg.VarRegistry()
	if err != nil {
		return ReadOptions{}, fmt.Errorf("failed to load variable registry: %w", err)
	}
	opts.Registry = reg

	if cfg.Cache.Enabled {
		h, err := cache.NewHandler(cfg.Cache.Dir, cfg.Cache.ZstdLevel, log)
		if err != nil {
			return ReadOptions{}, fmt.Errorf("failed to set up cache: %w", err)
		}
		opts.Cache = h
	}

	prefAttrs, err := config.ParseMergePrefAttrs(cfg.Reader)
	if err != nil {
		return ReadOptions{}, err
	}
	opts.PrefAttrs = prefAttrs

	return opts, nil
}
