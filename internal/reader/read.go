package reader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// FileFailure records one file that could not be read.
type FileFailure struct {
	Path string
	Err  string
}

// Report summarizes one batch read for logs and the CLI.
type Report struct {
	SessionID  string
	DataID     string
	Vars       []string
	FilesTotal int
	FilesRead  int
	Failed     []FileFailure
	CacheHit   bool
	Elapsed    time.Duration
}

// Read runs one batch read: resolve the variable list, probe the cache,
// read the files on a bounded worker pool and reduce the per-worker
// containers in file order. Files that fail to parse are logged and
// recorded in the report, never aborting the batch; the error return is
// reserved for setup failures and cancellation. All log lines of one
// batch carry a short session id, which the report repeats.
func Read(ctx context.Context, r Reader, opts ReadOptions) (*ungridded.Data, *Report, error) {
	session := uuid.New().String()[:12]
	log := opts.Logger.With().
		Str("session", session).
		Str("data_id", r.DataID()).
		Logger()

	vars := append([]string(nil), opts.Vars...)
	if len(vars) == 0 {
		vars = append(vars, r.DefaultVars()...)
	}
	supported := r.SupportedVars()
	for _, v := range vars {
		if !containsString(supported, v) {
			return nil, nil, fmt.Errorf("%w: %s is not supported by %s",
				obs.ErrVarNotAvailable, v, r.DataID())
		}
	}

	report := &Report{SessionID: session, DataID: r.DataID(), Vars: vars}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	var cacheKey string
	if opts.Cache != nil && !opts.FirstFileOnly {
		cacheKey = opts.Cache.Key(r.DataID(), vars)
		if cached, ok := opts.Cache.Read(cacheKey); ok {
			report.CacheHit = true
			attach(cached, r.DataID(), opts, log)
			log.Info().Str("key", cacheKey).Msg("serving read from cache")
			return postProcess(cached, opts, log, report)
		}
	}

	files, err := listFiles(ctx, r, vars)
	if err != nil {
		return nil, report, fmt.Errorf("failed to list %s files: %w", r.DataID(), err)
	}
	if len(files) == 0 {
		return nil, report, fmt.Errorf("%w: no %s files to read", obs.ErrDataCoverage, r.DataID())
	}
	if opts.FirstFileOnly {
		files = files[:1]
		log.Info().Str("file", filepath.Base(files[0])).Msg("reading first file only")
	}
	report.FilesTotal = len(files)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}
	log.Info().
		Int("files", len(files)).
		Int("workers", workers).
		Strs("vars", vars).
		Msg("reading files")

	// Each worker fills a private container from a contiguous slice of
	// the file list; the single-threaded reduce below appends them in
	// slice order, so row order follows file order.
	chunks := splitChunks(files, workers)
	parts := make([]*ungridded.Data, len(chunks))
	failed := make([][]FileFailure, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			part := ungridded.New()
			part.SetLogger(log)
			if opts.Registry != nil {
				part.SetRegistry(opts.Registry)
			}
			for _, path := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				sd, err := r.ReadFile(path, vars)
				if err == nil {
					_, err = part.AddStationData(sd)
				}
				if err != nil {
					log.Error().Err(err).Str("file", filepath.Base(path)).Msg("failed to read file")
					failed[i] = append(failed[i], FileFailure{Path: path, Err: err.Error()})
				}
			}
			if opts.LowMemoryTrim {
				part.ShrinkToFit()
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}

	out := parts[0]
	for _, part := range parts[1:] {
		if err := out.Append(part); err != nil {
			return nil, report, fmt.Errorf("failed to merge worker containers: %w", err)
		}
	}
	for _, f := range failed {
		report.Failed = append(report.Failed, f...)
	}
	report.FilesRead = report.FilesTotal - len(report.Failed)
	if report.FilesRead == 0 {
		log.Warn().Int("files", report.FilesTotal).Msg("no file of the batch could be read")
	}

	out.SetRevision(r.DataID(), r.Revision())
	attach(out, r.DataID(), opts, log)
	if rec, ok := r.(OptionRecorder); ok {
		out.RecordFilter(rec.ReadOptionsEntry())
	}
	if opts.MergeMeta && !out.IsEmpty() {
		merged, err := out.MergeCommonMeta(opts.MergeIgnoreKeys...)
		if err != nil {
			return nil, report, fmt.Errorf("failed to merge metadata blocks: %w", err)
		}
		out = merged
	}
	out.ShrinkToFit()

	if opts.Cache != nil && cacheKey != "" && !out.IsEmpty() {
		if err := opts.Cache.Write(out, cacheKey); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("failed to write cache")
		}
	}

	rows, _ := out.Shape()
	log.Info().
		Int("rows", rows).
		Int("stations", out.CountStations()).
		Int("files_failed", len(report.Failed)).
		Dur("elapsed", time.Since(start)).
		Msg("read complete")
	return postProcess(out, opts, log, report)
}

// attach hands the container the batch logger, registry and merge
// preference. Applied to fresh and cached containers alike.
func attach(d *ungridded.Data, dataID string, opts ReadOptions, log zerolog.Logger) {
	d.SetLogger(log)
	if opts.Registry != nil {
		d.SetRegistry(opts.Registry)
	}
	if attr, ok := opts.PrefAttrs[dataID]; ok {
		d.SetMergePrefAttr(dataID, attr)
	}
}

// postProcess applies the post-read hooks: outlier removal against the
// registered ranges and the configured metadata filter. Both record
// themselves in the filter history. Hooks run after the cache boundary so
// cached containers stay unfiltered.
func postProcess(d *ungridded.Data, opts ReadOptions, log zerolog.Logger, report *Report) (*ungridded.Data, *Report, error) {
	if opts.RemoveOutliers {
		oo := ungridded.DefaultOutlierOptions()
		oo.InPlace = true
		for _, v := range report.Vars {
			if _, err := d.RemoveOutliers(v, oo); err != nil {
				if errors.Is(err, obs.ErrVarNotAvailable) || errors.Is(err, obs.ErrVarNotFound) {
					log.Warn().Err(err).Str("variable", v).Msg("skipping outlier removal")
					continue
				}
				return nil, report, err
			}
		}
	}
	if len(opts.Filters) > 0 {
		filtered, err := d.FilterByMeta(opts.Filters)
		if err != nil {
			return nil, report, fmt.Errorf("post-read filter failed: %w", err)
		}
		d = filtered
	}
	return d, report, nil
}

// listFiles resolves the batch file list, letting readers whose list
// depends on the requested variables narrow it.
func listFiles(ctx context.Context, r Reader, vars []string) ([]string, error) {
	if vfl, ok := r.(VarFileLister); ok {
		return vfl.FilesForVars(ctx, vars)
	}
	return r.FilesToRead(ctx)
}

// splitChunks cuts files into at most n contiguous, near-equal slices.
func splitChunks(files []string, n int) [][]string {
	chunks := make([][]string, 0, n)
	per, rem := len(files)/n, len(files)%n
	start := 0
	for i := 0; i < n; i++ {
		size := per
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, files[start:start+size])
		start += size
	}
	return chunks
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
