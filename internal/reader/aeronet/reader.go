// Package aeronet reads AERONET Sun photometer direct-sun data, version 2
// level 2.0 daily averages. Each file holds one station: five header lines
// (the third carries the station attributes as comma separated key=value
// pairs) followed by comma separated data rows with fixed column positions.
package aeronet

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/internal/config"
	"github.com/magnusuMET/pyaerocom/internal/reader"
	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// DataID is the dataset id the reader registers under.
const DataID = "AeronetSunV2Lev2.daily"

const (
	fileMask    = "*.lev20"
	nanVal      = -9999
	headerLines = 5
)

// Data rows are positional; the retrievable optical depths sit at fixed
// comma indices.
var colIndex = map[string]int{
	"od1640aer": 3,
	"od1020aer": 4,
	"od870aer":  5,
	"od675aer":  6,
	"od667aer":  7,
	"od555aer":  8,
	"od551aer":  9,
	"od532aer":  10,
	"od531aer":  11,
	"od500aer":  12,
	"od440aer":  15,
	"od380aer":  17,
	"od340aer":  18,
}

// providesVars are the column variables offered for retrieval.
var providesVars = []string{"od500aer", "od440aer", "od870aer"}

// auxRequires lists the inputs of each computed variable.
var auxRequires = map[string][]string{
	"od550aer":   {"od440aer", "od500aer", "ang4487aer"},
	"ang4487aer": {"od440aer", "od870aer"},
}

func init() {
	reader.Register(DataID, func(cfg *config.Config, log zerolog.Logger) (reader.Reader, error) {
		return New(cfg, log)
	})
}

// Reader reads one AERONET Sun v2 archive directory.
type Reader struct {
	reader.Base
	run reader.ReadOptions
}

// New builds the reader for the archive root configured under the dataset
// id.
func New(cfg *config.Config, log zerolog.Logger) (*Reader, error) {
	root, ok := cfg.Data.Root(DataID)
	if !ok {
		return nil, fmt.Errorf("no data root configured for %s", DataID)
	}
	run, err := reader.OptionsFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Reader{
		Base: reader.NewBase(DataID, "daily", root, fileMask, log),
		run:  run,
	}, nil
}

// SupportedVars lists the column variables plus the computed ones.
func (r *Reader) SupportedVars() []string {
	vars := append([]string(nil), providesVars...)
	return append(vars, "od550aer", "ang4487aer")
}

// DefaultVars returns the variables read when none are requested.
func (r *Reader) DefaultVars() []string { return []string{"od550aer"} }

// Read runs the batch pipeline over the archive.
func (r *Reader) Read(ctx context.Context, vars []string) (*ungridded.Data, error) {
	d, _, err := reader.Read(ctx, r, r.run.WithVars(vars))
	return d, err
}

// RunOptions returns the configured batch options.
func (r *Reader) RunOptions() reader.ReadOptions { return r.run }

// ReadFile reads one station file. Requested computed variables are
// derived from their column inputs; only the requested variables end up
// in the returned record.
func (r *Reader) ReadFile(path string, vars []string) (*obs.StationData, error) {
	toRead, toCompute, err := reader.SplitAuxVars(vars, providesVars, auxRequires)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sd := obs.NewStationData()
	sd.DataID = DataID
	sd.TsType = "daily"
	sd.Instrument = "sun_photometer"
	sd.Filename = filepath.Base(path)

	for i := 0; i < headerLines; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("truncated header: %d of %d lines", i, headerLines)
		}
		if i == 2 {
			if err := parseLocationLine(sc.Text(), sd); err != nil {
				return nil, err
			}
		}
	}

	var times []time.Time
	cols := make(map[string][]float64, len(toRead))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cells := strings.Split(line, ",")
		ts, err := parseRowTime(cells)
		if err != nil {
			return nil, err
		}
		for _, v := range toRead {
			idx := colIndex[v]
			if idx >= len(cells) {
				return nil, fmt.Errorf("row with %d columns, need %d for %s", len(cells), idx+1, v)
			}
			val, err := strconv.ParseFloat(strings.TrimSpace(cells[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("bad %s value %q: %w", v, cells[idx], err)
			}
			if val == nanVal {
				val = math.NaN()
			}
			cols[v] = append(cols[v], val)
		}
		times = append(times, ts)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: no data rows in %s", obs.ErrDataCoverage, sd.Filename)
	}

	for _, v := range toCompute {
		cols[v] = auxFuncs[v](cols)
	}

	requested := make(map[string]bool, len(vars))
	for _, v := range vars {
		requested[v] = true
	}
	for v, vals := range cols {
		if !requested[v] {
			continue
		}
		sd.SetSeries(v, obs.NewSeries(times, vals))
		sd.SetVarInfo(v, obs.VarInfo{Units: "1", TsType: "daily"})
	}
	return sd, nil
}

// parseLocationLine splits the third header line into key=value pairs:
// "Location=X,long=4.93,lat=51.99,elev=60,Nmeas=13,PI=Name,Email=..."
func parseLocationLine(line string, sd *obs.StationData) error {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == '=' || r == ',' })
	attrs := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		attrs[strings.TrimSpace(fields[i])] = strings.TrimSpace(fields[i+1])
	}

	loc, ok := attrs["Location"]
	if !ok {
		return fmt.Errorf("header line 3 carries no Location field: %q", line)
	}
	sd.StationName = loc
	sd.PI = attrs["PI"]
	for key, dst := range map[string]*float64{
		"lat":  &sd.Latitude,
		"long": &sd.Longitude,
		"elev": &sd.Altitude,
	} {
		raw, ok := attrs[key]
		if !ok {
			return fmt.Errorf("header line 3 carries no %s field: %q", key, line)
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("bad %s value %q: %w", key, raw, err)
		}
		*dst = val
	}
	return nil
}

// parseRowTime reads the date (dd:mm:yyyy) and time (hh:mm:ss) columns.
// AERONET v2 timestamps are UTC.
func parseRowTime(cells []string) (time.Time, error) {
	if len(cells) < 2 {
		return time.Time{}, fmt.Errorf("row with %d columns, need date and time", len(cells))
	}
	ts, err := time.Parse("02:01:2006 15:04:05", cells[0]+" "+cells[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q %q: %w", cells[0], cells[1], err)
	}
	return ts, nil
}
