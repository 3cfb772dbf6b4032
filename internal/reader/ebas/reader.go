// Package ebas reads the EBAS multi-column NASA Ames archive: one file
// per station, instrument and period, with the file list resolved through
// the archive's SQLite index. Columns are matched to aerocom variables by
// component name, matrix, statistics and wavelength; numflag columns
// carry per-sample validity. Importing the package registers the reader
// under its dataset id.
package ebas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/internal/config"
	"github.com/magnusuMET/pyaerocom/internal/fileindex"
	"github.com/magnusuMET/pyaerocom/internal/reader"
	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// DataID is the dataset id this reader registers under.
const DataID = "EBASMC"

const (
	indexFile = "ebas_file_index.sqlite3"
	dataDir   = "data"
)

// mergeStations renames stations that moved but continue an older record,
// so both series end up under one name. The original name is kept in the
// station_name_orig attribute.
var mergeStations = map[string]string{
	"Birkenes": "Birkenes II",
}

// tsTypeCodes maps EBAS resolution codes to sampling frequencies. Codes
// outside the table read as "undefined".
var tsTypeCodes = map[string]string{
	"1h":  "hourly",
	"1d":  "daily",
	"1w":  "weekly",
	"1mo": "monthly",
}

func init() {
	reader.Register(DataID, func(cfg *config.Config, log zerolog.Logger) (reader.Reader, error) {
		return New(cfg, log)
	})
}

// Reader reads the EBAS archive.
type Reader struct {
	reader.Base
	opts Options
	idx  *fileindex.Index
	run  reader.ReadOptions
}

// New opens the archive index under the configured data root.
func New(cfg *config.Config, log zerolog.Logger) (*Reader, error) {
	root, ok := cfg.Data.Root(DataID)
	if !ok {
		return nil, fmt.Errorf("no data root configured for %s", DataID)
	}
	indexPath := cfg.Ebas.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(root, indexFile)
	}
	idx, err := fileindex.Open(indexPath, log)
	if err != nil {
		return nil, err
	}
	run, err := reader.OptionsFromConfig(cfg, log)
	if err != nil {
		idx.Close()
		return nil, err
	}
	opts := OptionsFromConfig(cfg.Ebas)
	run.MergeMeta = opts.MergeMeta
	run.MergeIgnoreKeys = []string{"filename", "PI"}

	return &Reader{
		Base: reader.NewBase(DataID, "undefined", root, filepath.Join(dataDir, "*.nas"), log),
		opts: opts,
		idx:  idx,
		run:  run,
	}, nil
}

// Close releases the file index.
func (r *Reader) Close() error { return r.idx.Close() }

// SupportedVars lists the readable variables, including the computed dry
// aerosol optics.
func (r *Reader) SupportedVars() []string { return supportedVars() }

// DefaultVars are the aerosol optics read when no variables are given.
func (r *Reader) DefaultVars() []string { return []string{"ac550aer", "sc550aer"} }

// Read runs the batch pipeline with the reader's configured options.
func (r *Reader) Read(ctx context.Context, vars []string) (*ungridded.Data, error) {
	d, _, err := reader.Read(ctx, r, r.run.WithVars(vars))
	return d, err
}

// RunOptions returns the configured batch options.
func (r *Reader) RunOptions() reader.ReadOptions { return r.run }

// ReadOptionsEntry feeds the batch options into the filter history.
func (r *Reader) ReadOptionsEntry() (name, spec string) {
	return "ebas_options", r.opts.historyEntry()
}

// FilesForVars resolves the batch file list through the archive index,
// one query per variable that has to be read from file.
func (r *Reader) FilesForVars(ctx context.Context, vars []string) ([]string, error) {
	if len(vars) == 0 {
		vars = r.DefaultVars()
	}
	toRead, _, err := reader.SplitAuxVars(vars, providedVars(), auxRequires)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []string
	for _, v := range toRead {
		spec := varSpecs[v]
		matches, err := r.idx.FilesMatching(ctx, fileindex.Criteria{
			Variables: spec.Components,
			Matrices:  spec.Matrices,
			Datalevel: r.opts.Datalevel,
		})
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			if !seen[name] {
				seen[name] = true
				files = append(files, filepath.Join(r.Root(), dataDir, name))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile parses one NASA Ames file into a station record carrying the
// requested variables. Helper variables read for computed ones are shed
// again unless KeepAuxVars is set.
func (r *Reader) ReadFile(path string, vars []string) (*obs.StationData, error) {
	if len(vars) == 0 {
		vars = r.DefaultVars()
	}
	toRead, toCompute, err := reader.SplitAuxVars(vars, providedVars(), auxRequires)
	if err != nil {
		return nil, err
	}

	file, err := Parse(path)
	if err != nil {
		return nil, err
	}

	varCols := make(map[string]int, len(toRead))
	for _, v := range toRead {
		col, err := r.selectColumn(file, v)
		if err != nil {
			if errors.Is(err, errVarNotInFile) {
				lg := r.Logger()
				lg.Debug().
					Str("variable", v).
					Str("file", filepath.Base(path)).
					Msg("variable not in file")
				continue
			}
			return nil, fmt.Errorf("%s in %s: %w", v, filepath.Base(path), err)
		}
		varCols[v] = col
	}
	if len(varCols) == 0 {
		return nil, fmt.Errorf("%w: none of %s found in %s",
			obs.ErrVarNotAvailable, strings.Join(toRead, ","), filepath.Base(path))
	}

	sd, err := r.stationData(file, path)
	if err != nil {
		return nil, err
	}
	times := file.TimeStamps()

	allNaN := true
	for v, col := range varCols {
		vals := append([]float64(nil), file.Data[col]...)
		if r.opts.EvalFlags && r.opts.RemoveInvalidFlags {
			if n := removeInvalid(file, col, vals); n > 0 {
				lg := r.Logger()
				lg.Warn().
					Str("variable", v).
					Str("file", filepath.Base(path)).
					Int("invalidated", n).
					Int("rows", len(vals)).
					Msg("removed flagged-invalid samples")
			}
		}
		for _, x := range vals {
			if !math.IsNaN(x) {
				allNaN = false
				break
			}
		}
		sd.SetSeries(v, obs.NewSeries(times, vals))
		sd.SetVarInfo(v, varInfo(file, col, sd.TsType))
	}
	if allNaN {
		return nil, fmt.Errorf("%w: all selected columns of %s are NaN",
			obs.ErrDataCoverage, filepath.Base(path))
	}

	for _, v := range toCompute {
		deps := auxRequires[v]
		if !sd.HasVar(deps[0]) || !sd.HasVar(deps[1]) {
			lg := r.Logger()
			lg.Debug().
				Str("variable", v).
				Str("file", filepath.Base(path)).
				Msg("missing inputs for computed variable")
			continue
		}
		sd.SetSeries(v, obs.NewSeries(times,
			computeDry(sd.Data[deps[0]].Values, sd.Data[deps[1]].Values)))
		sd.SetVarInfo(v, sd.VarInfo[auxUseMeta[v]].Copy())
	}

	if !r.opts.KeepAuxVars {
		requested := make(map[string]bool, len(vars))
		for _, v := range vars {
			requested[v] = true
		}
		for _, v := range sd.VarsAvailable() {
			if !requested[v] {
				sd.RemoveVar(v)
			}
		}
	}
	if len(sd.Data) == 0 {
		return nil, fmt.Errorf("%w: no requested variable could be derived from %s",
			obs.ErrDataCoverage, filepath.Base(path))
	}
	return sd, nil
}

// removeInvalid turns samples whose flags mark them invalid into NaN and
// reports how many it hit.
func removeInvalid(f *File, col int, vals []float64) int {
	fc := f.VarDefs[col].FlagCol
	if fc < 0 {
		return 0
	}
	n := 0
	for i, fv := range f.Data[fc] {
		if math.IsNaN(vals[i]) || FlagsValid(fv) {
			continue
		}
		vals[i] = math.NaN()
		n++
	}
	return n
}

// stationData maps the file level metadata onto a station record.
func (r *Reader) stationData(f *File, path string) (*obs.StationData, error) {
	sd := obs.NewStationData()
	sd.DataID = DataID
	sd.Filename = filepath.Base(path)

	// ";" stands in for "/" so station names survive as path components
	name := strings.ReplaceAll(f.Meta["station name"], "/", ";")
	if merged, ok := mergeStations[name]; ok {
		sd.StationName = merged
		sd.Extra = map[string]string{"station_name_orig": name}
	} else {
		sd.StationName = name
	}
	sd.StationID = f.Meta["station code"]

	lat, err := strconv.ParseFloat(f.Meta["station latitude"], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad station latitude %q in %s",
			obs.ErrMetaData, f.Meta["station latitude"], filepath.Base(path))
	}
	lon, err := strconv.ParseFloat(f.Meta["station longitude"], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad station longitude %q in %s",
			obs.ErrMetaData, f.Meta["station longitude"], filepath.Base(path))
	}
	sd.Latitude = lat
	sd.Longitude = lon

	// station altitude plus measurement height when given; both carry a
	// unit suffix ("219.0 m")
	alt := leadingFloat(f.Meta["station altitude"])
	if h := leadingFloat(f.Meta["measurement height"]); !math.IsNaN(h) {
		alt += h
	}
	sd.Altitude = alt

	ts, ok := tsTypeCodes[f.Meta["resolution code"]]
	if !ok {
		ts = "undefined"
		if code := f.Meta["resolution code"]; code != "" {
			lg := r.Logger()
			lg.Info().
				Str("resolution_code", code).
				Str("file", filepath.Base(path)).
				Msg("unknown resolution code")
		}
	}
	sd.TsType = ts

	sd.PI = f.PI
	sd.Instrument = f.Meta["instrument name"]
	sd.DataLevel = f.Meta["data level"]
	if rev := f.Meta["revision date"]; rev != "" {
		sd.RevisionDate = rev
	} else if !f.RevDate.IsZero() {
		sd.RevisionDate = f.RevDate.Format("20060102")
	}
	for metaKey, attr := range map[string]string{
		"instrument type": "instrument_type",
		"matrix":          "matrix",
	} {
		if v := f.Meta[metaKey]; v != "" {
			if sd.Extra == nil {
				sd.Extra = make(map[string]string)
			}
			sd.Extra[attr] = v
		}
	}
	return sd, nil
}

// varInfo captures the column provenance: unit, wavelength, matrix and
// statistics, falling back to the file level metadata where the column
// carries no qualifier.
func varInfo(f *File, col int, tsType string) obs.VarInfo {
	def := f.VarDefs[col]
	unit := def.Unit
	if unit == "" || unit == "no unit" {
		unit = f.Meta["unit"]
	}
	vi := obs.VarInfo{Units: unit, TsType: tsType, Extra: make(map[string]string)}
	if m := def.Matrix(); m != "" {
		vi.Extra["matrix"] = m
	} else if m := f.Meta["matrix"]; m != "" {
		vi.Extra["matrix"] = m
	}
	if s := def.Statistics(); s != "" {
		vi.Extra["statistics"] = s
	} else if s := f.Meta["statistics"]; s != "" {
		vi.Extra["statistics"] = s
	}
	if w, ok := def.WavelengthNm(); ok {
		vi.Extra["wavelength_nm"] = strconv.FormatFloat(w, 'g', -1, 64)
	}
	return vi
}

var errVarNotInFile = errors.New("variable not in file")

// selectColumn picks the data column for an aerocom variable: component,
// matrix and statistics gates first, then the wavelength gate keeping the
// closest column within tolerance, then the preference ranking when
// several columns remain.
func (r *Reader) selectColumn(f *File, varName string) (int, error) {
	spec, ok := varSpecs[varName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, varName)
	}

	var candidates []int
	for i, def := range f.VarDefs {
		if def.IsFlag || !containsString(spec.Components, def.Name) {
			continue
		}
		if len(spec.Matrices) > 0 {
			matrix := def.Matrix()
			if matrix == "" {
				matrix = f.Meta["matrix"]
			}
			if !containsString(spec.Matrices, matrix) {
				continue
			}
		}
		if stats := def.Statistics(); stats != "" {
			if containsString(r.opts.IgnoreStatistics, stats) {
				continue
			}
			if len(spec.Statistics) > 0 && !containsString(spec.Statistics, stats) {
				continue
			}
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return 0, errVarNotInFile
	}

	if spec.WavelengthNm > 0 {
		candidates = r.closestWavelength(f, spec, candidates)
		if len(candidates) == 0 {
			return 0, errVarNotInFile
		}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return r.bestColumn(f, spec, candidates)
}

// closestWavelength keeps the candidates nearest the nominal wavelength
// within the configured tolerance. Columns without a wavelength qualifier
// pass through.
func (r *Reader) closestWavelength(f *File, spec varSpec, candidates []int) []int {
	best := math.Inf(1)
	var keep []int
	for _, i := range candidates {
		wvl, ok := f.VarDefs[i].WavelengthNm()
		if !ok {
			keep = append(keep, i)
			continue
		}
		diff := math.Abs(wvl - spec.WavelengthNm)
		if diff > r.opts.WavelengthTolNm {
			continue
		}
		if diff < best {
			best = diff
			keep = []int{i}
		} else if diff == best {
			keep = append(keep, i)
		}
	}
	return keep
}

// bestColumn ranks equivalent candidates: matrix preference first, then
// statistics preference, and as the last resort the fewest NaNs.
func (r *Reader) bestColumn(f *File, spec varSpec, candidates []int) (int, error) {
	if len(spec.Matrices) > 0 {
		ranked := rankByPreference(candidates, spec.Matrices, func(i int) string {
			return f.VarDefs[i].Matrix()
		})
		if len(ranked) > 0 {
			candidates = ranked
		}
		if len(candidates) == 1 {
			return candidates[0], nil
		}
	}

	prefer := spec.Statistics
	if len(prefer) == 0 {
		prefer = r.opts.PreferStatistics
	}
	ranked := rankByPreference(candidates, prefer, func(i int) string {
		if s := f.VarDefs[i].Statistics(); s != "" {
			return s
		}
		return f.Meta["statistics"]
	})
	if len(ranked) == 0 {
		return 0, fmt.Errorf("%d equivalent columns and none carries a preferred statistic (%s)",
			len(candidates), strings.Join(prefer, ","))
	}
	candidates = ranked
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	best, bestNaN := candidates[0], len(f.Starts)+1
	for _, i := range candidates {
		if n := nanCount(f.Data[i]); n < bestNaN {
			best, bestNaN = i, n
		}
	}
	return best, nil
}

// rankByPreference keeps the candidates whose key ranks best in the
// preference order. Candidates without a ranked key drop out; when none
// has one the result is empty and the caller decides.
func rankByPreference(candidates []int, prefer []string, key func(int) string) []int {
	best := len(prefer)
	var keep []int
	for _, i := range candidates {
		rank := indexOf(prefer, key(i))
		if rank < 0 {
			continue
		}
		if rank < best {
			best = rank
			keep = []int{i}
		} else if rank == best {
			keep = append(keep, i)
		}
	}
	return keep
}

// leadingFloat parses the numeric prefix of values like "219.0 m",
// returning NaN when absent or unparseable.
func leadingFloat(s string) float64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func containsString(list []string, s string) bool {
	return indexOf(list, s) >= 0
}

func nanCount(vals []float64) int {
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
