package ungridded

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// StationOptions control station materialization. The zero value keeps the
// source resolution, applies no time window and leaves multi-block merging
// off; use DefaultStationOptions for the common defaults.
type StationOptions struct {
	// Start and Stop bound the extracted samples to the closed window
	// [Start, Stop]. A zero time leaves that end unbounded.
	Start time.Time
	Stop  time.Time

	// Freq resamples every materialized series to a coarser resolution
	// after assembly and merging. TsNative keeps the source resolution.
	Freq obs.TsType

	// MergeIfMulti merges the records of all matching metadata blocks into
	// one. Only single-variable requests can be merged.
	MergeIfMulti bool

	// PrefAttr ranks merge candidates by a metadata attribute. When empty,
	// the attribute registered for the data source applies if all blocks
	// share one source; otherwise candidates rank by valid sample count.
	PrefAttr string

	// Ranker overrides the ranking entirely.
	Ranker obs.Ranker

	// MatchCase makes name patterns case-sensitive.
	MatchCase bool

	// CoordTolKm is the coordinate agreement tolerance for merging blocks
	// of the same station. Zero or negative applies the default.
	CoordTolKm float64
}

// DefaultStationOptions returns the options used when callers have no
// special needs: merge multiple blocks, case-sensitive matching.
func DefaultStationOptions() StationOptions {
	return StationOptions{MergeIfMulti: true, MatchCase: true}
}

// StationSelector picks metadata blocks either by exact key or by station
// name pattern.
type StationSelector struct {
	metaKey int
	pattern string
	byKey   bool
	literal bool
}

// ByMetaKey selects exactly one metadata block.
func ByMetaKey(key int) StationSelector {
	return StationSelector{metaKey: key, byKey: true}
}

// ByName selects all blocks whose station name matches the shell glob
// pattern. A pattern without metacharacters selects by exact name.
func ByName(pattern string) StationSelector {
	return StationSelector{pattern: pattern}
}

func byLiteralName(name string) StationSelector {
	return StationSelector{pattern: name, literal: true}
}

func (sel StationSelector) describe() string {
	if sel.byKey {
		return fmt.Sprintf("metadata block %d", sel.metaKey)
	}
	return fmt.Sprintf("station %q", sel.pattern)
}

// findStationIndices resolves a selector to metadata keys in ascending
// order. Zero matches is an error.
func (d *Data) findStationIndices(sel StationSelector, matchCase bool) ([]int, error) {
	if sel.byKey {
		if _, ok := d.metadata[sel.metaKey]; !ok {
			return nil, fmt.Errorf("%w: no metadata block %d", obs.ErrStationNotFound, sel.metaKey)
		}
		return []int{sel.metaKey}, nil
	}
	pattern := sel.pattern
	if !matchCase {
		pattern = strings.ToLower(pattern)
	}
	var keys []int
	for _, key := range d.MetaKeys() {
		name := d.metadata[key].StationName
		if !matchCase {
			name = strings.ToLower(name)
		}
		if sel.literal {
			if name == pattern {
				keys = append(keys, key)
			}
			continue
		}
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("bad station pattern %q: %v", sel.pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no station matches %q", obs.ErrStationNotFound, sel.pattern)
	}
	return keys, nil
}

// metaBlockToStationData converts one metadata block into a station record
// holding the requested variables, restricted to the closed time window.
func (d *Data) metaBlockToStationData(metaKey int, varNames []string, start, stop time.Time) (*obs.StationData, error) {
	meta := d.metadata[metaKey]
	if len(meta.Variables) == 0 {
		return nil, fmt.Errorf("%w: metadata block %d carries no variable information",
			obs.ErrVarNotAvailable, metaKey)
	}
	requested := varNames
	if len(requested) == 0 {
		requested = meta.Variables
	}
	convert := intersectSorted(requested, meta.Variables)
	if len(convert) == 0 {
		return nil, fmt.Errorf("%w: none of %v available at station %q (has %v)",
			obs.ErrVarNotAvailable, requested, meta.StationName, meta.Variables)
	}

	sd := obs.NewStationData()
	sd.StationMeta = meta.Copy()
	sd.Variables = nil
	sd.VarInfo = nil
	sd.DataRevision = d.blockRevision(metaKey, meta)

	s := d.store
	converted := 0
	for _, varName := range convert {
		rows := d.metaIdx[metaKey][varName]
		if len(rows) == 0 {
			continue
		}
		ser := obs.NewSeries(nil, nil)
		ser.Errs = make([]float64, 0, len(rows))
		heights := make([]float64, 0, len(rows))
		for _, r := range rows {
			ts := time.Unix(s.timestamp[r], 0).UTC()
			if !start.IsZero() && ts.Before(start) {
				continue
			}
			if !stop.IsZero() && ts.After(stop) {
				continue
			}
			ser.Times = append(ser.Times, ts)
			ser.Values = append(ser.Values, s.value[r])
			ser.Errs = append(ser.Errs, s.dataErr[r])
			heights = append(heights, s.dataHeight[r])
		}
		if ser.Len() == 0 {
			return nil, fmt.Errorf("%w: no %s data at station %q (%s) within %s - %s",
				obs.ErrTimeMatch, varName, meta.StationName, meta.DataID,
				windowBound(start, "start"), windowBound(stop, "stop"))
		}
		if !allNaN(heights) {
			ser.Alts = heights
			if vi, ok := meta.VarInfo["altitude"]; ok {
				sd.SetVarInfo("altitude", vi.Copy())
			}
		}
		if !ser.IsMonotonic() {
			ser.Sort()
		}
		vi := obs.VarInfo{}
		if got, ok := meta.VarInfo[varName]; ok {
			vi = got.Copy()
		}
		vi.Overlap = ser.HasDuplicateTimes()
		sd.SetSeries(varName, ser)
		sd.SetVarInfo(varName, vi)
		converted++
	}
	if converted == 0 {
		return nil, fmt.Errorf("%w: no rows indexed for %v at station %q",
			obs.ErrVarNotAvailable, convert, meta.StationName)
	}
	return sd, nil
}

// blockRevision resolves the data revision for a block: a block-level
// override wins over the container-wide revision of its data source.
func (d *Data) blockRevision(metaKey int, meta *obs.StationMeta) string {
	if rev, ok := meta.Extra["data_revision"]; ok {
		return rev
	}
	rev, ok := d.dataRevision[meta.DataID]
	if !ok {
		d.log.Warn().Int("meta_key", metaKey).Str("data_id", meta.DataID).
			Msg("data revision could not be resolved")
	}
	return rev
}

// ToStationDataList materializes every metadata block the selector matches
// into its own station record. Blocks lacking the variables or the time
// window are skipped with a log message; if nothing remains the request
// has no coverage.
func (d *Data) ToStationDataList(sel StationSelector, varNames []string, opts StationOptions) ([]*obs.StationData, error) {
	keys, err := d.findStationIndices(sel, opts.MatchCase)
	if err != nil {
		return nil, err
	}
	var stats []*obs.StationData
	var skipped []error
	for _, key := range keys {
		sd, err := d.metaBlockToStationData(key, varNames, opts.Start, opts.Stop)
		if err != nil {
			if errors.Is(err, obs.ErrVarNotAvailable) || errors.Is(err, obs.ErrTimeMatch) {
				d.log.Info().Int("meta_key", key).Msgf("skipping metadata block: %v", err)
				skipped = append(skipped, err)
				continue
			}
			return nil, err
		}
		stats = append(stats, sd)
	}
	if len(stats) == 0 {
		err := fmt.Errorf("%w: no data for %s and variables %v",
			obs.ErrDataCoverage, sel.describe(), varNames)
		// When every block failed the same way, keep that failure mode
		// visible to the caller.
		if commonErrKind(skipped) != nil {
			err = errors.Join(err, skipped[len(skipped)-1])
		}
		return nil, err
	}
	return stats, nil
}

// commonErrKind returns the sentinel all given errors share, or nil.
func commonErrKind(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	for _, kind := range []error{obs.ErrVarNotAvailable, obs.ErrTimeMatch} {
		all := true
		for _, err := range errs {
			if !errors.Is(err, kind) {
				all = false
				break
			}
		}
		if all {
			return kind
		}
	}
	return nil
}

// ToStationData materializes a station record for the selector. When the
// selector matches several metadata blocks and opts.MergeIfMulti is set,
// the records merge into one; merging supports a single variable only.
// Resampling to opts.Freq happens after assembly and merging.
func (d *Data) ToStationData(sel StationSelector, varNames []string, opts StationOptions) (*obs.StationData, error) {
	stats, err := d.ToStationDataList(sel, varNames, opts)
	if err != nil {
		return nil, err
	}
	out := stats[0]
	if len(stats) > 1 {
		if !opts.MergeIfMulti {
			return nil, fmt.Errorf("%s matches %d metadata blocks and merging is disabled",
				sel.describe(), len(stats))
		}
		merged, err := d.mergeStationRecords(stats, opts)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	if opts.Freq != obs.TsNative {
		for _, varName := range out.VarsAvailable() {
			if err := out.Resample(varName, opts.Freq); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (d *Data) mergeStationRecords(stats []*obs.StationData, opts StationOptions) (*obs.StationData, error) {
	varSet := make(map[string]bool)
	for _, sd := range stats {
		for _, v := range sd.VarsAvailable() {
			varSet[v] = true
		}
	}
	if len(varSet) > 1 {
		vars := make([]string, 0, len(varSet))
		for v := range varSet {
			vars = append(vars, v)
		}
		sort.Strings(vars)
		return nil, fmt.Errorf("%w: %v", obs.ErrMultiVarMerge, vars)
	}
	varName := ""
	for v := range varSet {
		varName = v
	}
	ranker := opts.Ranker
	if ranker == nil {
		attr := opts.PrefAttr
		if attr == "" {
			attr = d.inferMergePrefAttr(stats)
		}
		if attr != "" {
			ranker = obs.RankByAttr(attr)
		}
	}
	return obs.MergeStationData(stats, varName, ranker, opts.CoordTolKm)
}

// inferMergePrefAttr returns the ranking attribute registered for the data
// source, provided all records come from the same one.
func (d *Data) inferMergePrefAttr(stats []*obs.StationData) string {
	dataID := ""
	for _, sd := range stats {
		if sd.DataID == "" {
			return ""
		}
		if dataID == "" {
			dataID = sd.DataID
		} else if sd.DataID != dataID {
			return ""
		}
	}
	return d.prefAttrs[dataID]
}

// AllStationsResult holds the outcome of materializing every station of a
// container. Failed lists the station names that yielded no record.
type AllStationsResult struct {
	Stations []*obs.StationData
	Names    []string
	Lats     []float64
	Lons     []float64
	Failed   []string
}

// ToStationDataAll materializes one record per distinct station name,
// merging multiple metadata blocks of the same station according to opts.
// Stations without matching data are logged and listed in Failed;
// consistency errors abort.
func (d *Data) ToStationDataAll(varNames []string, opts StationOptions) (*AllStationsResult, error) {
	res := &AllStationsResult{}
	for _, name := range d.UniqueStationNames() {
		sd, err := d.ToStationData(byLiteralName(name), varNames, opts)
		if err != nil {
			if errors.Is(err, obs.ErrVarNotAvailable) ||
				errors.Is(err, obs.ErrTimeMatch) ||
				errors.Is(err, obs.ErrDataCoverage) {
				d.log.Warn().Str("station", name).Msgf("no station record: %v", err)
				res.Failed = append(res.Failed, name)
				continue
			}
			return nil, err
		}
		lat, lon, _ := sd.GetStationCoords()
		res.Stations = append(res.Stations, sd)
		res.Names = append(res.Names, sd.StationName)
		res.Lats = append(res.Lats, lat)
		res.Lons = append(res.Lons, lon)
	}
	return res, nil
}

func intersectSorted(requested, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, v := range available {
		have[v] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, v := range requested {
		if have[v] && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func windowBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return t.Format(time.RFC3339)
}
