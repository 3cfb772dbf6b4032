package ungridded

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// Range is a closed numeric interval for metadata filtering.
type Range struct {
	Low  float64
	High float64
}

// FilterSpec maps metadata attribute names to match conditions. Supported
// condition types are string (exact match), []string (membership) and
// Range (closed interval on a numeric attribute). Conditions on different
// attributes combine with AND.
type FilterSpec map[string]any

type metaFilters struct {
	exact map[string]string
	sets  map[string][]string
	rng   map[string]Range
}

func (d *Data) splitFilters(spec FilterSpec) (*metaFilters, error) {
	f := &metaFilters{
		exact: make(map[string]string),
		sets:  make(map[string][]string),
		rng:   make(map[string]Range),
	}
	for key, cond := range spec {
		if key == "variables" {
			return nil, fmt.Errorf("%w: cannot filter by variables", obs.ErrFilterKey)
		}
		if !d.knownFilterKey(key) {
			return nil, fmt.Errorf("%w: no metadata attribute %q", obs.ErrFilterKey, key)
		}
		switch v := cond.(type) {
		case string:
			f.exact[key] = v
		case []string:
			f.sets[key] = v
		case Range:
			f.rng[key] = v
		default:
			return nil, fmt.Errorf("%w: unsupported condition type %T for %q",
				obs.ErrFilterKey, cond, key)
		}
	}
	return f, nil
}

func (d *Data) knownFilterKey(key string) bool {
	for _, metaKey := range d.MetaKeys() {
		if _, ok := d.metadata[metaKey].Attr(key); ok {
			return true
		}
	}
	return false
}

func (f *metaFilters) matches(meta *obs.StationMeta) bool {
	for key, want := range f.exact {
		v, ok := meta.Attr(key)
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok || s != want {
			return false
		}
	}
	for key, allowed := range f.sets {
		v, ok := meta.Attr(key)
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		found := false
		for _, a := range allowed {
			if s == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, r := range f.rng {
		v, ok := meta.Attr(key)
		if !ok {
			return false
		}
		x, ok := v.(float64)
		if !ok || math.IsNaN(x) || x < r.Low || x > r.High {
			return false
		}
	}
	return true
}

func (f *metaFilters) String() string {
	var parts []string
	for key, v := range f.exact {
		parts = append(parts, fmt.Sprintf("%s=%s", key, v))
	}
	for key, v := range f.sets {
		parts = append(parts, fmt.Sprintf("%s in [%s]", key, strings.Join(v, ",")))
	}
	for key, r := range f.rng {
		parts = append(parts, fmt.Sprintf("%s in [%g,%g]", key, r.Low, r.High))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// FilterByMeta returns a new container holding only the metadata blocks
// whose attributes satisfy the spec. Metadata keys are renumbered from 0;
// rows are copied block by block in variable order. The source filter
// history is carried over with a new entry appended.
func (d *Data) FilterByMeta(spec FilterSpec) (*Data, error) {
	if d.IsEmpty() {
		return nil, fmt.Errorf("%w: container is empty", obs.ErrDataExtraction)
	}
	filters, err := d.splitFilters(spec)
	if err != nil {
		return nil, err
	}
	var matched []int
	totRows := 0
	for _, key := range d.MetaKeys() {
		meta := d.metadata[key]
		if !filters.matches(meta) {
			continue
		}
		matched = append(matched, key)
		for _, rows := range d.metaIdx[key] {
			totRows += len(rows)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: no metadata blocks satisfy %s", obs.ErrDataExtraction, filters)
	}

	out := d.subset(matched, nil)
	out.addFilterHistory("filter_by_meta", filters.String())
	d.log.Info().Int("blocks", len(matched)).Int("rows", totRows).
		Msgf("filtered metadata: %s", filters)
	return out, nil
}

// subset builds a fresh container from the given metadata keys, renumbered
// from 0. When onlyVar is non-nil, blocks are reduced to that single
// variable. Variable ids are carried over unchanged.
func (d *Data) subset(keys []int, onlyVar *string) *Data {
	totRows := 0
	for _, key := range keys {
		for varName, rows := range d.metaIdx[key] {
			if onlyVar != nil && varName != *onlyVar {
				continue
			}
			totRows += len(rows)
		}
	}
	out := NewWithCapacity(totRows)
	out.registry = d.registry
	out.log = d.log
	out.filterHist = append([]FilterEntry(nil), d.filterHist...)
	for k, v := range d.dataRevision {
		out.dataRevision[k] = v
	}
	for k, v := range d.prefAttrs {
		out.prefAttrs[k] = v
	}

	newKey := 0
	for _, key := range keys {
		meta := d.metadata[key].Copy()
		if onlyVar != nil {
			if !meta.HasVar(*onlyVar) || len(d.metaIdx[key][*onlyVar]) == 0 {
				continue
			}
			vi := meta.VarInfo[*onlyVar]
			meta.Variables = []string{*onlyVar}
			if meta.VarInfo != nil {
				meta.VarInfo = map[string]obs.VarInfo{*onlyVar: vi}
			}
		}
		out.metadata[newKey] = &meta
		out.metaIdx[newKey] = make(map[string][]int)
		for _, varName := range meta.Variables {
			rows := d.metaIdx[key][varName]
			if len(rows) == 0 {
				continue
			}
			first := out.store.used
			for _, r := range rows {
				dst := out.store.used
				out.store.copyRowFrom(d.store, r, dst)
				out.store.metaKey[dst] = int64(newKey)
				out.store.used++
			}
			out.metaIdx[newKey][varName] = rowRange(first, out.store.used-1)
			out.varIdx[varName] = d.varIdx[varName]
		}
		newKey++
	}
	out.nextMeta = newKey
	out.ShrinkToFit()
	return out
}

// ExtractDataset returns a new container holding only the rows of one data
// source.
func (d *Data) ExtractDataset(dataID string) (*Data, error) {
	d.log.Info().Str("data_id", dataID).Msg("extracting dataset")
	return d.FilterByMeta(FilterSpec{"data_id": dataID})
}

// ExtractVar returns a new container reduced to a single variable. Blocks
// without rows for it are dropped; the remaining blocks keep only that
// variable in their metadata.
func (d *Data) ExtractVar(varName string) (*Data, error) {
	if _, ok := d.varIdx[varName]; !ok {
		return nil, fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, varName)
	}
	var matched []int
	for _, key := range d.MetaKeys() {
		if len(d.metaIdx[key][varName]) > 0 {
			matched = append(matched, key)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: no rows for variable %s", obs.ErrDataExtraction, varName)
	}
	out := d.subset(matched, &varName)
	out.addFilterHistory("extract_var", varName)
	return out, nil
}

// FilterAltitude keeps the stations whose altitude lies in the closed
// interval [low, high].
func (d *Data) FilterAltitude(low, high float64) (*Data, error) {
	return d.FilterByMeta(FilterSpec{"altitude": Range{Low: low, High: high}})
}
