package ungridded

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// Merge combines two containers. With inPlace the receiver is extended and
// returned, otherwise a copy is extended. The input container is never
// modified. Metadata keys of the input are offset past the receiver's
// largest key; variable ids are unified: a shared name keeps the
// receiver's id and the input rows are relabelled, a new name keeps its id
// unless that id is taken, in which case the next free id is minted.
func (d *Data) Merge(other *Data, inPlace bool) (*Data, error) {
	if other == nil {
		return nil, fmt.Errorf("cannot merge nil container")
	}
	obj := d
	if !inPlace {
		obj = d.Copy()
	}
	if obj.IsEmpty() {
		src := other.Copy()
		obj.store = src.store
		obj.metadata = src.metadata
		obj.metaIdx = src.metaIdx
		obj.varIdx = src.varIdx
		obj.nextMeta = src.nextMeta
		obj.dataRevision = src.dataRevision
		for k, v := range src.prefAttrs {
			obj.prefAttrs[k] = v
		}
	} else {
		metaOffset := obj.maxMetaKey() + 1
		dataOffset := obj.store.used

		// Unify variable ids without touching the input: rows are
		// relabelled while they are copied.
		remap := make(map[int64]int64)
		for _, name := range other.ContainsVars() {
			otherID := other.varIdx[name]
			if ownID, ok := obj.varIdx[name]; ok {
				if ownID != otherID {
					remap[int64(otherID)] = int64(ownID)
				}
				continue
			}
			if obj.varIDInUse(otherID) {
				minted := obj.maxVarID() + 1
				remap[int64(otherID)] = int64(minted)
				obj.varIdx[name] = minted
			} else {
				obj.varIdx[name] = otherID
			}
		}

		obj.Reserve(other.store.used)
		for r := 0; r < other.store.used; r++ {
			dst := obj.store.used
			obj.store.copyRowFrom(other.store, r, dst)
			if key := other.store.metaKey[r]; key != missingKey {
				obj.store.metaKey[dst] = key + int64(metaOffset)
			}
			if newID, ok := remap[other.store.varID[r]]; ok {
				obj.store.varID[dst] = newID
			}
			obj.store.used++
		}

		for _, key := range other.MetaKeys() {
			newKey := key + metaOffset
			c := other.metadata[key].Copy()
			obj.metadata[newKey] = &c
			idx := make(map[string][]int, len(other.metaIdx[key]))
			for varName, rows := range other.metaIdx[key] {
				shifted := make([]int, len(rows))
				for i, r := range rows {
					shifted[i] = r + dataOffset
				}
				idx[varName] = shifted
			}
			obj.metaIdx[newKey] = idx
			if newKey >= obj.nextMeta {
				obj.nextMeta = newKey + 1
			}
		}
		for id, rev := range other.dataRevision {
			obj.dataRevision[id] = rev
		}
		for id, attr := range other.prefAttrs {
			if _, ok := obj.prefAttrs[id]; !ok {
				obj.prefAttrs[id] = attr
			}
		}
	}
	obj.filterHist = append(obj.filterHist, other.filterHist...)
	return obj, nil
}

// Append merges another container into this one in place.
func (d *Data) Append(other *Data) error {
	_, err := d.Merge(other, true)
	return err
}

func (d *Data) varIDInUse(id int) bool {
	for _, v := range d.varIdx {
		if v == id {
			return true
		}
	}
	return false
}

func (d *Data) maxVarID() int {
	max := -1
	for _, v := range d.varIdx {
		if v > max {
			max = v
		}
	}
	return max
}

// findCommonMeta groups metadata keys whose blocks are attribute-equal
// modulo the ignored keys. Groups come back in first-seen key order.
func (d *Data) findCommonMeta(ignoreKeys []string) [][]int {
	var reps []*obs.StationMeta
	var groups [][]int
	for _, key := range d.MetaKeys() {
		meta := d.metadata[key]
		found := false
		for i, rep := range reps {
			if rep.Equal(meta, ignoreKeys) {
				groups[i] = append(groups[i], key)
				found = true
				break
			}
		}
		if !found {
			reps = append(reps, meta)
			groups = append(groups, []int{key})
		}
	}
	return groups
}

// MergeCommonMeta consolidates metadata blocks that are equal in all
// attributes except the ignored keys, whose differing values are collected
// into the merged block. Row content is preserved exactly; a divergence in
// a non-ignored attribute during consolidation and any change in total row
// count are consistency failures.
func (d *Data) MergeCommonMeta(ignoreKeys ...string) (*Data, error) {
	groups := d.findCommonMeta(ignoreKeys)

	out := NewWithCapacity(d.store.used)
	out.registry = d.registry
	out.log = d.log
	for k, v := range d.dataRevision {
		out.dataRevision[k] = v
	}
	for k, v := range d.prefAttrs {
		out.prefAttrs[k] = v
	}
	for name, id := range d.varIdx {
		out.varIdx[name] = id
	}

	for g, group := range groups {
		merged := d.metadata[group[0]].Copy()
		for _, key := range group[1:] {
			meta := d.metadata[key]
			if !merged.Equal(meta, ignoreKeys) {
				return nil, fmt.Errorf("%w: blocks %d and %d diverged during consolidation",
					obs.ErrMetaConsistency, group[0], key)
			}
			merged.CollectIgnored(meta, ignoreKeys)
		}
		out.metadata[g] = &merged
		out.metaIdx[g] = make(map[string][]int)
		for _, varName := range merged.Variables {
			first := out.store.used
			for _, key := range group {
				for _, r := range d.metaIdx[key][varName] {
					dst := out.store.used
					out.store.copyRowFrom(d.store, r, dst)
					out.store.metaKey[dst] = int64(g)
					out.store.used++
				}
			}
			if out.store.used > first {
				out.metaIdx[g][varName] = rowRange(first, out.store.used-1)
			}
		}
	}
	out.nextMeta = len(groups)

	if out.store.used != d.store.used {
		return nil, fmt.Errorf("%w: consolidation changed the row count from %d to %d",
			obs.ErrMetaConsistency, d.store.used, out.store.used)
	}
	out.ShrinkToFit()
	out.filterHist = append([]FilterEntry(nil), d.filterHist...)
	out.addFilterHistory("merge_common_meta", fmt.Sprintf("%d blocks into %d, ignoring %v",
		len(d.metadata), len(groups), ignoreKeys))
	return out, nil
}

// latDegKm is the approximate length of one degree of latitude.
const latDegKm = 111.0

// FindCommonStations maps metadata keys of this container to keys of
// another holding the same station. Matching is by station name; when
// checkVars names variables, both blocks must list all of them; when
// checkCoords is set the coordinates must agree within maxDiffKm
// (non-positive applies the default tolerance). Containers holding more
// than one dataset are refused since station names may repeat per source.
func (d *Data) FindCommonStations(other *Data, checkVars []string, checkCoords bool, maxDiffKm float64) (map[int]int, error) {
	if n := len(d.ContainsDatasets()); n > 1 {
		return nil, fmt.Errorf("container holds %d datasets; station matching needs exactly one", n)
	}
	if n := len(other.ContainsDatasets()); n > 1 {
		return nil, fmt.Errorf("input container holds %d datasets; station matching needs exactly one", n)
	}
	if maxDiffKm <= 0 {
		maxDiffKm = obs.DefaultCoordTolKm
	}

	byName := make(map[string][]int)
	for _, key := range other.MetaKeys() {
		name := other.metadata[key].StationName
		byName[name] = append(byName[name], key)
	}

	match := make(map[int]int)
	for _, key := range d.MetaKeys() {
		meta := d.metadata[key]
		if !hasAllVars(meta, checkVars) {
			continue
		}
		for _, otherKey := range byName[meta.StationName] {
			otherMeta := other.metadata[otherKey]
			if !hasAllVars(otherMeta, checkVars) {
				continue
			}
			if checkCoords {
				dist := coordDistKm(meta, otherMeta)
				if dist > maxDiffKm {
					d.log.Warn().Str("station", meta.StationName).
						Float64("dist_km", dist).Float64("max_km", maxDiffKm).
						Str("data_id", meta.DataID).Str("other_data_id", otherMeta.DataID).
						Msg("station coordinates differ between datasets")
					continue
				}
			}
			match[key] = otherKey
			break
		}
	}
	return match, nil
}

func hasAllVars(meta *obs.StationMeta, vars []string) bool {
	for _, v := range vars {
		if !meta.HasVar(v) {
			return false
		}
	}
	return true
}

// coordDistKm approximates the station distance on a flat projection with
// a cosine longitude correction.
func coordDistKm(a, b *obs.StationMeta) float64 {
	dlat := math.Abs(a.Latitude-b.Latitude) * latDegKm
	dlon := math.Abs(a.Longitude-b.Longitude) * latDegKm * math.Cos(a.Latitude*math.Pi/180)
	return math.Hypot(dlat, dlon)
}

// FindCommonDataPoints pairs daily values of a variable at stations both
// containers hold. A day contributes only when the other container has
// exactly one sample for it.
func (d *Data) FindCommonDataPoints(other *Data, varName string) (dates []time.Time, own, theirs []float64, err error) {
	common, err := d.FindCommonStations(other, []string{varName}, true, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(common) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no common stations with %s data",
			obs.ErrDataExtraction, varName)
	}

	keys := make([]int, 0, len(common))
	for k := range common {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, key := range keys {
		rowsA, err := d.Lookup(key, varName)
		if err != nil {
			continue
		}
		rowsB, err := other.Lookup(common[key], varName)
		if err != nil {
			continue
		}
		daysB := make([]int64, len(rowsB))
		for i, r := range rowsB {
			daysB[i] = dayNumber(other.store.timestamp[r])
		}
		for _, r := range rowsA {
			day := dayNumber(d.store.timestamp[r])
			matchIdx, count := -1, 0
			for i, db := range daysB {
				if db == day {
					matchIdx = i
					count++
				}
			}
			if count != 1 {
				continue
			}
			dates = append(dates, time.Unix(day*86400, 0).UTC())
			own = append(own, d.store.value[r])
			theirs = append(theirs, other.store.value[rowsB[matchIdx]])
		}
	}
	return dates, own, theirs, nil
}

// dayNumber truncates a unix timestamp to its day ordinal, flooring for
// times before the epoch.
func dayNumber(ts int64) int64 {
	day := ts / 86400
	if ts%86400 < 0 {
		day--
	}
	return day
}

const (
	locationPrecision = 5
	latOffset         = 90.0
)

// CodeLatLonInFloat packs each row's coordinates into one float so that
// distinct locations can be found with a single pass over a scalar vector.
func (d *Data) CodeLatLonInFloat() []float64 {
	hi := math.Pow(10, 3*locationPrecision)
	lo := math.Pow(10, locationPrecision)
	out := make([]float64, d.store.used)
	for i := 0; i < d.store.used; i++ {
		out[i] = d.store.longitude[i]*hi + (d.store.latitude[i]+latOffset)*lo
	}
	return out
}

// DecodeLatLonFromFloat unpacks coordinates coded by CodeLatLonInFloat.
// Flooring rather than truncating keeps western longitudes intact.
func DecodeLatLonFromFloat(coded []float64) (lats, lons []float64) {
	mid := math.Pow(10, 2*locationPrecision)
	lo := math.Pow(10, locationPrecision)
	lats = make([]float64, len(coded))
	lons = make([]float64, len(coded))
	for i, c := range coded {
		t := math.Floor(c / mid)
		lons[i] = t / lo
		lats[i] = (c-t*mid)/lo - latOffset
	}
	return lats, lons
}
