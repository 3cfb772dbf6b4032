package ungridded

import (
	"fmt"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// Snapshot is a serializable view of a container, split into the side maps
// and the raw column vectors. Column slices reference the live backing
// array and must not be mutated; FromSnapshot copies them.
type Snapshot struct {
	Rows         int
	Metadata     map[int]*obs.StationMeta
	MetaIndex    map[int]map[string][]int
	VarIndex     map[string]int
	NextMeta     int
	FilterHist   []FilterEntry
	DataRevision map[string]string

	MetaKeys   []int64
	Times      []int64
	Latitudes  []float64
	Longitudes []float64
	Altitudes  []float64
	VarIDs     []int64
	Values     []float64
	DataHeight []float64
	DataErr    []float64
	DataFlag   []float64
	StopTimes  []int64
	Trash      []float64
}

// Snapshot exports the written rows and side maps for serialization.
func (d *Data) Snapshot() *Snapshot {
	n := d.store.used
	return &Snapshot{
		Rows:         n,
		Metadata:     d.metadata,
		MetaIndex:    d.metaIdx,
		VarIndex:     d.varIdx,
		NextMeta:     d.nextMeta,
		FilterHist:   d.filterHist,
		DataRevision: d.dataRevision,
		MetaKeys:     d.store.metaKey[:n],
		Times:        d.store.timestamp[:n],
		Latitudes:    d.store.latitude[:n],
		Longitudes:   d.store.longitude[:n],
		Altitudes:    d.store.altitude[:n],
		VarIDs:       d.store.varID[:n],
		Values:       d.store.value[:n],
		DataHeight:   d.store.dataHeight[:n],
		DataErr:      d.store.dataErr[:n],
		DataFlag:     d.store.dataFlag[:n],
		StopTimes:    d.store.stopTime[:n],
		Trash:        d.store.trash[:n],
	}
}

// FromSnapshot rebuilds a container from a snapshot, copying all columns.
func FromSnapshot(snap *Snapshot) (*Data, error) {
	n := snap.Rows
	cols := map[string]int{
		"meta keys":   len(snap.MetaKeys),
		"times":       len(snap.Times),
		"latitudes":   len(snap.Latitudes),
		"longitudes":  len(snap.Longitudes),
		"altitudes":   len(snap.Altitudes),
		"variable":    len(snap.VarIDs),
		"values":      len(snap.Values),
		"data height": len(snap.DataHeight),
		"data error":  len(snap.DataErr),
		"data flag":   len(snap.DataFlag),
		"stop times":  len(snap.StopTimes),
		"trash":       len(snap.Trash),
	}
	for name, l := range cols {
		if l != n {
			return nil, fmt.Errorf("snapshot column %s has %d rows, expected %d", name, l, n)
		}
	}

	d := NewWithCapacity(n)
	copy(d.store.metaKey, snap.MetaKeys)
	copy(d.store.timestamp, snap.Times)
	copy(d.store.latitude, snap.Latitudes)
	copy(d.store.longitude, snap.Longitudes)
	copy(d.store.altitude, snap.Altitudes)
	copy(d.store.varID, snap.VarIDs)
	copy(d.store.value, snap.Values)
	copy(d.store.dataHeight, snap.DataHeight)
	copy(d.store.dataErr, snap.DataErr)
	copy(d.store.dataFlag, snap.DataFlag)
	copy(d.store.stopTime, snap.StopTimes)
	copy(d.store.trash, snap.Trash)
	d.store.used = n

	for k, m := range snap.Metadata {
		c := m.Copy()
		d.metadata[k] = &c
	}
	for k, byVar := range snap.MetaIndex {
		idx := make(map[string][]int, len(byVar))
		for v, rows := range byVar {
			idx[v] = append([]int(nil), rows...)
		}
		d.metaIdx[k] = idx
	}
	for k, v := range snap.VarIndex {
		d.varIdx[k] = v
	}
	d.filterHist = append([]FilterEntry(nil), snap.FilterHist...)
	for k, v := range snap.DataRevision {
		d.dataRevision[k] = v
	}
	d.nextMeta = snap.NextMeta
	if d.nextMeta <= d.maxMetaKey() {
		d.nextMeta = d.maxMetaKey() + 1
	}
	return d, nil
}
