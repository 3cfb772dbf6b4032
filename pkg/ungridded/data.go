// Package ungridded holds point observations from one or more measurement
// networks in a flat, column-major numeric array. Samples carry an integer
// metadata key and an integer variable id; the per-station metadata blocks
// and the row index for each (station, variable) pair live in side maps.
// Containers from different networks can be merged, filtered by metadata
// and materialized into per-station time series.
package ungridded

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// FilterEntry records one mutating operation applied to a container. The
// history is append-only and survives merges and filter chains.
type FilterEntry struct {
	Applied time.Time `msgpack:"applied"`
	Name    string    `msgpack:"name"`
	Spec    string    `msgpack:"spec"`
}

func (e FilterEntry) String() string {
	return fmt.Sprintf("%s %s: %s", e.Applied.Format(time.RFC3339), e.Name, e.Spec)
}

// Data is a container for ungridded observations. The zero value is not
// usable; construct with New or NewWithCapacity.
type Data struct {
	store *store

	metadata map[int]*obs.StationMeta
	metaIdx  map[int]map[string][]int
	varIdx   map[string]int
	nextMeta int

	filterHist   []FilterEntry
	dataRevision map[string]string
	prefAttrs    map[string]string

	registry *obs.VarRegistry
	log      zerolog.Logger
}

// New returns an empty container with the default row capacity.
func New() *Data {
	return NewWithCapacity(initialCapacity)
}

// NewWithCapacity returns an empty container preallocated for rows samples.
func NewWithCapacity(rows int) *Data {
	return &Data{
		store:        newStore(rows),
		metadata:     make(map[int]*obs.StationMeta),
		metaIdx:      make(map[int]map[string][]int),
		varIdx:       make(map[string]int),
		dataRevision: make(map[string]string),
		prefAttrs:    make(map[string]string),
		registry:     obs.DefaultRegistry(),
		log:          zerolog.Nop(),
	}
}

// SetLogger attaches a logger used for growth, skip and consistency
// messages. The default discards everything.
func (d *Data) SetLogger(l zerolog.Logger) { d.log = l }

// SetRegistry overrides the variable registry consulted for default units
// and outlier ranges.
func (d *Data) SetRegistry(r *obs.VarRegistry) { d.registry = r }

// SetRevision records the dataset revision for a data source id.
func (d *Data) SetRevision(dataID, revision string) {
	d.dataRevision[dataID] = revision
}

// Revision returns the recorded revision for a data source id, or "".
func (d *Data) Revision(dataID string) string { return d.dataRevision[dataID] }

// DataRevisions returns a copy of the data source id to revision map.
func (d *Data) DataRevisions() map[string]string {
	out := make(map[string]string, len(d.dataRevision))
	for k, v := range d.dataRevision {
		out[k] = v
	}
	return out
}

// SetMergePrefAttr declares the metadata attribute used to rank records of
// a data source when several blocks for one station are merged.
func (d *Data) SetMergePrefAttr(dataID, attr string) {
	d.prefAttrs[dataID] = attr
}

// RegisterStation adds a metadata block and returns its key. The container
// takes ownership of meta. Keys grow monotonically and are never reused,
// so they need not be contiguous after merges.
func (d *Data) RegisterStation(meta *obs.StationMeta) int {
	key := d.nextMeta
	d.metadata[key] = meta
	d.metaIdx[key] = make(map[string][]int)
	d.nextMeta++
	return key
}

// RegisterVariable returns the id assigned to the variable, minting the
// next free id on first use. Ids never collide with existing assignments.
func (d *Data) RegisterVariable(name string) int {
	if id, ok := d.varIdx[name]; ok {
		return id
	}
	id := 0
	for _, v := range d.varIdx {
		if v >= id {
			id = v + 1
		}
	}
	d.varIdx[name] = id
	return id
}

// VarID returns the id assigned to the variable.
func (d *Data) VarID(name string) (int, bool) {
	id, ok := d.varIdx[name]
	return id, ok
}

// ChangeVarIdx moves a variable to a new id and relabels all rows carrying
// the old one. Ids already assigned to another variable are refused.
func (d *Data) ChangeVarIdx(name string, newID int) error {
	cur, ok := d.varIdx[name]
	if !ok {
		return fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, name)
	}
	if cur == newID {
		return nil
	}
	for other, id := range d.varIdx {
		if id == newID {
			return fmt.Errorf("%w: id %d is already assigned to %s", obs.ErrVarIndex, newID, other)
		}
	}
	d.varIdx[name] = newID
	for i := 0; i < d.store.used; i++ {
		if d.store.varID[i] == int64(cur) {
			d.store.varID[i] = int64(newID)
		}
	}
	return nil
}

// IndexRows appends row indices for a (station, variable) pair. Multi-pass
// reads append to the existing index rather than replacing it.
func (d *Data) IndexRows(metaKey int, varName string, rows []int) {
	m, ok := d.metaIdx[metaKey]
	if !ok {
		m = make(map[string][]int)
		d.metaIdx[metaKey] = m
	}
	m[varName] = append(m[varName], rows...)
}

// Lookup returns a copy of the row indices for a (station, variable) pair.
// An unknown station and a station lacking the variable are distinct
// failures.
func (d *Data) Lookup(metaKey int, varName string) ([]int, error) {
	m, ok := d.metaIdx[metaKey]
	if !ok {
		return nil, fmt.Errorf("%w: no metadata block %d", obs.ErrStationNotFound, metaKey)
	}
	rows, ok := m[varName]
	if !ok || len(rows) == 0 {
		name := ""
		if meta, ok := d.metadata[metaKey]; ok {
			name = meta.StationName
		}
		return nil, fmt.Errorf("%w: no %s data at station %q (block %d)",
			obs.ErrVarNotAvailable, varName, name, metaKey)
	}
	out := make([]int, len(rows))
	copy(out, rows)
	return out, nil
}

// Reserve ensures capacity for at least n more rows, growing in chunks of
// missing-value fill.
func (d *Data) Reserve(n int) {
	if free := d.store.free(); free < n {
		d.store.grow(n - free)
		d.log.Debug().Int("capacity", d.store.capacity()).Msg("extended sample array")
	}
}

// ShrinkToFit trims the unused trailing capacity. Call once reading is
// complete.
func (d *Data) ShrinkToFit() { d.store.shrinkToFit() }

// Block carries the column vectors of one read pass for a single station
// and variable. Times and Values are required and must match in length;
// the remaining vectors are optional but must match that length when set.
type Block struct {
	Times     []time.Time
	Values    []float64
	Errs      []float64
	Heights   []float64
	Flags     []float64
	StopTimes []time.Time
}

func (b *Block) validate() (int, error) {
	n := len(b.Times)
	if len(b.Values) != n {
		return 0, fmt.Errorf("block has %d timestamps but %d values", n, len(b.Values))
	}
	if b.Errs != nil && len(b.Errs) != n {
		return 0, fmt.Errorf("block has %d timestamps but %d errors", n, len(b.Errs))
	}
	if b.Heights != nil && len(b.Heights) != n {
		return 0, fmt.Errorf("block has %d timestamps but %d heights", n, len(b.Heights))
	}
	if b.Flags != nil && len(b.Flags) != n {
		return 0, fmt.Errorf("block has %d timestamps but %d flags", n, len(b.Flags))
	}
	if b.StopTimes != nil && len(b.StopTimes) != n {
		return 0, fmt.Errorf("block has %d timestamps but %d stop times", n, len(b.StopTimes))
	}
	return n, nil
}

// WriteBlock appends the samples in blk as contiguous rows tagged with the
// given metadata key and variable, registering the variable if needed.
// Station coordinates are filled in from the metadata block. Capacity is
// extended on demand. Returns the written row range [first, last]. The
// rows are not added to the meta-index; see IndexRows.
func (d *Data) WriteBlock(metaKey int, varName string, blk Block) (first, last int, err error) {
	n, err := blk.validate()
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("empty block for %s", varName)
	}
	meta, ok := d.metadata[metaKey]
	if !ok {
		return 0, 0, fmt.Errorf("%w: no metadata block %d", obs.ErrStationNotFound, metaKey)
	}
	varID := int64(d.RegisterVariable(varName))
	d.Reserve(n)

	s := d.store
	first = s.used
	lat, lon, alt := meta.Coords()
	for i := 0; i < n; i++ {
		r := first + i
		s.metaKey[r] = int64(metaKey)
		s.timestamp[r] = blk.Times[i].Unix()
		s.latitude[r] = lat
		s.longitude[r] = lon
		s.altitude[r] = alt
		s.varID[r] = varID
		s.value[r] = blk.Values[i]
		if blk.Errs != nil {
			s.dataErr[r] = blk.Errs[i]
		}
		if blk.Heights != nil {
			s.dataHeight[r] = blk.Heights[i]
		}
		if blk.Flags != nil {
			s.dataFlag[r] = blk.Flags[i]
		}
		if blk.StopTimes != nil {
			s.stopTime[r] = blk.StopTimes[i].Unix()
		}
	}
	s.used += n
	return first, first + n - 1, nil
}

// MetaKeys returns the metadata keys in ascending order.
func (d *Data) MetaKeys() []int {
	keys := make([]int, 0, len(d.metadata))
	for k := range d.metadata {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Meta returns a copy of the metadata block for a key. Blocks are owned by
// the container; callers never receive a live reference.
func (d *Data) Meta(metaKey int) (*obs.StationMeta, bool) {
	m, ok := d.metadata[metaKey]
	if !ok {
		return nil, false
	}
	c := m.Copy()
	return &c, true
}

func (d *Data) maxMetaKey() int {
	max := -1
	for k := range d.metadata {
		if k > max {
			max = k
		}
	}
	return max
}

// Shape returns the written row count and the column count.
func (d *Data) Shape() (rows, cols int) { return d.store.used, NumColumns }

// IsEmpty reports whether no metadata blocks are registered.
func (d *Data) IsEmpty() bool { return len(d.metadata) == 0 }

// IsFiltered reports whether any filter was applied.
func (d *Data) IsFiltered() bool { return len(d.filterHist) > 0 }

// LastFilter returns the most recent filter history entry.
func (d *Data) LastFilter() (FilterEntry, bool) {
	if len(d.filterHist) == 0 {
		return FilterEntry{}, false
	}
	return d.filterHist[len(d.filterHist)-1], true
}

// FilterHistory returns a copy of the filter history.
func (d *Data) FilterHistory() []FilterEntry {
	return append([]FilterEntry(nil), d.filterHist...)
}

func (d *Data) addFilterHistory(name, spec string) {
	d.filterHist = append(d.filterHist, FilterEntry{
		Applied: time.Now().UTC(),
		Name:    name,
		Spec:    spec,
	})
}

// RecordFilter appends an entry to the filter history. Readers use it to
// record the options a container was read with.
func (d *Data) RecordFilter(name, spec string) { d.addFilterHistory(name, spec) }

// ContainsVars returns the known variable names ordered by their ids.
func (d *Data) ContainsVars() []string {
	names := make([]string, 0, len(d.varIdx))
	for name := range d.varIdx {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return d.varIdx[names[i]] < d.varIdx[names[j]] })
	return names
}

// ContainsDatasets returns the distinct data source ids in metadata key
// order.
func (d *Data) ContainsDatasets() []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range d.MetaKeys() {
		id := d.metadata[key].DataID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ContainsInstruments returns the distinct instrument names in metadata
// key order.
func (d *Data) ContainsInstruments() []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range d.MetaKeys() {
		in := d.metadata[key].Instrument
		if in == "" || seen[in] {
			continue
		}
		seen[in] = true
		out = append(out, in)
	}
	return out
}

// StationNames returns the station name of every metadata block in key
// order, one entry per block.
func (d *Data) StationNames() []string {
	keys := d.MetaKeys()
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = d.metadata[key].StationName
	}
	return out
}

// UniqueStationNames returns the sorted distinct station names.
func (d *Data) UniqueStationNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range d.StationNames() {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CountStations returns the number of distinct station names.
func (d *Data) CountStations() int { return len(d.UniqueStationNames()) }

// Latitudes returns the station latitude of every metadata block in key
// order.
func (d *Data) Latitudes() []float64 {
	keys := d.MetaKeys()
	out := make([]float64, len(keys))
	for i, key := range keys {
		out[i] = d.metadata[key].Latitude
	}
	return out
}

// Longitudes returns the station longitude of every metadata block in key
// order.
func (d *Data) Longitudes() []float64 {
	keys := d.MetaKeys()
	out := make([]float64, len(keys))
	for i, key := range keys {
		out[i] = d.metadata[key].Longitude
	}
	return out
}

// Altitudes returns the station altitude of every metadata block in key
// order.
func (d *Data) Altitudes() []float64 {
	keys := d.MetaKeys()
	out := make([]float64, len(keys))
	for i, key := range keys {
		out[i] = d.metadata[key].Altitude
	}
	return out
}

// Contains reports whether key names a dataset, variable, station or
// instrument known to this container.
func (d *Data) Contains(key string) bool {
	if _, ok := d.varIdx[key]; ok {
		return true
	}
	for _, k := range d.MetaKeys() {
		meta := d.metadata[k]
		if meta.DataID == key || meta.StationName == key || meta.Instrument == key {
			return true
		}
	}
	return false
}

// AllDatapointsVar returns the flat value vector for a variable, ignoring
// station boundaries.
func (d *Data) AllDatapointsVar(varName string) ([]float64, error) {
	id, ok := d.varIdx[varName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, varName)
	}
	var out []float64
	for i := 0; i < d.store.used; i++ {
		if d.store.varID[i] == int64(id) {
			out = append(out, d.store.value[i])
		}
	}
	return out, nil
}

// Copy returns a deep copy sharing nothing with the receiver.
func (d *Data) Copy() *Data {
	out := &Data{
		store:        d.store.copy(),
		metadata:     make(map[int]*obs.StationMeta, len(d.metadata)),
		metaIdx:      make(map[int]map[string][]int, len(d.metaIdx)),
		varIdx:       make(map[string]int, len(d.varIdx)),
		nextMeta:     d.nextMeta,
		filterHist:   append([]FilterEntry(nil), d.filterHist...),
		dataRevision: make(map[string]string, len(d.dataRevision)),
		prefAttrs:    make(map[string]string, len(d.prefAttrs)),
		registry:     d.registry,
		log:          d.log,
	}
	for k, m := range d.metadata {
		c := m.Copy()
		out.metadata[k] = &c
	}
	for k, byVar := range d.metaIdx {
		idx := make(map[string][]int, len(byVar))
		for v, rows := range byVar {
			idx[v] = append([]int(nil), rows...)
		}
		out.metaIdx[k] = idx
	}
	for k, v := range d.varIdx {
		out.varIdx[k] = v
	}
	for k, v := range d.dataRevision {
		out.dataRevision[k] = v
	}
	for k, v := range d.prefAttrs {
		out.prefAttrs[k] = v
	}
	return out
}

// String summarizes content for logs and the CLI.
func (d *Data) String() string {
	rows, _ := d.Shape()
	s := fmt.Sprintf("UngriddedData: %d rows, %d metadata blocks, datasets %v, variables %v, instruments %v",
		rows, len(d.metadata), d.ContainsDatasets(), d.ContainsVars(), d.ContainsInstruments())
	if d.IsFiltered() {
		s += "\nFilters applied:"
		for _, e := range d.filterHist {
			s += "\n  " + e.String()
		}
	}
	return s
}

func rowRange(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for r := first; r <= last; r++ {
		out = append(out, r)
	}
	return out
}
