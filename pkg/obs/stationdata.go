package obs

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultCoordTolKm is the maximum distance two records may be apart and
// still count as the same physical station.
const DefaultCoordTolKm = 0.1

// Series is one variable's time-indexed data at a station.
type Series struct {
	Times  []time.Time
	Values []float64
	// Errs holds per-sample uncertainties, nil when the source has none.
	Errs []float64
	// Alts holds a per-sample vertical coordinate for profile data.
	Alts []float64
}

// NewSeries builds a series over the given timestamps and values.
func NewSeries(times []time.Time, values []float64) *Series {
	return &Series{Times: times, Values: values}
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.Times) }

// Copy returns a deep copy.
func (s *Series) Copy() *Series {
	out := &Series{
		Times:  append([]time.Time(nil), s.Times...),
		Values: append([]float64(nil), s.Values...),
	}
	if s.Errs != nil {
		out.Errs = append([]float64(nil), s.Errs...)
	}
	if s.Alts != nil {
		out.Alts = append([]float64(nil), s.Alts...)
	}
	return out
}

// IsMonotonic reports whether timestamps never decrease.
func (s *Series) IsMonotonic() bool {
	for i := 1; i < len(s.Times); i++ {
		if s.Times[i].Before(s.Times[i-1]) {
			return false
		}
	}
	return true
}

// Sort orders samples by time, keeping all parallel slices aligned. The
// sort is stable so duplicate timestamps keep their insertion order.
func (s *Series) Sort() {
	idx := make([]int, len(s.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.Times[idx[a]].Before(s.Times[idx[b]])
	})
	s.reorder(idx)
}

func (s *Series) reorder(idx []int) {
	times := make([]time.Time, len(idx))
	values := make([]float64, len(idx))
	for i, j := range idx {
		times[i] = s.Times[j]
		values[i] = s.Values[j]
	}
	s.Times, s.Values = times, values
	if s.Errs != nil {
		errs := make([]float64, len(idx))
		for i, j := range idx {
			errs[i] = s.Errs[j]
		}
		s.Errs = errs
	}
	if s.Alts != nil {
		alts := make([]float64, len(idx))
		for i, j := range idx {
			alts[i] = s.Alts[j]
		}
		s.Alts = alts
	}
}

// ValidCount returns the number of non-NaN values.
func (s *Series) ValidCount() int {
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// HasDuplicateTimes reports whether any timestamp occurs more than once.
func (s *Series) HasDuplicateTimes() bool {
	seen := make(map[int64]bool, len(s.Times))
	for _, t := range s.Times {
		u := t.Unix()
		if seen[u] {
			return true
		}
		seen[u] = true
	}
	return false
}

func (s *Series) appendSample(t time.Time, v, errVal, alt float64) {
	s.Times = append(s.Times, t)
	s.Values = append(s.Values, v)
	if s.Errs != nil {
		s.Errs = append(s.Errs, errVal)
	}
	if s.Alts != nil {
		s.Alts = append(s.Alts, alt)
	}
}

func (s *Series) scale(factor float64) {
	for i := range s.Values {
		s.Values[i] *= factor
	}
	for i := range s.Errs {
		s.Errs[i] *= factor
	}
}

// StationData is the materialized per-station result: station metadata plus
// one time series per variable. Overlap retains samples that lost an
// exact-timestamp collision during a multi-source merge.
type StationData struct {
	StationMeta
	DataRevision string
	Data         map[string]*Series
	Overlap      map[string]*Series
}

// NewStationData returns an empty record with unknown coordinates.
func NewStationData() *StationData {
	return &StationData{
		StationMeta: NewStationMeta(),
		Data:        make(map[string]*Series),
		Overlap:     make(map[string]*Series),
	}
}

// Copy returns a deep copy.
func (s *StationData) Copy() *StationData {
	out := &StationData{
		StationMeta:  s.StationMeta.Copy(),
		DataRevision: s.DataRevision,
		Data:         make(map[string]*Series, len(s.Data)),
		Overlap:      make(map[string]*Series, len(s.Overlap)),
	}
	for k, ser := range s.Data {
		out.Data[k] = ser.Copy()
	}
	for k, ser := range s.Overlap {
		out.Overlap[k] = ser.Copy()
	}
	return out
}

// VarsAvailable returns the variables with series data, sorted.
func (s *StationData) VarsAvailable() []string {
	vars := make([]string, 0, len(s.Data))
	for v := range s.Data {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// HasVar reports whether series data exists for the variable.
func (s *StationData) HasVar(name string) bool {
	_, ok := s.Data[name]
	return ok
}

// SetSeries stores a series and records the variable in the metadata.
func (s *StationData) SetSeries(name string, ser *Series) {
	if s.Data == nil {
		s.Data = make(map[string]*Series)
	}
	s.Data[name] = ser
	s.AddVar(name)
}

// RemoveVar drops the series and metadata for the variable. Readers use
// it to shed helper variables that were only read to derive others.
func (s *StationData) RemoveVar(name string) {
	delete(s.Data, name)
	delete(s.Overlap, name)
	delete(s.VarInfo, name)
	for i, v := range s.Variables {
		if v == name {
			s.Variables = append(s.Variables[:i], s.Variables[i+1:]...)
			break
		}
	}
}

// GetUnit returns the recorded unit for the variable.
func (s *StationData) GetUnit(name string) (string, error) {
	vi, ok := s.VarInfo[name]
	if !ok || vi.Units == "" {
		return "", fmt.Errorf("%w: no unit recorded for %s at %s",
			ErrMetaData, name, s.StationName)
	}
	return vi.Units, nil
}

// CheckUnit verifies the recorded unit equals the given one (conversion
// factor exactly 1). An empty unit checks against the registry default.
func (s *StationData) CheckUnit(name, unit string) error {
	if unit == "" {
		entry, err := DefaultRegistry().Get(name)
		if err != nil {
			return err
		}
		unit = entry.Units
	}
	have, err := s.GetUnit(name)
	if err != nil {
		return err
	}
	factor, err := ConversionFactor(have, unit)
	if err != nil {
		return err
	}
	if factor != 1 {
		return fmt.Errorf("%w: %s is %q, expected %q (factor %g)",
			ErrDataUnit, name, have, unit, factor)
	}
	return nil
}

// ConvertUnit rescales the series for name into the target unit.
func (s *StationData) ConvertUnit(name, to string) error {
	have, err := s.GetUnit(name)
	if err != nil {
		return err
	}
	factor, err := ConversionFactor(have, to)
	if err != nil {
		return err
	}
	ser, ok := s.Data[name]
	if !ok {
		return fmt.Errorf("%w: %s at %s", ErrVarNotAvailable, name, s.StationName)
	}
	ser.scale(factor)
	vi := s.VarInfo[name]
	vi.Units = to
	s.SetVarInfo(name, vi)
	return nil
}

// CheckIf3D reports whether the variable carries profile (altitude
// resolved) data.
func (s *StationData) CheckIf3D(name string) bool {
	ser, ok := s.Data[name]
	if !ok || ser.Alts == nil {
		return false
	}
	for _, a := range ser.Alts {
		if !math.IsNaN(a) {
			return true
		}
	}
	return false
}

// GetStationCoords returns the station coordinates.
func (s *StationData) GetStationCoords() (lat, lon, alt float64) {
	return s.Coords()
}

// Resample aggregates the series for name into the coarser frequency by
// averaging all non-NaN samples per target period. Profile altitudes do
// not survive resampling.
func (s *StationData) Resample(name string, to TsType) error {
	if to == TsNative {
		return fmt.Errorf("%w: cannot resample to native", ErrTemporalResolution)
	}
	ser, ok := s.Data[name]
	if !ok {
		return fmt.Errorf("%w: %s at %s", ErrVarNotAvailable, name, s.StationName)
	}
	if src := s.seriesTsType(name); src != TsNative && src.Coarser(to) {
		return fmt.Errorf("%w: cannot resample %s from %s to %s",
			ErrTemporalResolution, name, src, to)
	}

	type bucket struct {
		sum, errSum float64
		n, errN     int
	}
	buckets := make(map[int64]*bucket)
	for i, t := range ser.Times {
		start := to.BucketStart(t)
		b := buckets[start.Unix()]
		if b == nil {
			b = &bucket{}
			buckets[start.Unix()] = b
		}
		if !math.IsNaN(ser.Values[i]) {
			b.sum += ser.Values[i]
			b.n++
		}
		if ser.Errs != nil && !math.IsNaN(ser.Errs[i]) {
			b.errSum += ser.Errs[i]
			b.errN++
		}
	}

	starts := make([]int64, 0, len(buckets))
	for u := range buckets {
		starts = append(starts, u)
	}
	sort.Slice(starts, func(a, b int) bool { return starts[a] < starts[b] })

	out := &Series{
		Times:  make([]time.Time, 0, len(starts)),
		Values: make([]float64, 0, len(starts)),
	}
	if ser.Errs != nil {
		out.Errs = make([]float64, 0, len(starts))
	}
	for _, u := range starts {
		b := buckets[u]
		mean := math.NaN()
		if b.n > 0 {
			mean = b.sum / float64(b.n)
		}
		out.Times = append(out.Times, time.Unix(u, 0).UTC())
		out.Values = append(out.Values, mean)
		if out.Errs != nil {
			errMean := math.NaN()
			if b.errN > 0 {
				errMean = b.errSum / float64(b.errN)
			}
			out.Errs = append(out.Errs, errMean)
		}
	}

	s.Data[name] = out
	vi := s.VarInfo[name]
	vi.TsType = to.String()
	s.SetVarInfo(name, vi)
	return nil
}

func (s *StationData) seriesTsType(name string) TsType {
	str := ""
	if vi, ok := s.VarInfo[name]; ok && vi.TsType != "" {
		str = vi.TsType
	} else {
		str = s.TsType
	}
	if str == "" {
		return TsNative
	}
	t, err := ParseTsType(str)
	if err != nil {
		return TsNative
	}
	return t
}

// MergeOther merges the lower-precedence record into this one for varName.
// Samples at new timestamps are adopted; samples colliding with an existing
// timestamp lose and are retained under Overlap. The per-variable overlap
// flag is set whenever a collision occurred.
func (s *StationData) MergeOther(other *StationData, varName string, tolKm float64) error {
	if tolKm <= 0 {
		tolKm = DefaultCoordTolKm
	}
	if err := s.StationMeta.MergeMeta(&other.StationMeta, tolKm); err != nil {
		return err
	}
	if err := s.MergeVarInfo(&other.StationMeta, varName); err != nil {
		return err
	}
	if other.DataRevision != "" && s.DataRevision == "" {
		s.DataRevision = other.DataRevision
	}

	oser, ok := other.Data[varName]
	if !ok {
		return nil
	}
	ser, ok := s.Data[varName]
	if !ok {
		s.SetSeries(varName, oser.Copy())
		return nil
	}

	have := make(map[int64]bool, len(ser.Times))
	for _, t := range ser.Times {
		have[t.Unix()] = true
	}

	collided := false
	for i, t := range oser.Times {
		var errVal, alt float64 = math.NaN(), math.NaN()
		if oser.Errs != nil {
			errVal = oser.Errs[i]
		}
		if oser.Alts != nil {
			alt = oser.Alts[i]
		}
		if have[t.Unix()] {
			collided = true
			if s.Overlap == nil {
				s.Overlap = make(map[string]*Series)
			}
			ov := s.Overlap[varName]
			if ov == nil {
				ov = &Series{}
				s.Overlap[varName] = ov
			}
			ov.Times = append(ov.Times, t)
			ov.Values = append(ov.Values, oser.Values[i])
			continue
		}
		if ser.Errs == nil && oser.Errs != nil {
			ser.Errs = nanSlice(len(ser.Times))
		}
		if ser.Alts == nil && oser.Alts != nil {
			ser.Alts = nanSlice(len(ser.Times))
		}
		ser.appendSample(t, oser.Values[i], errVal, alt)
		have[t.Unix()] = true
	}
	if collided {
		vi := s.VarInfo[varName]
		vi.Overlap = true
		s.SetVarInfo(varName, vi)
		s.Overlap[varName].Sort()
	}
	ser.Sort()
	return nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Ranker compares two candidate records for merge precedence; a positive
// result means a outranks b.
type Ranker func(a, b *StationData) int

// RankByValidCount ranks by the number of valid samples for varName
// (more data wins).
func RankByValidCount(varName string) Ranker {
	return func(a, b *StationData) int {
		na, nb := 0, 0
		if ser, ok := a.Data[varName]; ok {
			na = ser.ValidCount()
		}
		if ser, ok := b.Data[varName]; ok {
			nb = ser.ValidCount()
		}
		return na - nb
	}
}

// RankByAttr ranks by a metadata attribute (e.g. revision_date). Numeric
// values compare numerically, strings lexicographically; larger wins.
func RankByAttr(attr string) Ranker {
	return func(a, b *StationData) int {
		av, _ := a.Attr(attr)
		bv, _ := b.Attr(attr)
		switch x := av.(type) {
		case float64:
			y, _ := bv.(float64)
			switch {
			case x > y:
				return 1
			case x < y:
				return -1
			}
			return 0
		case string:
			y, _ := bv.(string)
			switch {
			case x > y:
				return 1
			case x < y:
				return -1
			}
			return 0
		}
		return 0
	}
}

// MergeStationData merges records for the same station into one, for a
// single variable. Records are ranked by the given ranker (highest
// precedence first); on ties the input order is kept. The default ranker
// prefers the record with the most valid samples.
func MergeStationData(stats []*StationData, varName string, ranker Ranker, tolKm float64) (*StationData, error) {
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge for %s", ErrDataCoverage, varName)
	}
	if ranker == nil {
		ranker = RankByValidCount(varName)
	}
	ordered := append([]*StationData(nil), stats...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ranker(ordered[i], ordered[j]) > 0
	})
	merged := ordered[0].Copy()
	for _, next := range ordered[1:] {
		if err := merged.MergeOther(next, varName, tolKm); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
