package ungridded

import "math"

// Column identifies one of the twelve logical columns of the flat sample
// array. The layout is fixed; readers write every column they have values
// for and leave the rest at the missing sentinel.
type Column int

const (
	ColMetaKey Column = iota
	ColTime
	ColLatitude
	ColLongitude
	ColAltitude
	ColVarIdx
	ColData
	ColDataHeight
	ColDataErr
	ColDataFlag
	ColStopTime
	ColTrash

	// NumColumns is the width of one row.
	NumColumns = 12
)

const (
	// initialCapacity is the row count preallocated by New.
	initialCapacity = 10000
	// chunkSize is the minimum number of rows added per growth step.
	chunkSize = 1000
)

// Integer columns cannot carry NaN, so unset cells use these sentinels.
const (
	missingKey  int64 = -1
	missingTime int64 = math.MinInt64
)

// store is the column-major backing array. Rows below used hold written
// samples; rows from used up to capacity are preallocated fill. Key and
// time columns are integer valued, everything else is float64 with NaN
// for missing cells.
type store struct {
	metaKey    []int64
	timestamp  []int64 // unix seconds
	latitude   []float64
	longitude  []float64
	altitude   []float64
	varID      []int64
	value      []float64
	dataHeight []float64
	dataErr    []float64
	dataFlag   []float64
	stopTime   []int64 // unix seconds
	trash      []float64

	used int
}

func newStore(capacity int) *store {
	s := &store{}
	if capacity > 0 {
		s.extend(capacity)
	}
	return s
}

func (s *store) capacity() int { return len(s.metaKey) }

func (s *store) free() int { return s.capacity() - s.used }

// extend adds exactly n rows of missing-value fill to every column.
func (s *store) extend(n int) {
	s.metaKey = extendInts(s.metaKey, n, missingKey)
	s.timestamp = extendInts(s.timestamp, n, missingTime)
	s.latitude = extendFloats(s.latitude, n)
	s.longitude = extendFloats(s.longitude, n)
	s.altitude = extendFloats(s.altitude, n)
	s.varID = extendInts(s.varID, n, missingKey)
	s.value = extendFloats(s.value, n)
	s.dataHeight = extendFloats(s.dataHeight, n)
	s.dataErr = extendFloats(s.dataErr, n)
	s.dataFlag = extendFloats(s.dataFlag, n)
	s.stopTime = extendInts(s.stopTime, n, missingTime)
	s.trash = extendFloats(s.trash, n)
}

// grow adds at least n rows, rounded up to the chunk size.
func (s *store) grow(n int) {
	if n < chunkSize {
		n = chunkSize
	}
	s.extend(n)
}

// shrinkToFit drops the unused trailing capacity.
func (s *store) shrinkToFit() {
	n := s.used
	s.metaKey = s.metaKey[:n:n]
	s.timestamp = s.timestamp[:n:n]
	s.latitude = s.latitude[:n:n]
	s.longitude = s.longitude[:n:n]
	s.altitude = s.altitude[:n:n]
	s.varID = s.varID[:n:n]
	s.value = s.value[:n:n]
	s.dataHeight = s.dataHeight[:n:n]
	s.dataErr = s.dataErr[:n:n]
	s.dataFlag = s.dataFlag[:n:n]
	s.stopTime = s.stopTime[:n:n]
	s.trash = s.trash[:n:n]
}

// copyRowFrom copies all twelve cells of src row i into row j of s. Row j
// must already be allocated.
func (s *store) copyRowFrom(src *store, i, j int) {
	s.metaKey[j] = src.metaKey[i]
	s.timestamp[j] = src.timestamp[i]
	s.latitude[j] = src.latitude[i]
	s.longitude[j] = src.longitude[i]
	s.altitude[j] = src.altitude[i]
	s.varID[j] = src.varID[i]
	s.value[j] = src.value[i]
	s.dataHeight[j] = src.dataHeight[i]
	s.dataErr[j] = src.dataErr[i]
	s.dataFlag[j] = src.dataFlag[i]
	s.stopTime[j] = src.stopTime[i]
	s.trash[j] = src.trash[i]
}

func (s *store) copy() *store {
	out := newStore(s.used)
	out.used = s.used
	copy(out.metaKey, s.metaKey[:s.used])
	copy(out.timestamp, s.timestamp[:s.used])
	copy(out.latitude, s.latitude[:s.used])
	copy(out.longitude, s.longitude[:s.used])
	copy(out.altitude, s.altitude[:s.used])
	copy(out.varID, s.varID[:s.used])
	copy(out.value, s.value[:s.used])
	copy(out.dataHeight, s.dataHeight[:s.used])
	copy(out.dataErr, s.dataErr[:s.used])
	copy(out.dataFlag, s.dataFlag[:s.used])
	copy(out.stopTime, s.stopTime[:s.used])
	copy(out.trash, s.trash[:s.used])
	return out
}

func extendInts(col []int64, n int, fill int64) []int64 {
	for ; n > 0; n-- {
		col = append(col, fill)
	}
	return col
}

func extendFloats(col []float64, n int) []float64 {
	for ; n > 0; n-- {
		col = append(col, math.NaN())
	}
	return col
}

func allNaN(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
