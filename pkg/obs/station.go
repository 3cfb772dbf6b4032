package obs

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Relative tolerance when comparing station coordinates for metadata
// block equality.
const coordRelTol = 1e-2

// earth radius in km, for station distances
const earthRadiusKm = 6371.0

// VarInfo holds per-variable metadata within one station record.
type VarInfo struct {
	Units   string            `msgpack:"units"`
	TsType  string            `msgpack:"ts_type,omitempty"`
	Overlap bool              `msgpack:"overlap"`
	Extra   map[string]string `msgpack:"extra,omitempty"`
}

// Copy returns a deep copy.
func (v VarInfo) Copy() VarInfo {
	out := v
	if v.Extra != nil {
		out.Extra = make(map[string]string, len(v.Extra))
		for k, val := range v.Extra {
			out.Extra[k] = val
		}
	}
	return out
}

func (v VarInfo) equal(other VarInfo) bool {
	if v.Units != other.Units || v.TsType != other.TsType || v.Overlap != other.Overlap {
		return false
	}
	if len(v.Extra) != len(other.Extra) {
		return false
	}
	for k, val := range v.Extra {
		if other.Extra[k] != val {
			return false
		}
	}
	return true
}

// StationMeta is the static description of one station + data source
// combination (one metadata block). Unknown coordinates are NaN, not zero:
// use NewStationMeta for a blank record.
type StationMeta struct {
	StationName  string  `msgpack:"station_name"`
	StationID    string  `msgpack:"station_id,omitempty"`
	Latitude     float64 `msgpack:"latitude"`
	Longitude    float64 `msgpack:"longitude"`
	Altitude     float64 `msgpack:"altitude"`
	DataID       string  `msgpack:"data_id"`
	Instrument   string  `msgpack:"instrument_name,omitempty"`
	PI           string  `msgpack:"pi,omitempty"`
	Country      string  `msgpack:"country,omitempty"`
	TsType       string  `msgpack:"ts_type,omitempty"`
	DataLevel    string  `msgpack:"data_level,omitempty"`
	RevisionDate string  `msgpack:"revision_date,omitempty"`
	Filename     string  `msgpack:"filename,omitempty"`

	// Variables lists the variable names this block holds rows for, in the
	// order they were first written.
	Variables []string           `msgpack:"variables"`
	VarInfo   map[string]VarInfo `msgpack:"var_info,omitempty"`

	// Extra carries format-specific provenance fields without a standard
	// slot.
	Extra map[string]string `msgpack:"extra,omitempty"`
}

// NewStationMeta returns a blank record with unknown (NaN) coordinates.
func NewStationMeta() StationMeta {
	return StationMeta{
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
		Altitude:  math.NaN(),
	}
}

// Copy returns a deep copy (metadata blocks are owned by their container
// and handed out by value).
func (m StationMeta) Copy() StationMeta {
	out := m
	if m.Variables != nil {
		out.Variables = append([]string(nil), m.Variables...)
	}
	if m.VarInfo != nil {
		out.VarInfo = make(map[string]VarInfo, len(m.VarInfo))
		for k, vi := range m.VarInfo {
			out.VarInfo[k] = vi.Copy()
		}
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Coords returns latitude, longitude and altitude.
func (m *StationMeta) Coords() (lat, lon, alt float64) {
	return m.Latitude, m.Longitude, m.Altitude
}

// HasVar reports whether the block holds rows for the named variable.
func (m *StationMeta) HasVar(name string) bool {
	for _, v := range m.Variables {
		if v == name {
			return true
		}
	}
	return false
}

// AddVar appends name to the variables list if not present.
func (m *StationMeta) AddVar(name string) {
	if !m.HasVar(name) {
		m.Variables = append(m.Variables, name)
	}
}

// SetVarInfo stores per-variable metadata, allocating the map if needed.
func (m *StationMeta) SetVarInfo(name string, vi VarInfo) {
	if m.VarInfo == nil {
		m.VarInfo = make(map[string]VarInfo)
	}
	m.VarInfo[name] = vi
}

// DistOther returns the great-circle distance to the other station in km.
// NaN coordinates yield NaN.
func (m *StationMeta) DistOther(other *StationMeta) float64 {
	lat1 := m.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dlat := lat2 - lat1
	dlon := (other.Longitude - m.Longitude) * math.Pi / 180
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// SameCoords reports whether both stations lie within tolKm of each other.
func (m *StationMeta) SameCoords(other *StationMeta, tolKm float64) bool {
	d := m.DistOther(other)
	return !math.IsNaN(d) && d <= tolKm
}

// standardAttrs lists the filterable standard attribute names.
var standardAttrs = []string{
	"station_name", "station_id", "latitude", "longitude", "altitude",
	"data_id", "instrument_name", "PI", "country", "ts_type",
	"data_level", "revision_date", "filename",
}

// Attr resolves a standard attribute name or Extra key to its value.
// Numeric attributes come back as float64, everything else as string.
func (m *StationMeta) Attr(name string) (any, bool) {
	switch name {
	case "station_name":
		return m.StationName, true
	case "station_id":
		return m.StationID, true
	case "latitude":
		return m.Latitude, true
	case "longitude":
		return m.Longitude, true
	case "altitude":
		return m.Altitude, true
	case "data_id":
		return m.DataID, true
	case "instrument_name":
		return m.Instrument, true
	case "PI":
		return m.PI, true
	case "country":
		return m.Country, true
	case "ts_type":
		return m.TsType, true
	case "data_level":
		return m.DataLevel, true
	case "revision_date":
		return m.RevisionDate, true
	case "filename":
		return m.Filename, true
	}
	if v, ok := m.Extra[name]; ok {
		return v, true
	}
	return nil, false
}

func (m *StationMeta) setStringAttr(name, value string) {
	switch name {
	case "station_name":
		m.StationName = value
	case "station_id":
		m.StationID = value
	case "instrument_name":
		m.Instrument = value
	case "PI":
		m.PI = value
	case "country":
		m.Country = value
	case "ts_type":
		m.TsType = value
	case "data_level":
		m.DataLevel = value
	case "revision_date":
		m.RevisionDate = value
	case "filename":
		m.Filename = value
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[name] = value
	}
}

func coordsClose(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return math.Abs(a-b) <= coordRelTol*math.Abs(b)
}

// Equal reports whether two blocks are attribute-equal modulo the ignored
// keys. Coordinates compare with a relative tolerance, per-variable info
// recursively, everything else exactly.
func (m *StationMeta) Equal(other *StationMeta, ignore []string) bool {
	skip := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		skip[k] = true
	}
	for _, name := range standardAttrs {
		if skip[name] {
			continue
		}
		switch name {
		case "latitude":
			if !coordsClose(m.Latitude, other.Latitude) {
				return false
			}
		case "longitude":
			if !coordsClose(m.Longitude, other.Longitude) {
				return false
			}
		case "altitude":
			if !coordsClose(m.Altitude, other.Altitude) {
				return false
			}
		default:
			a, _ := m.Attr(name)
			b, _ := other.Attr(name)
			if a != b {
				return false
			}
		}
	}
	if len(m.Variables) != len(other.Variables) {
		return false
	}
	for i, v := range m.Variables {
		if other.Variables[i] != v {
			return false
		}
	}
	for name, vi := range m.VarInfo {
		if skip[name] {
			continue
		}
		ovi, ok := other.VarInfo[name]
		if !ok || !vi.equal(ovi) {
			return false
		}
	}
	if len(m.VarInfo) != len(other.VarInfo) {
		return false
	}
	for k, v := range m.Extra {
		if skip[k] {
			continue
		}
		if other.Extra[k] != v {
			return false
		}
	}
	for k := range other.Extra {
		if skip[k] {
			continue
		}
		if _, ok := m.Extra[k]; !ok {
			return false
		}
	}
	return true
}

// CollectIgnored folds the other block's values for the ignored keys into
// this one. Divergent values are joined with ";" so nothing is dropped.
func (m *StationMeta) CollectIgnored(other *StationMeta, ignore []string) {
	for _, key := range ignore {
		ov, ok := other.Attr(key)
		if !ok {
			continue
		}
		os, isStr := ov.(string)
		if !isStr || os == "" {
			continue
		}
		cur, _ := m.Attr(key)
		cs, _ := cur.(string)
		if cs == "" {
			m.setStringAttr(key, os)
			continue
		}
		if cs == os {
			continue
		}
		found := false
		for _, part := range strings.Split(cs, ";") {
			if part == os {
				found = true
				break
			}
		}
		if !found {
			m.setStringAttr(key, cs+";"+os)
		}
	}
}

// MergeMeta merges another record for the same physical station into this
// one. Coordinates must agree within tolKm; empty fields are filled from
// the other record and conflicting string fields are ";"-joined.
func (m *StationMeta) MergeMeta(other *StationMeta, tolKm float64) error {
	if !m.SameCoords(other, tolKm) {
		return fmt.Errorf("%w: %s at (%.4f, %.4f) vs (%.4f, %.4f)",
			ErrCoordinate, m.StationName,
			m.Latitude, m.Longitude, other.Latitude, other.Longitude)
	}
	for _, name := range standardAttrs {
		switch name {
		case "latitude", "longitude", "altitude":
			continue
		}
		av, _ := m.Attr(name)
		bv, _ := other.Attr(name)
		as, _ := av.(string)
		bs, _ := bv.(string)
		if bs == "" || as == bs {
			continue
		}
		if as == "" {
			m.setStringAttr(name, bs)
		} else {
			m.setStringAttr(name, as+";"+bs)
		}
	}
	for _, v := range other.Variables {
		m.AddVar(v)
	}
	for k, v := range other.Extra {
		if _, ok := m.Extra[k]; !ok {
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// MergeVarInfo folds the other record's per-variable info for varName into
// this one. Units must agree; a unit clash is a data error.
func (m *StationMeta) MergeVarInfo(other *StationMeta, varName string) error {
	ovi, ok := other.VarInfo[varName]
	if !ok {
		return nil
	}
	vi, ok := m.VarInfo[varName]
	if !ok {
		m.SetVarInfo(varName, ovi.Copy())
		return nil
	}
	if vi.Units != "" && ovi.Units != "" && !SameUnit(vi.Units, ovi.Units) {
		return fmt.Errorf("%w: %s recorded as %q and %q",
			ErrDataUnit, varName, vi.Units, ovi.Units)
	}
	if vi.Units == "" {
		vi.Units = ovi.Units
	}
	vi.Overlap = vi.Overlap || ovi.Overlap
	for k, v := range ovi.Extra {
		if _, exists := vi.Extra[k]; !exists {
			if vi.Extra == nil {
				vi.Extra = make(map[string]string)
			}
			vi.Extra[k] = v
		}
	}
	m.VarInfo[varName] = vi
	return nil
}

// SortedVars returns the block's variable names in sorted order.
func (m *StationMeta) SortedVars() []string {
	vars := append([]string(nil), m.Variables...)
	sort.Strings(vars)
	return vars
}
