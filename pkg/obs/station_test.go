package obs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStation(name string, lat, lon, alt float64) StationMeta {
	m := NewStationMeta()
	m.StationName = name
	m.DataID = "TestNet"
	m.Latitude = lat
	m.Longitude = lon
	m.Altitude = alt
	return m
}

func TestStationMetaDistOther(t *testing.T) {
	a := testStation("a", 42.0, 20.0, 0)
	b := testStation("b", 42.01, 20.0, 0)

	// 0.01 degrees of latitude is roughly 1.11 km
	assert.InDelta(t, 1.11, a.DistOther(&b), 0.1)
}

func TestStationMetaSameCoords(t *testing.T) {
	a := testStation("a", 42.0, 20.0, 0)
	b := testStation("b", 42.01, 20.0, 0)

	assert.True(t, a.SameCoords(&a, DefaultCoordTolKm))
	assert.False(t, a.SameCoords(&b, 1))
	assert.True(t, a.SameCoords(&b, 2))

	// unknown coordinates never match
	c := NewStationMeta()
	assert.False(t, a.SameCoords(&c, 1000))
}

func TestStationMetaEqual(t *testing.T) {
	a := testStation("Birkenes", 58.38, 8.25, 190)
	a.PI = "Someone"
	a.Filename = "file_a.nas"
	a.Variables = []string{"sc550aer"}
	a.SetVarInfo("sc550aer", VarInfo{Units: "1/Mm"})

	b := a.Copy()
	b.Filename = "file_b.nas"

	assert.False(t, a.Equal(&b, nil))
	assert.True(t, a.Equal(&b, []string{"filename"}))

	// coordinate jitter within the relative tolerance still matches
	c := a.Copy()
	c.Latitude += 0.1
	assert.True(t, a.Equal(&c, []string{"filename"}))
	c.Latitude = 60.0
	assert.False(t, a.Equal(&c, []string{"filename"}))

	// diverging per-variable info breaks equality
	d := a.Copy()
	d.SetVarInfo("sc550aer", VarInfo{Units: "m-1"})
	assert.False(t, a.Equal(&d, []string{"filename"}))
}

func TestStationMetaCollectIgnored(t *testing.T) {
	a := testStation("x", 10, 10, 0)
	a.Filename = "jan.nas"
	b := testStation("x", 10, 10, 0)
	b.Filename = "feb.nas"

	a.CollectIgnored(&b, []string{"filename"})
	assert.Equal(t, "jan.nas;feb.nas", a.Filename)

	// collecting the same value twice does not duplicate it
	a.CollectIgnored(&b, []string{"filename"})
	assert.Equal(t, "jan.nas;feb.nas", a.Filename)
}

func TestStationMetaMergeMeta(t *testing.T) {
	a := testStation("x", 42.0, 20.0, 100)
	a.Instrument = "nephelometer"
	b := testStation("x", 42.0001, 20.0, 100)
	b.PI = "Someone"
	b.Variables = []string{"sc550aer"}

	require.NoError(t, a.MergeMeta(&b, DefaultCoordTolKm))
	assert.Equal(t, "Someone", a.PI)
	assert.Equal(t, "nephelometer", a.Instrument)
	assert.Equal(t, []string{"sc550aer"}, a.Variables)

	far := testStation("x", 43.0, 20.0, 100)
	err := a.MergeMeta(&far, DefaultCoordTolKm)
	assert.ErrorIs(t, err, ErrCoordinate)
}

func TestStationMetaCopyIsDeep(t *testing.T) {
	a := testStation("x", 1, 2, 3)
	a.Variables = []string{"v"}
	a.SetVarInfo("v", VarInfo{Units: "1"})
	a.Extra = map[string]string{"k": "v"}

	b := a.Copy()
	b.Variables[0] = "w"
	b.VarInfo["v"] = VarInfo{Units: "m-1"}
	b.Extra["k"] = "changed"

	assert.Equal(t, "v", a.Variables[0])
	assert.Equal(t, "1", a.VarInfo["v"].Units)
	assert.Equal(t, "v", a.Extra["k"])
}

func TestStationMetaAttr(t *testing.T) {
	a := testStation("Granada", 37.16, -3.6, 680)
	a.Extra = map[string]string{"website": "https://example.org"}

	v, ok := a.Attr("station_name")
	require.True(t, ok)
	assert.Equal(t, "Granada", v)

	v, ok = a.Attr("latitude")
	require.True(t, ok)
	assert.Equal(t, 37.16, v)

	v, ok = a.Attr("website")
	require.True(t, ok)
	assert.Equal(t, "https://example.org", v)

	_, ok = a.Attr("no_such_attr")
	assert.False(t, ok)

	assert.True(t, math.IsNaN(func() float64 {
		m := NewStationMeta()
		lat, _, _ := m.Coords()
		return lat
	}()))
}
