package vector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

type stubSource struct {
	name     string
	vars     []string
	cols     map[string]Columns
	stations map[string]Station
}

func (s *stubSource) Name() string                 { return s.name }
func (s *stubSource) Variables() []string          { return s.vars }
func (s *stubSource) Stations() map[string]Station { return s.stations }

func (s *stubSource) Columns(varName string) (Columns, error) {
	c, ok := s.cols[varName]
	if !ok {
		return Columns{}, fmt.Errorf("no columns for %s", varName)
	}
	return c, nil
}

var t0 = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

// hourlyColumns builds rows with one-hour acquisition intervals.
func hourlyColumns(unit string, ids []string, values []float64) Columns {
	c := Columns{
		Unit:       unit,
		StationIDs: ids,
		Starts:     make([]time.Time, len(ids)),
		Ends:       make([]time.Time, len(ids)),
		Values:     values,
		Lats:       make([]float64, len(ids)),
		Lons:       make([]float64, len(ids)),
	}
	for i := range ids {
		c.Starts[i] = t0.Add(time.Duration(i) * time.Hour)
		c.Ends[i] = c.Starts[i].Add(time.Hour)
		c.Lats[i] = 58.4
		c.Lons[i] = 8.3
	}
	return c
}

func newStubSource() *stubSource {
	return &stubSource{
		name: "TestVector",
		vars: []string{"concno"},
		cols: map[string]Columns{
			"concno": hourlyColumns("ug m-3",
				[]string{"NO0042", "NO0042", "XX0001"},
				[]float64{10, 20, 30}),
		},
		stations: map[string]Station{
			"NO0042": {
				LongName:  "Karasjok",
				Latitude:  69.47,
				Longitude: 25.22,
				Altitude:  155,
				Country:   "NO",
				Extra:     map[string]string{"PI": "Someone", "halo": "kept"},
			},
		},
	}
}

func TestAdapterRead(t *testing.T) {
	a, err := New(newStubSource(), Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "TestVector", a.DataID())

	d, err := a.Read(context.Background(), nil)
	require.NoError(t, err)

	rows, _ := d.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, []string{"concno"}, d.ContainsVars())
	assert.Equal(t, "n/d", d.Revision("TestVector"))

	vals, err := d.AllDatapointsVar("concno")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, vals)

	// station table entry fills the metadata block
	sd, err := d.ToStationData(ungridded.ByName("Karasjok"), nil, ungridded.DefaultStationOptions())
	require.NoError(t, err)
	assert.Equal(t, 69.47, sd.Latitude)
	assert.Equal(t, "NO", sd.Country)
	assert.Equal(t, "Someone", sd.PI)
	assert.Equal(t, "hourly", sd.TsType)
	vi, ok := sd.VarInfo["concno"]
	require.True(t, ok)
	assert.Equal(t, "ug m-3", vi.Units)

	// row timestamps are the acquisition interval mid points
	ser := sd.Data["concno"]
	require.Equal(t, 2, ser.Len())
	assert.Equal(t, t0.Add(30*time.Minute), ser.Times[0])

	// stations missing from the table fall back to the row coordinates
	sd, err = d.ToStationData(ungridded.ByName("XX0001"), nil, ungridded.DefaultStationOptions())
	require.NoError(t, err)
	assert.Equal(t, 58.4, sd.Latitude)
	assert.Equal(t, 8.3, sd.Longitude)
}

func TestAdapterComputedVariable(t *testing.T) {
	a, err := New(newStubSource(), Options{
		DataID:  "TestVectorN",
		Compute: []string{"concNno"},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"concNno", "concno"}, a.SupportedVars())

	d, err := a.Read(context.Background(), []string{"concNno"})
	require.NoError(t, err)
	assert.Equal(t, []string{"concNno"}, d.ContainsVars())

	factor := obs.Scalings["concNno"].Factor
	vals, err := d.AllDatapointsVar("concNno")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.InDelta(t, 10*factor, vals[0], 1e-12)
	assert.InDelta(t, 30*factor, vals[2], 1e-12)

	meta, ok := d.Meta(0)
	require.True(t, ok)
	assert.Equal(t, "ug N m-3", meta.VarInfo["concNno"].Units)
	assert.Equal(t, "TestVectorN", meta.DataID)
}

func TestAdapterComputeRequiresSourceVariable(t *testing.T) {
	src := newStubSource()
	src.vars = []string{"concso4"}

	_, err := New(src, Options{Compute: []string{"concNno"}}, zerolog.Nop())
	assert.ErrorContains(t, err, "requires concno")

	_, err = New(src, Options{Compute: []string{"concXunknown"}}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown transformation")
}

func TestAdapterRename(t *testing.T) {
	a, err := New(newStubSource(), Options{
		Rename: map[string]string{"concno": "vmrno"},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"vmrno"}, a.SupportedVars())

	d, err := a.Read(context.Background(), []string{"vmrno"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vmrno"}, d.ContainsVars())
	rows, _ := d.Shape()
	assert.Equal(t, 3, rows)
}

func TestAdapterMixedFrequencyFails(t *testing.T) {
	src := newStubSource()
	cols := src.cols["concno"]
	cols.Ends[1] = cols.Starts[1].Add(24 * time.Hour)
	src.cols["concno"] = cols

	a, err := New(src, Options{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = a.Read(context.Background(), nil)
	assert.ErrorIs(t, err, obs.ErrTemporalResolution)
}

func TestAdapterUnknownVariableSkipped(t *testing.T) {
	a, err := New(newStubSource(), Options{}, zerolog.Nop())
	require.NoError(t, err)

	d, err := a.Read(context.Background(), []string{"concno", "od550aer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"concno"}, d.ContainsVars())
}

func TestAdapterEmptySourceFails(t *testing.T) {
	src := newStubSource()
	src.cols["concno"] = Columns{Unit: "ug m-3"}

	a, err := New(src, Options{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = a.Read(context.Background(), nil)
	assert.ErrorIs(t, err, obs.ErrDataCoverage)
}
