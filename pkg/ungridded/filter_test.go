package ungridded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// twoNetworks builds a container mixing stations from two data sources.
func twoNetworks(t *testing.T) *Data {
	t.Helper()
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 4)),
		makeStation("Bergen", "NET1", 60.38, 5.33, "od550aer", 1, seqValues(0.2, 3)),
		makeStation("Cabo", "NET2", 28.31, -16.5, "od550aer", 1, seqValues(0.3, 5)),
	)
	d.SetRevision("NET1", "20180115")
	d.SetRevision("NET2", "20180220")
	return d
}

func TestFilterByDataID(t *testing.T) {
	d := twoNetworks(t)
	sub, err := d.FilterByMeta(FilterSpec{"data_id": "NET1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"NET1"}, sub.ContainsDatasets())
	assert.Equal(t, []string{"Alta", "Bergen"}, sub.StationNames())
	assert.Equal(t, []int{0, 1}, sub.MetaKeys(), "keys renumbered from zero")

	rows, _ := sub.Shape()
	assert.Equal(t, 7, rows)

	// rows were copied, not aliased
	sub.store.value[0] = -1
	assert.Equal(t, 0.1, d.store.value[0])

	// the source keeps its history, the result gains an entry
	assert.False(t, d.IsFiltered())
	require.True(t, sub.IsFiltered())
	last, ok := sub.LastFilter()
	require.True(t, ok)
	assert.Equal(t, "filter_by_meta", last.Name)
	assert.Contains(t, last.Spec, "data_id=NET1")

	// revisions carried
	assert.Equal(t, "20180115", sub.Revision("NET1"))
}

func TestFilterIdempotence(t *testing.T) {
	d := twoNetworks(t)
	spec := FilterSpec{"data_id": "NET1"}

	once, err := d.FilterByMeta(spec)
	require.NoError(t, err)
	twice, err := once.FilterByMeta(spec)
	require.NoError(t, err)

	r1, _ := once.Shape()
	r2, _ := twice.Shape()
	assert.Equal(t, r1, r2)
	assert.Equal(t, once.StationNames(), twice.StationNames())

	v1, err := once.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	v2, err := twice.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	assert.Len(t, twice.FilterHistory(), len(once.FilterHistory())+1)
}

func TestFilterSpecValidation(t *testing.T) {
	d := twoNetworks(t)

	_, err := d.FilterByMeta(FilterSpec{"variables": "od550aer"})
	assert.ErrorIs(t, err, obs.ErrFilterKey)

	_, err = d.FilterByMeta(FilterSpec{"no_such_attr": "x"})
	assert.ErrorIs(t, err, obs.ErrFilterKey)

	_, err = d.FilterByMeta(FilterSpec{"data_id": 42})
	assert.ErrorIs(t, err, obs.ErrFilterKey)
}

func TestFilterNoMatch(t *testing.T) {
	d := twoNetworks(t)
	_, err := d.FilterByMeta(FilterSpec{"data_id": "NET9"})
	assert.ErrorIs(t, err, obs.ErrDataExtraction)

	_, err = New().FilterByMeta(FilterSpec{"data_id": "NET1"})
	assert.ErrorIs(t, err, obs.ErrDataExtraction)
}

func TestFilterConditions(t *testing.T) {
	d := twoNetworks(t)

	tests := []struct {
		name string
		spec FilterSpec
		want []string
	}{
		{
			name: "membership",
			spec: FilterSpec{"station_name": []string{"Alta", "Cabo"}},
			want: []string{"Alta", "Cabo"},
		},
		{
			name: "latitude range",
			spec: FilterSpec{"latitude": Range{Low: 50, High: 75}},
			want: []string{"Alta", "Bergen"},
		},
		{
			name: "combined AND",
			spec: FilterSpec{"data_id": "NET1", "latitude": Range{Low: 65, High: 75}},
			want: []string{"Alta"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := d.FilterByMeta(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.StationNames())
		})
	}
}

func TestFilterAltitude(t *testing.T) {
	d := New()
	low := makeStation("Valley", "NET1", 60, 10, "od550aer", 1, seqValues(0.1, 2))
	low.Altitude = 12
	high := makeStation("Peak", "NET1", 61, 11, "od550aer", 1, seqValues(0.2, 2))
	high.Altitude = 2100
	addStations(t, d, low, high)

	sub, err := d.FilterAltitude(0, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"Valley"}, sub.StationNames())
}

func TestExtractDataset(t *testing.T) {
	d := twoNetworks(t)
	sub, err := d.ExtractDataset("NET2")
	require.NoError(t, err)
	assert.Equal(t, []string{"NET2"}, sub.ContainsDatasets())
	assert.Equal(t, []string{"Cabo"}, sub.StationNames())
	rows, _ := sub.Shape()
	assert.Equal(t, 5, rows)
}

func TestExtractVar(t *testing.T) {
	d := New()
	both := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 4))
	both.SetSeries("ang4487aer", obs.NewSeries(dayTimes(1, 4), seqValues(1, 4)))
	both.SetVarInfo("ang4487aer", obs.VarInfo{Units: "1", TsType: "daily"})
	only := makeStation("Bergen", "NET1", 60.38, 5.33, "ang4487aer", 1, seqValues(2, 3))
	addStations(t, d, both, only)

	sub, err := d.ExtractVar("ang4487aer")
	require.NoError(t, err)
	assert.Equal(t, []string{"ang4487aer"}, sub.ContainsVars())
	assert.Equal(t, []string{"Alta", "Bergen"}, sub.StationNames())
	rows, _ := sub.Shape()
	assert.Equal(t, 7, rows)
	meta, ok := sub.Meta(0)
	require.True(t, ok)
	assert.Equal(t, []string{"ang4487aer"}, meta.Variables)

	// od550aer rows are gone entirely
	_, err = sub.AllDatapointsVar("od550aer")
	assert.ErrorIs(t, err, obs.ErrVarNotAvailable)

	_, err = d.ExtractVar("vmro3")
	assert.ErrorIs(t, err, obs.ErrVarNotAvailable)
}

func TestExtractVarKeepsVarID(t *testing.T) {
	d := New()
	d.RegisterVariable("od550aer")
	both := makeStation("Alta", "NET1", 69.96, 23.27, "ang4487aer", 1, seqValues(1, 3))
	addStations(t, d, both)

	sub, err := d.ExtractVar("ang4487aer")
	require.NoError(t, err)
	id, ok := sub.VarID("ang4487aer")
	require.True(t, ok)
	assert.Equal(t, 1, id, "variable ids survive extraction")
	for i := 0; i < 3; i++ {
		assert.Equal(t, int64(1), sub.store.varID[i])
	}
}
