package ungridded

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

func aodWithOutliers(t *testing.T) *Data {
	t.Helper()
	d := New()
	sd := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1,
		[]float64{0.1, 12.0, 0.3, -1.0, 0.5})
	addStations(t, d, sd)
	return d
}

func TestRemoveOutliersMovesToTrash(t *testing.T) {
	d := aodWithOutliers(t)
	// od550aer's registered valid range is -0.05 to 10
	out, err := d.RemoveOutliers("od550aer", DefaultOutlierOptions())
	require.NoError(t, err)

	vals, err := out.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	assert.Equal(t, 0.1, vals[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.Equal(t, 0.3, vals[2])
	assert.True(t, math.IsNaN(vals[3]))
	assert.Equal(t, 0.5, vals[4])

	// removed values are preserved in the trash column
	assert.Equal(t, 12.0, out.store.trash[1])
	assert.Equal(t, -1.0, out.store.trash[3])
	assert.True(t, math.IsNaN(out.store.trash[0]))

	// the source container is untouched
	srcVals, err := d.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	assert.Equal(t, 12.0, srcVals[1])

	last, ok := out.LastFilter()
	require.True(t, ok)
	assert.Equal(t, "remove_outliers", last.Name)
	assert.Contains(t, last.Spec, "2 outliers")
}

func TestRemoveOutliersInPlace(t *testing.T) {
	d := aodWithOutliers(t)
	opts := DefaultOutlierOptions()
	opts.InPlace = true
	out, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)
	assert.Same(t, d, out)
	assert.True(t, math.IsNaN(d.store.value[1]))
}

func TestRemoveOutliersExplicitRange(t *testing.T) {
	d := aodWithOutliers(t)
	opts := DefaultOutlierOptions()
	opts.Low, opts.High = 0.0, 0.4
	out, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)

	vals, err := out.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	// 0.5 and 12.0 exceed the explicit upper bound, -1.0 the lower
	assert.True(t, math.IsNaN(vals[1]))
	assert.True(t, math.IsNaN(vals[3]))
	assert.True(t, math.IsNaN(vals[4]))
	assert.Equal(t, 0.1, vals[0])
	assert.Equal(t, 0.3, vals[2])
}

func TestRemoveOutliersOccupiedTrash(t *testing.T) {
	d := aodWithOutliers(t)
	opts := DefaultOutlierOptions()
	opts.InPlace = true
	_, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)

	// restore an out-of-range value so the same row masks again; its
	// trash cell still holds the first removal
	d.store.value[1] = 30

	_, err = d.RemoveOutliers("od550aer", opts)
	require.ErrorIs(t, err, obs.ErrTrashOccupied)
	// the failed call must not have modified anything
	assert.Equal(t, 30.0, d.store.value[1])
	assert.Equal(t, 12.0, d.store.trash[1])

	d.EmptyTrash()
	assert.True(t, math.IsNaN(d.store.trash[1]))
	_, err = d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)
	assert.Equal(t, 30.0, d.store.trash[1])
}

func TestRemoveOutliersWithoutTrash(t *testing.T) {
	d := aodWithOutliers(t)
	opts := DefaultOutlierOptions()
	opts.InPlace = true
	opts.MoveToTrash = false
	_, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(d.store.value[1]))
	assert.True(t, math.IsNaN(d.store.trash[1]))
}

func TestRemoveOutliersLeavesOtherVariables(t *testing.T) {
	d := New()
	aod := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, []float64{0.1, 12.0})
	pm := makeStation("Birkenes", "NET1", 58.38, 8.25, "concpm10", 1, []float64{2000, 14})
	addStations(t, d, aod, pm)

	opts := DefaultOutlierOptions()
	opts.InPlace = true
	_, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)

	pmVals, err := d.AllDatapointsVar("concpm10")
	require.NoError(t, err)
	// 2000 exceeds concpm10's range but a different variable was filtered
	assert.Equal(t, []float64{2000, 14}, pmVals)
}

func TestRemoveOutliersChecksUnitFirst(t *testing.T) {
	d := New()
	sd := makeStation("Alta", "NET1", 69.96, 23.27, "concpm10", 1, []float64{14, 20})
	sd.SetVarInfo("concpm10", obs.VarInfo{Units: "kg m-3", TsType: "daily"})
	addStations(t, d, sd)

	_, err := d.RemoveOutliers("concpm10", DefaultOutlierOptions())
	require.ErrorIs(t, err, obs.ErrDataUnit)
}

func TestRemoveOutliersUnknownVariable(t *testing.T) {
	d := aodWithOutliers(t)
	_, err := d.RemoveOutliers("vmro3", DefaultOutlierOptions())
	require.Error(t, err)
}

func TestCheckUnit(t *testing.T) {
	d := New()
	sd := makeStation("Alta", "NET1", 69.96, 23.27, "sc550aer", 1, []float64{40, 50})
	addStations(t, d, sd)

	// registered unit for sc550aer is 1/Mm
	require.NoError(t, d.CheckUnit("sc550aer", ""))
	require.NoError(t, d.CheckUnit("sc550aer", "1/Mm"))
	require.NoError(t, d.CheckUnit("sc550aer", "Mm-1"))

	// convertible but factor != 1
	err := d.CheckUnit("sc550aer", "m-1")
	assert.ErrorIs(t, err, obs.ErrDataUnit)

	// no conversion between scattering and mass concentration units
	err = d.CheckUnit("sc550aer", "ug m-3")
	assert.ErrorIs(t, err, obs.ErrUnitConversion)
}

func TestCheckUnitMissingInfo(t *testing.T) {
	d := New()
	meta := obs.NewStationMeta()
	meta.StationName = "Alta"
	meta.AddVar("od550aer")
	meta.SetVarInfo("od550aer", obs.VarInfo{TsType: "daily"})
	key := d.RegisterStation(&meta)
	first, last, err := d.WriteBlock(key, "od550aer", Block{
		Times:  dayTimes(1, 2),
		Values: seqValues(0.1, 2),
	})
	require.NoError(t, err)
	d.IndexRows(key, "od550aer", rowRange(first, last))

	// the block records the variable but no unit
	err = d.CheckUnit("od550aer", "")
	assert.ErrorIs(t, err, obs.ErrMetaData)
}

func TestCheckUnitNoBlocksDimensionless(t *testing.T) {
	d := New()
	meta := obs.NewStationMeta()
	meta.StationName = "Alta"
	meta.AddVar("od550aer")
	key := d.RegisterStation(&meta)
	first, last, err := d.WriteBlock(key, "od550aer", Block{
		Times:  dayTimes(1, 2),
		Values: seqValues(0.1, 2),
	})
	require.NoError(t, err)
	d.IndexRows(key, "od550aer", rowRange(first, last))

	// without any unit information a dimensionless expectation passes
	require.NoError(t, d.CheckUnit("od550aer", "1"))
	// anything dimensional cannot be verified
	err = d.CheckUnit("od550aer", "ug m-3")
	assert.ErrorIs(t, err, obs.ErrMetaData)
}

func TestEmptyTrashClearsEverything(t *testing.T) {
	d := aodWithOutliers(t)
	opts := DefaultOutlierOptions()
	opts.InPlace = true
	_, err := d.RemoveOutliers("od550aer", opts)
	require.NoError(t, err)

	occupied := 0
	for i := 0; i < d.store.used; i++ {
		if !math.IsNaN(d.store.trash[i]) {
			occupied++
		}
	}
	require.Equal(t, 2, occupied)

	d.EmptyTrash()
	for i := 0; i < d.store.used; i++ {
		assert.True(t, math.IsNaN(d.store.trash[i]))
	}
}
