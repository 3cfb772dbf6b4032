package ungridded

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

func TestStationSelectors(t *testing.T) {
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 3)),
		makeStation("Andenes", "NET1", 69.31, 16.12, "od550aer", 1, seqValues(0.2, 3)),
		makeStation("Bergen", "NET1", 60.38, 5.33, "od550aer", 1, seqValues(0.3, 3)),
	)
	opts := DefaultStationOptions()

	tests := []struct {
		name    string
		sel     StationSelector
		want    []string
		wantErr error
	}{
		{name: "exact name", sel: ByName("Bergen"), want: []string{"Bergen"}},
		{name: "glob prefix", sel: ByName("A*"), want: []string{"Alta", "Andenes"}},
		{name: "single char wildcard", sel: ByName("Alt?"), want: []string{"Alta"}},
		{name: "meta key", sel: ByMetaKey(2), want: []string{"Bergen"}},
		{name: "no match", sel: ByName("Tromso*"), wantErr: obs.ErrStationNotFound},
		{name: "unknown key", sel: ByMetaKey(42), wantErr: obs.ErrStationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := d.ToStationDataList(tt.sel, []string{"od550aer"}, opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, sd := range stats {
				names = append(names, sd.StationName)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestStationMatchCase(t *testing.T) {
	d := New()
	addStations(t, d, makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 3)))

	opts := DefaultStationOptions()
	_, err := d.ToStationData(ByName("alta"), []string{"od550aer"}, opts)
	assert.ErrorIs(t, err, obs.ErrStationNotFound)

	opts.MatchCase = false
	sd, err := d.ToStationData(ByName("alta"), []string{"od550aer"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "Alta", sd.StationName)
}

func TestTimeWindow(t *testing.T) {
	d := New()
	addStations(t, d, makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 10)))

	opts := DefaultStationOptions()
	opts.Start = dayTime(3)
	opts.Stop = dayTime(5)
	sd, err := d.ToStationData(ByName("Alta"), []string{"od550aer"}, opts)
	require.NoError(t, err)
	ser := sd.Data["od550aer"]
	// both window ends are inclusive
	require.Equal(t, 3, ser.Len())
	assert.Equal(t, dayTime(3), ser.Times[0])
	assert.Equal(t, dayTime(5), ser.Times[2])
	assert.Equal(t, []float64{2.1, 3.1, 4.1}, ser.Values)
}

func TestMaterializeFailureModes(t *testing.T) {
	d := New()
	addStations(t, d, makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 5)))

	// variable never measured at the station
	opts := DefaultStationOptions()
	_, err := d.ToStationData(ByName("Alta"), []string{"ang4487aer"}, opts)
	assert.ErrorIs(t, err, obs.ErrDataCoverage)
	assert.ErrorIs(t, err, obs.ErrVarNotAvailable)

	// rows exist but none inside the window
	opts.Start = dayTime(20)
	opts.Stop = dayTime(25)
	_, err = d.ToStationData(ByName("Alta"), []string{"od550aer"}, opts)
	assert.ErrorIs(t, err, obs.ErrDataCoverage)
	assert.ErrorIs(t, err, obs.ErrTimeMatch)
}

func TestUnsortedRowsComeBackMonotonic(t *testing.T) {
	d := New()
	meta := obs.NewStationMeta()
	meta.StationName = "Alta"
	meta.AddVar("od550aer")
	key := d.RegisterStation(&meta)

	// two read passes writing interleaved time ranges
	first, last, err := d.WriteBlock(key, "od550aer", Block{
		Times:  []time.Time{dayTime(5), dayTime(6)},
		Values: []float64{5, 6},
	})
	require.NoError(t, err)
	d.IndexRows(key, "od550aer", rowRange(first, last))

	first, last, err = d.WriteBlock(key, "od550aer", Block{
		Times:  []time.Time{dayTime(1), dayTime(2)},
		Values: []float64{1, 2},
	})
	require.NoError(t, err)
	d.IndexRows(key, "od550aer", rowRange(first, last))

	sd, err := d.ToStationData(ByMetaKey(key), []string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)
	ser := sd.Data["od550aer"]
	assert.True(t, ser.IsMonotonic())
	assert.Equal(t, []float64{1, 2, 5, 6}, ser.Values)
	assert.False(t, sd.VarInfo["od550aer"].Overlap)
}

func TestDuplicateTimestampsFlagOverlap(t *testing.T) {
	d := New()
	meta := obs.NewStationMeta()
	meta.StationName = "Alta"
	meta.AddVar("od550aer")
	key := d.RegisterStation(&meta)

	first, last, err := d.WriteBlock(key, "od550aer", Block{
		Times:  []time.Time{dayTime(1), dayTime(1), dayTime(2)},
		Values: []float64{1, 1.5, 2},
	})
	require.NoError(t, err)
	d.IndexRows(key, "od550aer", rowRange(first, last))

	sd, err := d.ToStationData(ByMetaKey(key), []string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)
	assert.True(t, sd.VarInfo["od550aer"].Overlap)
}

// Two blocks of the same station cover days 1-10 and 6-15. The merged
// record spans all 15 days; in the five-day overlap the higher-precedence
// block wins and the losing values stay inspectable.
func TestMergeTwoSourcesWithOverlap(t *testing.T) {
	d := New()
	a := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 10))
	a.RevisionDate = "20190101"
	b := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 6, seqValues(106, 10))
	b.RevisionDate = "20180101"
	addStations(t, d, a, b)

	sd, err := d.ToStationData(ByName("Alta"), []string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)

	ser := sd.Data["od550aer"]
	require.Equal(t, 15, ser.Len())
	assert.True(t, ser.IsMonotonic())
	// days 1-10 from the first block, 11-15 from the second
	want := append(seqValues(1, 10), seqValues(111, 5)...)
	assert.Equal(t, want, ser.Values)

	assert.True(t, sd.VarInfo["od550aer"].Overlap)
	ov := sd.Overlap["od550aer"]
	require.NotNil(t, ov)
	require.Equal(t, 5, ov.Len())
	assert.Equal(t, seqValues(106, 5), ov.Values)
	assert.Equal(t, dayTimes(6, 5), ov.Times)
}

func TestMergePrefAttrRanking(t *testing.T) {
	build := func() *Data {
		d := New()
		a := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 10))
		a.RevisionDate = "20180101"
		b := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 6, seqValues(106, 10))
		b.RevisionDate = "20190101"
		addStations(t, d, a, b)
		return d
	}

	// explicit preference attribute: the newer revision wins the overlap
	d := build()
	opts := DefaultStationOptions()
	opts.PrefAttr = "revision_date"
	sd, err := d.ToStationData(ByName("Alta"), []string{"od550aer"}, opts)
	require.NoError(t, err)
	ser := sd.Data["od550aer"]
	require.Equal(t, 15, ser.Len())
	assert.Equal(t, append(seqValues(1, 5), seqValues(106, 10)...), ser.Values)
	assert.Equal(t, seqValues(6, 5), sd.Overlap["od550aer"].Values)

	// the same preference registered for the data source is inferred
	d = build()
	d.SetMergePrefAttr("NET1", "revision_date")
	sd, err = d.ToStationData(ByName("Alta"), []string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)
	assert.Equal(t, append(seqValues(1, 5), seqValues(106, 10)...), sd.Data["od550aer"].Values)
}

func TestMergeMultiVarRefused(t *testing.T) {
	d := New()
	a := makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 5))
	b := makeStation("Alta", "NET1", 69.96, 23.27, "ang4487aer", 1, seqValues(1, 5))
	addStations(t, d, a, b)

	_, err := d.ToStationData(ByName("Alta"), []string{"od550aer", "ang4487aer"}, DefaultStationOptions())
	assert.ErrorIs(t, err, obs.ErrMultiVarMerge)
}

func TestMergeDisabledWithMultipleBlocks(t *testing.T) {
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 5)),
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 6, seqValues(6, 5)),
	)
	opts := DefaultStationOptions()
	opts.MergeIfMulti = false
	_, err := d.ToStationData(ByName("Alta"), []string{"od550aer"}, opts)
	require.Error(t, err)

	stats, err := d.ToStationDataList(ByName("Alta"), []string{"od550aer"}, opts)
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestResampleAfterAssembly(t *testing.T) {
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 10)),
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 11, seqValues(11, 10)),
	)
	opts := DefaultStationOptions()
	opts.Freq = obs.TsMonthly
	sd, err := d.ToStationData(ByName("Alta"), []string{"od550aer"}, opts)
	require.NoError(t, err)

	ser := sd.Data["od550aer"]
	// all 20 days fall into January 2018; the mean only exists because
	// resampling runs after the two blocks merged
	require.Equal(t, 1, ser.Len())
	assert.InDelta(t, 10.5, ser.Values[0], 1e-12)
	assert.Equal(t, "monthly", sd.VarInfo["od550aer"].TsType)
}

func TestToStationDataAll(t *testing.T) {
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(0.1, 3)),
		makeStation("Bergen", "NET1", 60.38, 5.33, "od550aer", 1, seqValues(0.2, 3)),
		makeStation("Cabo", "NET1", 28.31, -16.5, "ang4487aer", 1, seqValues(1.0, 3)),
	)

	res, err := d.ToStationDataAll([]string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"Alta", "Bergen"}, res.Names)
	assert.Equal(t, []string{"Cabo"}, res.Failed)
	require.Len(t, res.Stations, 2)
	assert.Equal(t, []float64{69.96, 60.38}, res.Lats)
	assert.Equal(t, []float64{23.27, 5.33}, res.Lons)
}

func TestToStationDataAllMergesPerName(t *testing.T) {
	d := New()
	addStations(t, d,
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 1, seqValues(1, 5)),
		makeStation("Alta", "NET1", 69.96, 23.27, "od550aer", 6, seqValues(6, 5)),
	)
	res, err := d.ToStationDataAll([]string{"od550aer"}, DefaultStationOptions())
	require.NoError(t, err)
	require.Len(t, res.Stations, 1)
	assert.Equal(t, 10, res.Stations[0].Data["od550aer"].Len())
}
