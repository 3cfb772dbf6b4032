package fileindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "ebas_file_index.sqlite3"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	ctx := context.Background()
	entries := []Entry{
		{
			Filename: "NO0001R.20100101.nas", StationCode: "NO0001R", StationName: "Birkenes",
			Country: "Norway", Latitude: 58.4, Longitude: 8.3, Altitude: 190,
			CompName: "aerosol_light_scattering_coefficient", Matrix: "aerosol",
			Statistics: "arithmetic mean", Datalevel: "2",
			FirstStart: date(2010, 1, 1), LastEnd: date(2010, 12, 31),
		},
		{
			Filename: "NO0001R.20110101.nas", StationCode: "NO0001R", StationName: "Birkenes",
			Country: "Norway", Latitude: 58.4, Longitude: 8.3, Altitude: 190,
			CompName: "aerosol_light_scattering_coefficient", Matrix: "aerosol",
			Statistics: "arithmetic mean", Datalevel: "2",
			FirstStart: date(2011, 1, 1), LastEnd: date(2011, 12, 31),
		},
		{
			Filename: "SE0011R.20100101.nas", StationCode: "SE0011R", StationName: "Vavihill",
			Country: "Sweden", Latitude: 56.0, Longitude: 13.1, Altitude: 172,
			CompName: "aerosol_light_scattering_coefficient", Matrix: "pm10",
			Statistics: "median", Datalevel: "2",
			FirstStart: date(2010, 1, 1), LastEnd: date(2010, 12, 31),
		},
		{
			Filename: "SE0011R.20100101.nas", StationCode: "SE0011R", StationName: "Vavihill",
			Country: "Sweden", Latitude: 56.0, Longitude: 13.1, Altitude: 172,
			CompName: "aerosol_absorption_coefficient", Matrix: "pm10",
			Statistics: "median", Datalevel: "2",
			FirstStart: date(2010, 1, 1), LastEnd: date(2010, 12, 31),
		},
	}
	for _, e := range entries {
		require.NoError(t, ix.AddEntry(ctx, e))
	}
	return ix
}

func TestFilesMatchingByVariable(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	files, err := ix.FilesMatching(ctx, Criteria{
		Variables: []string{"aerosol_light_scattering_coefficient"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"NO0001R.20100101.nas",
		"NO0001R.20110101.nas",
		"SE0011R.20100101.nas",
	}, files)
}

func TestFilesMatchingStationAndMatrix(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	files, err := ix.FilesMatching(ctx, Criteria{
		Variables:    []string{"aerosol_light_scattering_coefficient"},
		StationNames: []string{"Birkenes"},
	})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = ix.FilesMatching(ctx, Criteria{
		Variables: []string{"aerosol_light_scattering_coefficient"},
		Matrices:  []string{"pm10"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SE0011R.20100101.nas"}, files)
}

func TestFilesMatchingPeriod(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	files, err := ix.FilesMatching(ctx, Criteria{
		Variables: []string{"aerosol_light_scattering_coefficient"},
		Start:     date(2011, 3, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"NO0001R.20110101.nas"}, files)

	files, err = ix.FilesMatching(ctx, Criteria{
		Variables: []string{"aerosol_light_scattering_coefficient"},
		Stop:      date(2010, 6, 1),
	})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFilesMatchingStatistics(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	files, err := ix.FilesMatching(ctx, Criteria{
		Statistics: []string{"median"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SE0011R.20100101.nas"}, files)
}

func TestStations(t *testing.T) {
	ix := seedIndex(t)

	names, err := ix.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Birkenes", "Vavihill"}, names)
}

func TestVarsForStation(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	vars, err := ix.VarsForStation(ctx, "Vavihill")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"aerosol_absorption_coefficient",
		"aerosol_light_scattering_coefficient",
	}, vars)

	vars, err = ix.VarsForStation(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestCriteriaString(t *testing.T) {
	c := Criteria{
		Variables: []string{"sc550aer"},
		Datalevel: "2",
		Start:     date(2010, 1, 1),
	}
	s := c.String()
	assert.Contains(t, s, "variables=sc550aer")
	assert.Contains(t, s, "datalevel=2")
	assert.Contains(t, s, "start=2010-01-01")

	assert.Equal(t, "all files", Criteria{}.String())
}

func TestStationUpsert(t *testing.T) {
	ix := seedIndex(t)
	ctx := context.Background()

	// re-adding a station with a corrected altitude must not duplicate it
	require.NoError(t, ix.AddEntry(ctx, Entry{
		Filename: "NO0001R.20120101.nas", StationCode: "NO0001R", StationName: "Birkenes",
		Country: "Norway", Latitude: 58.4, Longitude: 8.3, Altitude: 220,
		CompName: "aerosol_light_scattering_coefficient", Matrix: "aerosol",
		Statistics: "arithmetic mean", Datalevel: "2",
		FirstStart: date(2012, 1, 1), LastEnd: date(2012, 12, 31),
	}))

	names, err := ix.Stations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Birkenes", "Vavihill"}, names)
}
