package cache

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

func dayTimes(from, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(2018, 1, from+i, 0, 0, 0, 0, time.UTC)
	}
	return out
}

func sampleContainer(t *testing.T) *ungridded.Data {
	t.Helper()
	b := ungridded.NewBuilder(nil)

	alta := b.AddStation(&obs.StationMeta{
		StationName: "Alta", DataID: "NET1",
		Latitude: 69.9, Longitude: 23.3, Altitude: 100, TsType: "daily",
	})
	_, err := b.AddSeries(alta, "od550aer", ungridded.Block{
		Times:  dayTimes(1, 4),
		Values: []float64{0.1, 0.2, math.NaN(), 0.4},
	})
	require.NoError(t, err)

	bergen := b.AddStation(&obs.StationMeta{
		StationName: "Bergen", DataID: "NET1",
		Latitude: 60.4, Longitude: 5.3, Altitude: 12, TsType: "daily",
	})
	_, err = b.AddSeries(bergen, "concpm10", ungridded.Block{
		Times:  dayTimes(1, 3),
		Values: []float64{21, 22, 23},
	})
	require.NoError(t, err)

	d, err := b.Finalize(ungridded.FinalizeOptions{DataID: "NET1", Revision: "20210101"})
	require.NoError(t, err)
	return d
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(t.TempDir(), 3, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func TestKey(t *testing.T) {
	a := Key("AeronetSunV2", []string{"od550aer", "ang4487aer"})
	b := Key("AeronetSunV2", []string{"ang4487aer", "od550aer"})
	assert.Equal(t, a, b, "key must not depend on variable order")
	assert.Contains(t, a, "_v1")

	assert.Equal(t, "EBASMC_all_v1", Key("EBASMC", nil))
	assert.NotContains(t, Key("nets/one", []string{"od550aer"}), "/")
}

func TestWriteReadRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	src := sampleContainer(t)

	key := Key("NET1", []string{"od550aer", "concpm10"})
	require.NoError(t, h.Write(src, key))

	got, ok := h.Read(key)
	require.True(t, ok)

	srcRows, _ := src.Shape()
	gotRows, _ := got.Shape()
	assert.Equal(t, srcRows, gotRows)
	assert.Equal(t, src.MetaKeys(), got.MetaKeys())
	assert.Equal(t, src.UniqueStationNames(), got.UniqueStationNames())
	assert.Equal(t, "20210101", got.Revision("NET1"))

	id, exists := got.VarID("od550aer")
	require.True(t, exists)
	wantID, _ := src.VarID("od550aer")
	assert.Equal(t, wantID, id)

	vals, err := got.AllDatapointsVar("od550aer")
	require.NoError(t, err)
	require.Len(t, vals, 4)
	assert.Equal(t, 0.1, vals[0])
	assert.True(t, math.IsNaN(vals[2]), "NaN must survive the round trip")

	meta, ok := got.Meta(0)
	require.True(t, ok)
	assert.Equal(t, "Alta", meta.StationName)
	assert.Equal(t, 69.9, meta.Latitude)
	assert.True(t, meta.HasVar("od550aer"))

	rows, err := got.Lookup(1, "concpm10")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReadMissing(t *testing.T) {
	h := newTestHandler(t)
	d, ok := h.Read("no_such_key_v1")
	assert.False(t, ok)
	assert.Nil(t, d)
}

func TestReadCorruptFileIsDropped(t *testing.T) {
	h := newTestHandler(t)
	key := "corrupt_v1"
	require.NoError(t, os.WriteFile(h.Path(key), []byte("not a cache file"), 0o600))

	d, ok := h.Read(key)
	assert.False(t, ok)
	assert.Nil(t, d)

	_, err := os.Stat(h.Path(key))
	assert.True(t, os.IsNotExist(err), "corrupt file should be removed")
}

func TestReadVersionMismatchIsDropped(t *testing.T) {
	h := newTestHandler(t)
	key := "stale_v0"

	// hand-craft a file with a foreign format version
	raw, err := msgpack.Marshal(&header{Version: FormatVersion + 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, binary.Write(zw, binary.BigEndian, uint32(len(raw))))
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(h.Path(key), buf.Bytes(), 0o600))

	_, ok := h.Read(key)
	assert.False(t, ok)

	_, statErr := os.Stat(h.Path(key))
	assert.True(t, os.IsNotExist(statErr), "stale file should be removed")
}

func TestWriteOverwrites(t *testing.T) {
	h := newTestHandler(t)
	src := sampleContainer(t)
	key := Key("NET1", nil)

	require.NoError(t, h.Write(src, key))
	require.NoError(t, h.Write(src, key))

	got, ok := h.Read(key)
	require.True(t, ok)
	rows, _ := got.Shape()
	assert.Equal(t, 7, rows)
}

func TestRemove(t *testing.T) {
	h := newTestHandler(t)
	key := Key("NET1", nil)
	require.NoError(t, h.Write(sampleContainer(t), key))

	require.NoError(t, h.Remove(key))
	_, ok := h.Read(key)
	assert.False(t, ok)

	// removing again is fine
	require.NoError(t, h.Remove(key))
}

func TestFilterHistorySurvives(t *testing.T) {
	h := newTestHandler(t)
	src := sampleContainer(t)
	filtered, err := src.FilterByMeta(ungridded.FilterSpec{"station_name": "Alta"})
	require.NoError(t, err)

	key := Key("NET1", []string{"od550aer"})
	require.NoError(t, h.Write(filtered, key))

	got, ok := h.Read(key)
	require.True(t, ok)
	hist := got.FilterHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, "filter_by_meta", hist[0].Name)
	assert.True(t, got.IsFiltered())
}
