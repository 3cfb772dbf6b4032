package cache

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// FormatVersion is bumped whenever the on-disk layout changes. Files
// written under another version are treated as misses and removed.
const FormatVersion = 1

// maxHeaderSize bounds the length prefix when reading untrusted files.
const maxHeaderSize = 1 << 30

// memory.GoAllocator is safe for concurrent use.
var sharedAllocator = memory.NewGoAllocator()

// header is the msgpack section preceding the Arrow payload: everything a
// container carries besides the row columns.
type header struct {
	Version      int                      `msgpack:"version"`
	Rows         int                      `msgpack:"rows"`
	Metadata     map[int]*obs.StationMeta `msgpack:"metadata"`
	MetaIndex    map[int]map[string][]int `msgpack:"meta_index"`
	VarIndex     map[string]int           `msgpack:"var_index"`
	NextMeta     int                      `msgpack:"next_meta"`
	FilterHist   []ungridded.FilterEntry  `msgpack:"filter_hist"`
	DataRevision map[string]string        `msgpack:"data_revision"`
}

func cacheSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "meta_key", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "latitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "longitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "altitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "var_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "data_height", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "data_err", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "data_flag", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "stop_time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "trash", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
}

// encode writes the length-prefixed msgpack header followed by one Arrow
// IPC record batch holding the row columns.
func encode(w io.Writer, snap *ungridded.Snapshot) error {
	hdr := header{
		Version:      FormatVersion,
		Rows:         snap.Rows,
		Metadata:     snap.Metadata,
		MetaIndex:    snap.MetaIndex,
		VarIndex:     snap.VarIndex,
		NextMeta:     snap.NextMeta,
		FilterHist:   snap.FilterHist,
		DataRevision: snap.DataRevision,
	}
	raw, err := msgpack.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("failed to encode cache header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(raw))); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write cache header: %w", err)
	}

	schema := cacheSchema()
	mem := sharedAllocator
	builders := make([]array.Builder, len(schema.Fields()))
	arrays := make([]arrow.Array, len(schema.Fields()))

	defer func() {
		for _, b := range builders {
			if b != nil {
				b.Release()
			}
		}
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	appendInt64 := func(i int, vals []int64) {
		b := array.NewInt64Builder(mem)
		builders[i] = b
		b.AppendValues(vals, nil)
		arrays[i] = b.NewArray()
	}
	appendFloat64 := func(i int, vals []float64) {
		b := array.NewFloat64Builder(mem)
		builders[i] = b
		b.AppendValues(vals, nil)
		arrays[i] = b.NewArray()
	}

	appendInt64(0, snap.MetaKeys)
	appendInt64(1, snap.Times)
	appendFloat64(2, snap.Latitudes)
	appendFloat64(3, snap.Longitudes)
	appendFloat64(4, snap.Altitudes)
	appendInt64(5, snap.VarIDs)
	appendFloat64(6, snap.Values)
	appendFloat64(7, snap.DataHeight)
	appendFloat64(8, snap.DataErr)
	appendFloat64(9, snap.DataFlag)
	appendInt64(10, snap.StopTimes)
	appendFloat64(11, snap.Trash)

	rec := array.NewRecord(schema, arrays, int64(snap.Rows))
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("failed to write arrow record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to close arrow writer: %w", err)
	}
	return nil
}

// decode reads what encode wrote and rebuilds the container. The format
// version is validated before any row data is touched.
func decode(r io.Reader) (*ungridded.Data, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	hdrLen := binary.BigEndian.Uint32(lenBuf[:])
	if hdrLen == 0 || hdrLen > maxHeaderSize {
		return nil, fmt.Errorf("implausible header length %d", hdrLen)
	}

	raw := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read cache header: %w", err)
	}
	var hdr header
	if err := msgpack.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("failed to decode cache header: %w", err)
	}
	if hdr.Version != FormatVersion {
		return nil, fmt.Errorf("cache format version %d, expected %d", hdr.Version, FormatVersion)
	}

	ir, err := ipc.NewReader(r, ipc.WithAllocator(sharedAllocator))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer ir.Release()

	if !ir.Next() {
		if err := ir.Err(); err != nil {
			return nil, fmt.Errorf("failed to read arrow record: %w", err)
		}
		return nil, fmt.Errorf("arrow stream holds no record batch")
	}
	rec := ir.Record()
	if int(rec.NumCols()) != ungridded.NumColumns {
		return nil, fmt.Errorf("arrow record has %d columns, expected %d", rec.NumCols(), ungridded.NumColumns)
	}
	if int(rec.NumRows()) != hdr.Rows {
		return nil, fmt.Errorf("arrow record has %d rows, header says %d", rec.NumRows(), hdr.Rows)
	}

	cols := columnReader{rec: rec}
	snap := &ungridded.Snapshot{
		Rows:         hdr.Rows,
		Metadata:     hdr.Metadata,
		MetaIndex:    hdr.MetaIndex,
		VarIndex:     hdr.VarIndex,
		NextMeta:     hdr.NextMeta,
		FilterHist:   hdr.FilterHist,
		DataRevision: hdr.DataRevision,
		MetaKeys:     cols.int64At(0),
		Times:        cols.int64At(1),
		Latitudes:    cols.float64At(2),
		Longitudes:   cols.float64At(3),
		Altitudes:    cols.float64At(4),
		VarIDs:       cols.int64At(5),
		Values:       cols.float64At(6),
		DataHeight:   cols.float64At(7),
		DataErr:      cols.float64At(8),
		DataFlag:     cols.float64At(9),
		StopTimes:    cols.int64At(10),
		Trash:        cols.float64At(11),
	}
	if cols.err != nil {
		return nil, cols.err
	}

	// FromSnapshot copies the columns, so the record may be released after.
	d, err := ungridded.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild container: %w", err)
	}
	return d, nil
}

// columnReader extracts typed column views from a record, remembering the
// first type mismatch.
type columnReader struct {
	rec arrow.Record
	err error
}

func (c *columnReader) int64At(i int) []int64 {
	if c.err != nil {
		return nil
	}
	col, ok := c.rec.Column(i).(*array.Int64)
	if !ok {
		c.err = fmt.Errorf("column %d: expected int64, got %s", i, c.rec.Column(i).DataType().Name())
		return nil
	}
	return col.Int64Values()
}

func (c *columnReader) float64At(i int) []float64 {
	if c.err != nil {
		return nil
	}
	col, ok := c.rec.Column(i).(*array.Float64)
	if !ok {
		c.err = fmt.Errorf("column %d: expected float64, got %s", i, c.rec.Column(i).DataType().Name())
		return nil
	}
	return col.Float64Values()
}
