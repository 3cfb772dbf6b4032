package ungridded

import (
	"fmt"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// AddStationData ingests one station record: the metadata block is
// registered, every variable series becomes a contiguous row block and the
// meta-index is updated. This is the main path readers use to fill a
// container. Returns the new metadata key.
func (d *Data) AddStationData(sd *obs.StationData) (int, error) {
	if sd == nil || len(sd.Data) == 0 {
		name := ""
		if sd != nil {
			name = sd.StationName
		}
		return 0, fmt.Errorf("%w: station %q carries no series", obs.ErrDataCoverage, name)
	}
	meta := sd.StationMeta.Copy()
	key := d.RegisterStation(&meta)
	for _, varName := range sd.VarsAvailable() {
		ser := sd.Data[varName]
		if ser.Len() == 0 {
			continue
		}
		first, last, err := d.WriteBlock(key, varName, Block{
			Times:   ser.Times,
			Values:  ser.Values,
			Errs:    ser.Errs,
			Heights: ser.Alts,
		})
		if err != nil {
			return 0, fmt.Errorf("station %q: %w", meta.StationName, err)
		}
		d.IndexRows(key, varName, rowRange(first, last))
		if !meta.HasVar(varName) {
			meta.AddVar(varName)
		}
	}
	if sd.DataRevision != "" && meta.DataID != "" {
		if _, ok := d.dataRevision[meta.DataID]; !ok {
			d.SetRevision(meta.DataID, sd.DataRevision)
		}
	}
	return key, nil
}

// Builder is the write-side protocol file readers use to fill a container:
// register a station, ensure variables, then add row blocks which are
// written and indexed in one step. Finalize trims the store and optionally
// collapses duplicate metadata blocks.
type Builder struct {
	d *Data
}

// NewBuilder wraps an existing container. A nil container gets a fresh one.
func NewBuilder(d *Data) *Builder {
	if d == nil {
		d = New()
	}
	return &Builder{d: d}
}

// Data returns the container under construction.
func (b *Builder) Data() *Data { return b.d }

// AddStation registers a station metadata block and returns its key.
// The builder takes ownership of meta.
func (b *Builder) AddStation(meta *obs.StationMeta) int {
	return b.d.RegisterStation(meta)
}

// EnsureVar registers varName if needed and returns its id.
func (b *Builder) EnsureVar(varName string) int {
	return b.d.RegisterVariable(varName)
}

// Meta returns the live metadata block for a key so readers can amend it
// while the container is under construction. Unlike Data.Meta this is not
// a copy; the reference must not outlive the build.
func (b *Builder) Meta(metaKey int) (*obs.StationMeta, bool) {
	m, ok := b.d.metadata[metaKey]
	return m, ok
}

// AddSeries writes one variable block for a station and indexes the new
// rows. The station's metadata variable list is kept in sync. Returns the
// number of rows written.
func (b *Builder) AddSeries(metaKey int, varName string, blk Block) (int, error) {
	first, last, err := b.d.WriteBlock(metaKey, varName, blk)
	if err != nil {
		return 0, err
	}
	b.d.IndexRows(metaKey, varName, rowRange(first, last))
	if meta, ok := b.d.metadata[metaKey]; ok && !meta.HasVar(varName) {
		meta.AddVar(varName)
	}
	return last - first + 1, nil
}

// FinalizeOptions control the last step of a read.
type FinalizeOptions struct {
	// DataID/Revision stamp the container's data revision when both set.
	DataID   string
	Revision string
	// MergeMeta collapses metadata blocks equal up to IgnoreKeys.
	MergeMeta  bool
	IgnoreKeys []string
}

// Finalize trims spare capacity, stamps the revision and, when requested,
// merges duplicate metadata blocks. Returns the finished container.
func (b *Builder) Finalize(opts FinalizeOptions) (*Data, error) {
	if opts.DataID != "" && opts.Revision != "" {
		b.d.SetRevision(opts.DataID, opts.Revision)
	}
	if opts.MergeMeta {
		merged, err := b.d.MergeCommonMeta(opts.IgnoreKeys...)
		if err != nil {
			return nil, err
		}
		b.d = merged
	}
	b.d.ShrinkToFit()
	return b.d, nil
}
