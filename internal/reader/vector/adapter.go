// Package vector adapts in-memory columnar sources into ungridded data
// containers. A source hands out parallel row vectors per variable plus a
// station table; the adapter groups the rows per station, stamps each row
// with the mid-point of its acquisition interval, infers the sampling
// frequency per station from the interval lengths and writes everything
// through the container's builder protocol. Derived variables can be
// exposed on top of the source's own through the molar-mass scaling table.
package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
	"github.com/magnusuMET/pyaerocom/pkg/ungridded"
)

// Options configure how a source converts.
type Options struct {
	// DataID overrides the source name as the container's dataset id.
	DataID string

	// Compute lists derived variables to expose on top of the source's
	// own, resolved through the obs.Scalings table. The input variable of
	// every transformation must be delivered by the source.
	Compute []string

	// Rename maps source-native variable names to the names the adapter
	// exposes. Variables not in the map keep their native name.
	Rename map[string]string

	// Registry resolves variable metadata on finished containers.
	Registry *obs.VarRegistry
}

// Adapter converts one Source into ungridded containers.
type Adapter struct {
	src      Source
	dataID   string
	rename   map[string]string
	compute  map[string]obs.Scaling
	registry *obs.VarRegistry
	log      zerolog.Logger
}

// New wires a source to an adapter, validating the requested derived
// variables against the scaling table and the source's variable list.
func New(src Source, opts Options, log zerolog.Logger) (*Adapter, error) {
	a := &Adapter{
		src:      src,
		dataID:   opts.DataID,
		registry: opts.Registry,
		log:      log.With().Str("component", "vector").Str("source", src.Name()).Logger(),
	}
	if a.dataID == "" {
		a.dataID = src.Name()
	}
	if len(opts.Rename) > 0 {
		a.rename = make(map[string]string, len(opts.Rename))
		for native, exposed := range opts.Rename {
			a.rename[native] = exposed
		}
	}
	if len(opts.Compute) > 0 {
		a.compute = make(map[string]obs.Scaling, len(opts.Compute))
		provided := a.providedVars()
		for _, name := range opts.Compute {
			sc, ok := obs.Scalings[name]
			if !ok {
				return nil, fmt.Errorf("unknown transformation %q", name)
			}
			if !containsString(provided, sc.Requires) {
				return nil, fmt.Errorf("transformation %s requires %s, which %s does not deliver",
					name, sc.Requires, src.Name())
			}
			a.compute[sc.Out] = sc
		}
	}
	return a, nil
}

// DataID returns the dataset id stamped on read containers.
func (a *Adapter) DataID() string { return a.dataID }

// TsType returns "undefined"; the sampling frequency is inferred per
// station from the acquisition intervals.
func (a *Adapter) TsType() string { return "undefined" }

// Revision returns the fixed revision stamped on read containers.
// In-memory sources carry no archive revision.
func (a *Adapter) Revision() string { return "n/d" }

// SupportedVars lists the source's variables under their exposed names,
// plus the configured derived variables, sorted.
func (a *Adapter) SupportedVars() []string {
	vars := a.providedVars()
	for name := range a.compute {
		if !containsString(vars, name) {
			vars = append(vars, name)
		}
	}
	sort.Strings(vars)
	return vars
}

// DefaultVars matches SupportedVars; a columnar source carries no notion
// of a preferred subset.
func (a *Adapter) DefaultVars() []string { return a.SupportedVars() }

// Read converts the requested variables into a fresh container. Variables
// the source does not deliver are skipped with a warning; an empty request
// reads everything. Rows group per (station, variable) in source order,
// and every station must sample a variable at a single frequency.
func (a *Adapter) Read(ctx context.Context, vars []string) (*ungridded.Data, error) {
	if len(vars) == 0 {
		vars = a.SupportedVars()
	}
	supported := a.SupportedVars()

	b := ungridded.NewBuilder(nil)
	b.Data().SetLogger(a.log)
	if a.registry != nil {
		b.Data().SetRegistry(a.registry)
	}

	table := a.src.Stations()
	metaKeys := make(map[string]int)
	seen := make(map[string]bool, len(vars))
	for _, name := range vars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if !containsString(supported, name) {
			a.log.Warn().Str("variable", name).Msg("variable not delivered by source")
			continue
		}
		cols, err := a.columns(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		n, err := cols.validate()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		b.EnsureVar(name)
		if n == 0 {
			a.log.Debug().Str("variable", name).Msg("source delivered no rows")
			continue
		}
		for _, g := range groupByStation(cols.StationIDs) {
			tt, err := groupTsType(cols, g.rows)
			if err != nil {
				return nil, fmt.Errorf("station %s, variable %s: %w", g.id, name, err)
			}
			key, ok := metaKeys[g.id]
			if !ok {
				key = b.AddStation(a.stationMeta(g.id, table, cols, g.rows[0]))
				metaKeys[g.id] = key
			}
			if _, err := b.AddSeries(key, name, blockFor(cols, g.rows)); err != nil {
				return nil, fmt.Errorf("station %s, variable %s: %w", g.id, name, err)
			}
			meta, _ := b.Meta(key)
			meta.SetVarInfo(name, obs.VarInfo{Units: cols.Unit, TsType: tt.String()})
			if meta.TsType == "" {
				meta.TsType = tt.String()
			} else if meta.TsType != tt.String() {
				meta.TsType = "undefined"
			}
		}
	}

	d, err := b.Finalize(ungridded.FinalizeOptions{DataID: a.dataID, Revision: a.Revision()})
	if err != nil {
		return nil, err
	}
	if d.IsEmpty() {
		return nil, fmt.Errorf("%w: source %s delivered no rows for %s",
			obs.ErrDataCoverage, a.src.Name(), strings.Join(vars, ", "))
	}
	d.RecordFilter("vector_options", a.historyEntry())

	rows, _ := d.Shape()
	a.log.Info().
		Int("rows", rows).
		Int("stations", len(metaKeys)).
		Msg("source converted")
	return d, nil
}

// columns resolves one exposed variable to its row vectors. Derived
// variables read their input variable, convert it from the source unit to
// the transformation input unit and scale it by the molar-mass factor;
// error columns stay unscaled.
func (a *Adapter) columns(name string) (Columns, error) {
	sc, ok := a.compute[name]
	if !ok {
		return a.sourceColumns(name)
	}
	cols, err := a.sourceColumns(sc.Requires)
	if err != nil {
		return Columns{}, err
	}
	factor, err := obs.ConversionFactor(cols.Unit, sc.InUnit)
	if err != nil {
		return Columns{}, fmt.Errorf("cannot scale %s delivered in %q: %w", sc.Requires, cols.Unit, err)
	}
	vals := sc.Apply(cols.Values)
	if factor != 1 {
		for i := range vals {
			vals[i] *= factor
		}
	}
	cols.Values = vals
	cols.Unit = sc.OutUnit
	return cols, nil
}

// sourceColumns fetches one exposed variable under its native name.
func (a *Adapter) sourceColumns(name string) (Columns, error) {
	native := name
	for from, to := range a.rename {
		if to == name {
			native = from
			break
		}
	}
	return a.src.Columns(native)
}

// providedVars lists the source's variables under their exposed names.
func (a *Adapter) providedVars() []string {
	native := a.src.Variables()
	out := make([]string, 0, len(native))
	for _, v := range native {
		if exposed, ok := a.rename[v]; ok {
			v = exposed
		}
		out = append(out, v)
	}
	return out
}

// stationMeta builds the metadata block for one station. Coordinates come
// from the station table, falling back to the station's first data row
// when the table does not know the id.
func (a *Adapter) stationMeta(id string, table map[string]Station, cols Columns, row int) *obs.StationMeta {
	m := obs.NewStationMeta()
	m.DataID = a.dataID
	m.StationID = id
	m.StationName = id

	st, ok := table[id]
	if !ok {
		a.log.Warn().Str("station", id).Msg("station id missing from the station table")
		if cols.Lats != nil {
			m.Latitude = cols.Lats[row]
		}
		if cols.Lons != nil {
			m.Longitude = cols.Lons[row]
		}
		if cols.Alts != nil {
			m.Altitude = cols.Alts[row]
		}
		return &m
	}

	if st.LongName != "" {
		m.StationName = st.LongName
	}
	m.Latitude = st.Latitude
	m.Longitude = st.Longitude
	m.Altitude = st.Altitude
	m.Country = st.Country
	m.Extra = make(map[string]string)
	if st.Country != "" {
		m.Extra["country_code"] = st.Country
	}
	if st.URL != "" {
		m.Extra["url"] = st.URL
	}
	for k, v := range st.Extra {
		switch k {
		case "PI":
			m.PI = v
		case "instrument_name":
			m.Instrument = v
		case "data_level":
			m.DataLevel = v
		case "revision_date":
			m.RevisionDate = v
		case "filename":
			m.Filename = v
		default:
			m.Extra[k] = v
		}
	}
	if len(m.Extra) == 0 {
		m.Extra = nil
	}
	return &m
}

// historyEntry describes the conversion for the container's filter history.
func (a *Adapter) historyEntry() string {
	entry := "source=" + a.src.Name()
	if len(a.compute) > 0 {
		names := make([]string, 0, len(a.compute))
		for name := range a.compute {
			names = append(names, name)
		}
		sort.Strings(names)
		entry += "; compute=" + strings.Join(names, ",")
	}
	if len(a.rename) > 0 {
		pairs := make([]string, 0, len(a.rename))
		for native, exposed := range a.rename {
			pairs = append(pairs, native+">"+exposed)
		}
		sort.Strings(pairs)
		entry += "; rename=" + strings.Join(pairs, ",")
	}
	return entry
}

type stationGroup struct {
	id   string
	rows []int
}

// groupByStation buckets row indices per station id, stations in first
// encounter order and rows in source order.
func groupByStation(ids []string) []stationGroup {
	order := make(map[string]int)
	var groups []stationGroup
	for i, id := range ids {
		gi, ok := order[id]
		if !ok {
			gi = len(groups)
			order[id] = gi
			groups = append(groups, stationGroup{id: id})
		}
		groups[gi].rows = append(groups[gi].rows, i)
	}
	return groups
}

// groupTsType infers the sampling frequency of one station's rows from
// the acquisition interval lengths. A zero interval reads as hourly;
// mixed frequencies within one variable are an error.
func groupTsType(cols Columns, rows []int) (obs.TsType, error) {
	tt := obs.TsNative
	for i, r := range rows {
		seconds := int64(cols.Ends[r].Sub(cols.Starts[r]) / time.Second)
		t, err := obs.TsTypeFromSeconds(seconds)
		if err != nil {
			return obs.TsNative, err
		}
		if i == 0 {
			tt = t
			continue
		}
		if t != tt {
			return obs.TsNative, fmt.Errorf("%w: rows sample at both %s and %s",
				obs.ErrTemporalResolution, tt, t)
		}
	}
	return tt, nil
}

// blockFor assembles one station's rows into a write block: mid-point
// timestamps, the acquisition ends as stop times, and the error and flag
// columns when the source delivers them.
func blockFor(cols Columns, rows []int) ungridded.Block {
	n := len(rows)
	blk := ungridded.Block{
		Times:     make([]time.Time, n),
		Values:    make([]float64, n),
		StopTimes: make([]time.Time, n),
	}
	if cols.Errs != nil {
		blk.Errs = make([]float64, n)
	}
	if cols.Flags != nil {
		blk.Flags = make([]float64, n)
	}
	for i, r := range rows {
		blk.Times[i] = midpoint(cols.Starts[r], cols.Ends[r])
		blk.Values[i] = cols.Values[r]
		blk.StopTimes[i] = cols.Ends[r]
		if blk.Errs != nil {
			blk.Errs[i] = cols.Errs[r]
		}
		if blk.Flags != nil {
			blk.Flags[i] = cols.Flags[r]
		}
	}
	return blk
}

// midpoint is the middle of one acquisition interval.
func midpoint(start, end time.Time) time.Time {
	return start.Add(end.Sub(start) / 2)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
