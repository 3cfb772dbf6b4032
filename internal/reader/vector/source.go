package vector

import (
	"fmt"
	"time"
)

// Source is an in-memory columnar data supplier. Implementations hand out
// one set of parallel column vectors per variable plus a station table;
// the adapter turns them into an ungridded container.
type Source interface {
	// Name identifies the dataset. It becomes the container's data id
	// unless the adapter options override it.
	Name() string

	// Variables lists the variable names the source delivers natively.
	Variables() []string

	// Columns returns the column vectors for one variable.
	Columns(varName string) (Columns, error)

	// Stations returns the station table keyed by station id. Rows whose
	// station id is missing from the table still convert, with unknown
	// coordinates.
	Stations() map[string]Station
}

// Columns carries the parallel row vectors of one variable. StationIDs,
// Starts, Ends and Values are required and must match in length; the
// remaining vectors are optional but must match that length when set.
// Row timestamps in the container become the acquisition mid-points
// (start + (end-start)/2).
type Columns struct {
	// Unit is the physical unit of Values.
	Unit string

	StationIDs []string
	Starts     []time.Time
	Ends       []time.Time
	Values     []float64

	Lats  []float64
	Lons  []float64
	Alts  []float64
	Errs  []float64
	Flags []float64
}

func (c *Columns) validate() (int, error) {
	n := len(c.StationIDs)
	if len(c.Starts) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d start times", n, len(c.Starts))
	}
	if len(c.Ends) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d end times", n, len(c.Ends))
	}
	if len(c.Values) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d values", n, len(c.Values))
	}
	if c.Lats != nil && len(c.Lats) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d latitudes", n, len(c.Lats))
	}
	if c.Lons != nil && len(c.Lons) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d longitudes", n, len(c.Lons))
	}
	if c.Alts != nil && len(c.Alts) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d altitudes", n, len(c.Alts))
	}
	if c.Errs != nil && len(c.Errs) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d errors", n, len(c.Errs))
	}
	if c.Flags != nil && len(c.Flags) != n {
		return 0, fmt.Errorf("columns have %d station ids but %d flags", n, len(c.Flags))
	}
	return n, nil
}

// Station is one entry of a source's station table.
type Station struct {
	// LongName is the display name; the station id serves when empty.
	LongName  string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Country   string
	URL       string

	// Extra carries free-form source metadata. Well-known keys (PI,
	// instrument_name, data_level, revision_date, filename) land in the
	// standard metadata slots, the rest is kept verbatim.
	Extra map[string]string
}
