package ungridded

import (
	"fmt"
	"math"

	"github.com/magnusuMET/pyaerocom/pkg/obs"
)

// OutlierOptions control RemoveOutliers. Low and High default to NaN,
// which applies the valid range registered for the variable.
type OutlierOptions struct {
	InPlace bool
	Low     float64
	High    float64
	// UnitRef is the unit the outlier range refers to; all data must
	// already be in it. Empty applies the registered default unit.
	UnitRef string
	// MoveToTrash preserves removed values in the trash column.
	MoveToTrash bool
}

// DefaultOutlierOptions applies the registered valid range and keeps the
// removed values in the trash column.
func DefaultOutlierOptions() OutlierOptions {
	return OutlierOptions{Low: math.NaN(), High: math.NaN(), MoveToTrash: true}
}

// RemoveOutliers replaces all values of a variable outside the closed
// range [low, high] with NaN. With MoveToTrash the removed values are
// preserved in the trash column; occupied trash cells abort the whole
// operation before anything is modified. A history entry records the
// removal.
func (d *Data) RemoveOutliers(varName string, opts OutlierOptions) (*Data, error) {
	if err := d.CheckUnit(varName, opts.UnitRef); err != nil {
		return nil, fmt.Errorf("cannot remove %s outliers: %w", varName, err)
	}
	low, high := opts.Low, opts.High
	if math.IsNaN(low) || math.IsNaN(high) {
		v, err := d.registry.Get(varName)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(low) {
			low = v.Minimum
			d.log.Info().Str("variable", varName).Float64("low", low).
				Msg("using registered outlier lower limit")
		}
		if math.IsNaN(high) {
			high = v.Maximum
			d.log.Info().Str("variable", varName).Float64("high", high).
				Msg("using registered outlier upper limit")
		}
	}

	target := d
	if !opts.InPlace {
		target = d.Copy()
	}
	id, ok := target.varIdx[varName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", obs.ErrVarNotAvailable, varName)
	}

	s := target.store
	var masked []int
	for i := 0; i < s.used; i++ {
		if s.varID[i] != int64(id) {
			continue
		}
		if v := s.value[i]; v < low || v > high {
			masked = append(masked, i)
		}
	}
	if opts.MoveToTrash {
		for _, i := range masked {
			if !math.IsNaN(s.trash[i]) {
				return nil, fmt.Errorf("%w: row %d; empty the trash first or disable MoveToTrash",
					obs.ErrTrashOccupied, i)
			}
		}
		for _, i := range masked {
			s.trash[i] = s.value[i]
		}
	}
	for _, i := range masked {
		s.value[i] = math.NaN()
	}

	target.addFilterHistory("remove_outliers",
		fmt.Sprintf("removed %d outliers from %s data (range: %g-%g, in trash: %v)",
			len(masked), varName, low, high, opts.MoveToTrash))
	return target, nil
}

// EmptyTrash clears every trash cell.
func (d *Data) EmptyTrash() {
	s := d.store
	for i := 0; i < s.used; i++ {
		s.trash[i] = math.NaN()
	}
}

// CheckUnit verifies that all recorded units of a variable convert to the
// given unit with factor exactly 1. An empty unit applies the registered
// default. Blocks recording the variable without a unit are a metadata
// failure, as is a variable without any unit information unless the
// expected unit is dimensionless.
func (d *Data) CheckUnit(varName, unit string) error {
	if unit == "" {
		v, err := d.registry.Get(varName)
		if err != nil {
			return err
		}
		unit = v.Units
	}
	var units []string
	seen := make(map[string]bool)
	for _, key := range d.MetaKeys() {
		meta := d.metadata[key]
		vi, ok := meta.VarInfo[varName]
		if !ok {
			continue
		}
		if vi.Units == "" {
			return fmt.Errorf("%w: no unit recorded for %s in metadata block %d",
				obs.ErrMetaData, varName, key)
		}
		if !seen[vi.Units] {
			seen[vi.Units] = true
			units = append(units, vi.Units)
		}
	}
	if len(units) == 0 {
		if unit != "1" {
			return fmt.Errorf("%w: no unit information for %s, expected %s",
				obs.ErrMetaData, varName, unit)
		}
		return nil
	}
	for _, u := range units {
		fac, err := obs.ConversionFactor(u, unit)
		if err != nil {
			return fmt.Errorf("%s: %w", varName, err)
		}
		if fac != 1 {
			return fmt.Errorf("%w: %s data in unit %s, expected %s",
				obs.ErrDataUnit, varName, u, unit)
		}
	}
	return nil
}
