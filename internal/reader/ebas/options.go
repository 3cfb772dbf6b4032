package ebas

import (
	"fmt"
	"strings"

	"github.com/magnusuMET/pyaerocom/internal/config"
)

// Options are the archive-specific read options. The values chosen for a
// batch are recorded in the container's filter history, so two containers
// read with different options never look interchangeable.
type Options struct {
	// PreferStatistics breaks ties between columns of the same component,
	// first entry wins.
	PreferStatistics []string
	// IgnoreStatistics lists statistics codes whose columns are never
	// selected.
	IgnoreStatistics []string
	// WavelengthTolNm is the maximum distance between a column's
	// wavelength and the variable's nominal one.
	WavelengthTolNm float64
	// EvalFlags decodes the numflag columns into per-row validity.
	EvalFlags bool
	// RemoveInvalidFlags turns flagged-invalid samples into NaN. Only
	// effective when EvalFlags is set.
	RemoveInvalidFlags bool
	// KeepAuxVars retains helper variables that were only read to derive
	// computed ones.
	KeepAuxVars bool
	// MergeMeta consolidates attribute-equal metadata blocks after the
	// batch.
	MergeMeta bool
	// Datalevel restricts the file list to one EBAS data level, "" reads
	// any level.
	Datalevel string
}

// OptionsFromConfig copies the configured option defaults.
func OptionsFromConfig(cfg config.EbasConfig) Options {
	return Options{
		PreferStatistics:   append([]string(nil), cfg.PreferStatistics...),
		IgnoreStatistics:   append([]string(nil), cfg.IgnoreStatistics...),
		WavelengthTolNm:    cfg.WavelengthTolNm,
		EvalFlags:          cfg.EvalFlags,
		RemoveInvalidFlags: cfg.RemoveInvalidFlags,
		KeepAuxVars:        cfg.KeepAuxVars,
		MergeMeta:          cfg.MergeMeta,
		Datalevel:          cfg.Datalevel,
	}
}

// historyEntry renders the options the way they appear in the filter
// history.
func (o Options) historyEntry() string {
	datalevel := o.Datalevel
	if datalevel == "" {
		datalevel = "any"
	}
	return fmt.Sprintf(
		"prefer_statistics=%s; ignore_statistics=%s; wavelength_tol_nm=%g; eval_flags=%t; remove_invalid_flags=%t; keep_aux_vars=%t; datalevel=%s",
		strings.Join(o.PreferStatistics, ","),
		strings.Join(o.IgnoreStatistics, ","),
		o.WavelengthTolNm,
		o.EvalFlags,
		o.RemoveInvalidFlags,
		o.KeepAuxVars,
		datalevel,
	)
}
