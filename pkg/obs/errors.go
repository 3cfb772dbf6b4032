package obs

import "errors"

// Sentinel errors for the observation data model. Callers match with
// errors.Is; wrapped messages carry the station/variable context.
var (
	// ErrStationNotFound means a station selector matched no metadata block.
	ErrStationNotFound = errors.New("station not found")

	// ErrVarNotAvailable means a metadata block holds no rows for the
	// requested variable, regardless of time window.
	ErrVarNotAvailable = errors.New("variable not available")

	// ErrTimeMatch means rows exist for the variable but none fall inside
	// the requested time window.
	ErrTimeMatch = errors.New("no data in time window")

	// ErrDataCoverage means a well-formed request yielded an empty result.
	ErrDataCoverage = errors.New("no data coverage")

	// ErrDataExtraction means a filter matched no metadata blocks.
	ErrDataExtraction = errors.New("filter matched nothing")

	// ErrMetaConsistency flags metadata blocks that were presumed equal but
	// diverge mid-consolidation. Never handled internally.
	ErrMetaConsistency = errors.New("metadata blocks diverge")

	// ErrVarIndex flags a variable id assignment that would collide with an
	// existing assignment to a different name.
	ErrVarIndex = errors.New("variable index conflict")

	// ErrTrashOccupied means outlier removal would overwrite a trash cell
	// that already preserves an earlier removed value.
	ErrTrashOccupied = errors.New("trash column already occupied")

	// ErrMultiVarMerge means a multi-block merge was requested for more than
	// one variable at once, which is unsupported.
	ErrMultiVarMerge = errors.New("cannot merge multiple stations with multiple variables")

	// ErrFilterKey means an attribute name is not usable as a filter key.
	ErrFilterKey = errors.New("unsupported filter key")

	ErrUnitConversion = errors.New("unit conversion not possible")
	ErrDataUnit       = errors.New("data unit mismatch")
	ErrMetaData       = errors.New("invalid station metadata")
	ErrCoordinate     = errors.New("station coordinates differ")

	// ErrVarNotFound means a variable name is not in the variable registry.
	ErrVarNotFound = errors.New("variable not registered")

	// ErrTemporalResolution means a sampling interval could not be mapped to
	// a known frequency, or a resample target is finer than the source.
	ErrTemporalResolution = errors.New("unsupported temporal resolution")
)
