package ebas

import (
	"math"
	"sort"
)

// varSpec binds an aerocom variable name to the EBAS component names it
// can be read from, plus the matrix and statistics constraints and the
// target wavelength used during column selection.
type varSpec struct {
	// Components lists acceptable component names; a column qualifies
	// when its name is one of them.
	Components []string
	// Matrices lists acceptable matrices in order of preference. Empty
	// means any matrix qualifies.
	Matrices []string
	// Statistics restricts columns to these statistics codes. Empty means
	// the reader's preference order decides.
	Statistics []string
	// WavelengthNm is the nominal wavelength, 0 for variables that are
	// not wavelength resolved.
	WavelengthNm float64
}

var varSpecs = map[string]varSpec{
	"sc550aer": {
		Components:   []string{"aerosol_light_scattering_coefficient"},
		Matrices:     []string{"aerosol", "pm10"},
		WavelengthNm: 550,
	},
	"ac550aer": {
		Components:   []string{"aerosol_absorption_coefficient", "aerosol_light_absorption_coefficient"},
		Matrices:     []string{"aerosol", "pm10"},
		WavelengthNm: 550,
	},
	"scatcrh": {
		Components: []string{"relative_humidity"},
		Matrices:   []string{"instrument", "aerosol"},
	},
	"abscrh": {
		Components: []string{"relative_humidity"},
		Matrices:   []string{"instrument", "aerosol"},
	},
	"concpm10": {
		Components: []string{"pm10_mass"},
		Matrices:   []string{"pm10"},
	},
	"concpm25": {
		Components: []string{"pm25_mass"},
		Matrices:   []string{"pm25"},
	},
	"concso4": {
		Components: []string{"sulphate_total", "sulphate_corrected"},
		Matrices:   []string{"aerosol", "pm10", "pm25"},
	},
	"concno2": {
		Components: []string{"nitrogen_dioxide"},
		Matrices:   []string{"air"},
	},
}

// auxRequires lists the helper variables each computed variable is
// derived from. The first entry is the signal, the second the relative
// humidity of the sample.
var auxRequires = map[string][]string{
	"sc550dryaer": {"sc550aer", "scatcrh"},
	"ac550dryaer": {"ac550aer", "abscrh"},
}

// auxUseMeta names the variable whose column metadata a computed variable
// inherits.
var auxUseMeta = map[string]string{
	"sc550dryaer": "sc550aer",
	"ac550dryaer": "ac550aer",
}

// dryRHMax is the highest relative humidity in percent at which a sample
// still counts as dry.
const dryRHMax = 40.0

// computeDry masks the signal wherever the sample humidity exceeds the
// dry threshold or is unknown.
func computeDry(vals, rh []float64) []float64 {
	out := make([]float64, len(vals))
	for i := range vals {
		if math.IsNaN(rh[i]) || rh[i] > dryRHMax {
			out[i] = math.NaN()
		} else {
			out[i] = vals[i]
		}
	}
	return out
}

func providedVars() []string {
	vars := make([]string, 0, len(varSpecs))
	for v := range varSpecs {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func supportedVars() []string {
	vars := providedVars()
	for v := range auxRequires {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}
