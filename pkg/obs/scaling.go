package obs

// Molar masses in g/mol used for species-mass scaling.
const (
	molarMassN = 14.006
	molarMassO = 15.999
)

// Scaling derives a new variable from an existing one by a constant factor
// with a unit rewrite, e.g. the nitrogen mass fraction of an NO2 mass
// concentration.
type Scaling struct {
	Requires string
	InUnit   string
	OutUnit  string
	Factor   float64
	Out      string
}

// Scalings lists the supported derived-variable transformations, keyed by
// output variable name.
var Scalings = map[string]Scaling{
	"concNno": {
		Requires: "concno",
		InUnit:   "ug m-3",
		OutUnit:  "ug N m-3",
		Factor:   molarMassN / (molarMassN + molarMassO),
		Out:      "concNno",
	},
	"concNno2": {
		Requires: "concno2",
		InUnit:   "ug m-3",
		OutUnit:  "ug N m-3",
		Factor:   molarMassN / (molarMassN + 2*molarMassO),
		Out:      "concNno2",
	},
}

// Apply returns the scaled copy of values.
func (s Scaling) Apply(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * s.Factor
	}
	return out
}
