package aeronet

import "math"

// auxFuncs derive the computed variables from the column vectors. Keys
// match auxRequires; the batch resolver orders calls so inputs of a
// computed variable are present when it runs.
var auxFuncs = map[string]func(cols map[string][]float64) []float64{
	"ang4487aer": computeAng4487aer,
	"od550aer":   computeOD550aer,
}

// computeAng4487aer derives the 440-870 nm Angstrom exponent:
// alpha = -ln(od440/od870) / ln(440/870).
func computeAng4487aer(cols map[string][]float64) []float64 {
	od440, od870 := cols["od440aer"], cols["od870aer"]
	out := make([]float64, len(od440))
	for i := range out {
		out[i] = -math.Log(od440[i]/od870[i]) / math.Log(440.0/870.0)
	}
	return out
}

// computeOD550aer shifts the 500 nm optical depth to 550 nm with the
// Angstrom exponent, falling back to the 440 nm column where the 500 nm
// value is missing.
func computeOD550aer(cols map[string][]float64) []float64 {
	od500, od440, ang := cols["od500aer"], cols["od440aer"], cols["ang4487aer"]
	out := make([]float64, len(od500))
	for i := range out {
		od := odFromAngstrom(od500[i], 500, 550, ang[i])
		if math.IsNaN(od) {
			od = odFromAngstrom(od440[i], 440, 550, ang[i])
		}
		out[i] = od
	}
	return out
}

// odFromAngstrom converts an optical depth between wavelengths:
// od(to) = od(ref) * (ref/to)^alpha.
func odFromAngstrom(odRef, refNm, toNm, alpha float64) float64 {
	return odRef * math.Pow(refNm/toNm, alpha)
}
