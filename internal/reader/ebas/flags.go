package ebas

import "math"

// validFlags lists the EBAS flag codes that leave a measurement valid.
// Codes absent from the table count as invalid, which errs on the safe
// side for the long tail of rarely seen codes. 0 means not flagged.
var validFlags = map[int]bool{
	100: true, // checked by data originator, considered valid
	101: true, // denuder capture efficiency below 75%, considered valid
	102: true, // CV of replicate diffusion tubes above 30%, considered valid
	103: true, // CV of replicate ALPHA samplers above 15%, considered valid
	110: true, // episode data checked and accepted by data originator
	111: true, // irregular data checked and accepted by data originator
	147: true, // below detection limit, reported value considered valid
	189: true, // possible local contamination, considered valid
	190: true, // not corrected for cross-sensitivity to particle scattering
	191: true, // data not truncation corrected, considered valid
	210: true, // episode data checked and accepted by database co-ordinator
	211: true, // irregular data checked and accepted by database co-ordinator
	220: true, // preliminary data
	248: true, // illegal flag replaced by database co-ordinator
	249: true, // apparent typing error corrected
	250: true, // considerable sea salt contribution, considered valid
	410: true, // sahara dust event
	420: true, // preliminary data, considered valid
	440: true, // reconstructed or recalculated data
	660: true, // unspecified contamination suspected, considered valid
}

// DecodeFlags splits a packed numflag value into its three codes. Flag
// columns carry up to three three-digit codes, packed either as the
// fraction 0.f1f2f3 the archive files use or as the integer f1f2f3.
func DecodeFlags(v float64) [3]int {
	if math.IsNaN(v) || v <= 0 {
		return [3]int{}
	}
	var n int64
	if v < 1 {
		n = int64(math.Round(v * 1e9))
	} else {
		n = int64(math.Round(v))
	}
	return [3]int{
		int(n / 1000000 % 1000),
		int(n / 1000 % 1000),
		int(n % 1000),
	}
}

// FlagsValid reports whether a packed numflag value marks the measurement
// valid: every set code must be in the known-valid table. An unflagged
// row (all zeros) is valid.
func FlagsValid(v float64) bool {
	for _, code := range DecodeFlags(v) {
		if code == 0 {
			continue
		}
		if !validFlags[code] {
			return false
		}
	}
	return true
}
