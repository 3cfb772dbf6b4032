package obs

import (
	"fmt"
	"strings"
)

// The archives carry a small set of unit families: dimensionless optical
// depths, inverse-length scattering/absorption coefficients, mass
// concentrations (optionally species-qualified, e.g. "ug N m-3") and mole
// fractions. Units are parsed into a family key plus a scale relative to the
// family base so conversion factors stay exact for factor-1 checks.

var siPrefixes = map[string]float64{
	"":  1,
	"d": 1e-1,
	"c": 1e-2,
	"m": 1e-3,
	"u": 1e-6,
	"µ": 1e-6,
	"n": 1e-9,
	"p": 1e-12,
	"h": 1e2,
	"k": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// parseUnit resolves a unit string to (family key, scale in family base).
// Family bases: "1", "m-1", "kg m-3" (plus species-qualified variants),
// "mol mol-1".
func parseUnit(unit string) (string, float64, error) {
	u := strings.TrimSpace(unit)
	if u == "" || u == "1" {
		return "1", 1, nil
	}
	if u == "%" {
		return "%", 1, nil
	}

	// inverse length: "Mm-1" or "1/Mm"
	if rest, ok := strings.CutPrefix(u, "1/"); ok {
		u = rest + "-1"
	}
	if rest, ok := strings.CutSuffix(u, "m-1"); ok && !strings.Contains(rest, " ") {
		if p, ok := siPrefixes[rest]; ok {
			return "m-1", 1 / p, nil
		}
	}

	// mass concentration: "ug m-3", "kg/m3", species-qualified "ug N m-3"
	mass := ""
	if rest, ok := strings.CutSuffix(u, " m-3"); ok {
		mass = rest
	} else if rest, ok := strings.CutSuffix(u, "/m3"); ok {
		mass = rest
	}
	if mass != "" {
		fields := strings.Fields(mass)
		if g, ok := strings.CutSuffix(fields[0], "g"); ok {
			if p, ok := siPrefixes[g]; ok {
				key := "kg m-3"
				if len(fields) > 1 {
					key = "kg " + strings.Join(fields[1:], " ") + " m-3"
				}
				// grams to base kilograms
				return key, p * 1e-3, nil
			}
		}
	}

	// mole fraction: "nmol mol-1" or "nmol/mol"; the bare base leaves an
	// empty rest, which is the valid "" SI prefix
	mole, found := strings.CutSuffix(u, "mol mol-1")
	if !found {
		mole, found = strings.CutSuffix(u, "mol/mol")
	}
	if found {
		if p, ok := siPrefixes[strings.TrimSpace(mole)]; ok {
			return "mol mol-1", p, nil
		}
	}

	return "", 0, fmt.Errorf("%w: cannot parse unit %q", ErrUnitConversion, unit)
}

// ConversionFactor returns the factor that converts values in unit `from`
// into unit `to`. Units of different families are not convertible.
func ConversionFactor(from, to string) (float64, error) {
	famFrom, scaleFrom, err := parseUnit(from)
	if err != nil {
		return 0, err
	}
	famTo, scaleTo, err := parseUnit(to)
	if err != nil {
		return 0, err
	}
	if famFrom != famTo {
		return 0, fmt.Errorf("%w: %q to %q", ErrUnitConversion, from, to)
	}
	return scaleFrom / scaleTo, nil
}

// SameUnit reports whether two unit strings denote the identical unit
// (conversion factor exactly 1).
func SameUnit(a, b string) bool {
	f, err := ConversionFactor(a, b)
	return err == nil && f == 1
}
