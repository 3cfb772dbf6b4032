package obs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversionFactor(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want float64
	}{
		{"identity dimensionless", "1", "1", 1},
		{"inverse megameters to meters", "1/Mm", "m-1", 1e-6},
		{"suffix form equals slash form", "Mm-1", "1/Mm", 1},
		{"meters to inverse gigameters", "m-1", "1/Gm", 1e9},
		{"micrograms to kilograms", "ug m-3", "kg m-3", 1e-9},
		{"slash volume form", "ug/m3", "ug m-3", 1},
		{"species qualified", "ug N m-3", "ug N m-3", 1},
		{"mole fraction", "nmol mol-1", "mol mol-1", 1e-9},
		{"bare mole fraction base", "mol mol-1", "mol mol-1", 1},
		{"bare slash mole fraction", "mol/mol", "mol mol-1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConversionFactor(tt.from, tt.to)
			require.NoError(t, err)
			assert.InEpsilon(t, tt.want, got, 1e-12)
		})
	}
}

func TestConversionFactorErrors(t *testing.T) {
	// different families
	_, err := ConversionFactor("ug m-3", "m-1")
	assert.ErrorIs(t, err, ErrUnitConversion)

	// species-qualified mass is not plain mass
	_, err = ConversionFactor("ug N m-3", "ug m-3")
	assert.ErrorIs(t, err, ErrUnitConversion)

	_, err = ConversionFactor("furlongs", "m-1")
	assert.ErrorIs(t, err, ErrUnitConversion)
}

func TestSameUnit(t *testing.T) {
	assert.True(t, SameUnit("1/Mm", "Mm-1"))
	assert.True(t, SameUnit("", "1"))
	assert.False(t, SameUnit("1/Mm", "m-1"))
	assert.False(t, SameUnit("gibberish", "m-1"))
}

func TestScalingApply(t *testing.T) {
	s := Scalings["concNno2"]
	require.Equal(t, "concno2", s.Requires)

	got := s.Apply([]float64{46.004, math.NaN()})
	assert.InDelta(t, 14.006, got[0], 1e-9, "NO2 mass scaled to its nitrogen fraction")
	assert.True(t, math.IsNaN(got[1]))
}
