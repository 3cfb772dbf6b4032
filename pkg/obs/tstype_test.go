package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTsType(t *testing.T) {
	tests := []struct {
		in      string
		want    TsType
		wantErr bool
	}{
		{"daily", TsDaily, false},
		{"hourly", TsHourly, false},
		{"native", TsNative, false},
		{"1h", TsHourly, false},
		{"1d", TsDaily, false},
		{"1w", TsWeekly, false},
		{"1mo", TsMonthly, false},
		{"fortnightly", TsNative, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTsType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTemporalResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTsTypeFromSeconds(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		want    TsType
		wantErr bool
	}{
		{"zero interval means hourly", 0, TsHourly, false},
		{"exact hour", 3600, TsHourly, false},
		{"exact day", 86400, TsDaily, false},
		{"day within tolerance", 86390, TsDaily, false},
		{"week", 7 * 86400, TsWeekly, false},
		{"february month", 28 * 86400, TsMonthly, false},
		{"no match", 100000, TsNative, true},
		{"negative", -60, TsNative, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TsTypeFromSeconds(tt.seconds)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTemporalResolution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTsTypeCoarser(t *testing.T) {
	assert.True(t, TsMonthly.Coarser(TsDaily))
	assert.False(t, TsDaily.Coarser(TsMonthly))
	assert.False(t, TsDaily.Coarser(TsDaily))
	// native is unknown, never coarser in either direction
	assert.False(t, TsNative.Coarser(TsDaily))
	assert.False(t, TsDaily.Coarser(TsNative))
}

func TestTsTypeBucketStart(t *testing.T) {
	ts := time.Date(2018, 3, 14, 15, 9, 26, 0, time.UTC) // a Wednesday

	assert.Equal(t, time.Date(2018, 3, 14, 15, 0, 0, 0, time.UTC), TsHourly.BucketStart(ts))
	assert.Equal(t, time.Date(2018, 3, 14, 0, 0, 0, 0, time.UTC), TsDaily.BucketStart(ts))
	assert.Equal(t, time.Date(2018, 3, 12, 0, 0, 0, 0, time.UTC), TsWeekly.BucketStart(ts), "weeks start on Monday")
	assert.Equal(t, time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC), TsMonthly.BucketStart(ts))
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), TsYearly.BucketStart(ts))
}
