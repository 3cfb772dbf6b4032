package obs

import (
	"fmt"
	"time"
)

// TsType is the nominal sampling frequency of a time series.
type TsType int

const (
	TsNative TsType = iota // frequency as found in the source file, unknown here
	TsMinutely
	TsHourly
	TsDaily
	TsWeekly
	TsMonthly
	TsYearly
)

var tsNames = map[TsType]string{
	TsNative:   "native",
	TsMinutely: "minutely",
	TsHourly:   "hourly",
	TsDaily:    "daily",
	TsWeekly:   "weekly",
	TsMonthly:  "monthly",
	TsYearly:   "yearly",
}

// Archive frequency codes as used in EBAS file headers.
var tsCodes = map[string]TsType{
	"1mn": TsMinutely,
	"1h":  TsHourly,
	"1d":  TsDaily,
	"1w":  TsWeekly,
	"1mo": TsMonthly,
	"1y":  TsYearly,
}

// Nominal interval lengths in seconds. Monthly and yearly use calendar
// averages so that real-world intervals land within tolerance.
var tsSeconds = map[TsType]int64{
	TsMinutely: 60,
	TsHourly:   3600,
	TsDaily:    86400,
	TsWeekly:   7 * 86400,
	TsMonthly:  30 * 86400,
	TsYearly:   365 * 86400,
}

// tolerance for matching a measured interval to a nominal frequency
const tsTolerance = 0.1

func (t TsType) String() string {
	if s, ok := tsNames[t]; ok {
		return s
	}
	return "unknown"
}

// Interval returns the nominal length of one sampling period.
func (t TsType) Interval() time.Duration {
	if s, ok := tsSeconds[t]; ok {
		return time.Duration(s) * time.Second
	}
	return 0
}

// Coarser reports whether t has a longer sampling period than other.
// Native compares as unknown and is never coarser.
func (t TsType) Coarser(other TsType) bool {
	if t == TsNative || other == TsNative {
		return false
	}
	return tsSeconds[t] > tsSeconds[other]
}

// ParseTsType accepts frequency names ("daily") and archive codes ("1d").
func ParseTsType(s string) (TsType, error) {
	for t, name := range tsNames {
		if s == name {
			return t, nil
		}
	}
	if t, ok := tsCodes[s]; ok {
		return t, nil
	}
	return TsNative, fmt.Errorf("%w: %q", ErrTemporalResolution, s)
}

// TsTypeFromSeconds maps a measured sampling interval to the nearest nominal
// frequency within a 10% tolerance. A zero interval means the acquisition
// start and stop coincide, which the archives use for hourly instruments.
func TsTypeFromSeconds(seconds int64) (TsType, error) {
	if seconds == 0 {
		return TsHourly, nil
	}
	if seconds < 0 {
		return TsNative, fmt.Errorf("%w: negative interval %ds", ErrTemporalResolution, seconds)
	}
	for _, t := range []TsType{TsMinutely, TsHourly, TsDaily, TsWeekly, TsMonthly, TsYearly} {
		nominal := tsSeconds[t]
		diff := seconds - nominal
		if diff < 0 {
			diff = -diff
		}
		if float64(diff) <= tsTolerance*float64(nominal) {
			return t, nil
		}
	}
	return TsNative, fmt.Errorf("%w: interval %ds matches no known frequency", ErrTemporalResolution, seconds)
}

// BucketStart returns the start of the sampling period containing ts,
// in UTC. Weekly periods start on Monday.
func (t TsType) BucketStart(ts time.Time) time.Time {
	ts = ts.UTC()
	switch t {
	case TsMinutely:
		return ts.Truncate(time.Minute)
	case TsHourly:
		return ts.Truncate(time.Hour)
	case TsDaily:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case TsWeekly:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case TsMonthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TsYearly:
		return time.Date(ts.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return ts
}
