// Package chrono holds the calendar-safe time arithmetic the layout engine
// is built on: millisecond deltas, time-of-day values clamped to a single
// day, date ranges and human-readable formatting.
package chrono

import "time"

// TimeDelta is a signed number of milliseconds. Negative values express
// direction (for example a backwards date range step).
type TimeDelta int64

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

func Days(n int64) TimeDelta         { return TimeDelta(n * msPerDay) }
func Hours(n int64) TimeDelta        { return TimeDelta(n * msPerHour) }
func Minutes(n int64) TimeDelta      { return TimeDelta(n * msPerMinute) }
func Seconds(n int64) TimeDelta      { return TimeDelta(n * msPerSecond) }
func Milliseconds(n int64) TimeDelta { return TimeDelta(n) }

// Delta converts a time.Duration, truncating sub-millisecond precision.
func Delta(d time.Duration) TimeDelta {
	return TimeDelta(d.Milliseconds())
}

// Duration returns d as a time.Duration.
func (d TimeDelta) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// Between returns the delta from a to b (b - a).
func Between(a, b time.Time) TimeDelta {
	return Delta(b.Sub(a))
}
