package chrono

import (
	"fmt"
	"iter"
	"slices"
	"time"
)

// ClampDate clamps date into [lo, hi]. The zero time is rejected with
// ErrInvalidDate and lo after hi with ErrRange.
func ClampDate(date, lo, hi time.Time) (time.Time, error) {
	if date.IsZero() || lo.IsZero() || hi.IsZero() {
		return time.Time{}, fmt.Errorf("%w: clamp of zero time", ErrInvalidDate)
	}
	if lo.After(hi) {
		return time.Time{}, fmt.Errorf("%w: clamp bounds %s > %s", ErrRange, lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}
	switch {
	case date.Before(lo):
		return lo, nil
	case date.After(hi):
		return hi, nil
	default:
		return date, nil
	}
}

// ComposeDate combines the calendar day of date with the hour and minute
// of t. 24:00 rolls over to midnight of the next day.
func ComposeDate(date time.Time, t Time) (time.Time, error) {
	h, err := t.Hours()
	if err != nil {
		return time.Time{}, err
	}
	m, _ := t.Minutes()
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, date.Location()), nil
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDayOf returns the last millisecond of t's calendar day.
func EndOfDayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location()).Add(-time.Millisecond)
}

// Dates lazily yields start, start+step, ... while strictly before end in
// the direction of step. start == end is always a valid, empty range;
// otherwise a zero step or a step pointing away from end is ErrRange.
func Dates(start, end time.Time, step TimeDelta) (iter.Seq[time.Time], error) {
	// Measured in nanoseconds: time.Time keeps sub-millisecond precision.
	span := end.Sub(start)
	if span == 0 {
		return func(func(time.Time) bool) {}, nil
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: zero date range step", ErrRange)
	}
	if (span > 0) != (step > 0) {
		return nil, fmt.Errorf("%w: step %d points away from range end", ErrRange, step)
	}

	stepNs := step.Duration()
	n := int64(span / stepNs)
	if span%stepNs != 0 {
		n++
	}
	return func(yield func(time.Time) bool) {
		for i := int64(0); i < n; i++ {
			if !yield(start.Add(time.Duration(i) * stepNs)) {
				return
			}
		}
	}, nil
}

// DateRange is the eager form of Dates.
func DateRange(start, end time.Time, step TimeDelta) ([]time.Time, error) {
	seq, err := Dates(start, end, step)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(seq)
	if out == nil {
		out = []time.Time{}
	}
	return out, nil
}
