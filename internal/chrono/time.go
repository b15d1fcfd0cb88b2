package chrono

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrRange reports a value outside the range an operation accepts.
	ErrRange = errors.New("chrono: value out of range")
	// ErrInvalidDate reports a zero time.Time where a real date is required.
	ErrInvalidDate = errors.New("chrono: invalid date")
)

// EndOfDay is the inclusive upper bound of a Time, 24:00.
const EndOfDay Time = msPerDay

// Time is a time of day expressed as milliseconds since midnight. Valid
// values lie in [00:00, 24:00]; 24:00 marks the end of the day.
//
// A Time can be produced by a plain conversion, so the accessors validate
// on every call instead of trusting the constructor.
type Time int64

var literalPattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// Validate returns ms as a Time, or ErrRange when it falls outside a day.
func Validate(ms int64) (Time, error) {
	if ms < 0 || ms > msPerDay {
		return 0, fmt.Errorf("%w: time of day %dms not in [0, %d]", ErrRange, ms, msPerDay)
	}
	return Time(ms), nil
}

func FromMs(ms int64) (Time, error) {
	return Validate(ms)
}

func FromMinutes(m int64) (Time, error) {
	return Validate(m * msPerMinute)
}

// FromLiteral parses "HH:MM". Both fields must be exactly two digits and
// minutes must be below 60.
func FromLiteral(s string) (Time, error) {
	m := literalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: malformed time literal %q", ErrRange, s)
	}
	hours, _ := strconv.ParseInt(m[1], 10, 64)
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	if minutes >= 60 {
		return 0, fmt.Errorf("%w: minutes out of range in %q", ErrRange, s)
	}
	return Validate(hours*msPerHour + minutes*msPerMinute)
}

// FromDate extracts the hour and minute of t in t's own location. The
// date part is discarded.
func FromDate(t time.Time) (Time, error) {
	if t.IsZero() {
		return 0, fmt.Errorf("%w: zero time", ErrRange)
	}
	return Validate(int64(t.Hour())*msPerHour + int64(t.Minute())*msPerMinute)
}

// FromClamp clamps an offset from midnight into [00:00, 24:00]. It never
// fails.
func FromClamp(offset TimeDelta) Time {
	return Time(min(max(int64(offset), 0), msPerDay))
}

// Difference returns b - a.
func Difference(a, b Time) TimeDelta {
	return TimeDelta(b - a)
}

// Offset returns t as a delta from midnight.
func (t Time) Offset() TimeDelta {
	return TimeDelta(t)
}

// Add returns t shifted by d. The result must still be a valid Time.
func (t Time) Add(d TimeDelta) (Time, error) {
	if _, err := Validate(int64(t)); err != nil {
		return 0, err
	}
	return Validate(int64(t) + int64(d))
}

func (t Time) Hours() (int, error) {
	v, err := Validate(int64(t))
	if err != nil {
		return 0, err
	}
	return int(v / msPerHour), nil
}

func (t Time) Minutes() (int, error) {
	v, err := Validate(int64(t))
	if err != nil {
		return 0, err
	}
	return int(v % msPerHour / msPerMinute), nil
}

// Format renders t as zero-padded "HH:MM".
func (t Time) Format() (string, error) {
	h, err := t.Hours()
	if err != nil {
		return "", err
	}
	m, _ := t.Minutes()
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// String is Format without the error; invalid values render as "!<ms>ms".
func (t Time) String() string {
	s, err := t.Format()
	if err != nil {
		return fmt.Sprintf("!%dms", int64(t))
	}
	return s
}
