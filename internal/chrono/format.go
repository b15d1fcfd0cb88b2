package chrono

import (
	"fmt"
	"strings"
	"time"
)

const (
	layoutClock    = "15:04"
	layoutThisYear = "Jan 2 15:04"
	layoutFull     = "Jan 2 2006 15:04"
)

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// SmartFormatDate renders t relative to now: the clock alone for today,
// month and day within the current year, the full date otherwise.
func SmartFormatDate(t, now time.Time) string {
	now = now.In(t.Location())
	switch {
	case sameDay(t, now):
		return t.Format(layoutClock)
	case t.Year() == now.Year():
		return t.Format(layoutThisYear)
	default:
		return t.Format(layoutFull)
	}
}

// SmartFormatRange renders [from, to]. A range inside one day repeats only
// the end clock.
func SmartFormatRange(from, to, now time.Time) string {
	to = to.In(from.Location())
	if sameDay(from, to) {
		return SmartFormatDate(from, now) + " – " + to.Format(layoutClock)
	}
	return SmartFormatDate(from, now) + " – " + SmartFormatDate(to, now)
}

// FormatTimeDelta breaks d down into days, hours and minutes ("1d 2h 3m").
// Seconds only appear for deltas shorter than a minute, milliseconds for
// deltas shorter than a second.
func FormatTimeDelta(d TimeDelta) string {
	if d == 0 {
		return "0m"
	}
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	if d < msPerSecond {
		return fmt.Sprintf("%s%dms", sign, d)
	}
	if d < msPerMinute {
		return fmt.Sprintf("%s%ds", sign, d/msPerSecond)
	}

	units := []struct {
		size   TimeDelta
		suffix string
	}{
		{msPerDay, "d"},
		{msPerHour, "h"},
		{msPerMinute, "m"},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		if n := d / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			d -= n * u.size
		}
	}
	return sign + strings.Join(parts, " ")
}
