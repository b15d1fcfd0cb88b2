package chrono

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrStep reports an unparsable step literal.
var ErrStep = errors.New("chrono: invalid step")

var stepPattern = regexp.MustCompile(`^(\d+)(min|h)$`)

// ParseStep parses a quantization step such as "1min", "15min" or "1h".
// Unlike a permissive parser it never falls back to a default: anything
// that is not a positive "<N>min" or "<N>h" literal is ErrStep.
func ParseStep(s string) (TimeDelta, error) {
	m := stepPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrStep, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrStep, s)
	}
	if m[2] == "h" {
		return Hours(n), nil
	}
	return Minutes(n), nil
}

// FormatStep renders a step the way ParseStep reads it. Whole hours use
// the "h" suffix.
func FormatStep(d TimeDelta) string {
	if d > 0 && d%msPerHour == 0 {
		return fmt.Sprintf("%dh", d/msPerHour)
	}
	return fmt.Sprintf("%dmin", d/msPerMinute)
}
