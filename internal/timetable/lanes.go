package timetable

// CrossAxisBuilder hands out cross-axis lanes for half-open integer
// intervals submitted in non-decreasing start order. Each claim gets the
// lowest lane that is free across its whole span; a new lane is opened only
// when every existing lane is busy somewhere in that span.
//
// A builder is scratch state for one allocation pass and is not safe for
// concurrent use.
type CrossAxisBuilder struct {
	// occupancy maps a main-axis unit to the set of lanes claimed there.
	occupancy map[int]map[int]struct{}
	lanes     int
}

func NewCrossAxisBuilder() *CrossAxisBuilder {
	return &CrossAxisBuilder{
		occupancy: make(map[int]map[int]struct{}),
	}
}

// Lanes returns the number of lanes handed out so far.
func (b *CrossAxisBuilder) Lanes() int {
	return b.lanes
}

// Allocate claims [start, end) and returns the chosen lane.
//
// A zero-width claim occupies no units. It takes the lowest lane free at
// start; when every open lane is busy there it shares lane 0 rather than
// opening a new one, since it overlaps nothing.
func (b *CrossAxisBuilder) Allocate(start, end int) int {
	probeEnd := end
	if probeEnd <= start {
		probeEnd = start + 1
	}

	busy := make(map[int]struct{})
	for u := start; u < probeEnd; u++ {
		for lane := range b.occupancy[u] {
			busy[lane] = struct{}{}
		}
	}

	lane := 0
	for lane < b.lanes {
		if _, ok := busy[lane]; !ok {
			break
		}
		lane++
	}
	if lane == b.lanes {
		if end <= start && b.lanes > 0 {
			return 0
		}
		b.lanes++
	}

	for u := start; u < end; u++ {
		set, ok := b.occupancy[u]
		if !ok {
			set = make(map[int]struct{})
			b.occupancy[u] = set
		}
		set[lane] = struct{}{}
	}
	return lane
}
