package model

import "time"

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization). It is the item
// type the day grid lays out.
type Occurrence struct {
	SourceID string // calendar source ID, or "static" for config items
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// Interval makes Occurrence a timetable.Item.
func (o Occurrence) Interval() (time.Time, time.Time) {
	return o.Start, o.End
}

// Label is the text drawn on the grid.
func (o Occurrence) Label() string {
	if o.Summary != "" {
		return o.Summary
	}
	return o.UID
}
