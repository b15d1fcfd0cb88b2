package ics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daygrid/internal/ics"
)

const weeklyICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//daygrid//test//EN
BEGIN:VEVENT
UID:standup@example.com
SUMMARY:Standup
DTSTART:20240304T090000Z
DTEND:20240304T100000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20240311T090000Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
SUMMARY:Standup (moved)
RECURRENCE-ID:20240318T090000Z
DTSTART:20240318T110000Z
DTEND:20240318T120000Z
END:VEVENT
BEGIN:VEVENT
UID:review@example.com
SUMMARY:Review
DTSTART:20240305T093000Z
DTEND:20240305T103000Z
END:VEVENT
BEGIN:VEVENT
UID:holiday@example.com
SUMMARY:Holiday
DTSTART;VALUE=DATE:20240306
DTEND;VALUE=DATE:20240307
END:VEVENT
BEGIN:VEVENT
SUMMARY:No UID
DTSTART:20240305T093000Z
DTEND:20240305T103000Z
END:VEVENT
END:VCALENDAR
`

var src = ics.Source{ID: "work", URL: "https://example.com/work.ics"}

func TestParseICS(t *testing.T) {
	events, err := ics.ParseReader(src, strings.NewReader(weeklyICS))
	require.NoError(t, err)

	// The VEVENT without UID is skipped.
	require.Len(t, events, 4)

	byUID := map[string][]ics.ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}

	standup := byUID["standup@example.com"]
	require.Len(t, standup, 2)
	base, override := standup[0], standup[1]
	if base.IsOverride {
		base, override = override, base
	}
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", base.RawRRule)
	require.Len(t, base.ExDates, 1)
	assert.True(t, base.ExDates[0].Equal(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)))
	assert.True(t, override.IsOverride)
	assert.True(t, override.Recurrence.Equal(time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)))

	holiday := byUID["holiday@example.com"][0]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, 24*time.Hour, holiday.End.Sub(holiday.Start))

	_, err = ics.ParseICS(src, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ics.ParseICS(src, []byte(weeklyICS))
	require.NoError(t, err)

	res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var standups []time.Time
	for _, occ := range res.Occurrences {
		assert.Equal(t, "work", occ.SourceID)
		if occ.UID == "standup@example.com" {
			standups = append(standups, occ.Start)
		}
	}
	assert.Equal(t, []time.Time{
		time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 18, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 25, 9, 0, 0, 0, time.UTC),
	}, standups)
	assert.Len(t, res.Occurrences, 5)

	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start))
	}

	t.Run("cap", func(t *testing.T) {
		res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
			DisplayLocation:        time.UTC,
			RangeStart:             time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			RangeEnd:               time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			MaxOccurrencesPerEvent: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"standup@example.com"}, res.TruncatedEvents)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
			RangeStart: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			RangeEnd:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		assert.Error(t, err)
	})
}

func TestFetcher(t *testing.T) {
	var (
		hits   atomic.Int32
		broken atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.ics" {
			http.NotFound(w, r)
			return
		}
		if broken.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(weeklyICS))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := ics.NewFetcher(t.TempDir(), ics.WithHTTPClient(srv.Client()), ics.WithParallelism(2))
	good := ics.Source{ID: "good", URL: srv.URL + "/cal.ics"}
	missing := ics.Source{ID: "missing", URL: srv.URL + "/missing.ics"}

	first, err := f.FetchOne(ctx, good)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, weeklyICS, string(first.Body))

	second, err := f.FetchOne(ctx, good)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	broken.Store(true)
	third, err := f.FetchOne(ctx, good)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	broken.Store(false)

	results, errs := f.FetchAll(ctx, []ics.Source{missing, good, {ID: "empty"}})
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Source.ID)
	assert.Len(t, errs, 2)
	assert.EqualValues(t, 5, hits.Load())
}
