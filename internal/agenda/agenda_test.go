package agenda_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daygrid/internal/agenda"
	"daygrid/internal/chrono"
	"daygrid/internal/config"
	"daygrid/internal/ics"
	"daygrid/internal/metrics"
	"daygrid/internal/timetable"
)

const dayICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//daygrid//test//EN
BEGIN:VEVENT
UID:a@example.com
SUMMARY:Design review
DTSTART:20240305T090000Z
DTEND:20240305T100000Z
END:VEVENT
BEGIN:VEVENT
UID:b@example.com
SUMMARY:Interview
DTSTART:20240305T093000Z
DTEND:20240305T103000Z
END:VEVENT
BEGIN:VEVENT
UID:holiday@example.com
SUMMARY:Holiday
DTSTART;VALUE=DATE:20240305
DTEND;VALUE=DATE:20240306
END:VEVENT
END:VCALENDAR
`

var now = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func feed(t *testing.T, down *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down != nil && down.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(dayICS))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newConfig(t *testing.T, urls ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	for i, u := range urls {
		cfg.ICS = append(cfg.ICS, config.ICSConfig{ID: "feed-" + string(rune('a'+i)), URL: u})
	}
	cfg.Items = []config.ItemConfig{
		{Label: "Lunch", From: "2024-03-05T11:00:00Z", To: "2024-03-05T12:00:00Z"},
	}
	return cfg
}

func TestStaticItemsBeforeRefresh(t *testing.T) {
	svc, err := agenda.New(newConfig(t), agenda.WithClock(clock))
	require.NoError(t, err)

	snap := svc.Snapshot()
	require.Len(t, snap.Occurrences, 1)
	assert.Equal(t, agenda.StaticSourceID, snap.Occurrences[0].SourceID)
	assert.Equal(t, "static-0", snap.Occurrences[0].UID)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), snap.RangeStart)
	assert.Equal(t, time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), snap.RangeEnd)

	dm, err := svc.Day(now, 0)
	require.NoError(t, err)
	assert.Equal(t, chrono.Minutes(15), dm.Step)
	assert.Equal(t, 96, dm.MaxTime)
	require.Len(t, dm.Items, 1)
	assert.Equal(t, 44, dm.Items[0].BeginTime)
	assert.Equal(t, 48, dm.Items[0].EndTime)
}

func TestRefresh(t *testing.T) {
	srv := feed(t, nil)
	m := metrics.New()

	svc, err := agenda.New(newConfig(t, srv.URL+"/cal.ics"),
		agenda.WithClock(clock),
		agenda.WithMetrics(m),
		agenda.WithFetcher(ics.NewFetcher(t.TempDir(), ics.WithHTTPClient(srv.Client()))),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Refresh(context.Background()))

	all := svc.Occurrences()
	require.Len(t, all, 4)
	assert.True(t, all[0].AllDay)

	dm, err := svc.Day(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), chrono.Hours(1))
	require.NoError(t, err)
	assert.Equal(t, 24, dm.MaxTime)
	assert.Equal(t, 2, dm.MaxCross)

	got := map[string][2]int{}
	for _, r := range dm.Items {
		got[r.Item.Label()] = [2]int{r.BeginTime, r.BeginCross}
	}
	assert.Equal(t, map[string][2]int{
		"Design review": {9, 0},
		"Interview":     {9, 1},
		"Lunch":         {11, 0},
	}, got)

	empty, err := svc.Day(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 0, empty.MaxCross)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Occurrences))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Layouts.WithLabelValues("day")))
}

func TestRefreshIncludeAllDay(t *testing.T) {
	srv := feed(t, nil)
	cfg := newConfig(t, srv.URL)
	cfg.Layout.IncludeAllDay = true

	svc, err := agenda.New(cfg, agenda.WithClock(clock),
		agenda.WithFetcher(ics.NewFetcher(t.TempDir(), ics.WithHTTPClient(srv.Client()))))
	require.NoError(t, err)
	require.NoError(t, svc.Refresh(context.Background()))

	dm, err := svc.Day(now, chrono.Hours(1))
	require.NoError(t, err)
	assert.Equal(t, 3, dm.MaxCross)
	require.Len(t, dm.Items, 4)
	assert.Equal(t, "Holiday", dm.Items[0].Item.Label())
	assert.Equal(t, 0, dm.Items[0].BeginCross)
	assert.Equal(t, 24, dm.Items[0].EndTime)
}

func TestRefreshAllSourcesFailed(t *testing.T) {
	var down atomic.Bool
	srv := feed(t, &down)
	m := metrics.New()

	svc, err := agenda.New(newConfig(t, srv.URL+"/x.ics"), agenda.WithClock(clock), agenda.WithMetrics(m),
		agenda.WithFetcher(ics.NewFetcher(t.TempDir(), ics.WithHTTPClient(srv.Client()))))
	require.NoError(t, err)
	require.NoError(t, svc.Refresh(context.Background()))

	down.Store(true)
	other, err := agenda.New(newConfig(t, srv.URL+"/x.ics"), agenda.WithClock(clock), agenda.WithMetrics(m),
		agenda.WithFetcher(ics.NewFetcher(t.TempDir(), ics.WithHTTPClient(srv.Client()))))
	require.NoError(t, err)

	err = other.Refresh(context.Background())
	require.ErrorIs(t, err, agenda.ErrAllSourcesFailed)
	assert.Len(t, other.Occurrences(), 1, "previous snapshot is kept")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("failed")))

	// A warm cache on disk survives the outage.
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Len(t, svc.Occurrences(), 4)
}

func TestScaledDay(t *testing.T) {
	m := metrics.New()
	svc, err := agenda.New(newConfig(t), agenda.WithClock(clock), agenda.WithMetrics(m))
	require.NoError(t, err)

	sm, err := svc.ScaledDay(now, agenda.LayoutOptions{
		Step:  chrono.Hours(1),
		Scale: timetable.Scale{Orientation: timetable.Vertical, TimeSize: 10, CrossSize: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, sm.Width)
	assert.Equal(t, 240.0, sm.Height)
	require.Len(t, sm.Items, 1)
	assert.Equal(t, timetable.Rect{Left: 0, Top: 110, Width: 100, Height: 10}, sm.Items[0].Rect)

	// One scaled layout is one observation.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Layouts.WithLabelValues("scaled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Layouts.WithLabelValues("day")))

	var lanes dto.Metric
	require.NoError(t, m.Lanes.Write(&lanes))
	assert.Equal(t, uint64(1), lanes.GetHistogram().GetSampleCount())

	_, err = svc.ScaledDay(now, agenda.LayoutOptions{Scale: timetable.Scale{Orientation: "diagonal"}})
	assert.ErrorIs(t, err, timetable.ErrOrientation)

	_, err = svc.Day(now, -chrono.Minutes(5))
	assert.ErrorIs(t, err, timetable.ErrStep)
}

func TestScheduler(t *testing.T) {
	svc, err := agenda.New(newConfig(t), agenda.WithClock(clock))
	require.NoError(t, err)

	_, err = agenda.NewScheduler(svc, "every tuesday", time.UTC)
	assert.Error(t, err)

	var calls atomic.Int32
	s, err := agenda.NewScheduler(svc, "*/5 * * * *", nil, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 1, calls.Load())

	s.Start()
	assert.False(t, s.Next().IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
