// Package agenda keeps the current set of occurrences (ICS feeds plus
// static config items) and lays out single days from it.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"daygrid/internal/chrono"
	"daygrid/internal/config"
	"daygrid/internal/ics"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/model"
	"daygrid/internal/timetable"
)

// StaticSourceID is the SourceID of occurrences built from config items.
const StaticSourceID = "static"

const backfillDays = 1

// ErrAllSourcesFailed is returned by Refresh when no configured ICS source
// produced a body. The previous snapshot is kept.
var ErrAllSourcesFailed = errors.New("agenda: all ICS sources failed")

// Snapshot is an immutable view of the agenda at UpdatedAt. Occurrences
// holds every occurrence; the layout table leaves out all-day ones unless
// configured otherwise.
type Snapshot struct {
	Occurrences []model.Occurrence
	Truncated   []string
	RangeStart  time.Time
	RangeEnd    time.Time
	UpdatedAt   time.Time
	FetchErrors int

	table *timetable.Table[model.Occurrence]
}

// LayoutOptions selects the step and scale of a scaled day. A zero Step
// uses the configured layout step.
type LayoutOptions struct {
	Step  chrono.TimeDelta
	Scale timetable.Scale
}

// Service refreshes and serves the agenda. It is safe for concurrent use.
type Service struct {
	cfg     *config.Config
	loc     *time.Location
	step    chrono.TimeDelta
	fetcher *ics.Fetcher
	metrics *metrics.Metrics
	now     func() time.Time

	refreshMu sync.Mutex // serializes Refresh

	mu       sync.RWMutex
	snapshot Snapshot
}

// Option customizes a Service.
type Option func(*Service)

// WithFetcher replaces the default fetcher rooted at cfg.CacheDir.
func WithFetcher(f *ics.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithMetrics records refresh and layout metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service from a normalized config. The initial snapshot
// holds only the static items; call Refresh to pull the ICS feeds.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("agenda: config is nil")
	}
	step, err := cfg.Layout.StepDelta()
	if err != nil {
		return nil, fmt.Errorf("agenda: %w", err)
	}

	s := &Service{
		cfg:  cfg,
		loc:  cfg.Location(),
		step: step,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = ics.NewFetcher(cfg.CacheDir)
	}

	static, err := s.staticOccurrences()
	if err != nil {
		return nil, err
	}
	start, end := s.window()
	snap, err := s.buildSnapshot(static, nil, start, end)
	if err != nil {
		return nil, err
	}
	s.snapshot = snap
	return s, nil
}

// Location is the display timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Step is the configured layout step.
func (s *Service) Step() chrono.TimeDelta {
	return s.step
}

// Refresh fetches, parses and expands every ICS source over
// [today - 1d, today + horizon] and swaps in a new snapshot. Sources that
// fail are logged and skipped; only when every source fails is an error
// returned.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start, end := s.window()
	sources := s.sources()

	results, fetchErrs := s.fetcher.FetchAll(ctx, sources)
	if len(sources) > 0 && len(results) == 0 {
		s.metrics.ObserveRefresh("failed", len(fetchErrs), len(s.Snapshot().Occurrences))
		return fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(fetchErrs...))
	}

	parsed := make([]ics.ParsedEvent, 0)
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			fetchErrs = append(fetchErrs, fmt.Errorf("agenda: parse %s: %w", res.Source.ID, err))
			continue
		}
		parsed = append(parsed, events...)
	}

	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return fmt.Errorf("agenda: expand: %w", err)
	}

	static, err := s.staticOccurrences()
	if err != nil {
		return err
	}
	occurrences := append(expanded.Occurrences, static...)

	snap, err := s.buildSnapshot(occurrences, expanded.TruncatedEvents, start, end)
	if err != nil {
		return err
	}
	snap.FetchErrors = len(fetchErrs)

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	result := "ok"
	if len(fetchErrs) > 0 {
		result = "partial"
	}
	s.metrics.ObserveRefresh(result, len(fetchErrs), len(snap.Occurrences))
	appLog.Info("agenda refreshed",
		"result", result,
		"sources", len(sources),
		"occurrences", len(snap.Occurrences),
		"truncated", len(snap.Truncated),
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
	)
	return nil
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Occurrences returns every occurrence of the current snapshot, all-day
// ones included, sorted by start.
func (s *Service) Occurrences() []model.Occurrence {
	return slices.Clone(s.Snapshot().Occurrences)
}

// Day lays out the calendar date of day in the display timezone. All-day
// occurrences are left out unless the layout config includes them.
func (s *Service) Day(day time.Time, step chrono.TimeDelta) (timetable.Model[model.Occurrence], error) {
	dm, err := s.layout(day, step)
	if err != nil {
		return timetable.Model[model.Occurrence]{}, err
	}
	s.metrics.ObserveLayout("day", dm.MaxCross)
	return dm, nil
}

// ScaledDay lays out day and scales it for drawing. It records one
// "scaled" layout, not an extra "day" one.
func (s *Service) ScaledDay(day time.Time, opts LayoutOptions) (timetable.ScaledModel[model.Occurrence], error) {
	if _, err := timetable.ParseOrientation(string(opts.Scale.Orientation)); err != nil {
		return timetable.ScaledModel[model.Occurrence]{}, err
	}
	dm, err := s.layout(day, opts.Step)
	if err != nil {
		return timetable.ScaledModel[model.Occurrence]{}, err
	}
	s.metrics.ObserveLayout("scaled", dm.MaxCross)
	return timetable.ScaleModel(dm, opts.Scale), nil
}

func (s *Service) layout(day time.Time, step chrono.TimeDelta) (timetable.Model[model.Occurrence], error) {
	if step == 0 {
		step = s.step
	}
	y, m, d := day.Date()
	local := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	return s.Snapshot().table.DayModel(local, step)
}

func (s *Service) window() (time.Time, time.Time) {
	today := chrono.StartOfDay(s.now().In(s.loc))
	return today.AddDate(0, 0, -backfillDays), today.AddDate(0, 0, s.cfg.HorizonDays+1)
}

func (s *Service) sources() []ics.Source {
	sources := make([]ics.Source, 0, len(s.cfg.ICS))
	for _, c := range s.cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = c.URL
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}
	return sources
}

func (s *Service) staticOccurrences() ([]model.Occurrence, error) {
	out := make([]model.Occurrence, 0, len(s.cfg.Items))
	for i, it := range s.cfg.Items {
		from, to, err := it.Interval()
		if err != nil {
			return nil, err
		}
		from, to = from.In(s.loc), to.In(s.loc)
		out = append(out, model.Occurrence{
			SourceID:    StaticSourceID,
			UID:         "static-" + strconv.Itoa(i),
			InstanceKey: from.Format(time.RFC3339Nano),
			Summary:     it.Label,
			Start:       from,
			End:         to,
		})
	}
	return out, nil
}

func (s *Service) buildSnapshot(occurrences []model.Occurrence, truncated []string, start, end time.Time) (Snapshot, error) {
	all, err := timetable.New(occurrences)
	if err != nil {
		return Snapshot{}, fmt.Errorf("agenda: %w", err)
	}
	occurrences = all.Items()

	visible := occurrences
	if !s.cfg.Layout.IncludeAllDay {
		visible = make([]model.Occurrence, 0, len(occurrences))
		for _, o := range occurrences {
			if !o.AllDay {
				visible = append(visible, o)
			}
		}
	}
	table, err := timetable.New(visible)
	if err != nil {
		return Snapshot{}, fmt.Errorf("agenda: %w", err)
	}
	return Snapshot{
		Occurrences: occurrences,
		Truncated:   truncated,
		RangeStart:  start,
		RangeEnd:    end,
		UpdatedAt:   s.now(),
		table:       table,
	}, nil
}
