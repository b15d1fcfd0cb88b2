// Package timetable lays out time-bounded items on a day or multi-day grid.
//
// Items are sorted once by start time when the Table is built. Every model
// request then quantizes item bounds into step units relative to a window,
// assigns lanes with a CrossAxisBuilder and returns plain geometry. Nothing
// is cached between requests, so a Table can be shared between goroutines.
package timetable

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"daygrid/internal/chrono"
)

var (
	ErrInvertedItem = errors.New("timetable: item ends before it starts")
	ErrStep         = errors.New("timetable: step must be positive")
	ErrWindow       = errors.New("timetable: window ends before it begins")
)

// DefaultStep is used when Options.Step is zero.
var DefaultStep = chrono.Minutes(1)

// Item is anything with a closed time interval. Recurring items must be
// expanded into concrete intervals before they reach a Table.
type Item interface {
	Interval() (from, to time.Time)
}

// Entry is the stock Item: a label and its interval.
type Entry struct {
	Label string    `json:"label"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

func (e Entry) Interval() (time.Time, time.Time) {
	return e.From, e.To
}

// Table holds items sorted by start time. It is immutable after New.
type Table[T Item] struct {
	items []T
}

// New sorts a copy of data by start time, keeping the input order for
// equal starts. Items whose end precedes their start are rejected.
func New[T Item](data []T) (*Table[T], error) {
	items := slices.Clone(data)
	for i, it := range items {
		from, to := it.Interval()
		if to.Before(from) {
			return nil, fmt.Errorf("%w: item %d (%s > %s)", ErrInvertedItem, i, from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
	}
	slices.SortStableFunc(items, func(a, b T) int {
		af, _ := a.Interval()
		bf, _ := b.Interval()
		return af.Compare(bf)
	})
	return &Table[T]{items: items}, nil
}

// Items returns the sorted items.
func (t *Table[T]) Items() []T {
	return slices.Clone(t.items)
}

func (t *Table[T]) Len() int {
	return len(t.items)
}

// Options selects the quantization step and the window. A zero Begin or
// End falls back to the earliest start or latest end of the items.
type Options struct {
	Step  chrono.TimeDelta
	Begin time.Time
	End   time.Time
}

// Render is an item placed on the grid. Time coordinates are step units
// from the window start and may be negative or exceed MaxTime for items
// that straddle the window. EndCross is always BeginCross + 1.
type Render[T Item] struct {
	Item       T   `json:"item"`
	BeginTime  int `json:"begin_time"`
	EndTime    int `json:"end_time"`
	BeginCross int `json:"begin_cross"`
	EndCross   int `json:"end_cross"`
}

// Model is unscaled layout geometry for one window.
type Model[T Item] struct {
	Items    []Render[T]
	MinTime  int
	MaxTime  int
	MinCross int
	MaxCross int

	Begin time.Time
	End   time.Time
	Step  chrono.TimeDelta
}

// CoreModel lays out every item against opts.
func (t *Table[T]) CoreModel(opts Options) (Model[T], error) {
	return layout(t.items, opts)
}

// DayModel lays out the items that touch day's calendar date, using that
// day as the window. Items crossing midnight are kept whole.
func (t *Table[T]) DayModel(day time.Time, step chrono.TimeDelta) (Model[T], error) {
	start := chrono.StartOfDay(day)
	end := chrono.EndOfDayOf(day)

	items := make([]T, 0, len(t.items))
	for _, it := range t.items {
		from, to := it.Interval()
		if !to.Before(start) && !from.After(end) {
			items = append(items, it)
		}
	}
	return layout(items, Options{Step: step, Begin: start, End: end})
}

func layout[T Item](items []T, opts Options) (Model[T], error) {
	step := opts.Step
	if step == 0 {
		step = DefaultStep
	}
	if step < 0 {
		return Model[T]{}, fmt.Errorf("%w: %s", ErrStep, chrono.FormatTimeDelta(step))
	}

	begin, end := opts.Begin, opts.End
	if begin.IsZero() || end.IsZero() {
		first, last := bounds(items)
		if begin.IsZero() {
			begin = first
		}
		if end.IsZero() {
			end = last
		}
	}
	if end.Before(begin) {
		return Model[T]{}, fmt.Errorf("%w: %s > %s", ErrWindow, begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	lanes := NewCrossAxisBuilder()
	out := make([]Render[T], 0, len(items))
	for _, it := range items {
		from, to := it.Interval()
		bt := floorDiv(chrono.Between(begin, from), step)
		et := floorDiv(chrono.Between(begin, to), step)
		lane := lanes.Allocate(bt, et)
		out = append(out, Render[T]{
			Item:       it,
			BeginTime:  bt,
			EndTime:    et,
			BeginCross: lane,
			EndCross:   lane + 1,
		})
	}

	return Model[T]{
		Items:    out,
		MinTime:  0,
		MaxTime:  ceilDiv(chrono.Between(begin, end), step),
		MinCross: 0,
		MaxCross: lanes.Lanes(),
		Begin:    begin,
		End:      end,
		Step:     step,
	}, nil
}

func bounds[T Item](items []T) (first, last time.Time) {
	for i, it := range items {
		from, to := it.Interval()
		if i == 0 || from.Before(first) {
			first = from
		}
		if i == 0 || to.After(last) {
			last = to
		}
	}
	return first, last
}

func floorDiv(d, step chrono.TimeDelta) int {
	q := d / step
	if d%step != 0 && d < 0 {
		q--
	}
	return int(q)
}

func ceilDiv(d, step chrono.TimeDelta) int {
	q := d / step
	if d%step != 0 && d > 0 {
		q++
	}
	return int(q)
}
