package timetable

import (
	"errors"
	"fmt"
)

var ErrOrientation = errors.New("timetable: unknown orientation")

// Orientation picks which screen axis carries time.
type Orientation string

const (
	// Horizontal puts time on the x axis (a day strip).
	Horizontal Orientation = "horizontal"
	// Vertical puts time on the y axis (a day column).
	Vertical Orientation = "vertical"
)

// ParseOrientation accepts "horizontal", "vertical" or "" (horizontal).
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case "", Horizontal:
		return Horizontal, nil
	case Vertical:
		return Vertical, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrOrientation, s)
	}
}

type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Transpose swaps the axes. It is its own inverse.
func (r Rect) Transpose() Rect {
	return Rect{Left: r.Top, Top: r.Left, Width: r.Height, Height: r.Width}
}

// Scale converts units to output coordinates. TimeSize is the size of one
// step. CrossSize is the size of one lane; when CrossExtent is positive
// the lanes instead share CrossExtent evenly.
type Scale struct {
	Orientation Orientation
	TimeSize    float64
	CrossSize   float64
	CrossExtent float64
}

type ScaleOptions struct {
	Options
	Scale
}

type ScaledItem[T Item] struct {
	Render[T]
	Rect
}

// ScaledModel is oriented, scaled geometry ready to draw. Width and Height
// describe the whole canvas.
type ScaledModel[T Item] struct {
	Items       []ScaledItem[T]
	Width       float64
	Height      float64
	Orientation Orientation
	Model       Model[T]
}

// ScaledModel computes the core model and scales it.
func (t *Table[T]) ScaledModel(opts ScaleOptions) (ScaledModel[T], error) {
	o, err := ParseOrientation(string(opts.Orientation))
	if err != nil {
		return ScaledModel[T]{}, err
	}
	m, err := t.CoreModel(opts.Options)
	if err != nil {
		return ScaledModel[T]{}, err
	}
	s := opts.Scale
	s.Orientation = o
	return ScaleModel(m, s), nil
}

// ScaleModel scales any unscaled model, such as a DayModel.
func ScaleModel[T Item](m Model[T], s Scale) ScaledModel[T] {
	laneSize := s.CrossSize
	crossTotal := float64(m.MaxCross-m.MinCross) * laneSize
	if s.CrossExtent > 0 {
		crossTotal = s.CrossExtent
		if lanes := m.MaxCross - m.MinCross; lanes > 0 {
			laneSize = s.CrossExtent / float64(lanes)
		}
	}

	canvas := Rect{
		Width:  float64(m.MaxTime-m.MinTime) * s.TimeSize,
		Height: crossTotal,
	}

	items := make([]ScaledItem[T], 0, len(m.Items))
	for _, r := range m.Items {
		rect := Rect{
			Left:   float64(r.BeginTime) * s.TimeSize,
			Top:    float64(r.BeginCross) * laneSize,
			Width:  float64(r.EndTime-r.BeginTime) * s.TimeSize,
			Height: float64(r.EndCross-r.BeginCross) * laneSize,
		}
		if s.Orientation == Vertical {
			rect = rect.Transpose()
		}
		items = append(items, ScaledItem[T]{Render: r, Rect: rect})
	}

	orientation := Horizontal
	if s.Orientation == Vertical {
		orientation = Vertical
		canvas = canvas.Transpose()
	}

	return ScaledModel[T]{
		Items:       items,
		Width:       canvas.Width,
		Height:      canvas.Height,
		Orientation: orientation,
		Model:       m,
	}
}
