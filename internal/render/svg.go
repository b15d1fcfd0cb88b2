// Package render draws scaled day layouts as standalone SVG documents.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"daygrid/internal/chrono"
	"daygrid/internal/model"
	"daygrid/internal/timetable"
)

// Colors of the drawing, as SVG paint values.
type Colors struct {
	Background string
	Grid       string
	Item       string
	ItemStroke string
	Text       string
}

// Options controls the look of the SVG. Zero fields take DefaultOptions.
type Options struct {
	// Gutter is reserved along the time axis edge for hour labels.
	Gutter     float64
	FontFamily string
	FontSize   float64
	Colors     Colors
	// Now anchors the relative date format of item tooltips.
	Now time.Time
}

// DefaultOptions returns the stock palette.
func DefaultOptions() Options {
	return Options{
		Gutter:     48,
		FontFamily: "sans-serif",
		FontSize:   12,
		Colors: Colors{
			Background: "#ffffff",
			Grid:       "#e0e0e0",
			Item:       "#cfe3ff",
			ItemStroke: "#3a78c2",
			Text:       "#1a1a1a",
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Gutter <= 0 {
		o.Gutter = d.Gutter
	}
	if o.FontFamily == "" {
		o.FontFamily = d.FontFamily
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.Colors.Background == "" {
		o.Colors.Background = d.Colors.Background
	}
	if o.Colors.Grid == "" {
		o.Colors.Grid = d.Colors.Grid
	}
	if o.Colors.Item == "" {
		o.Colors.Item = d.Colors.Item
	}
	if o.Colors.ItemStroke == "" {
		o.Colors.ItemStroke = d.Colors.ItemStroke
	}
	if o.Colors.Text == "" {
		o.Colors.Text = d.Colors.Text
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// SVG writes sm as an SVG document. The root element carries
// data-ready="true" so headless capture can wait on it.
func SVG(w io.Writer, sm timetable.ScaledModel[model.Occurrence], opts Options) error {
	opts = opts.withDefaults()
	vertical := sm.Orientation == timetable.Vertical

	// The gutter sits left of a vertical day and above a horizontal one.
	width, height := sm.Width, sm.Height
	dx, dy := 0.0, 0.0
	if vertical {
		width += opts.Gutter
		dx = opts.Gutter
	} else {
		height += opts.Gutter
		dy = opts.Gutter
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s" data-ready="true">
<rect width="100%%" height="100%%" fill="%s"/>
<style>
.hour { font-family: %s; font-size: %spx; fill: %s; }
.label { font-family: %s; font-size: %spx; fill: %s; }
</style>
`, num(width), num(height), num(width), num(height), opts.Colors.Background,
		escapeXML(opts.FontFamily), num(opts.FontSize-2), opts.Colors.Text,
		escapeXML(opts.FontFamily), num(opts.FontSize), opts.Colors.Text)

	writeHourGrid(&b, sm, opts, width, height, dx, dy)

	for i, it := range sm.Items {
		r := it.Rect
		x, y := r.Left+dx, r.Top+dy
		label := it.Item.Label()
		from, to := it.Item.Interval()

		fmt.Fprintf(&b, `<g class="item" data-uid="%s">
<title>%s</title>
<clipPath id="clip-%d"><rect x="%s" y="%s" width="%s" height="%s"/></clipPath>
<rect x="%s" y="%s" width="%s" height="%s" rx="2" fill="%s" stroke="%s"/>
<text class="label" x="%s" y="%s" clip-path="url(#clip-%d)">%s</text>
</g>
`, escapeXML(it.Item.UID),
			escapeXML(label+" "+chrono.SmartFormatRange(from, to, opts.Now)),
			i, num(x), num(y), num(r.Width), num(r.Height),
			num(x), num(y), num(r.Width), num(r.Height), opts.Colors.Item, opts.Colors.ItemStroke,
			num(x+3), num(y+opts.FontSize+1), i, escapeXML(label))
	}

	b.WriteString("</svg>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// writeHourGrid draws a line and an "HH:MM" label at every whole hour of
// the model window.
func writeHourGrid(b *strings.Builder, sm timetable.ScaledModel[model.Occurrence], opts Options, width, height, dx, dy float64) {
	m := sm.Model
	if m.Step <= 0 || m.Begin.IsZero() {
		return
	}
	timeSize := 0.0
	if span := m.MaxTime - m.MinTime; span > 0 {
		if sm.Orientation == timetable.Vertical {
			timeSize = sm.Height / float64(span)
		} else {
			timeSize = sm.Width / float64(span)
		}
	}

	yr, mo, d := m.Begin.Date()
	first := time.Date(yr, mo, d, m.Begin.Hour(), 0, 0, 0, m.Begin.Location())
	if first.Before(m.Begin) {
		first = first.Add(time.Hour)
	}
	for t := first; !t.After(m.End); t = t.Add(time.Hour) {
		pos := float64(chrono.Between(m.Begin, t)) / float64(m.Step) * timeSize
		label := t.Format("15:04")
		if sm.Orientation == timetable.Vertical {
			y := pos + dy
			fmt.Fprintf(b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"/>`+"\n",
				num(dx), num(y), num(width), num(y), opts.Colors.Grid)
			fmt.Fprintf(b, `<text class="hour" x="2" y="%s">%s</text>`+"\n", num(y+opts.FontSize), label)
		} else {
			x := pos + dx
			fmt.Fprintf(b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"/>`+"\n",
				num(x), num(dy), num(x), num(height), opts.Colors.Grid)
			fmt.Fprintf(b, `<text class="hour" x="%s" y="%s">%s</text>`+"\n", num(x+2), num(opts.FontSize), label)
		}
	}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
