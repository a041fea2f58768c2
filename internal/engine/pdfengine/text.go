package pdfengine

import (
	"math"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// gapFactor is the largest horizontal gap, as a fraction of the font size,
// that still joins two glyphs into one run.
const gapFactor = 0.25

// groupRuns merges glyphs that share a baseline and font and follow each
// other closely into text items. Coordinates stay in PDF user space.
func groupRuns(glyphs []pdf.Text) []engine.TextItem {
	items := make([]engine.TextItem, 0)

	var (
		cur   strings.Builder
		start pdf.Text
		end   float64
		open  bool
	)
	flush := func() {
		if !open {
			return
		}
		size := start.FontSize
		if size == 0 {
			size = 12
		}
		items = append(items, engine.TextItem{
			Str:       cur.String(),
			Dir:       "ltr",
			Width:     end - start.X,
			Height:    size,
			Transform: [6]float64{size, 0, 0, size, start.X, start.Y},
			FontName:  start.Font,
		})
		cur.Reset()
		open = false
	}

	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		if open {
			gap := g.X - end
			sameLine := math.Abs(g.Y-start.Y) < 0.5 && g.Font == start.Font
			if !sameLine || gap > gapFactor*math.Max(start.FontSize, 1) || gap < -math.Max(start.FontSize, 1) {
				flush()
			}
		}
		if !open {
			start = g
			end = g.X
			open = true
		}
		cur.WriteString(g.S)
		end = math.Max(end, g.X+g.W)
	}
	flush()
	return items
}

// selection collects the runs whose boxes intersect rect, a page-relative
// box with a top-left origin, returning their text and normalized boxes.
func selection(items []engine.TextItem, dims engine.Dimensions, rect engine.Rect) *engine.TextSelection {
	if dims.IsZero() || len(items) == 0 {
		return nil
	}

	var (
		parts []string
		rects []engine.Rect
	)
	for _, it := range items {
		box := itemRect(it, dims)
		if !intersects(box, rect) {
			continue
		}
		parts = append(parts, it.Str)
		rects = append(rects, box)
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return nil
	}
	return &engine.TextSelection{Text: text, Rects: rects}
}

// itemRect converts a run into a normalized top-left box.
func itemRect(it engine.TextItem, dims engine.Dimensions) engine.Rect {
	x, baseline := it.Transform[4], it.Transform[5]
	top := dims.Height - baseline - it.Height
	return engine.Rect{
		X:      clamp01(x / dims.Width),
		Y:      clamp01(top / dims.Height),
		Width:  clamp01(it.Width / dims.Width),
		Height: clamp01(it.Height / dims.Height),
	}
}

func intersects(a, b engine.Rect) bool {
	return a.X <= b.X+b.Width && b.X <= a.X+a.Width &&
		a.Y <= b.Y+b.Height && b.Y <= a.Y+a.Height
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
