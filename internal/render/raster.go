// Package render paints page frames for render targets and coordinates
// in-flight renders so that a superseded render never reaches its target.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"unicode/utf8"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// Run is a line of text placed at a baseline in page space (top-left
// origin, unscaled units).
type Run struct {
	Text string
	X    float64
	Y    float64
}

// Page describes one frame to paint.
type Page struct {
	Width  float64
	Height float64
	Runs   []Run
}

// Options control scaling and the look of a frame.
type Options struct {
	Scale       float64
	Rotation    int
	Transparent bool
	Background  color.Color
	Ink         color.Color
}

// Default margins and metrics for flowed text.
const (
	Margin     = 24.0
	LineHeight = 16.0
)

var face = basicfont.Face7x13

// Rasterize paints p at its natural size, then scales and rotates the
// result.
func Rasterize(p Page, opts Options) *image.RGBA {
	w := max(1, int(math.Ceil(p.Width)))
	h := max(1, int(math.Ceil(p.Height)))
	base := image.NewRGBA(image.Rect(0, 0, w, h))

	if !opts.Transparent {
		bg := opts.Background
		if bg == nil {
			bg = color.White
		}
		draw.Draw(base, base.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	ink := opts.Ink
	if ink == nil {
		ink = color.Black
	}
	d := &font.Drawer{Dst: base, Src: image.NewUniform(ink), Face: face}
	for _, r := range p.Runs {
		if r.Text == "" {
			continue
		}
		d.Dot = fixed.P(int(math.Round(r.X)), int(math.Round(r.Y)))
		d.DrawString(r.Text)
	}

	out := scale(base, opts.Scale)
	return rotate(out, opts.Rotation)
}

func scale(src *image.RGBA, s float64) *image.RGBA {
	if s <= 0 || s == 1 {
		return src
	}
	b := src.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*s)))
	h := max(1, int(math.Round(float64(b.Dy())*s)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

func rotate(src *image.RGBA, deg int) *image.RGBA {
	deg = engine.NormalizeRotation(deg)
	if deg == 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if deg == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			switch deg {
			case 90:
				dst.SetRGBA(h-1-y, x, c)
			case 180:
				dst.SetRGBA(w-1-x, h-1-y, c)
			case 270:
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return dst
}

// CharsPerLine returns how many glyphs fit across width after margins.
func CharsPerLine(width float64) int {
	n := int((width - 2*Margin) / float64(face.Advance))
	return max(1, n)
}

// FlowText wraps text into runs filling a page of the given size. Words
// longer than a line are split. Text past the bottom margin is dropped.
func FlowText(text string, width, height float64) []Run {
	perLine := CharsPerLine(width)
	maxLines := max(1, int((height-2*Margin)/LineHeight))

	var runs []Run
	y := Margin + float64(face.Ascent)
	for _, para := range strings.Split(text, "\n") {
		for _, line := range wrap(para, perLine) {
			if len(runs) >= maxLines {
				return runs
			}
			runs = append(runs, Run{Text: line, X: Margin, Y: y})
			y += LineHeight
		}
	}
	return runs
}

func wrap(para string, perLine int) []string {
	words := strings.Fields(para)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		lines = append(lines, cur.String())
		cur.Reset()
	}

	for _, w := range words {
		for utf8.RuneCountInString(w) > perLine {
			if cur.Len() > 0 {
				flush()
			}
			head, tail := splitRunes(w, perLine)
			lines = append(lines, head)
			w = tail
		}
		need := utf8.RuneCountInString(w)
		if cur.Len() > 0 {
			need += utf8.RuneCountInString(cur.String()) + 1
		}
		if need > perLine {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		flush()
	}
	return lines
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// Default size for targets that do not report one, and the smallest size
// worth remembering as a page's dimensions.
const (
	DefaultWidth  = 640
	DefaultHeight = 900
	MinWidth      = 320
	MinHeight     = 480
)

// TargetSize returns the target's pixel size, falling back to the default
// when it reports none.
func TargetSize(target engine.RenderTarget) (int, int) {
	if s, ok := target.(engine.Sizer); ok {
		w, h := s.Size()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return DefaultWidth, DefaultHeight
}

// Recordable reports whether a rendered size should be cached as the
// page's dimensions.
func Recordable(w, h int) bool {
	return w >= MinWidth && h >= MinHeight
}
