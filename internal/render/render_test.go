package render

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

func TestRasterize_SizeScaleRotation(t *testing.T) {
	p := Page{Width: 100, Height: 200, Runs: []Run{{Text: "hi", X: 10, Y: 20}}}

	tests := []struct {
		name  string
		opts  Options
		wantW int
		wantH int
	}{
		{"natural", Options{}, 100, 200},
		{"scaled", Options{Scale: 2}, 200, 400},
		{"rotated 90", Options{Rotation: 90}, 200, 100},
		{"rotated 180", Options{Rotation: 180}, 100, 200},
		{"scaled and rotated", Options{Scale: 0.5, Rotation: 270}, 100, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := Rasterize(p, tt.opts)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestRasterize_Background(t *testing.T) {
	img := Rasterize(Page{Width: 10, Height: 10}, Options{})
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(5, 5))

	img = Rasterize(Page{Width: 10, Height: 10}, Options{Transparent: true})
	assert.Equal(t, color.RGBA{}, img.RGBAAt(5, 5))
}

func TestRasterize_DrawsInk(t *testing.T) {
	img := Rasterize(Page{Width: 60, Height: 30, Runs: []Run{{Text: "MMMM", X: 2, Y: 20}}}, Options{})

	dark := 0
	for y := 0; y < 30; y++ {
		for x := 0; x < 60; x++ {
			if img.RGBAAt(x, y).R < 128 {
				dark++
			}
		}
	}
	assert.Greater(t, dark, 0)
}

func TestFlowText(t *testing.T) {
	runs := FlowText("alpha beta gamma\n\ndelta", 640, 900)
	require.Len(t, runs, 3)
	assert.Equal(t, "alpha beta gamma", runs[0].Text)
	assert.Equal(t, "", runs[1].Text)
	assert.Equal(t, "delta", runs[2].Text)
	assert.Less(t, runs[0].Y, runs[1].Y)

	// a narrow page forces wrapping and word splitting
	narrow := 2*Margin + 7*5
	runs = FlowText("abcdefghijkl xy", narrow, 900)
	texts := make([]string, 0, len(runs))
	for _, r := range runs {
		texts = append(texts, r.Text)
	}
	assert.Equal(t, []string{"abcde", "fghij", "kl xy"}, texts)

	// lines beyond the page are dropped
	short := FlowText("a\nb\nc\nd\ne\nf", 640, 2*Margin+2*LineHeight)
	assert.Len(t, short, 2)
}

func TestRegistry_SupersededTaskCannotPaint(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	first := r.Begin(ctx, "canvas-1")
	second := r.Begin(ctx, "canvas-1")

	err := first.Paint(func(context.Context) error {
		t.Fatal("superseded task painted")
		return nil
	})
	assert.True(t, IsSuperseded(err))
	assert.Error(t, first.Context().Err())

	painted := false
	require.NoError(t, second.Paint(func(context.Context) error {
		painted = true
		return nil
	}))
	assert.True(t, painted)
	first.Done()
	second.Done()
}

func TestRegistry_IndependentTargets(t *testing.T) {
	r := NewRegistry()
	a := r.Begin(context.Background(), "a")
	b := r.Begin(context.Background(), "b")

	assert.NoError(t, a.Paint(func(context.Context) error { return nil }))
	assert.NoError(t, b.Paint(func(context.Context) error { return nil }))
	assert.Equal(t, 2, r.Len())

	r.CancelAll()
	assert.True(t, IsSuperseded(a.Paint(func(context.Context) error { return nil })))
	assert.Zero(t, r.Len())
}

func TestRegistry_ParentCancellationIsNotSupersession(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	task := r.Begin(ctx, "x")
	cancel()

	err := task.Paint(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsSuperseded(err))
}

func TestRegistry_InFlightPaintBlocksSuccessor(t *testing.T) {
	r := NewRegistry()
	first := r.Begin(context.Background(), "t")

	var (
		order []string
		mu    sync.Mutex
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = first.Paint(func(context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			record("first")
			return nil
		})
	}()

	<-started
	second := r.Begin(context.Background(), "t")
	record("second-begun")
	<-done

	require.NoError(t, second.Paint(func(context.Context) error { return nil }))
	assert.Equal(t, []string{"first", "second-begun"}, order)
}

func TestImageTarget(t *testing.T) {
	target := NewImageTarget("page-1", 320, 480)
	w, h := target.Size()
	assert.Equal(t, 320, w)
	assert.Equal(t, 480, h)

	_, err := target.PNG(engine.LayerPage)
	assert.Error(t, err)

	frame := &engine.Frame{Layer: engine.LayerPage, Image: Rasterize(Page{Width: 8, Height: 8}, Options{})}
	require.NoError(t, target.Draw(context.Background(), frame))

	data, err := target.PNG(engine.LayerPage)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
	assert.Equal(t, 1, target.Draws())
}

func TestTargetSize(t *testing.T) {
	w, h := TargetSize(NewImageTarget("sized", 400, 600))
	assert.Equal(t, 400, w)
	assert.Equal(t, 600, h)
	assert.True(t, Recordable(w, h))

	w, h = TargetSize(NewImageTarget("unsized", 0, 0))
	assert.Equal(t, DefaultWidth, w)
	assert.Equal(t, DefaultHeight, h)

	assert.False(t, Recordable(200, 900))
}
