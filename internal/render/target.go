package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// ImageTarget is an in-memory render target keeping the last frame per
// layer.
type ImageTarget struct {
	ID     string
	Width  int
	Height int
	Tag    int
	HasTag bool

	mu     sync.Mutex
	frames map[engine.Layer]*engine.Frame
	draws  int
}

var (
	_ engine.RenderTarget = (*ImageTarget)(nil)
	_ engine.Sizer        = (*ImageTarget)(nil)
	_ engine.ViewTagger   = (*ImageTarget)(nil)
)

// NewImageTarget creates a target of the given pixel size. A zero size
// lets the backend choose.
func NewImageTarget(id string, width, height int) *ImageTarget {
	return &ImageTarget{ID: id, Width: width, Height: height}
}

func (t *ImageTarget) TargetID() string { return t.ID }

func (t *ImageTarget) Size() (int, int) { return t.Width, t.Height }

func (t *ImageTarget) ViewTag() (int, bool) { return t.Tag, t.HasTag }

// Draw stores frame as the latest for its layer.
func (t *ImageTarget) Draw(ctx context.Context, frame *engine.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frames == nil {
		t.frames = make(map[engine.Layer]*engine.Frame)
	}
	t.frames[frame.Layer] = frame
	t.draws++
	return nil
}

// Frame returns the last frame drawn on layer.
func (t *ImageTarget) Frame(layer engine.Layer) (*engine.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.frames[layer]
	return f, ok
}

// Draws counts every successful Draw.
func (t *ImageTarget) Draws() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draws
}

// PNG encodes the last frame of layer.
func (t *ImageTarget) PNG(layer engine.Layer) ([]byte, error) {
	f, ok := t.Frame(layer)
	if !ok || f.Image == nil {
		return nil, fmt.Errorf("no %s frame drawn on target %s", layer, t.ID)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
