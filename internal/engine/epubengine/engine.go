// Package epubengine renders EPUB publications one spine section per page.
package epubengine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/cache"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "epub"

// Engine implements engine.DocumentEngine for EPUB.
type Engine struct {
	normalizer *source.Normalizer
	logger     *slog.Logger

	mu         sync.Mutex
	book       *Book
	current    int
	zoom       float64
	rotation   int
	renditions *cache.LRU[string, *rendition]
	sections   *cache.LRU[int, string]
	sizes      *cache.LRU[int, engine.Dimensions]
	renders    *render.Registry
	created    int
}

// rendition is a section laid out for one target at one scale.
type rendition struct {
	targetID  string
	pageIndex int
	width     int
	height    int
	fontScale float64
	destroyed bool
}

var _ engine.DocumentEngine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNormalizer sets the source normalizer.
func WithNormalizer(n *source.Normalizer) Option {
	return func(e *Engine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// New creates an empty EPUB engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		current:  1,
		zoom:     1.0,
		sections: cache.New[int, string](64),
		sizes:    cache.New[int, engine.Dimensions](1024),
		renders:  render.NewRegistry(),
	}
	e.renditions = cache.New[string, *rendition](256).OnEvict(func(_ string, r *rendition) {
		r.destroyed = true
	})
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = source.NewNormalizer(nil, 0)
	}
	return e
}

// renditionKey identifies a rendition by section and scale in thousandths.
func renditionKey(pageIndex int, scale float64) string {
	return fmt.Sprintf("%d:%d", pageIndex, int(math.Round(scale*1000)))
}

// Load opens an EPUB, dropping every rendition and size of the previous
// document.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	if req.Type != "" && req.Type != engine.TypeEPUB {
		err := engine.UnsupportedType(backend, req.Type)
		e.logger.Error("epub load rejected", "type", req.Type, "error", err)
		return err
	}

	data, err := e.normalizer.ForEPUB(ctx, req.Source)
	if err != nil {
		loadErr := engine.SourceError(backend, "load", err)
		e.logger.Error("epub load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	book, err := Open(data)
	if err != nil {
		e.logger.Error("epub parse failed", "error", err)
		return engine.NewError(engine.KindLoad, backend, "load", err)
	}

	e.mu.Lock()
	e.reset()
	e.book = book
	e.current = 1
	e.mu.Unlock()

	e.logger.Debug("epub document loaded", "title", book.Title, "sections", len(book.Spine))
	return nil
}

// reset drops per-document state. e.mu is held.
func (e *Engine) reset() {
	e.renders.CancelAll()
	e.renditions.Clear()
	e.sections.Clear()
	e.sizes.Clear()
}

func (e *Engine) PageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.book == nil {
		return 0
	}
	return len(e.book.Spine)
}

func (e *Engine) CurrentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) GoToPage(page int) {
	count := e.PageCount()
	e.mu.Lock()
	defer e.mu.Unlock()
	if engine.ValidPage(page, count) {
		e.current = page
	}
}

// SetZoom clamps zoom and applies it as the font scale of every live
// rendition.
func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = engine.ReflowZoom.Clamp(zoom)
	for _, key := range e.renditions.Keys() {
		if r, ok := e.renditions.Peek(key); ok {
			r.fontScale = e.zoom
		}
	}
}

func (e *Engine) Zoom() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zoom
}

func (e *Engine) Rotate(dir engine.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotation = engine.NextRotation(e.rotation, dir)
}

func (e *Engine) Rotation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotation
}

// RenderPage displays section pageIndex in target. A rendition is reused
// for the same section, scale and target, resized to the target, and
// recreated when the target changes.
func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	if target == nil {
		return nil
	}

	text, err := e.sectionText(pageIndex)
	if err != nil {
		return engine.NewError(engine.KindRender, backend, "render", err)
	}

	w, h := render.TargetSize(target)
	if render.Recordable(w, h) {
		e.sizes.Put(pageIndex, engine.Dimensions{Width: float64(w), Height: float64(h)})
	}

	e.mu.Lock()
	r := e.rendition(pageIndex, scale, target.TargetID())
	r.width, r.height = w, h
	fontScale, rotation := r.fontScale, e.rotation
	e.mu.Unlock()

	lw, lh := float64(w)/fontScale, float64(h)/fontScale
	img := render.Rasterize(render.Page{
		Width:  lw,
		Height: lh,
		Runs:   render.FlowText(text, lw, lh),
	}, render.Options{Scale: fontScale, Rotation: rotation})

	return e.draw(ctx, target, &engine.Frame{
		PageIndex: pageIndex,
		Layer:     engine.LayerPage,
		Scale:     scale,
		Rotation:  rotation,
		Image:     img,
	})
}

// rendition returns the live rendition for the key, creating one when
// none exists or the cached one belongs to another target. e.mu is held.
func (e *Engine) rendition(pageIndex int, scale float64, targetID string) *rendition {
	key := renditionKey(pageIndex, scale)
	if r, ok := e.renditions.Get(key); ok {
		if r.targetID == targetID && !r.destroyed {
			return r
		}
		e.renditions.Remove(key)
	}

	r := &rendition{targetID: targetID, pageIndex: pageIndex, fontScale: e.zoom}
	e.renditions.Put(key, r)
	e.created++
	return r
}

// RenderTextLayer clears the overlay. Reflowed sections carry their text
// in the page layer.
func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	if target == nil {
		return nil
	}
	w, h := render.TargetSize(target)
	return e.draw(ctx, target, &engine.Frame{
		PageIndex: pageIndex,
		Layer:     engine.LayerText,
		Scale:     scale,
		Image:     image.NewRGBA(image.Rect(0, 0, w, h)),
	})
}

func (e *Engine) draw(ctx context.Context, target engine.RenderTarget, frame *engine.Frame) error {
	task := e.renders.Begin(ctx, target.TargetID()+"#"+frame.Layer.String())
	defer task.Done()

	err := task.Paint(func(ctx context.Context) error {
		return target.Draw(ctx, frame)
	})
	if render.IsSuperseded(err) {
		return nil
	}
	if err != nil {
		e.logger.Error("epub render failed", "page", frame.PageIndex, "layer", frame.Layer, "error", err)
		return engine.NewError(engine.KindRender, backend, "render", err)
	}
	return nil
}

func (e *Engine) sectionText(pageIndex int) (string, error) {
	if text, ok := e.sections.Get(pageIndex); ok {
		return text, nil
	}

	e.mu.Lock()
	book := e.book
	e.mu.Unlock()
	if book == nil {
		return "", engine.ErrNotLoaded
	}

	text, err := book.SectionText(pageIndex)
	if err != nil {
		return "", err
	}

	// Skip the cache if a load replaced the book meanwhile.
	e.mu.Lock()
	if e.book == book {
		e.sections.Put(pageIndex, text)
	}
	e.mu.Unlock()
	return text, nil
}

// TextContent returns the section text as one run. Unreadable sections
// yield no items.
func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	text, err := e.sectionText(pageIndex)
	if err != nil || text == "" {
		return []engine.TextItem{}, nil
	}
	return []engine.TextItem{engine.PlainTextItem(text)}, nil
}

// PageDimensions returns the last recorded render size of the section.
func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	d, _ := e.sizes.Peek(pageIndex)
	return d, nil
}

// Outline maps the navigation document onto spine indexes.
func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	e.mu.Lock()
	book := e.book
	e.mu.Unlock()
	if book == nil {
		return []engine.OutlineItem{}, nil
	}
	return outline(book, book.TOC), nil
}

func outline(book *Book, points []NavPoint) []engine.OutlineItem {
	items := make([]engine.OutlineItem, 0, len(points))
	for _, p := range points {
		item := engine.OutlineItem{
			Title:     p.Label,
			PageIndex: book.SpineIndex(p.Href),
		}
		if len(p.Children) > 0 {
			item.Children = outline(book, p.Children)
		}
		items = append(items, item)
	}
	return items
}

// PageIndex resolves an href, ignoring its fragment, or a 1-based page
// number to a spine index.
func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	e.mu.Lock()
	book := e.book
	e.mu.Unlock()
	if book == nil {
		return engine.NoPage, nil
	}

	if dest.Name != "" {
		return book.SpineIndex(dest.Name), nil
	}
	if engine.ValidPage(dest.PageNumber, len(book.Spine)) {
		return dest.PageNumber - 1, nil
	}
	return engine.NoPage, nil
}

// SelectText is not supported for reflowed sections.
func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	return nil, nil
}

// Title returns the publication title, if any.
func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.book == nil {
		return ""
	}
	return e.book.Title
}

// Destroy drops the document and every rendition. It is safe to call more
// than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	e.reset()
	e.book = nil
	e.current = 1
	e.mu.Unlock()
}
