// Package pdfengine renders PDF documents. Content streams are read with
// ledongthuc/pdf; the document catalog (outline, destinations, page tree)
// is read with pdfcpu.
package pdfengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/cache"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "pdf"

// DefaultTextCacheSize is the number of pages whose text runs are kept.
const DefaultTextCacheSize = 50

// Engine implements engine.DocumentEngine for PDF.
type Engine struct {
	normalizer *source.Normalizer
	logger     *slog.Logger

	mu       sync.Mutex
	doc      *document
	current  int
	zoom     float64
	rotation int
	text     *cache.LRU[int, []engine.TextItem]
	renders  *render.Registry
}

var (
	_ engine.DocumentEngine = (*Engine)(nil)
	_ engine.TextSelector   = (*Engine)(nil)
)

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

// WithTextCacheSize sets how many pages of text runs are cached.
func WithTextCacheSize(n int) Option {
	return func(e *Engine) {
		e.text = cache.New[int, []engine.TextItem](n)
	}
}

// New creates an empty PDF engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  slog.Default(),
		current: 1,
		zoom:    1.0,
		text:    cache.New[int, []engine.TextItem](DefaultTextCacheSize),
		renders: render.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = source.NewNormalizer(nil, 0)
	}
	return e
}

// Load parses a PDF and resets pagination and caches.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	if req.Type != "" && req.Type != engine.TypePDF {
		err := engine.UnsupportedType(backend, req.Type)
		e.logger.Error("pdf load rejected", "type", req.Type, "error", err)
		return err
	}

	data, err := e.normalizer.ForPDF(ctx, req.Source)
	if err != nil {
		loadErr := engine.SourceError(backend, "load", err)
		e.logger.Error("pdf load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	doc, err := openDocument(data)
	if err != nil {
		e.logger.Error("pdf parse failed", "source", req.Source.String(), "error", err)
		return engine.NewError(engine.KindLoad, backend, "load", err)
	}

	e.mu.Lock()
	e.renders.CancelAll()
	e.text.Clear()
	e.doc = doc
	e.current = 1
	e.mu.Unlock()

	e.logger.Debug("pdf document loaded", "pages", doc.pages, "title", doc.title())
	return nil
}

func (e *Engine) document() *document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

func (e *Engine) PageCount() int {
	if doc := e.document(); doc != nil {
		return doc.pages
	}
	return 0
}

func (e *Engine) CurrentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) GoToPage(page int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc != nil && engine.ValidPage(page, e.doc.pages) {
		e.current = page
	}
}

func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = engine.PDFZoom.Clamp(zoom)
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

// RenderPage paints the page at scale into target. A newer render for the
// same target supersedes this one; a superseded render returns nil.
func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, pageIndex, target, scale, engine.LayerPage)
}

// RenderTextLayer paints only the text runs on a transparent frame.
func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, pageIndex, target, scale, engine.LayerText)
}

func (e *Engine) paint(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64, layer engine.Layer) error {
	if target == nil {
		return nil
	}

	doc := e.document()
	if doc == nil {
		return engine.NewError(engine.KindRender, backend, "render", engine.ErrNotLoaded)
	}
	dims, ok := doc.dimensions(pageIndex)
	if !ok {
		return engine.Errorf(engine.KindRender, backend, "render", "page index %d out of range (0-%d)", pageIndex, doc.pages-1)
	}
	if scale <= 0 {
		scale = 1
	}

	task := e.renders.Begin(ctx, target.TargetID()+"#"+layer.String())
	defer task.Done()

	items, err := e.items(doc, pageIndex)
	if err != nil {
		e.logger.Error("pdf render failed", "page", pageIndex, "error", err)
		return engine.NewError(engine.KindRender, backend, "render", err)
	}
	if err := task.Context().Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return nil
	}

	rotation := e.Rotation()
	img := render.Rasterize(pageLayout(items, dims), render.Options{
		Scale:       scale,
		Rotation:    rotation,
		Transparent: layer == engine.LayerText,
	})

	err = task.Paint(func(ctx context.Context) error {
		return target.Draw(ctx, &engine.Frame{
			PageIndex: pageIndex,
			Layer:     layer,
			Scale:     scale,
			Rotation:  rotation,
			Image:     img,
		})
	})
	if render.IsSuperseded(err) {
		return nil
	}
	if err != nil {
		e.logger.Error("pdf render failed", "page", pageIndex, "layer", layer, "error", err)
		return engine.NewError(engine.KindRender, backend, "render", err)
	}
	return nil
}

// pageLayout flips runs into the rasterizer's top-left coordinate space.
func pageLayout(items []engine.TextItem, dims engine.Dimensions) render.Page {
	runs := make([]render.Run, 0, len(items))
	for _, it := range items {
		runs = append(runs, render.Run{
			Text: it.Str,
			X:    it.Transform[4],
			Y:    dims.Height - it.Transform[5],
		})
	}
	return render.Page{Width: dims.Width, Height: dims.Height, Runs: runs}
}

// items returns the cached text runs of a page.
func (e *Engine) items(doc *document, pageIndex int) ([]engine.TextItem, error) {
	if items, ok := e.text.Get(pageIndex); ok {
		return items, nil
	}
	glyphs, err := doc.glyphs(pageIndex)
	if err != nil {
		return nil, err
	}
	items := groupRuns(glyphs)

	// Skip the cache if a load replaced the document meanwhile.
	e.mu.Lock()
	if e.doc == doc {
		e.text.Put(pageIndex, items)
	}
	e.mu.Unlock()
	return items, nil
}

// TextContent returns the page's text runs. It never fails: an unloaded
// document, a page out of range or an unreadable page yield no items.
func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	doc := e.document()
	if doc == nil || pageIndex < 0 || pageIndex >= doc.pages {
		return []engine.TextItem{}, nil
	}
	items, err := e.items(doc, pageIndex)
	if err != nil {
		e.logger.Warn("pdf text extraction failed", "page", pageIndex, "error", err)
		return []engine.TextItem{}, nil
	}
	return items, nil
}

// PageDimensions returns the page size in points, or zero when unknown.
func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	doc := e.document()
	if doc == nil {
		return engine.Dimensions{}, nil
	}
	dims, _ := doc.dimensions(pageIndex)
	return dims, nil
}

func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	doc := e.document()
	if doc == nil {
		return []engine.OutlineItem{}, nil
	}
	return doc.outline(), nil
}

// PageIndex resolves a named destination or a 1-based page number.
func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	doc := e.document()
	if doc == nil {
		return engine.NoPage, nil
	}
	if dest.Name != "" {
		return doc.namedDest(dest.Name, 0), nil
	}
	if engine.ValidPage(dest.PageNumber, doc.pages) {
		return dest.PageNumber - 1, nil
	}
	return engine.NoPage, nil
}

// SelectText returns the runs intersecting rect, or nil when none do.
func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	doc := e.document()
	if doc == nil {
		return nil, nil
	}
	dims, ok := doc.dimensions(pageIndex)
	if !ok {
		return nil, nil
	}
	items, err := e.items(doc, pageIndex)
	if err != nil {
		return nil, nil
	}
	return selection(items, dims, rect), nil
}

// Title returns the document title from the info dictionary.
func (e *Engine) Title() string {
	if doc := e.document(); doc != nil {
		return doc.title()
	}
	return ""
}

// Destroy drops the document. It is safe to call more than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renders.CancelAll()
	e.text.Clear()
	e.doc = nil
	e.current = 1
}
