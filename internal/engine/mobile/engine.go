// Package mobile provides the composite engine used on mobile hosts: PDF
// documents go to the native backend, everything else to the webview
// backend.
package mobile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// Engine forwards every call to the delegate chosen by the last Load.
type Engine struct {
	native  engine.DocumentEngine
	webview engine.DocumentEngine
	logger  *slog.Logger

	mu      sync.Mutex
	active  engine.DocumentEngine
	docType engine.DocumentType
}

var (
	_ engine.DocumentEngine = (*Engine)(nil)
	_ engine.TextSearcher   = (*Engine)(nil)
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

// New creates a composite over the two delegates. The native delegate is
// active until the first Load.
func New(native, webview engine.DocumentEngine, opts ...Option) *Engine {
	e := &Engine{
		native:  native,
		webview: webview,
		logger:  slog.Default(),
		active:  native,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route returns the delegate that handles documents of type t.
func (e *Engine) Route(t engine.DocumentType) engine.DocumentEngine {
	if t == engine.TypePDF {
		return e.native
	}
	return e.webview
}

// Load infers the document type, switches the active delegate and loads
// through it. The switch holds even when loading fails.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	docType := engine.InferType(req)
	delegate := e.Route(docType)

	e.mu.Lock()
	e.active = delegate
	e.docType = docType
	e.mu.Unlock()

	e.logger.Debug("mobile engine routed document", "type", docType, "native", delegate == e.native)
	req.Type = docType
	return delegate.Load(ctx, req)
}

// Active returns the current delegate.
func (e *Engine) Active() engine.DocumentEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// DocumentType returns the type inferred by the last Load.
func (e *Engine) DocumentType() engine.DocumentType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docType
}

func (e *Engine) PageCount() int { return e.Active().PageCount() }
func (e *Engine) CurrentPage() int { return e.Active().CurrentPage() }
func (e *Engine) GoToPage(page int) { e.Active().GoToPage(page) }
func (e *Engine) SetZoom(zoom float64) { e.Active().SetZoom(zoom) }
func (e *Engine) Zoom() float64 { return e.Active().Zoom() }
func (e *Engine) Rotate(d engine.Direction) { e.Active().Rotate(d) }
func (e *Engine) Rotation() int { return e.Active().Rotation() }

func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.Active().RenderPage(ctx, pageIndex, target, scale)
}

func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.Active().RenderTextLayer(ctx, pageIndex, target, scale)
}

func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	return e.Active().TextContent(ctx, pageIndex)
}

func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	return e.Active().PageDimensions(ctx, pageIndex)
}

func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	return e.Active().Outline(ctx)
}

func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	return e.Active().PageIndex(ctx, dest)
}

// SearchText returns no results when the active delegate cannot search.
func (e *Engine) SearchText(ctx context.Context, query string) ([]engine.SearchResult, error) {
	searcher, ok := e.Active().(engine.TextSearcher)
	if !ok {
		return []engine.SearchResult{}, nil
	}
	return searcher.SearchText(ctx, query)
}

// SelectText returns nil when the active delegate cannot select.
func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	selector, ok := e.Active().(engine.TextSelector)
	if !ok {
		return nil, nil
	}
	return selector.SelectText(ctx, pageIndex, rect)
}

// Destroy destroys both delegates.
func (e *Engine) Destroy() {
	e.native.Destroy()
	e.webview.Destroy()

	e.mu.Lock()
	e.active = e.native
	e.docType = ""
	e.mu.Unlock()
}
