package nativeengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "native"

// DefaultEngineID addresses the host engine when the module cannot create
// one of its own.
const DefaultEngineID = "default"

// Engine implements engine.DocumentEngine by delegating to a HostModule.
// The module is looked up on every call, so it may be registered after the
// engine is created.
type Engine struct {
	registry   *Registry
	normalizer *source.Normalizer
	logger     *slog.Logger

	mu        sync.Mutex
	engineID  string
	created   bool
	pageCount int
	current   int
	zoom      float64
	rotation  int
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

// WithNormalizer sets the source normalizer.
func WithNormalizer(n *source.Normalizer) Option {
	return func(e *Engine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// New creates an engine bound to registry.
func New(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logger:   slog.Default(),
		engineID: DefaultEngineID,
		current:  1,
		zoom:     1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = source.NewNormalizer(nil, 0)
	}
	if m, ok := registry.Lookup(ModuleName); ok {
		e.create(m)
	}
	return e
}

// create asks m for an engine id once per Engine lifetime.
func (e *Engine) create(m HostModule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.created {
		return
	}
	e.created = true

	id, err := m.CreateEngine()
	switch {
	case err == nil && id != "":
		e.engineID = id
	case err != nil && !errors.Is(err, engine.ErrNotImplemented):
		e.logger.Warn("native engine creation failed, using default id", "error", err)
	}
}

// module returns the registered host module and the engine id to address.
func (e *Engine) module(op string) (HostModule, string, error) {
	m, ok := e.registry.Lookup(ModuleName)
	if !ok {
		return nil, "", engine.Errorf(engine.KindHostUnavailable, backend, op,
			"native module %s not registered; check the platform setup", ModuleName)
	}
	e.create(m)
	return m, e.EngineID(), nil
}

// EngineID returns the id the host module knows this engine by.
func (e *Engine) EngineID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engineID
}

// neutral reports whether err means the host lacks the operation.
func neutral(err error) bool {
	return errors.Is(err, engine.ErrNotImplemented)
}

func hostError(kind engine.ErrorKind, op string, err error) error {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return engErr
	}
	return engine.NewError(kind, backend, op, err)
}

// Load hands the source to the host. The page count comes from the load
// result, else from PageCount, else zero.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	m, id, err := e.module("load")
	if err != nil {
		e.logger.Error("native load failed", "error", err)
		return err
	}

	src, err := e.normalizer.ForNative(ctx, req.Source)
	if err != nil {
		loadErr := engine.SourceError(backend, "load", err)
		e.logger.Error("native load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	result, err := m.Load(ctx, id, src)
	if err != nil && !neutral(err) {
		loadErr := hostError(engine.KindLoad, "load", err)
		e.logger.Error("native load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	count := 0
	if result.PageCount != nil {
		count = *result.PageCount
	} else if n, err := m.PageCount(id); err == nil {
		count = n
	}

	e.mu.Lock()
	e.pageCount = count
	e.current = 1
	e.mu.Unlock()

	e.logger.Debug("native document loaded", "engine", id, "pages", count)
	return nil
}

func (e *Engine) PageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageCount
}

func (e *Engine) CurrentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) GoToPage(page int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if engine.ValidPage(page, e.pageCount) {
		e.current = page
	}
}

func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = engine.NativeZoom.Clamp(zoom)
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

// RenderPage asks the host to paint into the view behind target. Targets
// without a view tag are ignored.
func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, "renderPage", pageIndex, target, scale, HostModule.RenderPage)
}

func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, "renderTextLayer", pageIndex, target, scale, HostModule.RenderTextLayer)
}

type paintFunc func(HostModule, context.Context, string, RenderRequest) error

func (e *Engine) paint(ctx context.Context, op string, pageIndex int, target engine.RenderTarget, scale float64, fn paintFunc) error {
	m, id, err := e.module(op)
	if err != nil {
		return err
	}
	tagger, ok := target.(engine.ViewTagger)
	if !ok {
		return nil
	}
	tag, ok := tagger.ViewTag()
	if !ok {
		return nil
	}

	e.mu.Lock()
	req := RenderRequest{
		PageIndex: pageIndex,
		ViewTag:   tag,
		Scale:     scale,
		Zoom:      e.zoom,
		Rotation:  e.rotation,
	}
	e.mu.Unlock()

	if err := fn(m, ctx, id, req); err != nil && !neutral(err) {
		return hostError(engine.KindRender, op, err)
	}
	return nil
}

func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	m, id, err := e.module("getTextContent")
	if err != nil {
		return nil, err
	}
	items, err := m.TextContent(ctx, id, pageIndex)
	if neutral(err) {
		return []engine.TextItem{}, nil
	}
	if err != nil {
		return nil, hostError(engine.KindRemote, "getTextContent", err)
	}
	if items == nil {
		items = []engine.TextItem{}
	}
	return items, nil
}

func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	m, id, err := e.module("getPageDimensions")
	if err != nil {
		return engine.Dimensions{}, err
	}
	dims, err := m.PageDimensions(ctx, id, pageIndex)
	if neutral(err) {
		return engine.Dimensions{}, nil
	}
	if err != nil {
		return engine.Dimensions{}, hostError(engine.KindRemote, "getPageDimensions", err)
	}
	return dims, nil
}

func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	m, id, err := e.module("getOutline")
	if err != nil {
		return nil, err
	}
	items, err := m.Outline(ctx, id)
	if neutral(err) {
		return []engine.OutlineItem{}, nil
	}
	if err != nil {
		return nil, hostError(engine.KindRemote, "getOutline", err)
	}
	if items == nil {
		items = []engine.OutlineItem{}
	}
	return items, nil
}

// PageIndex returns engine.NoPage when the host cannot resolve dest.
func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	m, id, err := e.module("getPageIndex")
	if err != nil {
		return engine.NoPage, err
	}
	idx, err := m.PageIndex(ctx, id, dest)
	if neutral(err) {
		return engine.NoPage, nil
	}
	if err != nil {
		return engine.NoPage, hostError(engine.KindRemote, "getPageIndex", err)
	}
	if idx == nil {
		return engine.NoPage, nil
	}
	return *idx, nil
}

func (e *Engine) SearchText(ctx context.Context, query string) ([]engine.SearchResult, error) {
	m, id, err := e.module("searchText")
	if err != nil {
		return nil, err
	}
	results, err := m.SearchText(ctx, id, query)
	if neutral(err) {
		return []engine.SearchResult{}, nil
	}
	if err != nil {
		return nil, hostError(engine.KindRemote, "searchText", err)
	}
	if results == nil {
		results = []engine.SearchResult{}
	}
	return results, nil
}

func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	m, id, err := e.module("selectText")
	if err != nil {
		return nil, err
	}
	sel, err := m.SelectText(ctx, id, pageIndex, rect)
	if neutral(err) {
		return nil, nil
	}
	if err != nil {
		return nil, hostError(engine.KindRemote, "selectText", err)
	}
	return sel, nil
}

// Destroy releases the host engine when a module is registered. It is
// safe to call more than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	id, created := e.engineID, e.created
	e.created = false
	e.engineID = DefaultEngineID
	e.pageCount = 0
	e.current = 1
	e.mu.Unlock()

	if !created {
		return
	}
	if m, ok := e.registry.Lookup(ModuleName); ok {
		m.DestroyEngine(id)
	}
}
