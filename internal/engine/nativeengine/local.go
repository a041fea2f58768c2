package nativeengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/search"
	"github.com/a3tai/papyrus-engine/internal/source"
)

// LocalHost is an in-process HostModule. Each host engine wraps a
// DocumentEngine built by the factory, and views are render targets
// registered under integer tags.
type LocalHost struct {
	factory func() engine.DocumentEngine

	mu      sync.Mutex
	engines map[string]engine.DocumentEngine
	views   map[int]engine.RenderTarget
}

var _ HostModule = (*LocalHost)(nil)

// NewLocalHost creates a host whose engines come from factory.
func NewLocalHost(factory func() engine.DocumentEngine) *LocalHost {
	return &LocalHost{
		factory: factory,
		engines: make(map[string]engine.DocumentEngine),
		views:   make(map[int]engine.RenderTarget),
	}
}

// RegisterView makes target reachable by tag.
func (h *LocalHost) RegisterView(tag int, target engine.RenderTarget) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.views[tag] = target
}

// UnregisterView forgets the view behind tag.
func (h *LocalHost) UnregisterView(tag int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.views, tag)
}

// Engines returns the number of live host engines.
func (h *LocalHost) Engines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.engines)
}

func (h *LocalHost) CreateEngine() (string, error) {
	id := uuid.NewString()
	h.mu.Lock()
	h.engines[id] = h.factory()
	h.mu.Unlock()
	return id, nil
}

func (h *LocalHost) DestroyEngine(engineID string) {
	h.mu.Lock()
	eng, ok := h.engines[engineID]
	delete(h.engines, engineID)
	h.mu.Unlock()
	if ok {
		eng.Destroy()
	}
}

func (h *LocalHost) engine(engineID string) (engine.DocumentEngine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	eng, ok := h.engines[engineID]
	if !ok {
		return nil, fmt.Errorf("unknown engine id: %s", engineID)
	}
	return eng, nil
}

func (h *LocalHost) Load(ctx context.Context, engineID string, src source.NativeSource) (LoadResult, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return LoadResult{}, err
	}
	req := engine.LoadRequest{Source: source.FromBytes(src.Data)}
	if src.URI != "" {
		req.Source = source.FromURI(src.URI)
	}
	if err := eng.Load(ctx, req); err != nil {
		return LoadResult{}, err
	}
	count := eng.PageCount()
	return LoadResult{PageCount: &count}, nil
}

func (h *LocalHost) PageCount(engineID string) (int, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return 0, err
	}
	return eng.PageCount(), nil
}

func (h *LocalHost) RenderPage(ctx context.Context, engineID string, req RenderRequest) error {
	eng, view, err := h.prepare(engineID, req)
	if err != nil {
		return err
	}
	return eng.RenderPage(ctx, req.PageIndex, view, req.Scale)
}

func (h *LocalHost) RenderTextLayer(ctx context.Context, engineID string, req RenderRequest) error {
	eng, view, err := h.prepare(engineID, req)
	if err != nil {
		return err
	}
	return eng.RenderTextLayer(ctx, req.PageIndex, view, req.Scale)
}

// prepare resolves the view and brings the wrapped engine's zoom and
// rotation in line with the request.
func (h *LocalHost) prepare(engineID string, req RenderRequest) (engine.DocumentEngine, engine.RenderTarget, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, nil, err
	}
	h.mu.Lock()
	view, ok := h.views[req.ViewTag]
	h.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("no view registered for tag %d", req.ViewTag)
	}

	eng.SetZoom(req.Zoom)
	want := engine.NormalizeRotation(req.Rotation)
	for i := 0; i < 4 && eng.Rotation() != want; i++ {
		eng.Rotate(engine.Clockwise)
	}
	return eng, view, nil
}

func (h *LocalHost) TextContent(ctx context.Context, engineID string, pageIndex int) ([]engine.TextItem, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, err
	}
	return eng.TextContent(ctx, pageIndex)
}

func (h *LocalHost) PageDimensions(ctx context.Context, engineID string, pageIndex int) (engine.Dimensions, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return engine.Dimensions{}, err
	}
	return eng.PageDimensions(ctx, pageIndex)
}

func (h *LocalHost) SearchText(ctx context.Context, engineID string, query string) ([]engine.SearchResult, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, err
	}
	return search.New(eng).Search(ctx, query)
}

func (h *LocalHost) SelectText(ctx context.Context, engineID string, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, err
	}
	selector, ok := eng.(engine.TextSelector)
	if !ok {
		return nil, engine.ErrNotImplemented
	}
	return selector.SelectText(ctx, pageIndex, rect)
}

func (h *LocalHost) Outline(ctx context.Context, engineID string) ([]engine.OutlineItem, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, err
	}
	return eng.Outline(ctx)
}

func (h *LocalHost) PageIndex(ctx context.Context, engineID string, dest engine.Destination) (*int, error) {
	eng, err := h.engine(engineID)
	if err != nil {
		return nil, err
	}
	idx, err := eng.PageIndex(ctx, dest)
	if err != nil || idx == engine.NoPage {
		return nil, err
	}
	return &idx, nil
}
