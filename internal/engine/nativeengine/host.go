// Package nativeengine forwards every DocumentEngine operation to a host
// module registered by the embedding platform.
package nativeengine

import (
	"context"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
)

// ModuleName is the name the host module is registered under.
const ModuleName = "PapyrusNativeEngine"

// LoadResult is what a host module reports after loading. A nil PageCount
// means the engine asks PageCount instead.
type LoadResult struct {
	PageCount *int `json:"pageCount,omitempty"`
}

// RenderRequest describes a paint into a host view.
type RenderRequest struct {
	PageIndex int
	ViewTag   int
	Scale     float64
	Zoom      float64
	Rotation  int
}

// HostModule is the platform side of the native engine. Every call is
// addressed by the engine id returned from CreateEngine. Optional
// operations return engine.ErrNotImplemented when unsupported.
type HostModule interface {
	CreateEngine() (string, error)
	DestroyEngine(engineID string)
	Load(ctx context.Context, engineID string, src source.NativeSource) (LoadResult, error)
	PageCount(engineID string) (int, error)
	RenderPage(ctx context.Context, engineID string, req RenderRequest) error
	RenderTextLayer(ctx context.Context, engineID string, req RenderRequest) error
	TextContent(ctx context.Context, engineID string, pageIndex int) ([]engine.TextItem, error)
	PageDimensions(ctx context.Context, engineID string, pageIndex int) (engine.Dimensions, error)
	SearchText(ctx context.Context, engineID string, query string) ([]engine.SearchResult, error)
	SelectText(ctx context.Context, engineID string, pageIndex int, rect engine.Rect) (*engine.TextSelection, error)
	Outline(ctx context.Context, engineID string) ([]engine.OutlineItem, error)
	PageIndex(ctx context.Context, engineID string, dest engine.Destination) (*int, error)
}

// Unimplemented can be embedded by host modules that support only part of
// HostModule.
type Unimplemented struct{}

func (Unimplemented) CreateEngine() (string, error) { return "", engine.ErrNotImplemented }

func (Unimplemented) DestroyEngine(string) {}

func (Unimplemented) Load(context.Context, string, source.NativeSource) (LoadResult, error) {
	return LoadResult{}, engine.ErrNotImplemented
}

func (Unimplemented) PageCount(string) (int, error) { return 0, engine.ErrNotImplemented }

func (Unimplemented) RenderPage(context.Context, string, RenderRequest) error {
	return engine.ErrNotImplemented
}

func (Unimplemented) RenderTextLayer(context.Context, string, RenderRequest) error {
	return engine.ErrNotImplemented
}

func (Unimplemented) TextContent(context.Context, string, int) ([]engine.TextItem, error) {
	return nil, engine.ErrNotImplemented
}

func (Unimplemented) PageDimensions(context.Context, string, int) (engine.Dimensions, error) {
	return engine.Dimensions{}, engine.ErrNotImplemented
}

func (Unimplemented) SearchText(context.Context, string, string) ([]engine.SearchResult, error) {
	return nil, engine.ErrNotImplemented
}

func (Unimplemented) SelectText(context.Context, string, int, engine.Rect) (*engine.TextSelection, error) {
	return nil, engine.ErrNotImplemented
}

func (Unimplemented) Outline(context.Context, string) ([]engine.OutlineItem, error) {
	return nil, engine.ErrNotImplemented
}

func (Unimplemented) PageIndex(context.Context, string, engine.Destination) (*int, error) {
	return nil, engine.ErrNotImplemented
}

// Registry holds the host modules available to native engines.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]HostModule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]HostModule)}
}

// Register installs m under name, replacing any previous module.
func (r *Registry) Register(name string, m HostModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = m
}

// Unregister removes the module registered under name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, name)
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (HostModule, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}
