// Package runtime is the receiving side of the webview RPC. It hosts the
// EPUB and text backends, executes commands sent by the webview engine and
// reports state and events back over the same channel.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/bridge"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/epubengine"
	"github.com/a3tai/papyrus-engine/internal/engine/textengine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/search"
	"github.com/a3tai/papyrus-engine/internal/source"
)

// ErrPDFUnsupported rejects PDF loads; PDFs go through the native engine.
var ErrPDFUnsupported = errors.New("pdf documents are not supported by the webview runtime; use the native engine")

// Runtime dispatches commands to the loaded backend.
type Runtime struct {
	sender     bridge.Sender
	normalizer *source.Normalizer
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes command handling.
	mu       sync.Mutex
	docType  engine.DocumentType
	active   engine.DocumentEngine
	zoom     float64
	viewport *render.ImageTarget
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNormalizer sets the normalizer used to resolve wire sources.
func WithNormalizer(n *source.Normalizer) Option {
	return func(r *Runtime) {
		if n != nil {
			r.normalizer = n
		}
	}
}

// WithViewport sets the size of the surface the current page is shown on.
func WithViewport(width, height int) Option {
	return func(r *Runtime) {
		if width > 0 && height > 0 {
			r.viewport = render.NewImageTarget("viewer", width, height)
		}
	}
}

// New creates a runtime replying through sender.
func New(sender bridge.Sender, opts ...Option) *Runtime {
	r := &Runtime{
		sender:   sender,
		logger:   slog.Default(),
		zoom:     1.0,
		viewport: render.NewImageTarget("viewer", render.DefaultWidth, render.DefaultHeight),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.normalizer == nil {
		r.normalizer = source.NewNormalizer(nil, 0)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start announces readiness to the engine.
func (r *Runtime) Start() error {
	return r.send(bridge.Ready())
}

// Close aborts in-flight commands and drops the document.
func (r *Runtime) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.active.Destroy()
		r.active = nil
	}
}

// Viewport returns the surface the current page is painted on.
func (r *Runtime) Viewport() *render.ImageTarget {
	return r.viewport
}

// HandleMessage executes one encoded request. Messages that are not valid
// requests are ignored; every valid request gets exactly one response.
func (r *Runtime) HandleMessage(data string) {
	var req bridge.Request
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		r.logger.Debug("ignoring malformed message", "error", err)
		return
	}
	if req.ID == "" || req.Kind == "" {
		r.logger.Debug("ignoring message without id or kind")
		return
	}

	r.mu.Lock()
	result, err := r.dispatch(req)
	r.mu.Unlock()

	r.reply(req.ID, result, err)
}

func (r *Runtime) reply(id string, result any, err error) {
	if err != nil {
		r.send(bridge.Failure(id, err))
		return
	}
	msg, encErr := bridge.Response(id, result)
	if encErr != nil {
		r.send(bridge.Failure(id, fmt.Errorf("failed to encode response: %w", encErr)))
		return
	}
	r.send(msg)
}

// dispatch runs a command, converting panics into errors.
func (r *Runtime) dispatch(req bridge.Request) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command panicked", "kind", req.Kind, "panic", p)
			err = fmt.Errorf("%s failed: %v", req.Kind, p)
		}
	}()

	switch req.Kind {
	case bridge.KindLoad:
		var p bridge.LoadPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.load(p)
	case bridge.KindGoToPage:
		var p bridge.PagePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.goToPage(p.Page), nil
	case bridge.KindSetZoom:
		var p bridge.ZoomPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.setZoom(p.Zoom), nil
	case bridge.KindSetRotation:
		var p bridge.RotationPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		r.setRotation(p.Rotation)
		return struct{}{}, nil
	case bridge.KindGetTextContent:
		var p bridge.PageIndexPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.textContent(p.PageIndex), nil
	case bridge.KindGetPageDimensions:
		var p bridge.PageIndexPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.pageDimensions(p.PageIndex), nil
	case bridge.KindSearchText:
		var p bridge.QueryPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.searchText(p.Query)
	case bridge.KindSelectText:
		var p bridge.SelectPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.selectText(p.PageIndex), nil
	case bridge.KindGetOutline:
		return r.outline(), nil
	case bridge.KindGetPageIndex:
		var p bridge.DestPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return r.pageIndex(p), nil
	case bridge.KindDestroy:
		r.destroy()
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", req.Kind)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (r *Runtime) load(p bridge.LoadPayload) (bridge.LoadResult, error) {
	docType := engine.DocumentType(p.Type)

	var next engine.DocumentEngine
	switch docType {
	case engine.TypeText:
		next = textengine.New(textengine.WithLogger(r.logger), textengine.WithNormalizer(r.normalizer))
	case engine.TypeEPUB:
		next = epubengine.New(epubengine.WithLogger(r.logger), epubengine.WithNormalizer(r.normalizer))
	case engine.TypePDF:
		return bridge.LoadResult{}, ErrPDFUnsupported
	default:
		return bridge.LoadResult{}, fmt.Errorf("unsupported document type: %q", p.Type)
	}

	data, err := r.normalizer.FromWire(r.ctx, p.Source)
	if err != nil {
		return bridge.LoadResult{}, err
	}
	if err := next.Load(r.ctx, engine.LoadRequest{Source: source.FromData(data), Type: docType}); err != nil {
		next.Destroy()
		return bridge.LoadResult{}, err
	}

	if r.active != nil {
		r.active.Destroy()
	}
	r.active = next
	r.docType = docType
	r.zoom = 1.0
	r.active.SetZoom(r.zoom)
	r.display()

	outline, _ := r.active.Outline(r.ctx)
	result := bridge.LoadResult{PageCount: r.active.PageCount(), Outline: outline}

	state := r.snapshot()
	if docType == engine.TypeEPUB {
		state.Outline = outline
	}
	r.sendState(state)
	r.sendEvent(bridge.EventDocumentLoaded, bridge.DocumentLoadedPayload{PageCount: result.PageCount})

	r.logger.Debug("runtime document loaded", "type", docType, "pages", result.PageCount)
	return result, nil
}

// display paints the current page onto the viewport.
func (r *Runtime) display() {
	if r.active == nil || r.viewport == nil {
		return
	}
	page := r.active.CurrentPage() - 1
	if err := r.active.RenderPage(r.ctx, page, r.viewport, 1); err != nil {
		r.logger.Warn("runtime display failed", "page", page, "error", err)
	}
}

func (r *Runtime) goToPage(page int) bridge.PageResult {
	page = max(1, page)
	if r.active == nil {
		return bridge.PageResult{CurrentPage: 1}
	}
	r.active.GoToPage(page)
	r.display()
	r.sendState(r.snapshot())
	return bridge.PageResult{CurrentPage: r.active.CurrentPage()}
}

func (r *Runtime) setZoom(zoom float64) bridge.ZoomResult {
	if zoom == 0 {
		zoom = 1.0
	}
	r.zoom = engine.WebViewZoom.Clamp(zoom)
	if r.active != nil {
		r.active.SetZoom(r.zoom)
		r.display()
	}
	r.sendState(r.snapshot())
	return bridge.ZoomResult{Zoom: r.zoom}
}

// setRotation turns the backend clockwise until it reaches deg, snapped to a
// quarter turn.
func (r *Runtime) setRotation(deg int) {
	if r.active == nil {
		return
	}
	want := engine.NormalizeRotation(deg/90*90)
	for i := 0; i < 4 && r.active.Rotation() != want; i++ {
		r.active.Rotate(engine.Clockwise)
	}
}

func (r *Runtime) textContent(pageIndex int) []engine.TextItem {
	if r.active == nil {
		return []engine.TextItem{}
	}
	items, err := r.active.TextContent(r.ctx, pageIndex)
	if err != nil || items == nil {
		return []engine.TextItem{}
	}
	return items
}

// pageDimensions reports the backend's size for the page, or the viewport
// size when the backend has none.
func (r *Runtime) pageDimensions(pageIndex int) engine.Dimensions {
	if r.active != nil {
		if d, err := r.active.PageDimensions(r.ctx, pageIndex); err == nil && !d.IsZero() {
			return d
		}
	}
	if r.viewport == nil {
		return engine.Dimensions{}
	}
	w, h := r.viewport.Size()
	return engine.Dimensions{Width: float64(w), Height: float64(h)}
}

func (r *Runtime) searchText(query string) ([]engine.SearchResult, error) {
	if r.active == nil {
		return []engine.SearchResult{}, nil
	}
	results, err := search.New(r.active, search.WithLogger(r.logger)).Search(r.ctx, query)
	if err != nil {
		return nil, err
	}
	r.sendEvent(bridge.EventSearchCompleted, bridge.SearchCompletedPayload{Query: query, Results: len(results)})
	return results, nil
}

// selectText selects the whole page, as the runtime has no hit testing.
func (r *Runtime) selectText(pageIndex int) *engine.TextSelection {
	text := search.PageText(r.textContent(pageIndex))
	if text == "" {
		return nil
	}
	r.sendEvent(bridge.EventTextSelected, bridge.TextSelectedPayload{Text: text, PageIndex: pageIndex})
	return &engine.TextSelection{Text: text, Rects: []engine.Rect{engine.FullPage}}
}

func (r *Runtime) outline() []engine.OutlineItem {
	if r.active == nil {
		return []engine.OutlineItem{}
	}
	items, err := r.active.Outline(r.ctx)
	if err != nil || items == nil {
		return []engine.OutlineItem{}
	}
	return items
}

// pageIndex resolves a destination for EPUB documents; other types have
// no destinations and yield null.
func (r *Runtime) pageIndex(p bridge.DestPayload) *int {
	if r.active == nil || r.docType != engine.TypeEPUB {
		return nil
	}
	idx, err := r.active.PageIndex(r.ctx, engine.Destination{Name: p.Dest, PageNumber: p.PageNumber})
	if err != nil {
		return nil
	}
	return &idx
}

func (r *Runtime) destroy() {
	if r.active != nil {
		r.active.Destroy()
	}
	r.active = nil
	r.docType = ""
}

func (r *Runtime) snapshot() bridge.State {
	state := bridge.State{Zoom: bridge.FloatPtr(r.zoom)}
	if r.active != nil {
		state.PageCount = bridge.IntPtr(r.active.PageCount())
		state.CurrentPage = bridge.IntPtr(r.active.CurrentPage())
	}
	return state
}

func (r *Runtime) sendState(s bridge.State) {
	msg, err := bridge.StateMessage(s)
	if err != nil {
		r.logger.Error("failed to encode state", "error", err)
		return
	}
	r.send(msg)
}

func (r *Runtime) sendEvent(name string, payload any) {
	msg, err := bridge.Event(name, payload)
	if err != nil {
		r.logger.Error("failed to encode event", "name", name, "error", err)
		return
	}
	r.send(msg)
}

func (r *Runtime) send(msg bridge.Message) error {
	data, err := bridge.Encode(msg)
	if err != nil {
		return err
	}
	if err := r.sender.Send(data); err != nil {
		r.logger.Warn("runtime send failed", "type", msg.Type, "error", err)
		return err
	}
	return nil
}
