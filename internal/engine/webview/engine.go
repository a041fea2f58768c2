// Package webview implements a DocumentEngine whose document lives in a
// remote runtime reached over a string message channel.
package webview

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/papyrus-engine/internal/bridge"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "webview"

// Default per-request timeouts.
const (
	DefaultTimeout     = 8 * time.Second
	DefaultLoadTimeout = 30 * time.Second
)

// State is the connection state of the engine.
type State int

const (
	Unattached State = iota
	AttachedNotReady
	Ready
)

func (s State) String() string {
	switch s {
	case AttachedNotReady:
		return "attached"
	case Ready:
		return "ready"
	default:
		return "unattached"
	}
}

// EventSink receives events emitted by the runtime.
type EventSink func(name string, payload json.RawMessage)

// Engine implements engine.DocumentEngine over the RPC bridge.
type Engine struct {
	normalizer  *source.Normalizer
	logger      *slog.Logger
	timeout     time.Duration
	loadTimeout time.Duration
	sink        EventSink
	pending     *bridge.Pending

	mu        sync.Mutex
	state     State
	sender    bridge.Sender
	readySeen bool
	ready     chan struct{}
	abort     chan struct{}
	tail      chan struct{}

	docType     engine.DocumentType
	pageCount   int
	currentPage int
	zoom        float64
	rotation    int
	outline     []engine.OutlineItem
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

// WithTimeouts overrides the request timeouts. Zero keeps the default.
func WithTimeouts(request, load time.Duration) Option {
	return func(e *Engine) {
		if request > 0 {
			e.timeout = request
		}
		if load > 0 {
			e.loadTimeout = load
		}
	}
}

// WithEventSink sets the receiver of runtime events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// New creates an unattached engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		timeout:     DefaultTimeout,
		loadTimeout: DefaultLoadTimeout,
		pending:     bridge.NewPending(backend),
		ready:       make(chan struct{}),
		abort:       make(chan struct{}),
		currentPage: 1,
		zoom:        1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = source.NewNormalizer(nil, 0)
	}
	return e
}

// State returns the connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Attach supplies the channel requests are sent on. A ready signal that
// arrived before Attach takes effect immediately.
func (e *Engine) Attach(sender bridge.Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
	if e.state == Unattached {
		e.state = AttachedNotReady
	}
	if e.readySeen {
		e.markReady()
	}
}

// markReady must be called with e.mu held.
func (e *Engine) markReady() {
	if e.state == Ready {
		return
	}
	e.state = Ready
	close(e.ready)
}

// HandleMessage processes a message from the runtime.
func (e *Engine) HandleMessage(data string) {
	var msg bridge.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		e.logger.Debug("ignoring malformed runtime message", "error", err)
		return
	}

	switch msg.Type {
	case bridge.TypeReady:
		e.mu.Lock()
		e.readySeen = true
		if e.sender != nil {
			e.markReady()
		}
		e.mu.Unlock()
	case bridge.TypeResponse:
		if !e.pending.Resolve(msg) {
			e.logger.Debug("dropping response without pending request", "id", msg.ID)
		}
	case bridge.TypeState:
		var s bridge.State
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			e.logger.Warn("ignoring malformed state", "error", err)
			return
		}
		e.fold(s)
	case bridge.TypeEvent:
		if e.sink != nil {
			e.sink(msg.Name, msg.Payload)
		}
	default:
		e.logger.Debug("ignoring runtime message", "type", msg.Type)
	}
}

func (e *Engine) fold(s bridge.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.PageCount != nil {
		e.pageCount = *s.PageCount
	}
	if s.CurrentPage != nil {
		e.currentPage = *s.CurrentPage
	}
	if s.Zoom != nil {
		e.zoom = *s.Zoom
	}
	if s.Outline != nil {
		e.outline = s.Outline
	}
}

func (e *Engine) destroyedError(op string) error {
	return engine.NewError(engine.KindDestroyed, backend, op, engine.ErrDestroyed)
}

// ticket orders a request behind every request issued before it.
type ticket struct {
	prev  chan struct{}
	sent  chan struct{}
	abort chan struct{}
}

func (e *Engine) enqueue() ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := ticket{prev: e.tail, sent: make(chan struct{}), abort: e.abort}
	e.tail = t.sent
	return t
}

// start waits for its turn and for the runtime, then registers and sends
// the request. The timeout starts when the request is sent.
func (e *Engine) start(ctx context.Context, t ticket, kind string, payload any) (*bridge.Call, error) {
	defer close(t.sent)

	if t.prev != nil {
		select {
		case <-t.prev:
		case <-t.abort:
			return nil, e.destroyedError(kind)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for {
		e.mu.Lock()
		if e.abort != t.abort {
			e.mu.Unlock()
			return nil, e.destroyedError(kind)
		}
		if e.state == Ready {
			break
		}
		ready := e.ready
		e.mu.Unlock()

		select {
		case <-ready:
		case <-t.abort:
			return nil, e.destroyedError(kind)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// e.mu is held: a concurrent Destroy either ran before, and the abort
	// check failed, or runs after and rejects this call.
	sender := e.sender
	id := uuid.NewString()
	timeout := e.timeout
	if kind == bridge.KindLoad {
		timeout = e.loadTimeout
	}
	call := e.pending.Add(id, kind, timeout)
	e.mu.Unlock()

	req, err := bridge.NewRequest(id, kind, payload)
	if err == nil {
		var data string
		if data, err = bridge.Encode(req); err == nil {
			err = sender.Send(data)
		}
	}
	if err != nil {
		sendErr := engine.NewError(engine.KindRemote, backend, kind, err)
		e.pending.Cancel(id, sendErr)
		return nil, sendErr
	}
	return call, nil
}

// request sends a command and waits for its response.
func (e *Engine) request(ctx context.Context, kind string, payload any) (*bridge.Call, error) {
	call, err := e.start(ctx, e.enqueue(), kind, payload)
	if err != nil {
		return nil, err
	}
	select {
	case <-call.Done():
		_, err := call.Result()
		return call, err
	case <-ctx.Done():
		e.pending.Cancel(call.ID, ctx.Err())
		return nil, ctx.Err()
	}
}

func requestAs[T any](ctx context.Context, e *Engine, kind string, payload any) (T, error) {
	var zero T
	call, err := e.request(ctx, kind, payload)
	if err != nil {
		return zero, err
	}
	return bridge.Decode[T](ctx, call)
}

// notify sends a command without blocking the caller. It is queued in
// call order with every other request; failures are logged.
func (e *Engine) notify(kind string, payload any) {
	t := e.enqueue()
	go func() {
		call, err := e.start(context.Background(), t, kind, payload)
		if err != nil {
			e.logger.Warn("webview command not sent", "kind", kind, "error", err)
			return
		}
		<-call.Done()
		if _, err := call.Result(); err != nil {
			e.logger.Warn("webview command failed", "kind", kind, "error", err)
		}
	}()
}

// Load sends the document to the runtime. PDF documents are refused by
// the runtime.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	docType := engine.InferType(req)

	wire, err := e.normalizer.ForWire(ctx, req.Source, docType == engine.TypeText)
	if err != nil {
		loadErr := engine.SourceError(backend, "load", err)
		e.logger.Error("webview load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	result, err := requestAs[bridge.LoadResult](ctx, e, bridge.KindLoad, bridge.LoadPayload{
		Type:   string(docType),
		Source: wire,
	})
	if err != nil {
		e.logger.Error("webview load failed", "type", docType, "error", err)
		return err
	}

	e.mu.Lock()
	e.docType = docType
	e.pageCount = result.PageCount
	e.currentPage = 1
	e.zoom = 1.0
	e.outline = result.Outline
	e.mu.Unlock()

	e.logger.Debug("webview document loaded", "type", docType, "pages", result.PageCount)
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
	return e.currentPage
}

// GoToPage updates the local page at once and tells the runtime.
func (e *Engine) GoToPage(page int) {
	e.mu.Lock()
	if !engine.ValidPage(page, e.pageCount) {
		e.mu.Unlock()
		return
	}
	e.currentPage = page
	e.mu.Unlock()
	e.notify(bridge.KindGoToPage, bridge.PagePayload{Page: page})
}

func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	e.zoom = engine.WebViewZoom.Clamp(zoom)
	zoom = e.zoom
	e.mu.Unlock()
	e.notify(bridge.KindSetZoom, bridge.ZoomPayload{Zoom: zoom})
}

func (e *Engine) Zoom() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zoom
}

func (e *Engine) Rotate(dir engine.Direction) {
	e.mu.Lock()
	e.rotation = engine.NextRotation(e.rotation, dir)
	rotation := e.rotation
	e.mu.Unlock()
	e.notify(bridge.KindSetRotation, bridge.RotationPayload{Rotation: rotation})
}

func (e *Engine) Rotation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotation
}

// RenderPage shows pageIndex in the runtime's own surface. The target is
// not painted.
func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	e.mu.Lock()
	count, current := e.pageCount, e.currentPage
	e.mu.Unlock()

	if !engine.ValidPage(pageIndex+1, count) {
		return engine.Errorf(engine.KindRender, backend, "render", "page index %d out of range (0-%d)", pageIndex, count-1)
	}
	if pageIndex+1 == current {
		return nil
	}
	res, err := requestAs[bridge.PageResult](ctx, e, bridge.KindGoToPage, bridge.PagePayload{Page: pageIndex + 1})
	if err != nil {
		e.logger.Error("webview render failed", "page", pageIndex, "error", err)
		return err
	}
	e.mu.Lock()
	e.currentPage = res.CurrentPage
	e.mu.Unlock()
	return nil
}

// RenderTextLayer is a no-op: the runtime's surface carries its own
// selectable text.
func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return nil
}

func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	items, err := requestAs[[]engine.TextItem](ctx, e, bridge.KindGetTextContent, bridge.PageIndexPayload{PageIndex: pageIndex})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []engine.TextItem{}
	}
	return items, nil
}

func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	return requestAs[engine.Dimensions](ctx, e, bridge.KindGetPageDimensions, bridge.PageIndexPayload{PageIndex: pageIndex})
}

// Outline asks the runtime for the table of contents and refreshes the
// local copy.
func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	items, err := requestAs[[]engine.OutlineItem](ctx, e, bridge.KindGetOutline, nil)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []engine.OutlineItem{}
	}
	e.mu.Lock()
	e.outline = items
	e.mu.Unlock()
	return items, nil
}

// CachedOutline returns the outline last reported by the runtime.
func (e *Engine) CachedOutline() []engine.OutlineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outline
}

// PageIndex resolves dest remotely. A null answer is engine.NoPage.
func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	idx, err := requestAs[*int](ctx, e, bridge.KindGetPageIndex, bridge.DestPayload{Dest: dest.Name, PageNumber: dest.PageNumber})
	if err != nil {
		return engine.NoPage, err
	}
	if idx == nil {
		return engine.NoPage, nil
	}
	return *idx, nil
}

func (e *Engine) SearchText(ctx context.Context, query string) ([]engine.SearchResult, error) {
	results, err := requestAs[[]engine.SearchResult](ctx, e, bridge.KindSearchText, bridge.QueryPayload{Query: query})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []engine.SearchResult{}
	}
	return results, nil
}

func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	return requestAs[*engine.TextSelection](ctx, e, bridge.KindSelectText, bridge.SelectPayload{PageIndex: pageIndex, Rect: &rect})
}

// Destroy fails every pending request and every caller waiting for the
// runtime, tells the runtime to drop its document and detaches.
func (e *Engine) Destroy() {
	e.mu.Lock()
	sender, wasReady := e.sender, e.state == Ready
	e.state = Unattached
	e.sender = nil
	e.readySeen = false
	close(e.abort)
	e.abort = make(chan struct{})
	e.ready = make(chan struct{})
	e.tail = nil
	e.docType = ""
	e.pageCount = 0
	e.currentPage = 1
	e.zoom = 1.0
	e.rotation = 0
	e.outline = nil
	e.mu.Unlock()

	if n := e.pending.RejectAll(e.destroyedError("destroy")); n > 0 {
		e.logger.Debug("webview requests rejected", "count", n)
	}

	if wasReady && sender != nil {
		req, _ := bridge.NewRequest(uuid.NewString(), bridge.KindDestroy, nil)
		if data, err := bridge.Encode(req); err == nil {
			if err := sender.Send(data); err != nil {
				e.logger.Debug("webview destroy not delivered", "error", err)
			}
		}
	}
}
