// Package events is the viewer event bus. A Bus is an explicit instance
// passed to whoever emits or listens; there is no process-wide default.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/bridge"
)

// Type names an event.
type Type string

const (
	TypeDocumentLoaded    Type = "DOCUMENT_LOADED"
	TypePageChanged       Type = "PAGE_CHANGED"
	TypeZoomChanged       Type = "ZOOM_CHANGED"
	TypeAnnotationCreated Type = "ANNOTATION_CREATED"
	TypeAnnotationDeleted Type = "ANNOTATION_DELETED"
	TypeSearchTriggered   Type = "SEARCH_TRIGGERED"
	TypeTextSelected      Type = "TEXT_SELECTED"
)

// Types lists every event type in declaration order.
func Types() []Type {
	return []Type{
		TypeDocumentLoaded, TypePageChanged, TypeZoomChanged,
		TypeAnnotationCreated, TypeAnnotationDeleted,
		TypeSearchTriggered, TypeTextSelected,
	}
}

// Payloads, one per event type.
type (
	DocumentLoaded struct {
		PageCount int `json:"pageCount"`
	}
	PageChanged struct {
		PageNumber int `json:"pageNumber"`
	}
	ZoomChanged struct {
		Zoom float64 `json:"zoom"`
	}
	// AnnotationCreated carries the created store annotation.
	AnnotationCreated struct {
		Annotation any `json:"annotation"`
	}
	AnnotationDeleted struct {
		AnnotationID string `json:"annotationId"`
	}
	SearchTriggered struct {
		Query string `json:"query"`
	}
	TextSelected struct {
		Text      string `json:"text"`
		PageIndex int    `json:"pageIndex"`
	}
)

// Event is one emitted event.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus delivers events synchronously, in subscription order, on the
// emitting goroutine. Handlers run without the bus lock held, so they may
// subscribe, unsubscribe or emit.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	byType map[Type][]subscription
	all    []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[Type][]subscription)}
}

// On subscribes fn to events of type t and returns its unsubscribe func.
func (b *Bus) On(t Type, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.byType[t] = without(b.byType[t], id)
		})
	}
}

// OnAny subscribes fn to every event.
func (b *Bus) OnAny(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = without(b.all, id)
		})
	}
}

func without(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers e to the handlers of its type, then to catch-all handlers.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[e.Type])+len(b.all))
	for _, s := range b.byType[e.Type] {
		handlers = append(handlers, s.fn)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribe is On with the payload asserted to P. Events whose payload is
// not a P are skipped.
func Subscribe[P any](b *Bus, t Type, fn func(P)) (unsubscribe func()) {
	return b.On(t, func(e Event) {
		if p, ok := e.Payload.(P); ok {
			fn(p)
		}
	})
}

// Forwarder relays every event on a bus to a host as JSON
// {"type": ..., "payload": ...}.
type Forwarder struct {
	sink   bridge.Sender
	logger *slog.Logger
	stop   func()
}

// Forward starts relaying events from b to sink.
func Forward(b *Bus, sink bridge.Sender, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{sink: sink, logger: logger}
	f.stop = b.OnAny(f.handle)
	return f
}

func (f *Forwarder) handle(e Event) {
	data, err := Marshal(e)
	if err != nil {
		f.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}
	if err := f.sink.Send(data); err != nil {
		f.logger.Warn("failed to forward event", "type", e.Type, "error", err)
	}
}

// Close stops forwarding.
func (f *Forwarder) Close() {
	f.stop()
}

// Marshal encodes e in the forwarded form.
func Marshal(e Event) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return string(b), nil
}
