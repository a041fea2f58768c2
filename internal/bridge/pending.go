package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// Sender delivers an encoded request to the runtime.
type Sender interface {
	Send(data string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(data string) error

func (f SenderFunc) Send(data string) error {
	return f(data)
}

// Call is a request awaiting its response.
type Call struct {
	ID   string
	Kind string

	done chan struct{}
	once sync.Once
	data json.RawMessage
	err  error
}

func newCall(id, kind string) *Call {
	return &Call{ID: id, Kind: kind, done: make(chan struct{})}
}

func (c *Call) settle(data json.RawMessage, err error) {
	c.once.Do(func() {
		c.data = data
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call is settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled outcome. It must only be called after Done.
func (c *Call) Result() (json.RawMessage, error) {
	return c.data, c.err
}

// Wait blocks until the call settles or ctx is done.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.data, c.err
	default:
	}
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the call and unmarshals its data into T.
func Decode[T any](ctx context.Context, c *Call) (T, error) {
	var v T
	data, err := c.Wait(ctx)
	if err != nil {
		return v, err
	}
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s response: %w", c.Kind, err)
	}
	return v, nil
}

type pendingEntry struct {
	call  *Call
	timer *time.Timer
}

// Pending tracks in-flight calls by request id. Each entry carries its own
// timer; a response arriving after the entry is gone is dropped.
type Pending struct {
	backend string

	mu    sync.Mutex
	calls map[string]*pendingEntry
}

// NewPending creates an empty table. backend names the engine in errors.
func NewPending(backend string) *Pending {
	return &Pending{backend: backend, calls: make(map[string]*pendingEntry)}
}

// Add registers a call. A timeout <= 0 disables expiry.
func (p *Pending) Add(id, kind string, timeout time.Duration) *Call {
	call := newCall(id, kind)
	entry := &pendingEntry{call: call}

	p.mu.Lock()
	p.calls[id] = entry
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			p.Cancel(id, engine.Errorf(engine.KindTimeout, p.backend, kind,
				"request %s timed out after %s", id, timeout))
		})
	}
	p.mu.Unlock()
	return call
}

func (p *Pending) take(id string) *pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.calls[id]
	if !ok {
		return nil
	}
	delete(p.calls, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

// Resolve settles the call matching a response message. It reports false
// when no call is waiting for msg.ID.
func (p *Pending) Resolve(msg Message) bool {
	entry := p.take(msg.ID)
	if entry == nil {
		return false
	}
	if msg.Succeeded() {
		entry.call.settle(msg.Data, nil)
		return true
	}
	reason := msg.Error
	if reason == "" {
		reason = "unknown error"
	}
	entry.call.settle(nil, engine.NewError(engine.KindRemote, p.backend, entry.call.Kind, errors.New(reason)))
	return true
}

// Cancel fails a single call. It reports false when id is not pending.
func (p *Pending) Cancel(id string, err error) bool {
	entry := p.take(id)
	if entry == nil {
		return false
	}
	entry.call.settle(nil, err)
	return true
}

// RejectAll fails every pending call with err and empties the table.
func (p *Pending) RejectAll(err error) int {
	p.mu.Lock()
	entries := p.calls
	p.calls = make(map[string]*pendingEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.call.settle(nil, err)
	}
	return len(entries)
}

// Len returns the number of pending calls.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
