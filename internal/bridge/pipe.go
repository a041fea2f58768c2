package bridge

import (
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed pipe.
var ErrClosed = errors.New("bridge: pipe closed")

// Endpoint is one side of an in-process message pipe. Messages sent on one
// endpoint are delivered, in order and asynchronously, to the handler of
// the other. Messages that arrive before a handler is set are queued.
type Endpoint struct {
	peer *Endpoint

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	handler func(string)
	closed  bool
}

// Pipe returns two connected endpoints. Closing either closes both.
func Pipe() (*Endpoint, *Endpoint) {
	a, b := newEndpoint(), newEndpoint()
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func newEndpoint() *Endpoint {
	e := &Endpoint{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// OnMessage sets the handler receiving messages sent by the peer.
func (e *Endpoint) OnMessage(fn func(string)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Send queues data for the peer.
func (e *Endpoint) Send(data string) error {
	return e.peer.enqueue(data)
}

func (e *Endpoint) enqueue(data string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, data)
	e.cond.Signal()
	return nil
}

func (e *Endpoint) deliver() {
	for {
		e.mu.Lock()
		for !e.closed && (len(e.queue) == 0 || e.handler == nil) {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		msg := e.queue[0]
		e.queue[0] = ""
		e.queue = e.queue[1:]
		handler := e.handler
		e.mu.Unlock()

		handler(msg)
	}
}

// Close shuts both endpoints down. Queued messages are discarded.
func (e *Endpoint) Close() {
	e.shutdown()
	e.peer.shutdown()
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	e.cond.Broadcast()
}
