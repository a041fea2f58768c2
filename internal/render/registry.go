package render

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned by Task.Paint when a newer render for the same
// target has started. Backends treat it as a non-error.
var ErrSuperseded = errors.New("render superseded")

// Registry tracks the current render per target.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Task is one render in flight.
type Task struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	slot   *slot
	gen    uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// Begin starts a render for targetID, cancelling any render already in
// flight for it.
func (r *Registry) Begin(ctx context.Context, targetID string) *Task {
	r.mu.Lock()
	s, ok := r.slots[targetID]
	if !ok {
		s = &slot{}
		r.slots[targetID] = s
	}
	r.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.cancel = cancel
	gen := s.gen
	s.mu.Unlock()

	return &Task{parent: ctx, ctx: taskCtx, cancel: cancel, slot: s, gen: gen}
}

// CancelAll cancels every render in flight and forgets all targets.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		s.gen++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}
}

// Len returns the number of known targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Context is cancelled when the task is superseded.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Paint runs fn only if the task is still current. The check and fn run
// under the target's lock, so a superseded task can never paint after its
// successor has begun.
func (t *Task) Paint(fn func(ctx context.Context) error) error {
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()

	if err := t.parent.Err(); err != nil {
		return err
	}
	if t.slot.gen != t.gen || t.ctx.Err() != nil {
		return ErrSuperseded
	}
	return fn(t.ctx)
}

// Done releases the task.
func (t *Task) Done() {
	t.cancel()

	t.slot.mu.Lock()
	if t.slot.gen == t.gen {
		t.slot.cancel = nil
	}
	t.slot.mu.Unlock()
}

// IsSuperseded reports whether err means the render was replaced.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
