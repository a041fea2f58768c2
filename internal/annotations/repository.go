// Package annotations persists the annotations of each document, keyed by
// a caller-chosen document key.
package annotations

import (
	"context"
	"slices"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/store"
)

// Repository stores the annotation list of a document. Save replaces the
// whole list. Loading an unknown key yields an empty list.
type Repository interface {
	Load(ctx context.Context, docKey string) ([]store.Annotation, error)
	Save(ctx context.Context, docKey string, anns []store.Annotation) error
	Delete(ctx context.Context, docKey string) error
}

// MemoryStore keeps annotations in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]store.Annotation
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]store.Annotation)}
}

func (m *MemoryStore) Load(ctx context.Context, docKey string) ([]store.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	anns := slices.Clone(m.docs[docKey])
	if anns == nil {
		anns = []store.Annotation{}
	}
	return anns, nil
}

func (m *MemoryStore) Save(ctx context.Context, docKey string, anns []store.Annotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docKey] = slices.Clone(anns)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, docKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docKey)
	return nil
}
