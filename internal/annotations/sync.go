package annotations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/a3tai/papyrus-engine/internal/store"
)

// DefaultSaveTimeout bounds each save triggered by a store change.
const DefaultSaveTimeout = 5 * time.Second

// Syncer writes the store's annotations to a repository whenever one is
// created, updated or deleted.
type Syncer struct {
	repo    Repository
	store   *store.Store
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	docKey  string
	lastErr error
	stops   []func()
}

// NewSyncer starts syncing s into repo. Nothing is written until a
// document key is set.
func NewSyncer(repo Repository, s *store.Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	sy := &Syncer{repo: repo, store: s, logger: logger, timeout: DefaultSaveTimeout}
	sy.stops = append(sy.stops, s.OnAnnotationsChanged(sy.handle))
	return sy
}

// SetDocument switches the key snapshots are saved under. An empty key
// pauses syncing.
func (sy *Syncer) SetDocument(docKey string) {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	sy.docKey = docKey
}

// Document returns the current document key.
func (sy *Syncer) Document() string {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	return sy.docKey
}

// Restore loads the annotations saved under docKey into the store and
// makes docKey current.
func (sy *Syncer) Restore(ctx context.Context, docKey string) ([]store.Annotation, error) {
	anns, err := sy.repo.Load(ctx, docKey)
	if err != nil {
		return nil, err
	}
	sy.store.Initialize(store.Config{Annotations: anns})
	sy.SetDocument(docKey)
	return anns, nil
}

// Flush saves the current snapshot.
func (sy *Syncer) Flush(ctx context.Context) error {
	key := sy.Document()
	if key == "" {
		return nil
	}
	err := sy.repo.Save(ctx, key, sy.store.Get().Annotations)

	sy.mu.Lock()
	sy.lastErr = err
	sy.mu.Unlock()
	return err
}

func (sy *Syncer) handle() {
	ctx, cancel := context.WithTimeout(context.Background(), sy.timeout)
	defer cancel()
	if err := sy.Flush(ctx); err != nil {
		sy.logger.Error("failed to save annotations", "document", sy.Document(), "error", err)
	}
}

// Err returns the error of the last save, if it failed.
func (sy *Syncer) Err() error {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	return sy.lastErr
}

// Close stops listening for store changes.
func (sy *Syncer) Close() {
	sy.mu.Lock()
	stops := sy.stops
	sy.stops = nil
	sy.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
