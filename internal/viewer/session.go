// Package viewer turns viewer actions into engine calls and keeps the
// view-state store in step with the engine.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/annotations"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/events"
	"github.com/a3tai/papyrus-engine/internal/search"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/store"
)

// Opener creates the engine that will open a document.
type Opener interface {
	CreateFor(req engine.LoadRequest) (engine.DocumentEngine, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(req engine.LoadRequest) (engine.DocumentEngine, error)

func (f OpenerFunc) CreateFor(req engine.LoadRequest) (engine.DocumentEngine, error) {
	return f(req)
}

// Session is one open viewer.
type Session struct {
	opener            Opener
	store             *store.Store
	repo              annotations.Repository
	syncer            *annotations.Syncer
	logger            *slog.Logger
	searchConcurrency int

	mu     sync.Mutex
	eng    engine.DocumentEngine
	docKey string
}

// Option configures a Session.
type Option func(*Session)

// WithStore uses s instead of a fresh store.
func WithStore(s *store.Store) Option {
	return func(sess *Session) {
		if s != nil {
			sess.store = s
		}
	}
}

// WithRepository persists annotations in repo.
func WithRepository(repo annotations.Repository) Option {
	return func(sess *Session) {
		sess.repo = repo
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) {
		if l != nil {
			sess.logger = l
		}
	}
}

// WithSearchConcurrency bounds parallel page text extraction in searches.
func WithSearchConcurrency(n int) Option {
	return func(sess *Session) {
		sess.searchConcurrency = n
	}
}

// New creates a session with nothing open.
func New(opener Opener, opts ...Option) *Session {
	s := &Session{
		opener:            opener,
		logger:            slog.Default(),
		searchConcurrency: search.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.New(nil)
	}
	if s.repo != nil {
		s.syncer = annotations.NewSyncer(s.repo, s.store, s.logger)
	}
	return s
}

// Store returns the view-state store.
func (s *Session) Store() *store.Store {
	return s.store
}

// Bus returns the bus the store emits on.
func (s *Session) Bus() *events.Bus {
	return s.store.Bus()
}

// State returns a snapshot of the view state.
func (s *Session) State() store.State {
	return s.store.Get()
}

// Engine returns the engine of the open document, or nil.
func (s *Session) Engine() engine.DocumentEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

// DocumentKey returns the key annotations of the open document are kept
// under.
func (s *Session) DocumentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docKey
}

func (s *Session) active() (engine.DocumentEngine, error) {
	if eng := s.Engine(); eng != nil {
		return eng, nil
	}
	return nil, engine.ErrNotLoaded
}

// Open loads a document, replacing the open one. docKey names the
// document for annotation persistence; empty derives it from the source
// name, and no name disables persistence. The store's current page, zoom
// and rotation are carried over to the new engine where they fit.
func (s *Session) Open(ctx context.Context, req engine.LoadRequest, docKey string) error {
	s.Close()

	eng, err := s.opener.CreateFor(req)
	if err != nil {
		return err
	}
	if err := eng.Load(ctx, req); err != nil {
		eng.Destroy()
		return err
	}

	if docKey == "" {
		docKey = documentKey(req.Source)
	}

	st := s.store.Get()
	eng.SetZoom(st.Zoom)
	for i := 0; i < 4 && eng.Rotation() != st.Rotation; i++ {
		eng.Rotate(engine.Clockwise)
	}
	eng.GoToPage(st.CurrentPage)

	outline, err := eng.Outline(ctx)
	if err != nil {
		s.logger.Warn("outline unavailable", "error", err)
		outline = []engine.OutlineItem{}
	}

	s.mu.Lock()
	s.eng = eng
	s.docKey = docKey
	s.mu.Unlock()

	if err := s.restoreAnnotations(ctx, docKey); err != nil {
		s.logger.Warn("failed to restore annotations", "document", docKey, "error", err)
	}

	s.store.ClearSearch()
	loaded := true
	pageCount, current, zoom, rotation := eng.PageCount(), eng.CurrentPage(), eng.Zoom(), eng.Rotation()
	s.store.SetDocumentState(store.Patch{
		IsLoaded:    &loaded,
		PageCount:   &pageCount,
		CurrentPage: &current,
		Zoom:        &zoom,
		Rotation:    &rotation,
		Outline:     outline,
	})

	s.logger.Info("document opened", "document", docKey, "pages", pageCount)
	return nil
}

// documentKey names sources that carry a location. Inline payloads have
// no stable name.
func documentKey(src source.Source) string {
	switch src.Kind {
	case source.KindURI, source.KindFile:
		return src.Hint()
	case source.KindString:
		if source.LooksLikeURI(src.Str) {
			return src.Str
		}
	}
	return ""
}

func (s *Session) restoreAnnotations(ctx context.Context, docKey string) error {
	if s.syncer == nil || docKey == "" {
		if s.syncer != nil {
			s.syncer.SetDocument("")
		}
		s.store.Initialize(store.Config{Annotations: []store.Annotation{}})
		return nil
	}
	if _, err := s.syncer.Restore(ctx, docKey); err != nil {
		s.syncer.SetDocument("")
		s.store.Initialize(store.Config{Annotations: []store.Annotation{}})
		return err
	}
	return nil
}

// Close destroys the open engine and marks the store unloaded.
func (s *Session) Close() {
	s.mu.Lock()
	eng := s.eng
	s.eng = nil
	s.docKey = ""
	s.mu.Unlock()

	if eng == nil {
		return
	}
	eng.Destroy()
	if s.syncer != nil {
		s.syncer.SetDocument("")
	}
	notLoaded, zero, first := false, 0, 1
	s.store.ClearSearch()
	s.store.SetDocumentState(store.Patch{
		IsLoaded:    &notLoaded,
		PageCount:   &zero,
		CurrentPage: &first,
		Outline:     []engine.OutlineItem{},
	})
}

// GoToPage moves to a 1-based page.
func (s *Session) GoToPage(page int) error {
	eng, err := s.active()
	if err != nil {
		return err
	}
	if !engine.ValidPage(page, eng.PageCount()) {
		return fmt.Errorf("page %d out of range (1-%d)", page, eng.PageCount())
	}
	eng.GoToPage(page)
	current := eng.CurrentPage()
	s.store.SetDocumentState(store.Patch{CurrentPage: &current})
	return nil
}

// GoToDestination resolves dest and moves to its page. It returns the
// 0-based page index, or engine.NoPage when dest does not resolve.
func (s *Session) GoToDestination(ctx context.Context, dest engine.Destination) (int, error) {
	eng, err := s.active()
	if err != nil {
		return engine.NoPage, err
	}
	idx, err := eng.PageIndex(ctx, dest)
	if err != nil || idx == engine.NoPage {
		return idx, err
	}
	eng.GoToPage(idx + 1)
	s.store.TriggerScrollToPage(idx)
	return idx, nil
}

// SetZoom applies zoom, clamped by the engine, and returns the result.
func (s *Session) SetZoom(zoom float64) (float64, error) {
	eng, err := s.active()
	if err != nil {
		return 0, err
	}
	eng.SetZoom(zoom)
	z := eng.Zoom()
	s.store.SetDocumentState(store.Patch{Zoom: &z})
	return z, nil
}

// Rotate turns the view one quarter and returns the new rotation.
func (s *Session) Rotate(dir engine.Direction) (int, error) {
	eng, err := s.active()
	if err != nil {
		return 0, err
	}
	eng.Rotate(dir)
	r := eng.Rotation()
	s.store.SetDocumentState(store.Patch{Rotation: &r})
	return r, nil
}

// Search runs query over the document and stores the results.
func (s *Session) Search(ctx context.Context, query string) ([]engine.SearchResult, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	results, err := search.New(eng,
		search.WithLogger(s.logger),
		search.WithConcurrency(s.searchConcurrency)).Search(ctx, query)
	if err != nil {
		return nil, err
	}
	s.store.SetSearch(query, results)
	return results, nil
}

// NextResult activates the next search result and moves to its page.
func (s *Session) NextResult() (engine.SearchResult, bool) {
	s.store.NextSearchResult()
	return s.followResult()
}

// PrevResult activates the previous search result and moves to its page.
func (s *Session) PrevResult() (engine.SearchResult, bool) {
	s.store.PrevSearchResult()
	return s.followResult()
}

func (s *Session) followResult() (engine.SearchResult, bool) {
	st := s.store.Get()
	if st.ActiveSearchIndex < 0 || st.ActiveSearchIndex >= len(st.SearchResults) {
		return engine.SearchResult{}, false
	}
	if eng := s.Engine(); eng != nil {
		eng.GoToPage(st.CurrentPage)
	}
	return st.SearchResults[st.ActiveSearchIndex], true
}

// TextContent returns the text runs of a 0-based page.
func (s *Session) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	return eng.TextContent(ctx, pageIndex)
}

// PageDimensions returns the size of a 0-based page.
func (s *Session) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	eng, err := s.active()
	if err != nil {
		return engine.Dimensions{}, err
	}
	return eng.PageDimensions(ctx, pageIndex)
}

// Outline returns the document outline.
func (s *Session) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	return eng.Outline(ctx)
}

// SelectText resolves rect on a page to text and announces non-empty
// selections. Engines without selection support select nothing.
func (s *Session) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	selector, ok := eng.(engine.TextSelector)
	if !ok {
		return nil, nil
	}
	sel, err := selector.SelectText(ctx, pageIndex, rect)
	if err != nil || sel == nil || sel.Text == "" {
		return sel, err
	}
	s.Bus().Emit(events.Event{
		Type:    events.TypeTextSelected,
		Payload: events.TextSelected{Text: sel.Text, PageIndex: pageIndex},
	})
	return sel, nil
}

// Annotate adds an annotation to a 0-based page.
func (s *Session) Annotate(t store.AnnotationType, pageIndex int, rect engine.Rect, color, content string) (store.Annotation, error) {
	eng, err := s.active()
	if err != nil {
		return store.Annotation{}, err
	}
	if !engine.ValidPage(pageIndex+1, eng.PageCount()) {
		return store.Annotation{}, fmt.Errorf("page index %d out of range (0-%d)", pageIndex, eng.PageCount()-1)
	}
	if rect.Width < 0 || rect.Height < 0 {
		return store.Annotation{}, errors.New("annotation rect must have a non-negative size")
	}
	a := store.NewAnnotation(t, pageIndex, rect, color, content, s.store.Get().AccentColor)
	return s.store.AddAnnotation(a)
}

// RemoveAnnotation deletes an annotation by id.
func (s *Session) RemoveAnnotation(id string) bool {
	return s.store.RemoveAnnotation(id)
}

// Annotations returns the annotations of the open document, optionally
// limited to one page when pageIndex >= 0.
func (s *Session) Annotations(pageIndex int) []store.Annotation {
	all := s.store.Get().Annotations
	if pageIndex < 0 {
		return all
	}
	out := make([]store.Annotation, 0, len(all))
	for _, a := range all {
		if a.PageIndex == pageIndex {
			out = append(out, a)
		}
	}
	return out
}

// Render paints a 0-based page into target.
func (s *Session) Render(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	eng, err := s.active()
	if err != nil {
		return err
	}
	return eng.RenderPage(ctx, pageIndex, target, scale)
}

// RenderTextLayer paints the text overlay of a 0-based page into target.
func (s *Session) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	eng, err := s.active()
	if err != nil {
		return err
	}
	return eng.RenderTextLayer(ctx, pageIndex, target, scale)
}

// Shutdown closes the document and stops annotation syncing.
func (s *Session) Shutdown() {
	s.Close()
	if s.syncer != nil {
		s.syncer.Close()
	}
}
