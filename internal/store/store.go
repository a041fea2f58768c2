// Package store holds the viewer state. State changes only through the
// named actions, and the qualifying transitions are announced on an event
// bus once the change is applied.
package store

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/events"
)

// State is a snapshot of the viewer.
type State struct {
	IsLoaded    bool                 `json:"isLoaded"`
	PageCount   int                  `json:"pageCount"`
	CurrentPage int                  `json:"currentPage"`
	Zoom        float64              `json:"zoom"`
	Rotation    int                  `json:"rotation"`
	ViewMode    ViewMode             `json:"viewMode"`
	UITheme     UITheme              `json:"uiTheme"`
	PageTheme   PageTheme            `json:"pageTheme"`
	Locale      string               `json:"locale"`
	AccentColor string               `json:"accentColor"`
	Outline     []engine.OutlineItem `json:"outline"`

	SidebarLeftOpen    bool   `json:"sidebarLeftOpen"`
	SidebarLeftTab     string `json:"sidebarLeftTab"`
	OutlineSearchQuery string `json:"outlineSearchQuery"`
	SidebarRightOpen   bool   `json:"sidebarRightOpen"`
	SidebarRightTab    string `json:"sidebarRightTab"`

	SearchQuery       string                `json:"searchQuery"`
	SearchResults     []engine.SearchResult `json:"searchResults"`
	ActiveSearchIndex int                   `json:"activeSearchIndex"`
	ScrollToPage      *int                  `json:"scrollToPageSignal"`

	Annotations          []Annotation `json:"annotations"`
	ActiveTool           Tool         `json:"activeTool"`
	SelectedAnnotationID string       `json:"selectedAnnotationId,omitempty"`
}

// DefaultState is the state of a fresh store.
func DefaultState() State {
	return State{
		CurrentPage:       1,
		Zoom:              1.0,
		ViewMode:          ViewContinuous,
		UITheme:           UILight,
		PageTheme:         PageNormal,
		Locale:            LocaleEN,
		AccentColor:       DefaultAccentColor,
		Outline:           []engine.OutlineItem{},
		SidebarLeftOpen:   true,
		SidebarLeftTab:    TabThumbnails,
		SidebarRightTab:   TabSearch,
		SearchResults:     []engine.SearchResult{},
		ActiveSearchIndex: -1,
		Annotations:       []Annotation{},
		ActiveTool:        ToolSelect,
	}
}

func (s State) clone() State {
	s.Outline = slices.Clone(s.Outline)
	s.SearchResults = slices.Clone(s.SearchResults)
	s.Annotations = slices.Clone(s.Annotations)
	if s.ScrollToPage != nil {
		p := *s.ScrollToPage
		s.ScrollToPage = &p
	}
	return s
}

// Config seeds a store. Nil fields leave the current value in place.
type Config struct {
	InitialPage      *int
	InitialZoom      *float64
	InitialRotation  *int
	ViewMode         *ViewMode
	UITheme          *UITheme
	PageTheme        *PageTheme
	Locale           *string
	AccentColor      *string
	Annotations      []Annotation
	SidebarLeftOpen  *bool
	SidebarRightOpen *bool
}

// Patch updates document state. Nil fields are left unchanged.
type Patch struct {
	IsLoaded    *bool
	PageCount   *int
	CurrentPage *int
	Zoom        *float64
	Rotation    *int
	ViewMode    *ViewMode
	UITheme     *UITheme
	PageTheme   *PageTheme
	Locale      *string
	AccentColor *string
	Outline     []engine.OutlineItem
}

// Store is the view-state store.
type Store struct {
	bus *events.Bus

	mu    sync.Mutex
	state State

	// notifications waiting for delivery, in commit order
	pending  []func()
	draining bool

	watchers    map[int]func()
	nextWatcher int
}

// New creates a store announcing changes on bus. A nil bus gets a private
// one.
func New(bus *events.Bus) *Store {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Store{bus: bus, state: DefaultState()}
}

// Bus returns the bus events are emitted on.
func (s *Store) Bus() *events.Bus {
	return s.bus
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// update applies fn under the lock, then emits the page, zoom and loaded
// transitions it caused followed by the events fn returned.
func (s *Store) update(fn func(st *State) []events.Event) {
	s.commit(func(st *State) ([]events.Event, bool) {
		return fn(st), false
	})
}

// commit is update for actions that may change annotations; fn reports
// whether it did, and annotation watchers are notified after its events.
// Notifications from concurrent actions are delivered one at a time in
// the order the actions took the lock.
func (s *Store) commit(fn func(st *State) ([]events.Event, bool)) {
	s.mu.Lock()
	before := s.state
	extra, annotationsChanged := fn(&s.state)
	after := s.state

	var out []events.Event
	if after.CurrentPage != before.CurrentPage {
		out = append(out, events.Event{Type: events.TypePageChanged, Payload: events.PageChanged{PageNumber: after.CurrentPage}})
	}
	if after.Zoom != before.Zoom {
		out = append(out, events.Event{Type: events.TypeZoomChanged, Payload: events.ZoomChanged{Zoom: after.Zoom}})
	}
	if after.IsLoaded && !before.IsLoaded {
		out = append(out, events.Event{Type: events.TypeDocumentLoaded, Payload: events.DocumentLoaded{PageCount: after.PageCount}})
	}
	out = append(out, extra...)

	for _, e := range out {
		s.pending = append(s.pending, func() { s.bus.Emit(e) })
	}
	if annotationsChanged {
		for _, id := range slices.Sorted(maps.Keys(s.watchers)) {
			s.pending = append(s.pending, s.watchers[id])
		}
	}
	s.drain()
}

// drain delivers pending notifications. It is entered with s.mu held and
// releases it. While one goroutine drains, others only enqueue, so a
// handler that acts on the store has its notifications delivered after
// the current one.
func (s *Store) drain() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	defer func() {
		s.draining = false
		s.mu.Unlock()
	}()

	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		func() {
			defer s.mu.Lock()
			next()
		}()
	}
}

// OnAnnotationsChanged registers fn to run after every annotation add,
// update or remove. It is not announced on the bus, and Initialize and
// Reset do not trigger it.
func (s *Store) OnAnnotationsChanged(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers == nil {
		s.watchers = make(map[int]func())
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Initialize applies a configuration object.
func (s *Store) Initialize(cfg Config) {
	s.update(func(st *State) []events.Event {
		setIf(&st.CurrentPage, cfg.InitialPage)
		setIf(&st.Zoom, cfg.InitialZoom)
		if cfg.InitialRotation != nil {
			st.Rotation = engine.NormalizeRotation(*cfg.InitialRotation)
		}
		setIf(&st.ViewMode, cfg.ViewMode)
		setIf(&st.UITheme, cfg.UITheme)
		setIf(&st.PageTheme, cfg.PageTheme)
		setIf(&st.Locale, cfg.Locale)
		setIf(&st.AccentColor, cfg.AccentColor)
		if cfg.Annotations != nil {
			st.Annotations = slices.Clone(cfg.Annotations)
		}
		setIf(&st.SidebarLeftOpen, cfg.SidebarLeftOpen)
		setIf(&st.SidebarRightOpen, cfg.SidebarRightOpen)
		return nil
	})
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SetDocumentState applies p.
func (s *Store) SetDocumentState(p Patch) {
	s.update(func(st *State) []events.Event {
		setIf(&st.IsLoaded, p.IsLoaded)
		setIf(&st.PageCount, p.PageCount)
		setIf(&st.CurrentPage, p.CurrentPage)
		setIf(&st.Zoom, p.Zoom)
		if p.Rotation != nil {
			st.Rotation = engine.NormalizeRotation(*p.Rotation)
		}
		setIf(&st.ViewMode, p.ViewMode)
		setIf(&st.UITheme, p.UITheme)
		setIf(&st.PageTheme, p.PageTheme)
		setIf(&st.Locale, p.Locale)
		setIf(&st.AccentColor, p.AccentColor)
		if p.Outline != nil {
			st.Outline = slices.Clone(p.Outline)
		}
		return nil
	})
}

func (s *Store) ToggleSidebarLeft() {
	s.update(func(st *State) []events.Event {
		st.SidebarLeftOpen = !st.SidebarLeftOpen
		return nil
	})
}

// SetSidebarLeftTab selects thumbnails or summary.
func (s *Store) SetSidebarLeftTab(tab string) error {
	if tab != TabThumbnails && tab != TabSummary {
		return fmt.Errorf("invalid left sidebar tab: %s (must be one of: thumbnails, summary)", tab)
	}
	s.update(func(st *State) []events.Event {
		st.SidebarLeftTab = tab
		return nil
	})
	return nil
}

func (s *Store) SetOutlineSearch(query string) {
	s.update(func(st *State) []events.Event {
		st.OutlineSearchQuery = query
		return nil
	})
}

// ToggleSidebarRight opens the right sidebar on tab, or toggles it when tab
// is empty.
func (s *Store) ToggleSidebarRight(tab string) error {
	if tab != "" && tab != TabSearch && tab != TabAnnotations {
		return fmt.Errorf("invalid right sidebar tab: %s (must be one of: search, annotations)", tab)
	}
	s.update(func(st *State) []events.Event {
		if tab == "" {
			st.SidebarRightOpen = !st.SidebarRightOpen
			return nil
		}
		st.SidebarRightOpen = true
		st.SidebarRightTab = tab
		return nil
	})
	return nil
}

// AddAnnotation appends a and selects it. A missing id or timestamp is
// filled in.
func (s *Store) AddAnnotation(a Annotation) (Annotation, error) {
	if _, err := ParseAnnotationType(string(a.Type)); err != nil {
		return Annotation{}, err
	}
	if a.ID == "" || a.CreatedAt == 0 {
		fresh := NewAnnotation(a.Type, a.PageIndex, a.Rect, a.Color, a.Content, "")
		if a.ID == "" {
			a.ID = fresh.ID
		}
		if a.CreatedAt == 0 {
			a.CreatedAt = fresh.CreatedAt
		}
	}

	s.commit(func(st *State) ([]events.Event, bool) {
		if a.Color == "" {
			a.Color = DefaultColor(a.Type, st.AccentColor)
		}
		st.Annotations = append(slices.Clone(st.Annotations), a)
		st.SelectedAnnotationID = a.ID
		return []events.Event{{Type: events.TypeAnnotationCreated, Payload: events.AnnotationCreated{Annotation: a}}}, true
	})
	return a, nil
}

// UpdateAnnotation patches the annotation with id. It reports whether one
// was found.
func (s *Store) UpdateAnnotation(id string, p AnnotationPatch) bool {
	found := false
	s.commit(func(st *State) ([]events.Event, bool) {
		i := slices.IndexFunc(st.Annotations, func(a Annotation) bool { return a.ID == id })
		if i < 0 {
			return nil, false
		}
		found = true
		st.Annotations = slices.Clone(st.Annotations)
		p.apply(&st.Annotations[i])
		return nil, true
	})
	return found
}

// RemoveAnnotation deletes the annotation with id. The deleted event fires
// only when something was removed.
func (s *Store) RemoveAnnotation(id string) bool {
	removed := false
	s.commit(func(st *State) ([]events.Event, bool) {
		kept := slices.DeleteFunc(slices.Clone(st.Annotations), func(a Annotation) bool { return a.ID == id })
		if len(kept) == len(st.Annotations) {
			return nil, false
		}
		removed = true
		st.Annotations = kept
		if st.SelectedAnnotationID == id {
			st.SelectedAnnotationID = ""
		}
		return []events.Event{{Type: events.TypeAnnotationDeleted, Payload: events.AnnotationDeleted{AnnotationID: id}}}, true
	})
	return removed
}

// SetSelectedAnnotation selects id, or clears the selection when empty.
func (s *Store) SetSelectedAnnotation(id string) {
	s.update(func(st *State) []events.Event {
		st.SelectedAnnotationID = id
		return nil
	})
}

// SetSearch stores a query and its results and activates the first one.
func (s *Store) SetSearch(query string, results []engine.SearchResult) {
	s.update(func(st *State) []events.Event {
		st.SearchQuery = query
		st.SearchResults = slices.Clone(results)
		if st.SearchResults == nil {
			st.SearchResults = []engine.SearchResult{}
		}
		st.ActiveSearchIndex = -1
		if len(results) > 0 {
			st.ActiveSearchIndex = 0
		}
		return []events.Event{{Type: events.TypeSearchTriggered, Payload: events.SearchTriggered{Query: query}}}
	})
}

// ClearSearch drops the query and results without announcing a search.
func (s *Store) ClearSearch() {
	s.update(func(st *State) []events.Event {
		st.SearchQuery = ""
		st.SearchResults = []engine.SearchResult{}
		st.ActiveSearchIndex = -1
		st.ScrollToPage = nil
		return nil
	})
}

// NextSearchResult activates the next result, wrapping around, and moves
// to its page.
func (s *Store) NextSearchResult() {
	s.cycleSearch(1)
}

// PrevSearchResult activates the previous result, wrapping around.
func (s *Store) PrevSearchResult() {
	s.cycleSearch(-1)
}

func (s *Store) cycleSearch(step int) {
	s.update(func(st *State) []events.Event {
		n := len(st.SearchResults)
		if n == 0 {
			return nil
		}
		next := ((st.ActiveSearchIndex+step)%n + n) % n
		st.ActiveSearchIndex = next
		scrollTo(st, st.SearchResults[next].PageIndex)
		return nil
	})
}

func scrollTo(st *State, pageIndex int) {
	p := pageIndex
	st.ScrollToPage = &p
	st.CurrentPage = pageIndex + 1
}

// TriggerScrollToPage signals a scroll to the 0-based pageIndex and makes
// it current.
func (s *Store) TriggerScrollToPage(pageIndex int) {
	s.update(func(st *State) []events.Event {
		scrollTo(st, pageIndex)
		return nil
	})
}

func (s *Store) SetActiveTool(tool Tool) {
	s.update(func(st *State) []events.Event {
		st.ActiveTool = tool
		return nil
	})
}

func (s *Store) SetUITheme(theme UITheme) {
	s.SetDocumentState(Patch{UITheme: &theme})
}

func (s *Store) SetPageTheme(theme PageTheme) {
	s.SetDocumentState(Patch{PageTheme: &theme})
}

// Reset returns the store to its defaults. Page and zoom changes caused by
// the reset are announced.
func (s *Store) Reset() {
	s.update(func(st *State) []events.Event {
		*st = DefaultState()
		return nil
	})
}
