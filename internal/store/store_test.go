package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/events"
)

// recorder collects every event emitted on a bus.
type recorder struct {
	events []events.Event
}

func record(t *testing.T) (*Store, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.OnAny(func(e events.Event) { rec.events = append(rec.events, e) })
	return New(bus), rec
}

func (r *recorder) types() []events.Type {
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

func ptr[T any](v T) *T { return &v }

func TestDefaults(t *testing.T) {
	s := New(nil)
	st := s.Get()
	assert.False(t, st.IsLoaded)
	assert.Equal(t, 1, st.CurrentPage)
	assert.Equal(t, 1.0, st.Zoom)
	assert.Equal(t, ViewContinuous, st.ViewMode)
	assert.Equal(t, -1, st.ActiveSearchIndex)
	assert.Nil(t, st.ScrollToPage)
	assert.True(t, st.SidebarLeftOpen)
	assert.Equal(t, ToolSelect, st.ActiveTool)
}

func TestInitialize_UnsetKeysKeepDefaults(t *testing.T) {
	s, rec := record(t)
	s.Initialize(Config{
		InitialZoom:     ptr(2.0),
		InitialRotation: ptr(-90),
		PageTheme:       ptr(PageSepia),
		Locale:          ptr(LocalePTBR),
		Annotations:     []Annotation{{ID: "a", Type: AnnotationText}},
	})

	st := s.Get()
	assert.Equal(t, 2.0, st.Zoom)
	assert.Equal(t, 270, st.Rotation)
	assert.Equal(t, PageSepia, st.PageTheme)
	assert.Equal(t, LocalePTBR, st.Locale)
	assert.Len(t, st.Annotations, 1)
	assert.Equal(t, 1, st.CurrentPage)
	assert.Equal(t, UILight, st.UITheme)
	assert.Equal(t, DefaultAccentColor, st.AccentColor)
	assert.Equal(t, []events.Type{events.TypeZoomChanged}, rec.types())
}

func TestSetDocumentState_Events(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		want  []events.Type
	}{
		{name: "same page is silent", patch: Patch{CurrentPage: ptr(1)}, want: nil},
		{name: "new page fires once", patch: Patch{CurrentPage: ptr(3)}, want: []events.Type{events.TypePageChanged}},
		{name: "same zoom is silent", patch: Patch{Zoom: ptr(1.0)}, want: nil},
		{name: "zoom fires", patch: Patch{Zoom: ptr(1.5)}, want: []events.Type{events.TypeZoomChanged}},
		{
			name:  "loaded transition",
			patch: Patch{IsLoaded: ptr(true), PageCount: ptr(12)},
			want:  []events.Type{events.TypeDocumentLoaded},
		},
		{name: "unrelated fields are silent", patch: Patch{UITheme: ptr(UIDark), Rotation: ptr(450)}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := record(t)
			s.SetDocumentState(tt.patch)
			if tt.want == nil {
				assert.Empty(t, rec.events)
				return
			}
			assert.Equal(t, tt.want, rec.types())
		})
	}
}

func TestSetDocumentState_LoadedOncePerTransition(t *testing.T) {
	s, rec := record(t)
	s.SetDocumentState(Patch{IsLoaded: ptr(true), PageCount: ptr(4)})
	s.SetDocumentState(Patch{IsLoaded: ptr(true)})
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.DocumentLoaded{PageCount: 4}, rec.events[0].Payload)

	s.SetDocumentState(Patch{IsLoaded: ptr(false)})
	s.SetDocumentState(Patch{IsLoaded: ptr(true)})
	assert.Len(t, rec.events, 2)
}

func TestSetDocumentState_PayloadsAndRotation(t *testing.T) {
	s, rec := record(t)
	s.SetDocumentState(Patch{CurrentPage: ptr(5), Zoom: ptr(0.5), Rotation: ptr(450)})

	require.Len(t, rec.events, 2)
	assert.Equal(t, events.PageChanged{PageNumber: 5}, rec.events[0].Payload)
	assert.Equal(t, events.ZoomChanged{Zoom: 0.5}, rec.events[1].Payload)
	assert.Equal(t, 90, s.Get().Rotation)
}

func TestAnnotations(t *testing.T) {
	s, rec := record(t)

	a, err := s.AddAnnotation(Annotation{Type: AnnotationHighlight, PageIndex: 2, Rect: engine.Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05}})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotZero(t, a.CreatedAt)
	assert.Equal(t, HighlightColor, a.Color)
	assert.Equal(t, a.ID, s.Get().SelectedAnnotationID)

	c, err := s.AddAnnotation(Annotation{ID: "c1", Type: AnnotationComment, CreatedAt: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccentColor, c.Color)

	_, err = s.AddAnnotation(Annotation{Type: "scribble"})
	require.Error(t, err)

	assert.True(t, s.UpdateAnnotation("c1", AnnotationPatch{Content: ptr("note")}))
	assert.False(t, s.UpdateAnnotation("missing", AnnotationPatch{Content: ptr("x")}))
	assert.Equal(t, "note", s.Get().Annotations[1].Content)

	assert.True(t, s.RemoveAnnotation("c1"))
	assert.False(t, s.RemoveAnnotation("c1"))
	assert.Empty(t, s.Get().SelectedAnnotationID)
	assert.Len(t, s.Get().Annotations, 1)

	assert.Equal(t, []events.Type{
		events.TypeAnnotationCreated,
		events.TypeAnnotationCreated,
		events.TypeAnnotationDeleted,
	}, rec.types())
	created, ok := rec.events[0].Payload.(events.AnnotationCreated)
	require.True(t, ok)
	assert.Equal(t, a, created.Annotation)
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(nil)
	_, err := s.AddAnnotation(Annotation{ID: "a", Type: AnnotationText, CreatedAt: 1})
	require.NoError(t, err)

	st := s.Get()
	st.Annotations[0].Content = "mutated"
	assert.Empty(t, s.Get().Annotations[0].Content)
}

func TestSearchCycling(t *testing.T) {
	s, rec := record(t)
	s.NextSearchResult()
	assert.Empty(t, rec.events)

	results := []engine.SearchResult{{PageIndex: 0}, {PageIndex: 0, MatchIndex: 1}, {PageIndex: 4}}
	s.SetSearch("foo", results)
	st := s.Get()
	assert.Equal(t, 0, st.ActiveSearchIndex)
	assert.Equal(t, []events.Type{events.TypeSearchTriggered}, rec.types())
	rec.reset()

	s.NextSearchResult()
	st = s.Get()
	assert.Equal(t, 1, st.ActiveSearchIndex)
	require.NotNil(t, st.ScrollToPage)
	assert.Equal(t, 0, *st.ScrollToPage)
	assert.Empty(t, rec.events, "page 1 is already current")

	s.NextSearchResult()
	assert.Equal(t, 5, s.Get().CurrentPage)
	assert.Equal(t, []events.Type{events.TypePageChanged}, rec.types())

	s.NextSearchResult()
	assert.Equal(t, 0, s.Get().ActiveSearchIndex)

	s.PrevSearchResult()
	assert.Equal(t, 2, s.Get().ActiveSearchIndex)

	s.SetSearch("none", nil)
	assert.Equal(t, -1, s.Get().ActiveSearchIndex)
	assert.NotNil(t, s.Get().SearchResults)
}

func TestTriggerScrollToPage(t *testing.T) {
	s, rec := record(t)
	s.TriggerScrollToPage(0)
	assert.Empty(t, rec.events)

	s.TriggerScrollToPage(6)
	assert.Equal(t, 7, s.Get().CurrentPage)
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.PageChanged{PageNumber: 7}, rec.events[0].Payload)
}

func TestSidebars(t *testing.T) {
	s := New(nil)
	s.ToggleSidebarLeft()
	assert.False(t, s.Get().SidebarLeftOpen)
	require.NoError(t, s.SetSidebarLeftTab(TabSummary))
	assert.Error(t, s.SetSidebarLeftTab("bogus"))
	s.SetOutlineSearch("chap")
	assert.Equal(t, "chap", s.Get().OutlineSearchQuery)

	require.NoError(t, s.ToggleSidebarRight(TabAnnotations))
	st := s.Get()
	assert.True(t, st.SidebarRightOpen)
	assert.Equal(t, TabAnnotations, st.SidebarRightTab)
	require.NoError(t, s.ToggleSidebarRight(TabAnnotations))
	assert.True(t, s.Get().SidebarRightOpen)
	require.NoError(t, s.ToggleSidebarRight(""))
	assert.False(t, s.Get().SidebarRightOpen)
	assert.Error(t, s.ToggleSidebarRight("thumbnails"))
}

func TestToolAndThemes(t *testing.T) {
	s := New(nil)
	s.SetActiveTool(ToolStrikeout)
	s.SetUITheme(UIDark)
	s.SetPageTheme(PageHighContrast)
	st := s.Get()
	assert.Equal(t, ToolStrikeout, st.ActiveTool)
	assert.Equal(t, UIDark, st.UITheme)
	assert.Equal(t, PageHighContrast, st.PageTheme)
}

func TestReset(t *testing.T) {
	s, rec := record(t)
	s.SetDocumentState(Patch{IsLoaded: ptr(true), PageCount: ptr(3), CurrentPage: ptr(3)})
	rec.reset()

	s.Reset()
	st := s.Get()
	assert.False(t, st.IsLoaded)
	assert.Equal(t, 1, st.CurrentPage)
	assert.Equal(t, []events.Type{events.TypePageChanged}, rec.types())
}

func TestParsers(t *testing.T) {
	_, err := ParseAnnotationType("Highlight")
	assert.NoError(t, err)
	_, err = ParseViewMode("double")
	assert.NoError(t, err)
	_, err = ParseViewMode("grid")
	assert.Error(t, err)
	_, err = ParseUITheme("dark")
	assert.NoError(t, err)
	_, err = ParsePageTheme("high-contrast")
	assert.NoError(t, err)
	_, err = ParseTool("eraser")
	assert.Error(t, err)
}

func TestEventsFireOutsideLock(t *testing.T) {
	s, _ := record(t)
	var seen State
	s.Bus().On(events.TypePageChanged, func(events.Event) {
		seen = s.Get()
	})
	s.SetDocumentState(Patch{CurrentPage: ptr(2)})
	assert.Equal(t, 2, seen.CurrentPage)
}

func TestClearSearch(t *testing.T) {
	s, rec := record(t)
	s.SetSearch("foo", []engine.SearchResult{{PageIndex: 2}})
	s.NextSearchResult()
	rec.reset()

	s.ClearSearch()
	st := s.Get()
	assert.Empty(t, st.SearchQuery)
	assert.Empty(t, st.SearchResults)
	assert.Equal(t, -1, st.ActiveSearchIndex)
	assert.Nil(t, st.ScrollToPage)
	assert.Empty(t, rec.events)
}

func TestEvents_DeliveredInCommitOrder(t *testing.T) {
	bus := events.NewBus()
	s := New(bus)

	var mu sync.Mutex
	var pages []int
	events.Subscribe(bus, events.TypePageChanged, func(p events.PageChanged) {
		mu.Lock()
		pages = append(pages, p.PageNumber)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			s.SetDocumentState(Patch{CurrentPage: ptr(page)})
		}(i%5 + 2)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, pages)
	assert.Equal(t, s.Get().CurrentPage, pages[len(pages)-1])
	for i := 1; i < len(pages); i++ {
		assert.NotEqual(t, pages[i-1], pages[i], "consecutive page events must differ")
	}
}

func TestEvents_HandlerMayActOnStore(t *testing.T) {
	s, rec := record(t)
	events.Subscribe(s.Bus(), events.TypePageChanged, func(p events.PageChanged) {
		if p.PageNumber == 2 {
			s.SetDocumentState(Patch{CurrentPage: ptr(3), Zoom: ptr(2.0)})
		}
	})

	s.SetDocumentState(Patch{CurrentPage: ptr(2)})

	assert.Equal(t, []events.Type{events.TypePageChanged, events.TypePageChanged, events.TypeZoomChanged}, rec.types())
	assert.Equal(t, events.PageChanged{PageNumber: 2}, rec.events[0].Payload)
	assert.Equal(t, events.PageChanged{PageNumber: 3}, rec.events[1].Payload)
	assert.Equal(t, 3, s.Get().CurrentPage)
}

func TestOnAnnotationsChanged(t *testing.T) {
	s, rec := record(t)
	calls := 0
	stop := s.OnAnnotationsChanged(func() { calls++ })

	a, err := s.AddAnnotation(Annotation{Type: AnnotationComment, Content: "old"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	content := "new"
	require.True(t, s.UpdateAnnotation(a.ID, AnnotationPatch{Content: &content}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []events.Type{events.TypeAnnotationCreated}, rec.types(), "updates are not announced on the bus")

	assert.False(t, s.UpdateAnnotation("missing", AnnotationPatch{Content: &content}))
	assert.False(t, s.RemoveAnnotation("missing"))
	s.Initialize(Config{Annotations: []Annotation{}})
	assert.Equal(t, 2, calls)

	_, err = s.AddAnnotation(Annotation{ID: "x", Type: AnnotationText, CreatedAt: 1})
	require.NoError(t, err)
	require.True(t, s.RemoveAnnotation("x"))
	assert.Equal(t, 4, calls)

	stop()
	_, err = s.AddAnnotation(Annotation{Type: AnnotationText})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}
