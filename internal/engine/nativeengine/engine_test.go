package nativeengine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/pdfengine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/testdocs"
)

// fakeHost implements load, page count and rendering only.
type fakeHost struct {
	Unimplemented

	mu        sync.Mutex
	pageCount *int
	loaded    []source.NativeSource
	renders   []RenderRequest
	destroyed []string
	loadErr   error
}

func (f *fakeHost) CreateEngine() (string, error) { return "eng-1", nil }

func (f *fakeHost) DestroyEngine(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
}

func (f *fakeHost) Load(_ context.Context, id string, src source.NativeSource) (LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return LoadResult{}, f.loadErr
	}
	f.loaded = append(f.loaded, src)
	return LoadResult{PageCount: f.pageCount}, nil
}

func (f *fakeHost) PageCount(string) (int, error) { return 9, nil }

func (f *fakeHost) RenderPage(_ context.Context, _ string, req RenderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, req)
	return nil
}

func registered(m HostModule) *Registry {
	r := NewRegistry()
	r.Register(ModuleName, m)
	return r
}

func TestMissingModule(t *testing.T) {
	ctx := context.Background()
	e := New(NewRegistry())

	err := e.Load(ctx, engine.LoadRequest{Source: source.FromURI("file:///doc.pdf")})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindHostUnavailable))
	assert.Contains(t, err.Error(), "native module PapyrusNativeEngine not registered; check the platform setup")

	_, err = e.TextContent(ctx, 0)
	assert.True(t, engine.IsKind(err, engine.KindHostUnavailable))
	err = e.RenderPage(ctx, 0, render.NewImageTarget("v", 0, 0), 1)
	assert.True(t, engine.IsKind(err, engine.KindHostUnavailable))

	assert.NotPanics(t, e.Destroy)
}

func TestLateRegistration(t *testing.T) {
	r := NewRegistry()
	e := New(r)
	assert.Equal(t, DefaultEngineID, e.EngineID())

	host := &fakeHost{}
	r.Register(ModuleName, host)
	require.NoError(t, e.Load(context.Background(), engine.LoadRequest{Source: source.FromURI("https://example.com/a.pdf")}))
	assert.Equal(t, "eng-1", e.EngineID())
}

func TestLoad_PageCount(t *testing.T) {
	ctx := context.Background()
	three := 3

	tests := []struct {
		name string
		host *fakeHost
		want int
	}{
		{name: "from load result", host: &fakeHost{pageCount: &three}, want: 3},
		{name: "from page count", host: &fakeHost{}, want: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(registered(tt.host))
			e.GoToPage(1)
			require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromString("/tmp/doc.pdf")}))
			assert.Equal(t, tt.want, e.PageCount())
			assert.Equal(t, 1, e.CurrentPage())
			require.Len(t, tt.host.loaded, 1)
			assert.Equal(t, "/tmp/doc.pdf", tt.host.loaded[0].URI)
		})
	}
}

func TestLoad_SourceForms(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{}
	e := New(registered(host))

	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromBytes([]byte("%PDF"))}))
	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromString("data:application/pdf;base64,JVBERg==")}))
	require.Len(t, host.loaded, 2)
	assert.Equal(t, []byte("%PDF"), host.loaded[0].Data)
	assert.Equal(t, []byte("%PDF"), host.loaded[1].Data)

	err := e.Load(ctx, engine.LoadRequest{Source: source.FromString("data:application/pdf;base64,***")})
	assert.True(t, engine.IsKind(err, engine.KindMalformedSource))

	host.loadErr = errors.New("corrupt")
	err = e.Load(ctx, engine.LoadRequest{Source: source.FromURI("file:///x.pdf")})
	assert.True(t, engine.IsKind(err, engine.KindLoad))
}

func TestNeutralResults(t *testing.T) {
	ctx := context.Background()
	e := New(registered(&fakeHost{}))

	items, err := e.TextContent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)

	dims, err := e.PageDimensions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, engine.Dimensions{}, dims)

	outline, err := e.Outline(ctx)
	require.NoError(t, err)
	assert.Empty(t, outline)

	results, err := e.SearchText(ctx, "query")
	require.NoError(t, err)
	assert.Empty(t, results)

	sel, err := e.SelectText(ctx, 0, engine.FullPage)
	require.NoError(t, err)
	assert.Nil(t, sel)

	idx, err := e.PageIndex(ctx, engine.Destination{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, engine.NoPage, idx)

	require.NoError(t, e.RenderTextLayer(ctx, 0, &render.ImageTarget{ID: "v", HasTag: true, Tag: 1}, 1))
}

func TestRenderPage_ViewTags(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{}
	e := New(registered(host))
	e.SetZoom(10)
	e.Rotate(engine.CounterClockwise)

	require.NoError(t, e.RenderPage(ctx, 0, render.NewImageTarget("untagged", 0, 0), 1))
	assert.Empty(t, host.renders)

	view := &render.ImageTarget{ID: "view", Tag: 42, HasTag: true}
	require.NoError(t, e.RenderPage(ctx, 2, view, 1.5))
	require.Len(t, host.renders, 1)
	assert.Equal(t, RenderRequest{PageIndex: 2, ViewTag: 42, Scale: 1.5, Zoom: 5, Rotation: 270}, host.renders[0])
}

func TestZoomClamp(t *testing.T) {
	e := New(NewRegistry())
	e.SetZoom(0.01)
	assert.Equal(t, 0.1, e.Zoom())
	e.SetZoom(2)
	assert.Equal(t, 2.0, e.Zoom())
}

func TestDestroy(t *testing.T) {
	host := &fakeHost{}
	e := New(registered(host))
	three := 3
	host.pageCount = &three
	require.NoError(t, e.Load(context.Background(), engine.LoadRequest{Source: source.FromURI("file:///x.pdf")}))

	e.Destroy()
	e.Destroy()
	assert.Equal(t, []string{"eng-1"}, host.destroyed)
	assert.Zero(t, e.PageCount())
}

func TestLocalHost_PDF(t *testing.T) {
	ctx := context.Background()
	host := NewLocalHost(func() engine.DocumentEngine { return pdfengine.New() })
	view := &render.ImageTarget{ID: "page-view", Tag: 7, HasTag: true}
	host.RegisterView(7, view)

	e := New(registered(host))
	require.Equal(t, 1, host.Engines())
	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromBytes(testdocs.PDF())}))
	assert.Equal(t, 2, e.PageCount())

	e.Rotate(engine.Clockwise)
	require.NoError(t, e.RenderPage(ctx, 0, view, 0.5))
	frame, ok := view.Frame(engine.LayerPage)
	require.True(t, ok)
	assert.Equal(t, 90, frame.Rotation)
	assert.Equal(t, 396, frame.Image.Bounds().Dx())

	err := e.RenderPage(ctx, 0, &render.ImageTarget{ID: "other", Tag: 8, HasTag: true}, 1)
	assert.True(t, engine.IsKind(err, engine.KindRender))

	dims, err := e.PageDimensions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 612.0, dims.Width)

	results, err := e.SearchText(ctx, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].PageIndex)

	sel, err := e.SelectText(ctx, 0, engine.FullPage)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, "Hello World", sel.Text)

	idx, err := e.PageIndex(ctx, engine.Destination{PageNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	idx, err = e.PageIndex(ctx, engine.Destination{PageNumber: 9})
	require.NoError(t, err)
	assert.Equal(t, engine.NoPage, idx)

	e.Destroy()
	assert.Zero(t, host.Engines())
}
