package mobile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/bridge"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/nativeengine"
	"github.com/a3tai/papyrus-engine/internal/engine/pdfengine"
	"github.com/a3tai/papyrus-engine/internal/engine/textengine"
	"github.com/a3tai/papyrus-engine/internal/engine/webview"
	"github.com/a3tai/papyrus-engine/internal/runtime"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/testdocs"
)

// recording records loads. Only Load, PageCount and Destroy may be called.
type recording struct {
	engine.DocumentEngine

	name      string
	loads     []engine.LoadRequest
	destroyed int
	err       error
}

func (r *recording) Load(_ context.Context, req engine.LoadRequest) error {
	r.loads = append(r.loads, req)
	return r.err
}

func (r *recording) PageCount() int { return len(r.loads) }

func (r *recording) Destroy() { r.destroyed++ }

func TestLoad_Routing(t *testing.T) {
	tests := []struct {
		name     string
		req      engine.LoadRequest
		wantType engine.DocumentType
		native   bool
	}{
		{
			name:     "explicit type wins",
			req:      engine.LoadRequest{Source: source.FromURI("https://example.com/a.pdf"), Type: engine.TypeText},
			wantType: engine.TypeText,
		},
		{
			name:     "data uri mime",
			req:      engine.LoadRequest{Source: source.FromString("data:application/epub+zip;base64,UEsDBA==")},
			wantType: engine.TypeEPUB,
		},
		{
			name:     "extension",
			req:      engine.LoadRequest{Source: source.FromURI("file:///books/novel.txt?v=2")},
			wantType: engine.TypeText,
		},
		{
			name:     "pdf extension",
			req:      engine.LoadRequest{Source: source.FromString("/docs/report.PDF")},
			wantType: engine.TypePDF,
			native:   true,
		},
		{
			name:     "defaults to pdf",
			req:      engine.LoadRequest{Source: source.FromBytes([]byte{1, 2, 3})},
			wantType: engine.TypePDF,
			native:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			native, web := &recording{name: "native"}, &recording{name: "webview"}
			e := New(native, web)

			require.NoError(t, e.Load(context.Background(), tt.req))
			assert.Equal(t, tt.wantType, e.DocumentType())

			want, other := web, native
			if tt.native {
				want, other = native, web
			}
			assert.Same(t, want, e.Active())
			require.Len(t, want.loads, 1)
			assert.Equal(t, tt.wantType, want.loads[0].Type)
			assert.Empty(t, other.loads)
		})
	}
}

func TestLoad_SwitchSticksOnFailure(t *testing.T) {
	native, web := &recording{}, &recording{err: errors.New("boom")}
	e := New(native, web)
	assert.Same(t, native, e.Active())

	err := e.Load(context.Background(), engine.LoadRequest{Source: source.FromURI("a.epub")})
	require.Error(t, err)
	assert.Same(t, web, e.Active())
	assert.Equal(t, 1, e.PageCount())
}

func TestDestroy_Both(t *testing.T) {
	native, web := &recording{}, &recording{}
	e := New(native, web)
	require.NoError(t, e.Load(context.Background(), engine.LoadRequest{Source: source.FromURI("a.txt")}))

	e.Destroy()
	assert.Equal(t, 1, native.destroyed)
	assert.Equal(t, 1, web.destroyed)
	assert.Same(t, native, e.Active())
}

func TestNeutralCapabilities(t *testing.T) {
	ctx := context.Background()
	text := textengine.New()
	e := New(&recording{}, text)
	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromString("alpha beta"), Type: engine.TypeText}))

	results, err := e.SearchText(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)

	sel, err := e.SelectText(ctx, 0, engine.FullPage)
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestWithRealDelegates(t *testing.T) {
	ctx := context.Background()

	host := nativeengine.NewLocalHost(func() engine.DocumentEngine { return pdfengine.New() })
	registry := nativeengine.NewRegistry()
	registry.Register(nativeengine.ModuleName, host)
	native := nativeengine.New(registry)

	web := webview.New()
	client, server := bridge.Pipe()
	t.Cleanup(client.Close)
	rt := runtime.New(server)
	t.Cleanup(rt.Close)
	server.OnMessage(rt.HandleMessage)
	client.OnMessage(web.HandleMessage)
	web.Attach(client)
	require.NoError(t, rt.Start())

	e := New(native, web)

	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromBytes(testdocs.PDF())}))
	assert.Same(t, native, e.Active())
	assert.Equal(t, 2, e.PageCount())
	results, err := e.SearchText(ctx, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromBytes(testdocs.EPUB()), Type: engine.TypeEPUB}))
	assert.Same(t, web, e.Active())
	assert.Equal(t, 2, e.PageCount())
	e.GoToPage(2)
	assert.Equal(t, 2, e.CurrentPage())
	e.SetZoom(10)
	assert.Equal(t, 4.0, e.Zoom())

	outline, err := e.Outline(ctx)
	require.NoError(t, err)
	assert.Len(t, outline, 2)

	e.Destroy()
	assert.Zero(t, host.Engines())
	assert.Equal(t, webview.Unattached, web.State())
}
