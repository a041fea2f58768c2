package textengine

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/codec"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
)

func load(t *testing.T, e *Engine, text string) {
	t.Helper()
	require.NoError(t, e.Load(context.Background(), engine.LoadRequest{Source: source.FromData([]byte(text)), Type: engine.TypeText}))
}

func TestLoad_LiteralStringIsText(t *testing.T) {
	e := New()
	require.NoError(t, e.Load(context.Background(), engine.LoadRequest{Source: source.FromString("a few plain words")}))

	items, err := e.TextContent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a few plain words", items[0].Str)
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		pages int
	}{
		{"empty", "", 1},
		{"short", "hello", 1},
		{"exact chunk", strings.Repeat("a", PageChunk), 1},
		{"one over", strings.Repeat("a", PageChunk+1), 2},
		{"three pages", strings.Repeat("b", PageChunk*2+5), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := Paginate(tt.text, PageChunk)
			assert.Len(t, pages, tt.pages)
			assert.Equal(t, tt.text, strings.Join(pages, ""))
		})
	}
}

func TestPaginate_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", PageChunk)
	pages := Paginate(text, PageChunk)
	require.Len(t, pages, 1)
	assert.Equal(t, PageChunk, utf8.RuneCountInString(pages[0]))
}

func TestDecode_BOM(t *testing.T) {
	utf16le := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	s, err := Decode(utf16le)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)

	s, err = Decode([]byte("\xEF\xBB\xBFplain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = Decode([]byte("no bom"))
	require.NoError(t, err)
	assert.Equal(t, "no bom", s)
}

func TestLoad_RejectsOtherTypes(t *testing.T) {
	e := New()
	err := e.Load(context.Background(), engine.LoadRequest{Source: source.FromString("x"), Type: engine.TypePDF})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindUnsupportedType))
	assert.Contains(t, err.Error(), "pdf")
}

func TestLoad_SourcesAndReset(t *testing.T) {
	e := New()
	ctx := context.Background()

	long := strings.Repeat("x", PageChunk*2+1)
	require.NoError(t, e.Load(ctx, engine.LoadRequest{Source: source.FromString("data:text/plain;base64," + codec.EncodeString(long))}))
	assert.Equal(t, 3, e.PageCount())

	e.GoToPage(3)
	assert.Equal(t, 3, e.CurrentPage())

	load(t, e, "tiny")
	assert.Equal(t, 1, e.PageCount())
	assert.Equal(t, 1, e.CurrentPage())
}

func TestLoad_MalformedBase64(t *testing.T) {
	e := New()
	err := e.Load(context.Background(), engine.LoadRequest{Source: source.FromString("data:text/plain;base64,***")})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindMalformedSource))
}

func TestNavigationZoomRotation(t *testing.T) {
	e := New()
	load(t, e, strings.Repeat("z", PageChunk*2))

	e.GoToPage(0)
	e.GoToPage(5)
	assert.Equal(t, 1, e.CurrentPage())
	e.GoToPage(2)
	assert.Equal(t, 2, e.CurrentPage())

	e.SetZoom(100)
	assert.Equal(t, 3.0, e.Zoom())
	e.SetZoom(0.01)
	assert.Equal(t, 0.5, e.Zoom())

	e.Rotate(engine.CounterClockwise)
	assert.Equal(t, 270, e.Rotation())
	for i := 0; i < 4; i++ {
		e.Rotate(engine.Clockwise)
	}
	assert.Equal(t, 270, e.Rotation())
}

func TestTextContent(t *testing.T) {
	e := New()
	ctx := context.Background()

	items, err := e.TextContent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	load(t, e, "the cat sat on the mat")
	items, err = e.TextContent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "the cat sat on the mat", items[0].Str)
	assert.Equal(t, "ltr", items[0].Dir)

	items, err = e.TextContent(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRenderPage_RecordsSizes(t *testing.T) {
	e := New()
	ctx := context.Background()
	load(t, e, "render me")

	small := render.NewImageTarget("small", 100, 100)
	require.NoError(t, e.RenderPage(ctx, 0, small, 1))
	dims, err := e.PageDimensions(ctx, 0)
	require.NoError(t, err)
	assert.True(t, dims.IsZero())

	big := render.NewImageTarget("big", 400, 600)
	require.NoError(t, e.RenderPage(ctx, 0, big, 1))
	dims, _ = e.PageDimensions(ctx, 0)
	assert.Equal(t, engine.Dimensions{Width: 400, Height: 600}, dims)

	frame, ok := big.Frame(engine.LayerPage)
	require.True(t, ok)
	assert.Equal(t, 400, frame.Image.Bounds().Dx())
	assert.Equal(t, 600, frame.Image.Bounds().Dy())

	unsized := render.NewImageTarget("unsized", 0, 0)
	require.NoError(t, e.RenderPage(ctx, 0, unsized, 1))
	frame, _ = unsized.Frame(engine.LayerPage)
	assert.Equal(t, render.DefaultWidth, frame.Image.Bounds().Dx())

	err = e.RenderPage(ctx, 3, big, 1)
	assert.True(t, engine.IsKind(err, engine.KindRender))

	require.NoError(t, e.RenderTextLayer(ctx, 0, big, 1))
	_, ok = big.Frame(engine.LayerText)
	assert.True(t, ok)
}

func TestDestroy_Idempotent(t *testing.T) {
	e := New()
	load(t, e, "bye")

	e.Destroy()
	e.Destroy()
	assert.Zero(t, e.PageCount())

	outline, err := e.Outline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outline)

	idx, err := e.PageIndex(context.Background(), engine.Destination{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, engine.NoPage, idx)
}
