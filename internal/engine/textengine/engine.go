// Package textengine paginates plain text documents into fixed-size
// chunks.
package textengine

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/a3tai/papyrus-engine/internal/cache"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "text"

// PageChunk is the number of characters per page.
const PageChunk = 1600

// Engine implements engine.DocumentEngine for plain text.
type Engine struct {
	normalizer *source.Normalizer
	logger     *slog.Logger

	mu       sync.Mutex
	pages    []string
	current  int
	zoom     float64
	rotation int
	sizes    *cache.LRU[int, engine.Dimensions]
	renders  *render.Registry
}

var _ engine.DocumentEngine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNormalizer sets the source normalizer.
func WithNormalizer(n *source.Normalizer) Option {
	return func(e *Engine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// New creates an empty text engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  slog.Default(),
		current: 1,
		zoom:    1.0,
		sizes:   cache.New[int, engine.Dimensions](1024),
		renders: render.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = source.NewNormalizer(nil, 0)
	}
	return e
}

// Load reads and paginates a text document.
func (e *Engine) Load(ctx context.Context, req engine.LoadRequest) error {
	if req.Type != "" && req.Type != engine.TypeText {
		err := engine.UnsupportedType(backend, req.Type)
		e.logger.Error("text load rejected", "type", req.Type, "error", err)
		return err
	}

	raw, err := e.normalizer.ForText(ctx, req.Source)
	if err != nil {
		loadErr := engine.SourceError(backend, "load", err)
		e.logger.Error("text load failed", "source", req.Source.String(), "error", loadErr)
		return loadErr
	}

	text, err := Decode(raw)
	if err != nil {
		return engine.NewError(engine.KindLoad, backend, "load", err)
	}

	pages := Paginate(text, PageChunk)

	e.renders.CancelAll()
	e.sizes.Clear()

	e.mu.Lock()
	e.pages = pages
	e.current = 1
	e.mu.Unlock()

	e.logger.Debug("text document loaded", "pages", len(pages), "chars", utf8.RuneCountInString(text))
	return nil
}

// Decode converts raw bytes to a string, honouring a UTF-8 or UTF-16 byte
// order mark and defaulting to UTF-8.
func Decode(raw []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Paginate splits text into pages of at most size characters. Empty text
// yields a single empty page.
func Paginate(text string, size int) []string {
	if size <= 0 {
		size = PageChunk
	}
	var pages []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		pages = append(pages, string(runes[i:end]))
	}
	if len(pages) == 0 {
		return []string{""}
	}
	return pages
}

func (e *Engine) PageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pages)
}

func (e *Engine) CurrentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) GoToPage(page int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if engine.ValidPage(page, len(e.pages)) {
		e.current = page
	}
}

func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zoom = engine.ReflowZoom.Clamp(zoom)
}

func (e *Engine) Zoom() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zoom
}

func (e *Engine) Rotate(dir engine.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotation = engine.NextRotation(e.rotation, dir)
}

func (e *Engine) Rotation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotation
}

// RenderPage paints the page text into target, sized by the target.
func (e *Engine) RenderPage(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, pageIndex, target, engine.LayerPage)
}

// RenderTextLayer paints the page text on a transparent frame.
func (e *Engine) RenderTextLayer(ctx context.Context, pageIndex int, target engine.RenderTarget, scale float64) error {
	return e.paint(ctx, pageIndex, target, engine.LayerText)
}

func (e *Engine) paint(ctx context.Context, pageIndex int, target engine.RenderTarget, layer engine.Layer) error {
	if target == nil {
		return nil
	}

	e.mu.Lock()
	if pageIndex < 0 || pageIndex >= len(e.pages) {
		count := len(e.pages)
		e.mu.Unlock()
		return engine.Errorf(engine.KindRender, backend, "render", "page index %d out of range (0-%d)", pageIndex, count-1)
	}
	text := e.pages[pageIndex]
	zoom, rotation := e.zoom, e.rotation
	e.mu.Unlock()

	w, h := render.TargetSize(target)
	if layer == engine.LayerPage && render.Recordable(w, h) {
		e.sizes.Put(pageIndex, engine.Dimensions{Width: float64(w), Height: float64(h)})
	}

	task := e.renders.Begin(ctx, target.TargetID()+"#"+layer.String())
	defer task.Done()

	// Lay out at the zoomed-out size so scaling up enlarges the glyphs
	// while the frame keeps the target's size.
	lw, lh := float64(w)/zoom, float64(h)/zoom
	img := render.Rasterize(render.Page{
		Width:  lw,
		Height: lh,
		Runs:   render.FlowText(text, lw, lh),
	}, render.Options{Scale: zoom, Rotation: rotation, Transparent: layer == engine.LayerText})

	err := task.Paint(func(ctx context.Context) error {
		return target.Draw(ctx, &engine.Frame{
			PageIndex: pageIndex,
			Layer:     layer,
			Scale:     zoom,
			Rotation:  rotation,
			Image:     img,
		})
	})
	if render.IsSuperseded(err) {
		return nil
	}
	if err != nil {
		e.logger.Error("text render failed", "page", pageIndex, "error", err)
		return engine.NewError(engine.KindRender, backend, "render", err)
	}
	return nil
}

// TextContent returns the page as one run, or nothing for empty or
// missing pages.
func (e *Engine) TextContent(ctx context.Context, pageIndex int) ([]engine.TextItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pageIndex < 0 || pageIndex >= len(e.pages) || e.pages[pageIndex] == "" {
		return []engine.TextItem{}, nil
	}
	return []engine.TextItem{engine.PlainTextItem(e.pages[pageIndex])}, nil
}

// PageDimensions returns the last recorded render size of the page.
func (e *Engine) PageDimensions(ctx context.Context, pageIndex int) (engine.Dimensions, error) {
	d, _ := e.sizes.Peek(pageIndex)
	return d, nil
}

func (e *Engine) Outline(ctx context.Context) ([]engine.OutlineItem, error) {
	return []engine.OutlineItem{}, nil
}

func (e *Engine) PageIndex(ctx context.Context, dest engine.Destination) (int, error) {
	return engine.NoPage, nil
}

// SelectText is not supported for plain text.
func (e *Engine) SelectText(ctx context.Context, pageIndex int, rect engine.Rect) (*engine.TextSelection, error) {
	return nil, nil
}

// Destroy drops the document. It is safe to call more than once.
func (e *Engine) Destroy() {
	e.renders.CancelAll()
	e.sizes.Clear()

	e.mu.Lock()
	e.pages = nil
	e.current = 1
	e.mu.Unlock()
}
