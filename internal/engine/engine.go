// Package engine defines the DocumentEngine contract every backend
// implements, together with the value types that cross it.
package engine

import (
	"context"
	"image"
)

// DocumentEngine is the capability set shared by all backends. Page
// numbers are 1-based, page indexes 0-based.
type DocumentEngine interface {
	Load(ctx context.Context, req LoadRequest) error

	PageCount() int
	CurrentPage() int
	GoToPage(page int)

	SetZoom(zoom float64)
	Zoom() float64

	Rotate(dir Direction)
	Rotation() int

	RenderPage(ctx context.Context, pageIndex int, target RenderTarget, scale float64) error
	RenderTextLayer(ctx context.Context, pageIndex int, target RenderTarget, scale float64) error

	TextContent(ctx context.Context, pageIndex int) ([]TextItem, error)
	PageDimensions(ctx context.Context, pageIndex int) (Dimensions, error)
	Outline(ctx context.Context) ([]OutlineItem, error)
	PageIndex(ctx context.Context, dest Destination) (int, error)

	Destroy()
}

// TextSearcher is implemented by backends with their own search, usually
// able to return highlight rects.
type TextSearcher interface {
	SearchText(ctx context.Context, query string) ([]SearchResult, error)
}

// TextSelector is implemented by backends that can resolve a page region
// to text. A nil selection means nothing was selected.
type TextSelector interface {
	SelectText(ctx context.Context, pageIndex int, rect Rect) (*TextSelection, error)
}

// RenderTarget is a paint destination. TargetID identifies the target
// across calls; two targets with the same ID are the same surface.
type RenderTarget interface {
	TargetID() string
	Draw(ctx context.Context, frame *Frame) error
}

// Sizer is implemented by targets that know their pixel size.
type Sizer interface {
	Size() (width, height int)
}

// ViewTagger is implemented by targets backed by a host view handle.
type ViewTagger interface {
	ViewTag() (int, bool)
}

// Layer distinguishes the page bitmap from the text overlay.
type Layer int

const (
	LayerPage Layer = iota
	LayerText
)

func (l Layer) String() string {
	if l == LayerText {
		return "text"
	}
	return "page"
}

// Frame is one painted page.
type Frame struct {
	PageIndex int
	Layer     Layer
	Scale     float64
	Rotation  int
	Image     *image.RGBA
}
