package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// AnnotationType is the kind of mark an annotation draws.
type AnnotationType string

const (
	AnnotationHighlight AnnotationType = "highlight"
	AnnotationText      AnnotationType = "text"
	AnnotationStrikeout AnnotationType = "strikeout"
	AnnotationComment   AnnotationType = "comment"
)

// ParseAnnotationType validates an annotation type name.
func ParseAnnotationType(s string) (AnnotationType, error) {
	switch t := AnnotationType(strings.ToLower(strings.TrimSpace(s))); t {
	case AnnotationHighlight, AnnotationText, AnnotationStrikeout, AnnotationComment:
		return t, nil
	default:
		return "", fmt.Errorf("invalid annotation type: %s (must be one of: highlight, text, strikeout, comment)", s)
	}
}

// Annotation is a user mark on a page. Rect is page-relative.
type Annotation struct {
	ID        string         `json:"id"`
	Type      AnnotationType `json:"type"`
	PageIndex int            `json:"pageIndex"`
	Rect      engine.Rect    `json:"rect"`
	Color     string         `json:"color"`
	Content   string         `json:"content,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// Annotation colors used when none is given.
const (
	HighlightColor = "#fbbf24"
	StrikeoutColor = "#ef4444"
)

// NewAnnotation creates an annotation with a fresh id and timestamp. An
// empty color picks the default for the type.
func NewAnnotation(t AnnotationType, pageIndex int, rect engine.Rect, color, content, accent string) Annotation {
	if color == "" {
		color = DefaultColor(t, accent)
	}
	return Annotation{
		ID:        uuid.NewString(),
		Type:      t,
		PageIndex: pageIndex,
		Rect:      rect,
		Color:     color,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// DefaultColor returns the color used for annotations of type t.
func DefaultColor(t AnnotationType, accent string) string {
	switch t {
	case AnnotationHighlight:
		return HighlightColor
	case AnnotationStrikeout:
		return StrikeoutColor
	default:
		return accent
	}
}

// AnnotationPatch updates selected annotation fields.
type AnnotationPatch struct {
	Type      *AnnotationType
	PageIndex *int
	Rect      *engine.Rect
	Color     *string
	Content   *string
}

func (p AnnotationPatch) apply(a *Annotation) {
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.PageIndex != nil {
		a.PageIndex = *p.PageIndex
	}
	if p.Rect != nil {
		a.Rect = *p.Rect
	}
	if p.Color != nil {
		a.Color = *p.Color
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
}

// ViewMode is the page layout.
type ViewMode string

const (
	ViewSingle     ViewMode = "single"
	ViewDouble     ViewMode = "double"
	ViewContinuous ViewMode = "continuous"
)

// UITheme is the chrome theme.
type UITheme string

const (
	UILight UITheme = "light"
	UIDark  UITheme = "dark"
)

// PageTheme is the page color scheme.
type PageTheme string

const (
	PageNormal       PageTheme = "normal"
	PageSepia        PageTheme = "sepia"
	PageDark         PageTheme = "dark"
	PageHighContrast PageTheme = "high-contrast"
)

// Tool is the active pointer tool.
type Tool string

const (
	ToolSelect    Tool = "select"
	ToolHighlight Tool = Tool(AnnotationHighlight)
	ToolText      Tool = Tool(AnnotationText)
	ToolStrikeout Tool = Tool(AnnotationStrikeout)
	ToolComment   Tool = Tool(AnnotationComment)
)

// Sidebar tabs.
const (
	TabThumbnails  = "thumbnails"
	TabSummary     = "summary"
	TabSearch      = "search"
	TabAnnotations = "annotations"
)

// Supported locales.
const (
	LocaleEN   = "en"
	LocalePTBR = "pt-BR"
)

// DefaultAccentColor is the accent used until one is configured.
const DefaultAccentColor = "#2563eb"

func oneOf[T ~string](v T, allowed ...T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ParseViewMode validates a view mode name.
func ParseViewMode(s string) (ViewMode, error) {
	if v := ViewMode(s); oneOf(v, ViewSingle, ViewDouble, ViewContinuous) {
		return v, nil
	}
	return "", fmt.Errorf("invalid view mode: %s (must be one of: single, double, continuous)", s)
}

// ParseUITheme validates a UI theme name.
func ParseUITheme(s string) (UITheme, error) {
	if v := UITheme(s); oneOf(v, UILight, UIDark) {
		return v, nil
	}
	return "", fmt.Errorf("invalid ui theme: %s (must be one of: light, dark)", s)
}

// ParsePageTheme validates a page theme name.
func ParsePageTheme(s string) (PageTheme, error) {
	if v := PageTheme(s); oneOf(v, PageNormal, PageSepia, PageDark, PageHighContrast) {
		return v, nil
	}
	return "", fmt.Errorf("invalid page theme: %s (must be one of: normal, sepia, dark, high-contrast)", s)
}

// ParseTool validates a tool name.
func ParseTool(s string) (Tool, error) {
	if v := Tool(s); oneOf(v, ToolSelect, ToolHighlight, ToolText, ToolStrikeout, ToolComment) {
		return v, nil
	}
	return "", fmt.Errorf("invalid tool: %s (must be one of: select, highlight, text, strikeout, comment)", s)
}
