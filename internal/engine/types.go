package engine

import (
	"fmt"
	"strings"

	"github.com/a3tai/papyrus-engine/internal/source"
)

// DocumentType is the format of a loaded document.
type DocumentType string

const (
	TypePDF  DocumentType = "pdf"
	TypeEPUB DocumentType = "epub"
	TypeText DocumentType = "text"
)

// ParseDocumentType validates a user supplied type name. The empty string
// yields "" so callers can fall back to inference.
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case TypePDF:
		return TypePDF, nil
	case TypeEPUB:
		return TypeEPUB, nil
	case TypeText, "txt":
		return TypeText, nil
	default:
		return "", fmt.Errorf("unknown document type: %s (must be one of: pdf, epub, text)", s)
	}
}

// LoadRequest asks an engine to open a document. Type is optional.
type LoadRequest struct {
	Source source.Source
	Type   DocumentType
}

// Direction is a rotation direction.
type Direction string

const (
	Clockwise        Direction = "clockwise"
	CounterClockwise Direction = "counterclockwise"
)

// ParseDirection accepts the long names plus cw/ccw.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clockwise", "cw", "":
		return Clockwise, nil
	case "counterclockwise", "counter-clockwise", "ccw":
		return CounterClockwise, nil
	default:
		return "", fmt.Errorf("invalid rotation direction: %s (must be clockwise or counterclockwise)", s)
	}
}

// NoPage marks a destination or outline entry that resolves to no page.
const NoPage = -1

// TextItem is one extracted text run.
type TextItem struct {
	Str       string     `json:"str"`
	Dir       string     `json:"dir"`
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Transform [6]float64 `json:"transform"`
	FontName  string     `json:"fontName"`
}

// PlainTextItem wraps a whole page of text as a single unpositioned run.
func PlainTextItem(s string) TextItem {
	return TextItem{
		Str:       s,
		Dir:       "ltr",
		Transform: [6]float64{1, 0, 0, 1, 0, 0},
		FontName:  "default",
	}
}

// Dimensions is a page size in points (PDF) or pixels (reflowable).
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether no size is known.
func (d Dimensions) IsZero() bool {
	return d.Width <= 0 || d.Height <= 0
}

// OutlineItem is a table of contents node.
type OutlineItem struct {
	Title     string        `json:"title"`
	PageIndex int           `json:"pageIndex"`
	Children  []OutlineItem `json:"children,omitempty"`
}

// Rect is a page-relative box with coordinates in [0, 1].
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FullPage covers the whole page.
var FullPage = Rect{X: 0, Y: 0, Width: 1, Height: 1}

// SearchResult is one query occurrence.
type SearchResult struct {
	PageIndex  int    `json:"pageIndex"`
	Text       string `json:"text"`
	MatchIndex int    `json:"matchIndex"`
	Rects      []Rect `json:"rects,omitempty"`
}

// TextSelection is the text under a selected region.
type TextSelection struct {
	Text  string `json:"text"`
	Rects []Rect `json:"rects"`
}

// Destination addresses a location in the document, either by name
// (PDF named destination, EPUB href) or by 1-based page number.
type Destination struct {
	Name       string `json:"name,omitempty"`
	PageNumber int    `json:"pageNumber,omitempty"`
}
