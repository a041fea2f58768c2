package engine

import (
	"net/url"
	"path"
	"strings"

	"github.com/a3tai/papyrus-engine/internal/source"
)

var extensionTypes = map[string]DocumentType{
	".pdf":  TypePDF,
	".epub": TypeEPUB,
	".txt":  TypeText,
	".text": TypeText,
	".md":   TypeText,
	".log":  TypeText,
	".csv":  TypeText,
}

// InferType decides the document type of req: the explicit type wins,
// then the MIME type of a data-URI, then the file extension, then pdf.
func InferType(req LoadRequest) DocumentType {
	if req.Type != "" {
		return req.Type
	}

	if req.Source.Kind == source.KindString {
		if d, ok := source.ParseDataURI(req.Source.Str); ok {
			if t, ok := TypeForMIME(d.MIME); ok {
				return t
			}
		}
	}

	if t, ok := TypeForName(req.Source.Hint()); ok {
		return t
	}

	return TypePDF
}

// TypeForMIME maps a MIME type to a document type.
func TypeForMIME(mime string) (DocumentType, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "application/pdf":
		return TypePDF, true
	case mime == "application/epub+zip":
		return TypeEPUB, true
	case strings.HasPrefix(mime, "text/"):
		return TypeText, true
	default:
		return "", false
	}
}

// TypeForName maps a file name or URI to a document type by extension.
// Query strings and fragments are ignored.
func TypeForName(name string) (DocumentType, bool) {
	if name == "" || strings.HasPrefix(strings.ToLower(name), "data:") {
		return "", false
	}
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	} else if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	t, ok := extensionTypes[strings.ToLower(path.Ext(name))]
	return t, ok
}
