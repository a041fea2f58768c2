package pdfengine

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/papyrus-engine/internal/engine"
)

// Letter size in points, used when a page has no usable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// document pairs the two parsers: ledongthuc/pdf reads content streams,
// pdfcpu walks the catalog for outlines and destinations.
type document struct {
	reader  *pdf.Reader
	ctx     *model.Context
	pages   int
	pageNrs map[int]int // page object number -> page index
}

// openDocument parses data with both libraries. The content parser panics
// on some malformed input, so panics are turned into errors.
func openDocument(data []byte) (doc *document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	doc = &document{
		reader: reader,
		ctx:    ctx,
		pages:  ctx.PageCount,
	}
	if n := reader.NumPage(); n > 0 && doc.pages == 0 {
		doc.pages = n
	}
	doc.pageNrs = doc.indexPages()
	return doc, nil
}

// page returns the ledongthuc page. Callers recover from parser panics.
func (d *document) page(pageIndex int) (pdf.Page, bool) {
	if pageIndex < 0 || pageIndex >= d.pages {
		return pdf.Page{}, false
	}
	p := d.reader.Page(pageIndex + 1)
	return p, !p.V.IsNull()
}

// dimensions returns the page size in points from the inherited MediaBox,
// swapped for a /Rotate of 90 or 270.
func (d *document) dimensions(pageIndex int) (dims engine.Dimensions, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			dims, ok = engine.Dimensions{}, false
		}
	}()

	p, ok := d.page(pageIndex)
	if !ok {
		return engine.Dimensions{}, false
	}

	box := inherited(p.V, "MediaBox")
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return engine.Dimensions{Width: defaultPageWidth, Height: defaultPageHeight}, true
	}
	w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
	h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
	if w == 0 || h == 0 {
		return engine.Dimensions{Width: defaultPageWidth, Height: defaultPageHeight}, true
	}

	if rot := engine.NormalizeRotation(int(inherited(p.V, "Rotate").Int64())); rot == 90 || rot == 270 {
		w, h = h, w
	}
	return engine.Dimensions{Width: w, Height: h}, true
}

func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// glyphs returns the positioned glyphs of a page.
func (d *document) glyphs(pageIndex int) (texts []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("content stream panic on page %d: %v", pageIndex+1, r)
		}
	}()

	p, ok := d.page(pageIndex)
	if !ok {
		return nil, fmt.Errorf("page index %d out of range (0-%d)", pageIndex, d.pages-1)
	}
	return p.Content().Text, nil
}

// title returns the document title from the info dictionary, if any.
func (d *document) title() (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()

	info := d.reader.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return ""
	}
	return strings.TrimSpace(info.Key("Title").Text())
}
