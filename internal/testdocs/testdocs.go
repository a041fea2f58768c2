// Package testdocs builds small, well-formed PDF and EPUB documents for
// tests.
package testdocs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Zip packs files into an archive, writing them in name order.
func Zip(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

const ContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const OPF3 = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Sample Book</dc:title>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`

const Nav3 = `<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="landmarks"><ol><li><a href="text/ch2.xhtml">Skip</a></li></ol></nav>
  <nav epub:type="toc">
    <ol>
      <li><a href="text/ch1.xhtml">Chapter One</a>
        <ol><li><a href="text/ch2.xhtml#part">Part Two</a></li></ol>
      </li>
      <li><a href="missing.xhtml">Gone</a></li>
    </ol>
  </nav>
</body>
</html>`

const OPF2 = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata><title>Old Style</title></metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`

const NCX = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="p1"><navLabel><text>First</text></navLabel><content src="text/ch1.xhtml"/>
      <navPoint id="p2"><navLabel><text>Second</text></navLabel><content src="text/ch2.xhtml#s"/></navPoint>
    </navPoint>
  </navMap>
</ncx>`

const Chapter1 = `<html><head><title>ignored</title><style>p{}</style></head>
<body><h1>Chapter One</h1><p>It was a   bright cold day.</p></body></html>`

const Chapter2 = `<html><body><p>The clocks were striking thirteen.</p></body></html>`

// EPUB returns a two-chapter EPUB 3 book with a nav document. Its outline
// is "Chapter One" (with child "Part Two") and an unresolvable "Gone".
func EPUB() []byte {
	return Zip(map[string]string{
		"META-INF/container.xml": ContainerXML,
		"OEBPS/content.opf":      OPF3,
		"OEBPS/nav.xhtml":        Nav3,
		"OEBPS/text/ch1.xhtml":   Chapter1,
		"OEBPS/text/ch2.xhtml":   Chapter2,
	})
}

// EPUB2 returns the same chapters as an EPUB 2 book with an NCX table of
// contents.
func EPUB2() []byte {
	return Zip(map[string]string{
		"META-INF/container.xml": ContainerXML,
		"OEBPS/content.opf":      OPF2,
		"OEBPS/toc.ncx":          NCX,
		"OEBPS/text/ch1.xhtml":   Chapter1,
		"OEBPS/text/ch2.xhtml":   Chapter2,
	})
}

// PDFBuilder writes a classic cross-reference PDF with exact offsets.
type PDFBuilder struct {
	objs []string
}

// Reserve allocates an object number to be filled in with Set.
func (b *PDFBuilder) Reserve() int {
	b.objs = append(b.objs, "")
	return len(b.objs)
}

func (b *PDFBuilder) Set(nr int, body string) {
	b.objs[nr-1] = body
}

func (b *PDFBuilder) Add(body string) int {
	nr := b.Reserve()
	b.Set(nr, body)
	return nr
}

// Stream adds a content stream object.
func (b *PDFBuilder) Stream(content string) int {
	return b.Add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
}

// Bytes serializes the document with the given catalog and info objects.
func (b *PDFBuilder) Bytes(root, info int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(b.objs))
	for i, body := range b.objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(b.objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(b.objs)+1, root, info, xref)
	return buf.Bytes()
}

// PDF returns a two-page document titled "Sample". Page one (612x792)
// reads "Hello World"; page two inherits a 595x842 MediaBox and reads
// "Second page" and "more text". It carries an outline, a /Dests entry
// "second" and a name-tree destination "intro2", both pointing at page two.
func PDF() []byte {
	b := &PDFBuilder{}
	catalog := b.Reserve()
	pages := b.Reserve()
	page1 := b.Reserve()
	page2 := b.Reserve()
	outlines := b.Reserve()
	ch1 := b.Reserve()
	ch2 := b.Reserve()
	missing := b.Reserve()

	widths := strings.TrimSpace(strings.Repeat("600 ", 95))
	font := b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Courier /FirstChar 32 /LastChar 126 /Widths [" + widths + "] /Encoding /WinAnsiEncoding >>")
	content1 := b.Stream("BT /F1 12 Tf 72 700 Td (Hello World) Tj ET")
	content2 := b.Stream("BT /F1 12 Tf 72 700 Td (Second page) Tj 0 -20 Td (more text) Tj ET")
	info := b.Add("<< /Title (Sample) >>")

	b.Set(catalog, fmt.Sprintf(
		"<< /Type /Catalog /Pages %d 0 R /Outlines %d 0 R /Dests << /second [%d 0 R /XYZ 0 792 0] >> /Names << /Dests << /Names [(intro2) [%d 0 R /Fit]] >> >> >>",
		pages, outlines, page2, page2))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R %d 0 R] /Count 2 /MediaBox [0 0 595 842] >>", page1, page2))
	b.Set(page1, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pages, font, content1))
	b.Set(page2, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pages, font, content2))
	b.Set(outlines, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count 2 >>", ch1, ch2))
	b.Set(ch1, fmt.Sprintf("<< /Title (Chapter 1) /Parent %d 0 R /Next %d 0 R /Dest [%d 0 R /Fit] >>", outlines, ch2, page1))
	b.Set(ch2, fmt.Sprintf("<< /Title (Chapter 2) /Parent %d 0 R /Prev %d 0 R /First %d 0 R /Last %d 0 R /Count 1 /A << /S /GoTo /D (intro2) >> >>", outlines, ch1, missing, missing))
	b.Set(missing, fmt.Sprintf("<< /Title (Missing) /Parent %d 0 R /Dest /nowhere >>", ch2))

	return b.Bytes(catalog, info)
}
