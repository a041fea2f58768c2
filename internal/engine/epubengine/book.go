package epubengine

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// SpineItem is one reading-order section.
type SpineItem struct {
	ID   string
	Href string // relative to the package document
	Path string // full path inside the archive
}

// NavPoint is a table of contents entry. Href is relative to the package
// document and may carry a fragment.
type NavPoint struct {
	Label    string
	Href     string
	Children []NavPoint
}

// Book is an opened EPUB archive.
type Book struct {
	Title string
	Spine []SpineItem
	TOC   []NavPoint

	files  map[string]*zip.File
	opfDir string
}

type manifestItem struct {
	href       string
	mediaType  string
	properties string
}

type opfPackage struct {
	title    string
	manifest map[string]manifestItem
	spine    []string
	tocID    string
}

var errNoRootfile = errors.New("epub: rootfile not found in container.xml")

// Open parses an EPUB from memory.
func Open(data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("epub: %w", err)
	}

	b := &Book{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		b.files[strings.ToLower(path.Clean(f.Name))] = f
	}

	containerData, err := b.read("META-INF/container.xml")
	if err != nil {
		return nil, fmt.Errorf("epub: container.xml not found: %w", err)
	}
	rootfile := parseRootfile(containerData)
	if rootfile == "" {
		return nil, errNoRootfile
	}

	opfData, err := b.read(rootfile)
	if err != nil {
		return nil, err
	}
	opf, err := parseOPF(opfData)
	if err != nil {
		return nil, err
	}

	b.Title = opf.title
	b.opfDir = path.Dir(rootfile)
	if b.opfDir == "." {
		b.opfDir = ""
	}

	for _, idref := range opf.spine {
		item, ok := opf.manifest[idref]
		if !ok || item.href == "" {
			continue
		}
		b.Spine = append(b.Spine, SpineItem{
			ID:   idref,
			Href: normalizeHref(item.href),
			Path: path.Join(b.opfDir, normalizeHref(item.href)),
		})
	}

	b.TOC = b.loadTOC(opf)
	return b, nil
}

// SectionText returns the visible text of spine item i.
func (b *Book) SectionText(i int) (string, error) {
	if i < 0 || i >= len(b.Spine) {
		return "", fmt.Errorf("epub: spine index %d out of range", i)
	}
	data, err := b.read(b.Spine[i].Path)
	if err != nil {
		return "", err
	}
	return stripHTMLToText(data), nil
}

// SpineIndex returns the spine position of href, ignoring any fragment, or
// -1.
func (b *Book) SpineIndex(href string) int {
	target := normalizeHref(href)
	if target == "" {
		return -1
	}
	for i, item := range b.Spine {
		if item.Href == target {
			return i
		}
	}
	return -1
}

func (b *Book) read(name string) ([]byte, error) {
	f, ok := b.files[strings.ToLower(path.Clean(name))]
	if !ok {
		return nil, fmt.Errorf("epub: file not found: %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Book) loadTOC(opf opfPackage) []NavPoint {
	for _, item := range opf.manifest {
		if hasProperty(item.properties, "nav") {
			data, err := b.read(path.Join(b.opfDir, normalizeHref(item.href)))
			if err != nil {
				break
			}
			return rebase(parseNav(data), path.Dir(normalizeHref(item.href)))
		}
	}

	if item, ok := opf.manifest[opf.tocID]; ok {
		data, err := b.read(path.Join(b.opfDir, normalizeHref(item.href)))
		if err == nil {
			return rebase(parseNCX(data), path.Dir(normalizeHref(item.href)))
		}
	}
	return nil
}

// rebase makes hrefs found in a navigation document at dir relative to
// the package document.
func rebase(points []NavPoint, dir string) []NavPoint {
	for i := range points {
		if points[i].Href != "" && dir != "." && dir != "" {
			frag := ""
			href := points[i].Href
			if j := strings.IndexByte(href, '#'); j >= 0 {
				href, frag = href[:j], href[j:]
			}
			if href != "" {
				points[i].Href = path.Join(dir, href) + frag
			}
		}
		points[i].Children = rebase(points[i].Children, dir)
	}
	return points
}

// normalizeHref drops the fragment, decodes percent escapes and cleans
// the path.
func normalizeHref(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return path.Clean(href)
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

// parseRootfile returns the first rootfile full-path in container.xml.
func parseRootfile(data []byte) string {
	type rootfile struct {
		FullPath string `xml:"full-path,attr"`
	}
	type container struct {
		Rootfiles []rootfile `xml:"rootfiles>rootfile"`
	}
	var c container
	if err := xml.Unmarshal(data, &c); err != nil {
		return ""
	}
	if len(c.Rootfiles) == 0 {
		return ""
	}
	return strings.TrimSpace(c.Rootfiles[0].FullPath)
}

// parseOPF streams the package document, matching on local names so any
// namespace prefixing is tolerated.
func parseOPF(data []byte) (opfPackage, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	opf := opfPackage{manifest: make(map[string]manifestItem)}

	var inMetadata, inManifest, inSpine bool
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return opfPackage{}, fmt.Errorf("epub: parse opf: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "metadata":
				inMetadata = true
			case "manifest":
				inManifest = true
			case "spine":
				inSpine = true
				opf.tocID = attr(t, "toc")
			case "item":
				if inManifest {
					id := attr(t, "id")
					item := manifestItem{
						href:       attr(t, "href"),
						mediaType:  attr(t, "media-type"),
						properties: attr(t, "properties"),
					}
					if id != "" && item.href != "" {
						opf.manifest[id] = item
					}
				}
			case "itemref":
				if inSpine {
					if id := attr(t, "idref"); id != "" {
						opf.spine = append(opf.spine, id)
					}
				}
			case "title":
				if inMetadata && opf.title == "" {
					var text string
					if err := decoder.DecodeElement(&text, &t); err == nil {
						opf.title = strings.TrimSpace(text)
					}
				}
			}
		case xml.EndElement:
			switch strings.ToLower(t.Name.Local) {
			case "metadata":
				inMetadata = false
			case "manifest":
				inManifest = false
			case "spine":
				inSpine = false
			}
		}
	}

	if len(opf.spine) == 0 {
		return opfPackage{}, errors.New("epub: package has an empty spine")
	}
	return opf, nil
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// parseNCX reads an EPUB 2 navMap.
func parseNCX(data []byte) []NavPoint {
	type navPoint struct {
		Label    string     `xml:"navLabel>text"`
		Content  struct {
			Src string `xml:"src,attr"`
		} `xml:"content"`
		Children []navPoint `xml:"navPoint"`
	}
	type ncx struct {
		Points []navPoint `xml:"navMap>navPoint"`
	}

	var doc ncx
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil
	}

	var convert func([]navPoint) []NavPoint
	convert = func(in []navPoint) []NavPoint {
		out := make([]NavPoint, 0, len(in))
		for _, p := range in {
			out = append(out, NavPoint{
				Label:    strings.TrimSpace(p.Label),
				Href:     strings.TrimSpace(p.Content.Src),
				Children: convert(p.Children),
			})
		}
		return out
	}
	return convert(doc.Points)
}

// parseNav reads the toc nav of an EPUB 3 navigation document.
func parseNav(data []byte) []NavPoint {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	nav := findTOCNav(doc)
	if nav == nil {
		return nil
	}
	for c := nav.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "ol" {
			return parseNavList(c)
		}
	}
	return nil
}

func findTOCNav(n *html.Node) *html.Node {
	var first *html.Node
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "nav" {
			if first == nil {
				first = n
			}
			for _, a := range n.Attr {
				if strings.EqualFold(a.Key, "type") || strings.HasSuffix(strings.ToLower(a.Key), ":type") {
					if hasProperty(a.Val, "toc") {
						return n
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	if found := walk(n); found != nil {
		return found
	}
	return first
}

func parseNavList(ol *html.Node) []NavPoint {
	var points []NavPoint
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		var p NavPoint
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "a", "span":
				p.Label = strings.Join(strings.Fields(nodeText(c)), " ")
				for _, a := range c.Attr {
					if a.Key == "href" {
						p.Href = strings.TrimSpace(a.Val)
					}
				}
			case "ol":
				p.Children = parseNavList(c)
			}
		}
		points = append(points, p)
	}
	return points
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return buf.String()
}

// stripHTMLToText collects visible text nodes, joined by single spaces.
func stripHTMLToText(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if buf.Len() > 0 {
					buf.WriteString(" ")
				}
				buf.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return buf.String()
}
