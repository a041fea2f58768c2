package descriptions

import "sort"

// Tool descriptions shown to MCP clients, with usage examples

const (
	// Document lifecycle
	DocumentOpenDescription = `Open a PDF, EPUB or plain-text document in the viewer.

**When to use:** Before any page, search or annotation tool. Opening a new document replaces the current one.

**Examples:**
• Open a local file: path="books/moby-dick.epub"
• Open a remote document: path="https://example.com/report.pdf"
• Open inline content: data="data:application/pdf;base64,JVBERi0..."

**Best practices:** Pass type when the name carries no extension. Annotations are restored for the same key on reopen.`

	DocumentCloseDescription = `Close the open document and release its engine.

**When to use:** When done with a document, or before switching the server to other work.`

	ServerInfoDescription = `Describe the viewer: engine, configuration limits and the available tools.

**When to use:** At the start of a session to learn what the viewer can do.`

	// Navigation and view
	PageGotoDescription = `Move to a page by number or to a named destination.

**Examples:**
• Jump to page 12: page=12
• Follow a link target: destination="chapter-3"

**Best practices:** Page numbers are 1-based. Destinations come from document_outline or in-document links.`

	ViewZoomDescription = `Set the zoom factor. Values outside the engine range are clamped and the applied zoom is returned.

**Examples:** zoom=1.5 for 150%, zoom=0.5 to fit more on screen.`

	ViewRotateDescription = `Rotate the view one quarter turn.

**Examples:** direction="clockwise" or direction="counterclockwise".`

	ViewerStateDescription = `Return the full view state as JSON: page, zoom, rotation, themes, search and annotations.

**When to use:** To check what the viewer shows after a sequence of actions.`

	// Content
	PageTextDescription = `Return the text of a page.

**Examples:** page=3 returns every text run of the third page joined in reading order.`

	PageDimensionsDescription = `Return the width and height of a page in points.

**When to use:** To place annotations or interpret search rectangles.`

	PageRenderDescription = `Render a page to a PNG image at the current zoom and rotation.

**Examples:** page=1 scale=2 renders the first page at double resolution.

**Best practices:** Set text_layer=true to render the transparent text overlay instead of the page.`

	DocumentOutlineDescription = `Return the table of contents as a JSON tree of titles and page indexes.

**Best practices:** Entries whose target cannot be resolved report pageIndex -1.`

	// Search
	DocumentSearchDescription = `Search the document for text, case-insensitively, and activate the first match.

**Examples:** query="whale" lists every match with its page and a short snippet.

**Common workflows:** document_search → search_next / search_prev to step through matches.`

	SearchNextDescription = `Activate the next search match, wrapping to the first, and move to its page.`

	SearchPrevDescription = `Activate the previous search match, wrapping to the last, and move to its page.`

	// Annotations
	AnnotationAddDescription = `Add an annotation to a page.

**Examples:**
• Highlight a line: type="highlight" page=2 x=0.1 y=0.3 width=0.6 height=0.03
• Leave a note: type="comment" page=1 x=0.8 y=0.1 content="check this figure"

**Best practices:** Coordinates are fractions of the page (0 to 1). Color defaults by type.`

	AnnotationRemoveDescription = `Remove an annotation by id.`

	AnnotationListDescription = `List annotations as JSON, optionally for one page only.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"document_open":     DocumentOpenDescription,
	"document_close":    DocumentCloseDescription,
	"server_info":       ServerInfoDescription,
	"page_goto":         PageGotoDescription,
	"view_zoom":         ViewZoomDescription,
	"view_rotate":       ViewRotateDescription,
	"viewer_state":      ViewerStateDescription,
	"page_text":         PageTextDescription,
	"page_dimensions":   PageDimensionsDescription,
	"page_render":       PageRenderDescription,
	"document_outline":  DocumentOutlineDescription,
	"document_search":   DocumentSearchDescription,
	"search_next":       SearchNextDescription,
	"search_prev":       SearchPrevDescription,
	"annotation_add":    AnnotationAddDescription,
	"annotation_remove": AnnotationRemoveDescription,
	"annotation_list":   AnnotationListDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
