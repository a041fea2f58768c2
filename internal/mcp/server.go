package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/papyrus-engine/internal/codec"
	"github.com/a3tai/papyrus-engine/internal/config"
	"github.com/a3tai/papyrus-engine/internal/descriptions"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/factory"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/store"
	"github.com/a3tai/papyrus-engine/internal/viewer"
)

// shutdownTimeout bounds the SSE server shutdown in server mode
const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	session   *viewer.Session
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, session *viewer.Session) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // the tool set is fixed
	)

	s := &Server{
		config:    cfg,
		session:   session,
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func tool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(descriptions.GetToolDescription(name))}, opts...)...)
}

func pageArg(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description("Page number, 1-based (defaults to the current page)")}
	if required {
		opts = []mcp.PropertyOption{mcp.Required(), mcp.Description("Page number, 1-based")}
	}
	return mcp.WithNumber("page", opts...)
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// Document lifecycle
	s.mcpServer.AddTool(tool("document_open",
		mcp.WithString("path", mcp.Description("File path or http(s) URL of the document")),
		mcp.WithString("data", mcp.Description("Inline document as a data URI or base64 (used when path is empty)")),
		mcp.WithString("type", mcp.Description("Document type; inferred from the name or content when empty"),
			mcp.Enum(string(engine.TypePDF), string(engine.TypeEPUB), string(engine.TypeText))),
		mcp.WithString("key", mcp.Description("Key annotations are stored under (defaults to the path)")),
	), s.handleDocumentOpen)
	s.mcpServer.AddTool(tool("document_close"), s.handleDocumentClose)
	s.mcpServer.AddTool(tool("server_info"), s.handleServerInfo)

	// Navigation and view
	s.mcpServer.AddTool(tool("page_goto",
		pageArg(false),
		mcp.WithString("destination", mcp.Description("Named destination to resolve instead of a page number")),
	), s.handlePageGoto)
	s.mcpServer.AddTool(tool("view_zoom",
		mcp.WithNumber("zoom", mcp.Required(), mcp.Description("Zoom factor, 1 is 100%")),
	), s.handleViewZoom)
	s.mcpServer.AddTool(tool("view_rotate",
		mcp.WithString("direction", mcp.Description("Rotation direction (default clockwise)"),
			mcp.Enum(string(engine.Clockwise), string(engine.CounterClockwise))),
	), s.handleViewRotate)
	s.mcpServer.AddTool(tool("viewer_state"), s.handleViewerState)

	// Content
	s.mcpServer.AddTool(tool("page_text", pageArg(false)), s.handlePageText)
	s.mcpServer.AddTool(tool("page_dimensions", pageArg(false)), s.handlePageDimensions)
	s.mcpServer.AddTool(tool("page_render",
		pageArg(false),
		mcp.WithNumber("scale", mcp.Description("Render scale on top of the zoom (default 1)")),
		mcp.WithBoolean("text_layer", mcp.Description("Render the text overlay instead of the page")),
	), s.handlePageRender)
	s.mcpServer.AddTool(tool("document_outline"), s.handleDocumentOutline)

	// Search
	s.mcpServer.AddTool(tool("document_search",
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
	), s.handleDocumentSearch)
	s.mcpServer.AddTool(tool("search_next"), s.handleSearchNext)
	s.mcpServer.AddTool(tool("search_prev"), s.handleSearchPrev)

	// Annotations
	s.mcpServer.AddTool(tool("annotation_add",
		mcp.WithString("type", mcp.Required(), mcp.Description("Annotation type"),
			mcp.Enum(string(store.AnnotationHighlight), string(store.AnnotationText),
				string(store.AnnotationStrikeout), string(store.AnnotationComment))),
		pageArg(true),
		mcp.WithNumber("x", mcp.Description("Left edge as a fraction of the page width")),
		mcp.WithNumber("y", mcp.Description("Top edge as a fraction of the page height")),
		mcp.WithNumber("width", mcp.Description("Width as a fraction of the page width")),
		mcp.WithNumber("height", mcp.Description("Height as a fraction of the page height")),
		mcp.WithString("color", mcp.Description("Color as #rrggbb (defaults by type)")),
		mcp.WithString("content", mcp.Description("Note text for text and comment annotations")),
	), s.handleAnnotationAdd)
	s.mcpServer.AddTool(tool("annotation_remove",
		mcp.WithString("id", mcp.Required(), mcp.Description("Annotation id")),
	), s.handleAnnotationRemove)
	s.mcpServer.AddTool(tool("annotation_list",
		mcp.WithNumber("page", mcp.Description("Only list annotations on this page (1-based)")),
	), s.handleAnnotationList)
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// pageIndex resolves the optional 1-based page argument to a 0-based index
func (s *Server) pageIndex(request mcp.CallToolRequest) (int, error) {
	st := s.session.State()
	if !st.IsLoaded {
		return 0, engine.ErrNotLoaded
	}
	page := request.GetInt("page", 0)
	if page == 0 {
		page = st.CurrentPage
	}
	if !engine.ValidPage(page, st.PageCount) {
		return 0, fmt.Errorf("page %d out of range (1-%d)", page, st.PageCount)
	}
	return page - 1, nil
}

// Handler functions
func (s *Server) handleDocumentOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	data := request.GetString("data", "")

	var src source.Source
	switch {
	case path != "":
		src = source.FromURI(path)
	case data != "":
		src = source.FromString(data)
	default:
		return mcp.NewToolResultError("either path or data is required"), nil
	}

	req := engine.LoadRequest{Source: src, Type: engine.DocumentType(request.GetString("type", ""))}
	if err := s.session.Open(ctx, req, request.GetString("key", "")); err != nil {
		return toolError(err), nil
	}

	st := s.session.State()
	name := path
	if name == "" {
		name = "inline document"
	}
	text := fmt.Sprintf("Opened %s\n", name)
	text += fmt.Sprintf("Type: %s\n", engine.InferType(req))
	text += fmt.Sprintf("Pages: %d\n", st.PageCount)
	text += fmt.Sprintf("Current page: %d\n", st.CurrentPage)
	text += fmt.Sprintf("Outline entries: %d\n", len(st.Outline))
	if n := len(st.Annotations); n > 0 {
		text += fmt.Sprintf("Restored annotations: %d\n", n)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleDocumentClose(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.session.Engine() == nil {
		return mcp.NewToolResultText("No document is open"), nil
	}
	s.session.Close()
	return mcp.NewToolResultText("Document closed"), nil
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := factory.ParseKind(s.config.Engine)
	if err != nil {
		return toolError(err), nil
	}
	caps := factory.KindCapabilities()[kind]

	text := fmt.Sprintf("%s v%s\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("Engine: %s\n", kind)
	types := make([]string, 0, len(caps.Types))
	for _, t := range caps.Types {
		types = append(types, string(t))
	}
	text += fmt.Sprintf("Document types: %s\n", strings.Join(types, ", "))
	text += fmt.Sprintf("Search: %t, Selection: %t\n", caps.Search, caps.Selection)
	text += fmt.Sprintf("Document directory: %s\n", s.config.DocumentDirectory)
	text += fmt.Sprintf("Max file size: %d MB\n", s.config.MaxFileSize/(1024*1024))
	text += fmt.Sprintf("Annotation store: %s\n", s.config.Annotations)

	text += "\nTools:\n"
	for _, name := range descriptions.GetAllToolNames() {
		summary, _, _ := strings.Cut(descriptions.GetToolDescription(name), "\n")
		text += fmt.Sprintf("• %s: %s\n", name, summary)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePageGoto(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if dest := request.GetString("destination", ""); dest != "" {
		idx, err := s.session.GoToDestination(ctx, engine.Destination{Name: dest})
		if err != nil {
			return toolError(err), nil
		}
		if idx == engine.NoPage {
			return mcp.NewToolResultError(fmt.Sprintf("destination %q not found", dest)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Moved to page %d (destination %s)", idx+1, dest)), nil
	}

	page, err := request.RequireInt("page")
	if err != nil {
		return mcp.NewToolResultError("either page or destination is required"), nil
	}
	if err := s.session.GoToPage(page); err != nil {
		return toolError(err), nil
	}
	st := s.session.State()
	return mcp.NewToolResultText(fmt.Sprintf("Moved to page %d of %d", st.CurrentPage, st.PageCount)), nil
}

func (s *Server) handleViewZoom(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	zoom, err := request.RequireFloat("zoom")
	if err != nil {
		return toolError(err), nil
	}
	applied, err := s.session.SetZoom(zoom)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Zoom set to %g", applied)), nil
}

func (s *Server) handleViewRotate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := engine.Direction(request.GetString("direction", string(engine.Clockwise)))
	if dir != engine.Clockwise && dir != engine.CounterClockwise {
		return mcp.NewToolResultError(fmt.Sprintf("invalid direction: %s (must be one of: clockwise, counterclockwise)", dir)), nil
	}
	rotation, err := s.session.Rotate(dir)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Rotation is now %d degrees", rotation)), nil
}

func (s *Server) handleViewerState(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.session.State())
}

func (s *Server) handlePageText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := s.pageIndex(request)
	if err != nil {
		return toolError(err), nil
	}
	items, err := s.session.TextContent(ctx, idx)
	if err != nil {
		return toolError(err), nil
	}

	strs := make([]string, 0, len(items))
	for _, item := range items {
		strs = append(strs, item.Str)
	}
	text := fmt.Sprintf("Page %d (%d text runs):\n\n", idx+1, len(items))
	text += strings.Join(strs, "\n")
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePageDimensions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := s.pageIndex(request)
	if err != nil {
		return toolError(err), nil
	}
	dims, err := s.session.PageDimensions(ctx, idx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Page %d: %g x %g", idx+1, dims.Width, dims.Height)), nil
}

func (s *Server) handlePageRender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := s.pageIndex(request)
	if err != nil {
		return toolError(err), nil
	}
	scale := request.GetFloat("scale", 1)
	if scale <= 0 {
		return mcp.NewToolResultError("scale must be positive"), nil
	}

	target := render.NewImageTarget(fmt.Sprintf("mcp-page-%d", idx), 0, 0)
	layer := engine.LayerPage
	if request.GetBool("text_layer", false) {
		layer = engine.LayerText
		err = s.session.RenderTextLayer(ctx, idx, target, scale)
	} else {
		err = s.session.Render(ctx, idx, target, scale)
	}
	if err != nil {
		return toolError(err), nil
	}

	frame, ok := target.Frame(layer)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("page %d produced no image", idx+1)), nil
	}
	png, err := target.PNG(layer)
	if err != nil {
		return toolError(err), nil
	}
	bounds := frame.Image.Bounds()
	text := fmt.Sprintf("Page %d rendered at %dx%d (%d bytes PNG)", idx+1, bounds.Dx(), bounds.Dy(), len(png))
	return mcp.NewToolResultImage(text, codec.Encode(png), "image/png"), nil
}

func (s *Server) handleDocumentOutline(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outline, err := s.session.Outline(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(outline)
}

func (s *Server) handleDocumentSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return toolError(err), nil
	}
	results, err := s.session.Search(ctx, query)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatSearchResults(query, results)), nil
}

func (s *Server) handleSearchNext(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.searchStep(s.session.NextResult())
}

func (s *Server) handleSearchPrev(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.searchStep(s.session.PrevResult())
}

func (s *Server) searchStep(result engine.SearchResult, ok bool) (*mcp.CallToolResult, error) {
	if !ok {
		return mcp.NewToolResultError("no search results; run document_search first"), nil
	}
	st := s.session.State()
	return mcp.NewToolResultText(fmt.Sprintf("Match %d of %d on page %d: %s",
		st.ActiveSearchIndex+1, len(st.SearchResults), result.PageIndex+1, result.Text)), nil
}

func (s *Server) handleAnnotationAdd(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := request.RequireString("type")
	if err != nil {
		return toolError(err), nil
	}
	t, err := store.ParseAnnotationType(typeName)
	if err != nil {
		return toolError(err), nil
	}
	page, err := request.RequireInt("page")
	if err != nil {
		return toolError(err), nil
	}

	rect := engine.Rect{
		X:      request.GetFloat("x", 0),
		Y:      request.GetFloat("y", 0),
		Width:  request.GetFloat("width", 0),
		Height: request.GetFloat("height", 0),
	}
	a, err := s.session.Annotate(t, page-1, rect, request.GetString("color", ""), request.GetString("content", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Added %s annotation %s on page %d (color %s)", a.Type, a.ID, a.PageIndex+1, a.Color)), nil
}

func (s *Server) handleAnnotationRemove(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	if !s.session.RemoveAnnotation(id) {
		return mcp.NewToolResultError(fmt.Sprintf("annotation %s not found", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed annotation %s", id)), nil
}

func (s *Server) handleAnnotationList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.session.Annotations(request.GetInt("page", 0) - 1))
}

func formatSearchResults(query string, results []engine.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No matches for %q", query)
	}
	text := fmt.Sprintf("%d matches for %q:\n", len(results), query)
	for i, r := range results {
		if i >= 50 {
			text += fmt.Sprintf("... and %d more\n", len(results)-50)
			break
		}
		text += fmt.Sprintf("%d. Page %d: %s\n", i+1, r.PageIndex+1, r.Text)
	}
	return text
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(_ context.Context) error {
	if s.config.IsDebug() {
		log.Printf("Starting Papyrus MCP server in stdio mode")
		log.Printf("Document directory: %s", s.config.DocumentDirectory)
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE until ctx is cancelled
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(addr)
	}()
	log.Printf("Papyrus MCP server listening on %s (SSE)", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve SSE: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down SSE server: %w", err)
		}
		return nil
	}
}
