package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/annotations"
	"github.com/a3tai/papyrus-engine/internal/codec"
	"github.com/a3tai/papyrus-engine/internal/config"
	"github.com/a3tai/papyrus-engine/internal/descriptions"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/factory"
	"github.com/a3tai/papyrus-engine/internal/store"
	"github.com/a3tai/papyrus-engine/internal/testdocs"
	"github.com/a3tai/papyrus-engine/internal/viewer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.pdf"), testdocs.PDF(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.epub"), testdocs.EPUB(), 0o600))

	cfg := config.DefaultConfig()
	cfg.DocumentDirectory = dir
	cfg.ServerName = "test-server"

	f := factory.New(cfg.FactoryConfig())
	t.Cleanup(f.Close)
	s := store.New(nil)
	s.Initialize(cfg.ViewerConfig())
	session := viewer.New(f, viewer.WithStore(s), viewer.WithRepository(annotations.NewMemoryStore()))
	t.Cleanup(session.Shutdown)

	server, err := NewServer(cfg, session)
	require.NoError(t, err)
	return server
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
	}
	return ""
}

// ok returns a check that fails the test unless the handler succeeded.
// It takes the handler's results directly: ok(t)(s.handleX(ctx, req)).
func ok(t *testing.T) func(*mcp.CallToolResult, error) string {
	return func(result *mcp.CallToolResult, err error) string {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, result)
		text := extractTextFromResult(result)
		require.False(t, result.IsError, text)
		return text
	}
}

// failed returns a check that fails the test unless the handler reported
// a tool error.
func failed(t *testing.T) func(*mcp.CallToolResult, error) string {
	return func(result *mcp.CallToolResult, err error) string {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, result)
		require.True(t, result.IsError, "expected a tool error")
		return extractTextFromResult(result)
	}
}

func openSample(t *testing.T, s *Server) {
	t.Helper()
	ok(t)(s.handleDocumentOpen(context.Background(), call(map[string]interface{}{"path": "sample.pdf"})))
}

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	session := viewer.New(factory.New(factory.DefaultConfig()))

	_, err := NewServer(nil, session)
	assert.Error(t, err)
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)

	s, err := NewServer(cfg, session)
	require.NoError(t, err)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_ToolsList(t *testing.T) {
	s := newTestServer(t)

	msg := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))

	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, descriptions.GetToolDescription(tool.Name), tool.Description)
	}
	assert.Equal(t, descriptions.GetAllToolNames(), names)
}

func TestServer_HandleDocumentOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
		want    []string
	}{
		{name: "relative pdf path", args: map[string]interface{}{"path": "sample.pdf"}, want: []string{"Type: pdf", "Pages: 2", "Outline entries: 2"}},
		{name: "epub by extension", args: map[string]interface{}{"path": "book.epub"}, want: []string{"Type: epub", "Pages: 2"}},
		{name: "inline data uri", args: map[string]interface{}{"data": "data:application/pdf;base64," + codec.Encode(testdocs.PDF())}, want: []string{"inline document", "Pages: 2"}},
		{name: "explicit text type", args: map[string]interface{}{"data": "Just a few words.", "type": "text"}, want: []string{"Type: text", "Pages: 1"}},
		{name: "missing arguments", args: map[string]interface{}{}, wantErr: true},
		{name: "missing file", args: map[string]interface{}{"path": "nope.pdf"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			result, err := s.handleDocumentOpen(ctx, call(tt.args))
			if tt.wantErr {
				failed(t)(result, err)
				return
			}
			text := ok(t)(result, err)
			for _, w := range tt.want {
				assert.Contains(t, text, w)
			}
		})
	}
}

func TestServer_NoDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	text := failed(t)(s.handlePageText(ctx, call(nil)))
	assert.Contains(t, text, "no document loaded")
	failed(t)(s.handleViewZoom(ctx, call(map[string]interface{}{"zoom": 2.0})))
	failed(t)(s.handleSearchNext(ctx, call(nil)))
	assert.Equal(t, "No document is open", ok(t)(s.handleDocumentClose(ctx, call(nil))))
}

func TestServer_Navigation(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	openSample(t, s)

	text := ok(t)(s.handlePageGoto(ctx, call(map[string]interface{}{"page": float64(2)})))
	assert.Equal(t, "Moved to page 2 of 2", text)
	failed(t)(s.handlePageGoto(ctx, call(map[string]interface{}{"page": float64(9)})))
	failed(t)(s.handlePageGoto(ctx, call(nil)))

	text = ok(t)(s.handlePageGoto(ctx, call(map[string]interface{}{"destination": "second"})))
	assert.Contains(t, text, "page 2")
	failed(t)(s.handlePageGoto(ctx, call(map[string]interface{}{"destination": "nowhere"})))

	text = ok(t)(s.handleViewZoom(ctx, call(map[string]interface{}{"zoom": 9.0})))
	assert.Equal(t, "Zoom set to 5", text)
	failed(t)(s.handleViewZoom(ctx, call(nil)))

	text = ok(t)(s.handleViewRotate(ctx, call(map[string]interface{}{"direction": "counterclockwise"})))
	assert.Equal(t, "Rotation is now 270 degrees", text)
	text = ok(t)(s.handleViewRotate(ctx, call(nil)))
	assert.Equal(t, "Rotation is now 0 degrees", text)
	failed(t)(s.handleViewRotate(ctx, call(map[string]interface{}{"direction": "sideways"})))

	var st store.State
	require.NoError(t, json.Unmarshal([]byte(ok(t)(s.handleViewerState(ctx, call(nil)))), &st))
	assert.Equal(t, 2, st.CurrentPage)
	assert.Equal(t, 5.0, st.Zoom)
	assert.True(t, st.IsLoaded)
}

func TestServer_Content(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	openSample(t, s)

	text := ok(t)(s.handlePageText(ctx, call(nil)))
	assert.Contains(t, text, "Page 1")
	assert.Contains(t, text, "Hello World")

	text = ok(t)(s.handlePageText(ctx, call(map[string]interface{}{"page": float64(2)})))
	assert.Contains(t, text, "Second page")
	failed(t)(s.handlePageText(ctx, call(map[string]interface{}{"page": float64(3)})))

	text = ok(t)(s.handlePageDimensions(ctx, call(nil)))
	assert.Equal(t, "Page 1: 612 x 792", text)

	var outline []engine.OutlineItem
	require.NoError(t, json.Unmarshal([]byte(ok(t)(s.handleDocumentOutline(ctx, call(nil)))), &outline))
	require.Len(t, outline, 2)
	assert.Equal(t, "Chapter 2", outline[1].Title)
}

func TestServer_HandlePageRender(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	openSample(t, s)

	result, err := s.handlePageRender(ctx, call(map[string]interface{}{"scale": 0.5}))
	text := ok(t)(result, err)
	assert.Contains(t, text, "306x396")
	require.Len(t, result.Content, 2)
	img, isImage := result.Content[1].(mcp.ImageContent)
	require.True(t, isImage)
	assert.Equal(t, "image/png", img.MIMEType)
	png, err := codec.Decode(img.Data)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	text = ok(t)(s.handlePageRender(ctx, call(map[string]interface{}{"text_layer": true})))
	assert.Contains(t, text, "Page 1 rendered")

	failed(t)(s.handlePageRender(ctx, call(map[string]interface{}{"scale": -1.0})))
}

func TestServer_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	openSample(t, s)

	failed(t)(s.handleSearchNext(ctx, call(nil)))

	text := ok(t)(s.handleDocumentSearch(ctx, call(map[string]interface{}{"query": "or"})))
	assert.True(t, strings.HasPrefix(text, "2 matches"), text)
	assert.Contains(t, text, "1. Page 1:")
	assert.Contains(t, text, "2. Page 2:")

	text = ok(t)(s.handleSearchNext(ctx, call(nil)))
	assert.True(t, strings.HasPrefix(text, "Match 2 of 2 on page 2"), text)
	text = ok(t)(s.handleSearchNext(ctx, call(nil)))
	assert.True(t, strings.HasPrefix(text, "Match 1 of 2 on page 1"), text)
	text = ok(t)(s.handleSearchPrev(ctx, call(nil)))
	assert.True(t, strings.HasPrefix(text, "Match 2 of 2"), text)

	text = ok(t)(s.handleDocumentSearch(ctx, call(map[string]interface{}{"query": "zebra"})))
	assert.Equal(t, `No matches for "zebra"`, text)
	failed(t)(s.handleDocumentSearch(ctx, call(nil)))
}

func TestServer_Annotations(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	openSample(t, s)

	text := ok(t)(s.handleAnnotationAdd(ctx, call(map[string]interface{}{
		"type": "highlight", "page": float64(1), "x": 0.1, "y": 0.1, "width": 0.5, "height": 0.05,
	})))
	assert.Contains(t, text, "Added highlight annotation")
	assert.Contains(t, text, store.HighlightColor)

	ok(t)(s.handleAnnotationAdd(ctx, call(map[string]interface{}{
		"type": "comment", "page": float64(2), "content": "check", "color": "#00ff00",
	})))
	failed(t)(s.handleAnnotationAdd(ctx, call(map[string]interface{}{"type": "scribble", "page": float64(1)})))
	failed(t)(s.handleAnnotationAdd(ctx, call(map[string]interface{}{"type": "text", "page": float64(5)})))
	failed(t)(s.handleAnnotationAdd(ctx, call(map[string]interface{}{"type": "text"})))

	var all []store.Annotation
	require.NoError(t, json.Unmarshal([]byte(ok(t)(s.handleAnnotationList(ctx, call(nil)))), &all))
	require.Len(t, all, 2)

	var page2 []store.Annotation
	require.NoError(t, json.Unmarshal([]byte(ok(t)(s.handleAnnotationList(ctx, call(map[string]interface{}{"page": float64(2)})))), &page2))
	require.Len(t, page2, 1)
	assert.Equal(t, "check", page2[0].Content)
	assert.Equal(t, "#00ff00", page2[0].Color)

	ok(t)(s.handleAnnotationRemove(ctx, call(map[string]interface{}{"id": page2[0].ID})))
	failed(t)(s.handleAnnotationRemove(ctx, call(map[string]interface{}{"id": page2[0].ID})))

	ok(t)(s.handleDocumentClose(ctx, call(nil)))
	openSample(t, s)
	require.NoError(t, json.Unmarshal([]byte(ok(t)(s.handleAnnotationList(ctx, call(nil)))), &all))
	assert.Len(t, all, 1, "annotations are restored on reopen")
}

func TestServer_HandleServerInfo(t *testing.T) {
	s := newTestServer(t)
	text := ok(t)(s.handleServerInfo(context.Background(), call(nil)))

	assert.Contains(t, text, "test-server v1.0.0")
	assert.Contains(t, text, "Engine: auto")
	assert.Contains(t, text, "Annotation store: memory")
	for _, name := range descriptions.GetAllToolNames() {
		assert.Contains(t, text, "• "+name+":")
	}
}

func TestHandleDocumentOpen_ConfinedToDirectory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("TOP SECRET outside dir"), 0o600))
	rel, err := filepath.Rel(s.config.DocumentDirectory, secret)
	require.NoError(t, err)

	for _, path := range []string{secret, rel, "file://" + secret} {
		text := failed(t)(s.handleDocumentOpen(ctx, call(map[string]interface{}{"path": path, "type": "text"})))
		assert.Contains(t, text, "outside the document directory", path)
		assert.NotContains(t, text, "TOP SECRET", path)
	}
	assert.False(t, s.session.State().IsLoaded)

	ok(t)(s.handleDocumentOpen(ctx, call(map[string]interface{}{"path": "sample.pdf"})))
}
