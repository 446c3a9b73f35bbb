package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/oncoref/nccn-mcp-go/guidelines"
	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions/memoryhost"
	"github.com/oncoref/nccn-mcp-go/streaminghttp"
)

const sampleIndex = `nccn_guidelines:
  - category: Breast Cancer
    guidelines:
      - title: Breast Cancer Treatment
        url: https://example.com/breast.pdf
`

// newGuidelinesServer stands up the full stack: guidelines service, memory
// session host, streamable HTTP handler.
func newGuidelinesServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	indexPath := filepath.Join(dir, "nccn_guidelines_index.yaml")
	if err := os.WriteFile(indexPath, []byte(sampleIndex), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	svc := guidelines.NewService(guidelines.Config{
		IndexPath:   indexPath,
		DownloadDir: filepath.Join(dir, "downloads"),
	})

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "nccn-guidelines", Version: "test"}),
		mcpservice.WithInstructions("Guideline access for tests."),
		mcpservice.WithToolsCapability(svc.Tools()),
		mcpservice.WithResourcesCapability(svc.Resources()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handler.ServeHTTP(w, r) }))
	t.Cleanup(srv.Close)

	h, err := streaminghttp.New(ctx, srv.URL+"/mcp", memoryhost.New(), server)
	if err != nil {
		t.Fatalf("streaminghttp.New: %v", err)
	}
	handler = h
	return srv
}

func connect(t *testing.T, srv *httptest.Server) *sdk.ClientSession {
	t.Helper()
	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}
	cs, err := client.Connect(context.Background(), transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestE2E_Initialize(t *testing.T) {
	srv := newGuidelinesServer(t)
	cs := connect(t, srv)

	res := cs.InitializeResult()
	if res == nil || res.ServerInfo.Name != "nccn-guidelines" {
		t.Fatalf("InitializeResult = %+v", res)
	}
	if res.Instructions == "" {
		t.Error("initialize result missing instructions")
	}
}

func TestE2E_ToolsListAndCall(t *testing.T) {
	srv := newGuidelinesServer(t)
	cs := connect(t, srv)
	ctx := context.Background()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range lt.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"get_index", "download_pdf", "extract_content"} {
		if !names[want] {
			t.Fatalf("missing tool %q in %v", want, lt.Tools)
		}
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "get_index"})
	if err != nil {
		t.Fatalf("CallTool(get_index): %v", err)
	}
	if res.IsError {
		t.Fatalf("get_index returned error result: %+v", res)
	}
	text := textContent(t, res)
	if !strings.Contains(text, "Breast Cancer Treatment") {
		t.Fatalf("get_index text = %q", text)
	}
}

func TestE2E_ToolCallInvalidArguments(t *testing.T) {
	srv := newGuidelinesServer(t)
	cs := connect(t, srv)

	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      "download_pdf",
		Arguments: map[string]any{"bogus": true},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result for unknown argument, got %+v", res)
	}
}

func TestE2E_ResourcesListAndRead(t *testing.T) {
	srv := newGuidelinesServer(t)
	cs := connect(t, srv)
	ctx := context.Background()

	lr, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	var found bool
	for _, r := range lr.Resources {
		if r.URI == guidelines.IndexResourceURI {
			found = true
		}
	}
	if !found {
		t.Fatalf("resources = %+v, want %s", lr.Resources, guidelines.IndexResourceURI)
	}

	rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: guidelines.IndexResourceURI})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(rr.Contents) != 1 || !strings.Contains(rr.Contents[0].Text, "Category: Breast Cancer") {
		t.Fatalf("contents = %+v", rr.Contents)
	}
}

func TestE2E_SessionTerminatesOnClose(t *testing.T) {
	srv := newGuidelinesServer(t)
	cs := connect(t, srv)
	ctx := context.Background()

	if _, err := cs.ListTools(ctx, &sdk.ListToolsParams{}); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A fresh connect mints a new session against the same server.
	cs2 := connect(t, srv)
	if _, err := cs2.ListTools(ctx, &sdk.ListToolsParams{}); err != nil {
		t.Fatalf("ListTools after reconnect: %v", err)
	}
}

func textContent(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
