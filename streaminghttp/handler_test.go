package streaminghttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oncoref/nccn-mcp-go/internal/jsonrpc"
	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions"
	"github.com/oncoref/nccn-mcp-go/sessions/memoryhost"
)

type slowArgs struct {
	Steps int `json:"steps,omitempty"`
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *memoryhost.Host) {
	t.Helper()

	host := memoryhost.New()
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("greet", func(ctx context.Context, session sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct {
			Name string `json:"name" jsonschema:"required"`
		}]) error {
			return w.AppendText("hello " + r.Args().Name)
		}),
		mcpservice.NewTool("slow", func(ctx context.Context, session sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[slowArgs]) error {
			steps := r.Args().Steps
			if steps <= 0 {
				steps = 2
			}
			for i := 1; i <= steps; i++ {
				if err := w.SendProgress(float64(i), float64(steps)); err != nil {
					return err
				}
			}
			return w.AppendText("done")
		}),
	)
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "0.0.1"}),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithResourcesCapability(mcpservice.NewResourcesContainer(
			mcpservice.TextResource("test://doc", "Doc", "text/plain", "contents"),
		)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := New(ctx, "http://localhost/mcp", host, srv, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, host
}

func postJSON(t *testing.T, ts *httptest.Server, headers map[string]string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func initializeSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts, nil, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"clientInfo":{"name":"test-client","version":"1.0"}}}`, mcp.LatestProtocolVersion))
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("initialize status = %d, body = %s", resp.StatusCode, b)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}
	if pv := resp.Header.Get("Mcp-Protocol-Version"); pv != mcp.LatestProtocolVersion {
		t.Fatalf("Mcp-Protocol-Version = %q, want %q", pv, mcp.LatestProtocolVersion)
	}

	// Complete the handshake so the session is Ready for follow-up requests.
	noteResp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if noteResp.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", noteResp.StatusCode)
	}
	return sessID
}

func decodeResponse(t *testing.T, r io.Reader) *jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &resp
}

func TestInitializeMintsSession(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, nil, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q}}`, mcp.LatestProtocolVersion))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Error("missing Mcp-Session-Id header")
	}

	rpc := decodeResponse(t, resp.Body)
	if rpc.Error != nil {
		t.Fatalf("initialize error: %+v", rpc.Error)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(rpc.Result, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.ServerInfo.Name != "test-server" {
		t.Errorf("ServerInfo = %+v", res.ServerInfo)
	}
}

func TestInitializeUnsupportedVersion(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, nil, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeUnsupportedProtocolVersion {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeUnsupportedProtocolVersion)
	}
}

func TestConcurrentInitializeMintsDistinctSessions(t *testing.T) {
	ts, _ := newTestServer(t)

	ids := make(chan string, 2)
	for range 2 {
		go func() {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp",
				strings.NewReader(fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q}}`, mcp.LatestProtocolVersion)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			resp, err := ts.Client().Do(req)
			if err != nil {
				ids <- ""
				return
			}
			defer resp.Body.Close()
			ids <- resp.Header.Get("Mcp-Session-Id")
		}()
	}

	a, b := <-ids, <-ids
	if a == "" || b == "" {
		t.Fatal("initialize failed")
	}
	if a == b {
		t.Fatalf("both initializes returned session %q", a)
	}
}

func TestRequestsGatedUntilInitializedNotification(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, nil, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q}}`, mcp.LatestProtocolVersion))
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}

	// The handshake is not complete: notifications/initialized was never sent.
	listResp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", listResp.StatusCode)
	}
	rpc := decodeResponse(t, listResp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeInvalidRequest)
	}

	// ping stays callable while the handshake is outstanding.
	pingResp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	if pingRPC := decodeResponse(t, pingResp.Body); pingRPC.Error != nil {
		t.Fatalf("ping on nascent session: %+v", pingRPC.Error)
	}

	noteResp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if noteResp.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", noteResp.StatusCode)
	}
	readyResp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	if readyRPC := decodeResponse(t, readyResp.Body); readyRPC.Error != nil {
		t.Fatalf("tools/list after handshake: %+v", readyRPC.Error)
	}
}

func TestRedundantInitializeConflicts(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	resp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID},
		fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":%q}}`, mcp.LatestProtocolVersion))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUnknownSessionReturns404WithRPCError(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": "no-such-session"},
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeSessionNotFound {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeSessionNotFound)
	}
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, nil, `{"jsonrpc":`)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeParseError)
	}
}

func TestBatchMessagesRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, nil, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeInvalidRequest)
	}
}

func TestWrongContentTypeRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("id=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestUnacceptableAcceptRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", resp.StatusCode)
	}
}

func TestBufferedResponseForNonStreamableMethod(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	// tools/list never streams even when the client prefers SSE.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error != nil {
		t.Fatalf("tools/list error: %+v", rpc.Error)
	}
	var res mcp.ListToolsResult
	if err := json.Unmarshal(rpc.Result, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Tools) != 2 {
		t.Fatalf("tools = %+v, want 2", res.Tools)
	}
}

func TestBufferedAcceptForcesJSONEnvelope(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	// tools/call may stream, but the client only accepts JSON.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"greet","arguments":{"name":"world"}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	rpc := decodeResponse(t, resp.Body)
	var res mcp.CallToolResult
	if err := json.Unmarshal(rpc.Result, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "hello world" {
		t.Fatalf("content = %+v", res.Content)
	}
}

func TestStreamedToolCallFramesProgressAndResponse(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"slow","arguments":{"steps":2}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var progressCount int
	var final *jsonrpc.Response
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := []byte(strings.TrimPrefix(line, "data: "))
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("frame is not a JSON-RPC message: %v: %s", err, payload)
		}
		switch msg.Type() {
		case "notification":
			if msg.Method != string(mcp.ProgressNotificationMethod) {
				t.Fatalf("unexpected notification %q on request stream", msg.Method)
			}
			progressCount++
		case "response":
			final = msg.AsResponse()
		}
	}
	if final == nil {
		t.Fatal("stream ended without a response frame")
	}
	if progressCount != 2 {
		t.Errorf("progress frames = %d, want 2", progressCount)
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(final.Result, &res); err != nil {
		t.Fatalf("unmarshal final: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "done" {
		t.Fatalf("content = %+v", res.Content)
	}
}

func TestGetStreamDeliversPublishedMessages(t *testing.T) {
	ts, host := newTestServer(t)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := ts.Client().Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// Publish through the host the way server-initiated notifications land.
	// The subscriber attaches asynchronously; give it a moment.
	time.Sleep(100 * time.Millisecond)
	note, err := jsonrpc.NewNotification(string(mcp.ToolsListChangedNotificationMethod), nil)
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	payload, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := host.PublishSession(context.Background(), sessID, payload); err != nil {
		t.Fatalf("PublishSession: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var gotID, gotData string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			gotID = strings.TrimPrefix(line, "id: ")
		}
		if strings.HasPrefix(line, "data: ") {
			gotData = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if gotID == "" {
		t.Error("frame missing id line for resume")
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(gotData), &msg); err != nil {
		t.Fatalf("frame payload not a JSON-RPC message: %v: %s", err, gotData)
	}
	if msg.Method != string(mcp.ToolsListChangedNotificationMethod) {
		t.Errorf("delivered method = %q", msg.Method)
	}
}

func TestGetWithoutSessionHeader(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteTerminatesSession(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// The session must not resurrect.
	after := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","id":9,"method":"ping"}`)
	if after.StatusCode != http.StatusNotFound {
		t.Fatalf("post-delete status = %d, want 404", after.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req2.Header.Set("Mcp-Session-Id", sessID)
	resp2, err := ts.Client().Do(req2)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

func TestDeleteWithVersionMismatch(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	req.Header.Set("Mcp-Protocol-Version", "2024-11-05")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", resp.StatusCode)
	}
}

func TestProtocolVersionMismatchOnPost(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	resp := postJSON(t, ts, map[string]string{
		"Mcp-Session-Id":       sessID,
		"Mcp-Protocol-Version": "2024-11-05",
	}, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeUnsupportedProtocolVersion {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeUnsupportedProtocolVersion)
	}
}

func TestHealthzDoesNotAllocateSessions(t *testing.T) {
	ts, host := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}

	ids, err := host.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("liveness probe allocated sessions: %v", ids)
	}
}

func TestRootLivenessProbe(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnknownMethodDispatch(t *testing.T) {
	ts, _ := newTestServer(t)
	sessID := initializeSession(t, ts)

	resp := postJSON(t, ts, map[string]string{"Mcp-Session-Id": sessID}, `{"jsonrpc":"2.0","id":7,"method":"bogus/method"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error envelope", resp.StatusCode)
	}
	rpc := decodeResponse(t, resp.Body)
	if rpc.Error == nil || rpc.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", rpc.Error, jsonrpc.ErrorCodeMethodNotFound)
	}
}

func TestSSEFrameFormat(t *testing.T) {
	var buf bytes.Buffer
	wf := &lockedWriteFlusher{Writer: &buf, Flusher: nopFlusher{}}
	if err := writeSSEEvent(wf, "42", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("writeSSEEvent: %v", err)
	}
	want := "id: 42\ndata: {\"ok\":true}\n\n"
	if buf.String() != want {
		t.Errorf("frame = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := writeSSEEvent(wf, "", []byte(`{}`)); err != nil {
		t.Fatalf("writeSSEEvent: %v", err)
	}
	if buf.String() != "data: {}\n\n" {
		t.Errorf("frame = %q", buf.String())
	}
}

type nopFlusher struct{}

func (nopFlusher) Flush() {}
