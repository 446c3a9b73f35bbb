// Package streaminghttp implements the MCP streamable HTTP transport: POST
// carries client messages, GET attaches the standalone SSE channel, DELETE
// terminates the session. Response mode is negotiated per request: methods
// that may stream get an SSE response when the client accepts one, everything
// else is answered as a single buffered JSON envelope.
package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/oncoref/nccn-mcp-go/internal/engine"
	"github.com/oncoref/nccn-mcp-go/internal/jsonrpc"
	"github.com/oncoref/nccn-mcp-go/internal/logctx"
	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	// SSE first: a client accepting both gets the stream for streamable methods.
	acceptableMediaTypes  = []contenttype.MediaType{eventStreamMediaType, jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

// writeJSONError emits a transport-level JSON body for rejections that happen
// before a JSON-RPC exchange is possible (bad content type, missing flusher).
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError delivers a JSON-RPC error envelope with the given HTTP
// status. Used for failures that have a protocol-level error code.
func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, nil))
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger            *slog.Logger
	managerOpts       []sessions.ManagerOption
	protocolVersions  []string
	heartbeatInterval time.Duration
}

// WithLogger sets the slog logger used by the handler and engine.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithSessionOptions forwards options to the session manager (TTL, handshake
// TTL, max lifetime, sweep interval).
func WithSessionOptions(opts ...sessions.ManagerOption) Option {
	return func(c *newConfig) { c.managerOpts = append(c.managerOpts, opts...) }
}

// WithProtocolVersions overrides the protocol revisions the server accepts.
func WithProtocolVersions(versions []string) Option {
	return func(c *newConfig) { c.protocolVersions = versions }
}

// WithHeartbeatInterval sets the SSE keep-alive comment interval on the
// standalone GET stream. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *newConfig) { c.heartbeatInterval = d }
}

// Handler implements the streamable HTTP transport over an engine.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	eng       *engine.Engine
	serverURL *url.URL

	heartbeatInterval time.Duration
}

// lockedWriteFlusher serializes writes/flushes to one response and refuses
// writes after the request context ends.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler.
//
//   - publicEndpoint: externally visible URL of the MCP endpoint (scheme,
//     host, path), e.g. "http://localhost:8080/mcp"
//   - host: the sessions.SessionHost backing session state
//   - server: the capability surface
//
// The handler also serves GET /healthz and a GET on the bare root as liveness
// probes; neither allocates a session.
func New(ctx context.Context, publicEndpoint string, host sessions.SessionHost, server mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if host == nil {
		return nil, fmt.Errorf("session host is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default(), heartbeatInterval: 25 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	mgr := sessions.NewManager(host, append([]sessions.ManagerOption{sessions.WithLogger(log)}, cfg.managerOpts...)...)

	engOpts := []engine.EngineOption{engine.WithLogger(log)}
	if len(cfg.protocolVersions) > 0 {
		engOpts = append(engOpts, engine.WithProtocolVersions(cfg.protocolVersions))
	}

	h := &Handler{
		log:               log,
		serverURL:         mcpURL,
		eng:               engine.NewEngine(mgr, host, server, engOpts...),
		heartbeatInterval: cfg.heartbeatInterval,
	}

	go func() {
		if err := h.eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Error("engine.run.fail", slog.String("err", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(mcpURL)), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(mcpURL)), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(mcpURL)), h.handleDeleteMCP)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	if pathOnly(mcpURL) != "/" {
		mux.HandleFunc("GET /{$}", h.handleHealthz)
	}
	h.mux = mux
	return h, nil
}

// pathOnly returns the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handleHealthz is the liveness probe: cheap, unauthenticated, and never
// touches session state beyond a host reachability check.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := h.eng.Ping(ctx); err != nil {
		h.log.WarnContext(ctx, "http.healthz.degraded", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handlePostMCP accepts one JSON-RPC message per request: requests get a
// response in the negotiated mode, notifications get 202, and an initialize
// request without a session header mints a new session.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	// A present Accept header must name at least one representation we can
	// produce; otherwise the exchange cannot succeed in either mode.
	wantSSE := false
	if acc := r.Header.Get("Accept"); acc != "" {
		accepted, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes)
		if err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "accept must include application/json or text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
		wantSSE = accepted.Matches(eventStreamMediaType)
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		var de *jsonrpc.DecodeError
		if errors.As(err, &de) {
			writeRPCError(w, http.StatusBadRequest, nil, de.Code, de.Err.Error())
		} else {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, err.Error())
		}
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, r, msg, start)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, msg.ID, jsonrpc.ErrorCodeSessionNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})
	h.log.InfoContext(ctx, "session.load.ok")

	if req := msg.AsRequest(); req != nil && req.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}

	if clientPV := r.Header.Get(mcpProtocolVersionHeader); clientPV != "" && clientPV != sess.ProtocolVersion() {
		writeRPCError(w, http.StatusBadRequest, msg.ID, jsonrpc.ErrorCodeUnsupportedProtocolVersion,
			fmt.Sprintf("protocol version mismatch: session speaks %s", sess.ProtocolVersion()))
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}

	req := msg.AsRequest()
	if req == nil {
		// Client responses (server-to-client requests) are not part of this
		// server's surface; acknowledge and drop.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored", slog.Duration("dur", time.Since(start)))
		return
	}

	if req.IsNotification() {
		if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
			if errors.Is(err, sessions.ErrSessionNotFound) {
				writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeSessionNotFound, "session not found")
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
			h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if wantSSE && h.eng.MethodMayStream(req.Method) {
		h.respondStreamed(ctx, w, wf, sess, req, start)
		return
	}
	h.respondBuffered(ctx, w, sess, req, start)
}

// handleInitialize services the sessionless initialize POST.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) || req.IsNotification() {
		writeRPCError(w, http.StatusNotFound, msg.ID, jsonrpc.ErrorCodeSessionNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
		h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
		return
	}

	sess, initRes, err := h.eng.InitializeSession(ctx, "", &initReq)
	if err != nil {
		var uve *engine.UnsupportedVersionError
		if errors.As(err, &uve) {
			writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeUnsupportedProtocolVersion, uve.Error())
			h.log.InfoContext(ctx, "session.initialize.version.unsupported", slog.String("requested", uve.Requested))
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.SessionID())
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// respondBuffered answers the request as one JSON envelope. Interim frames
// (progress) have no channel in this mode and are discarded.
func (h *Handler) respondBuffered(ctx context.Context, w http.ResponseWriter, sess sessions.Session, req *jsonrpc.Request, start time.Time) {
	res, err := h.eng.HandleRequest(ctx, sess, req)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)), slog.String("mode", "buffered"))
}

// respondStreamed answers the request as an SSE stream: zero or more progress
// frames followed by exactly one response envelope, then EOF.
func (h *Handler) respondStreamed(ctx context.Context, w http.ResponseWriter, wf *lockedWriteFlusher, sess sessions.Session, req *jsonrpc.Request, start time.Time) {
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx = mcpservice.WithProgressReporter(ctx, sseProgressReporter{wf: wf, requestID: req.ID.String()})

	res, err := h.eng.HandleRequest(ctx, sess, req)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)), slog.String("mode", "streamed"))
}

// handleGetMCP attaches the standalone SSE channel for server-initiated
// messages, with Last-Event-ID resume.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.accept.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeSessionNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		w.WriteHeader(http.StatusPreconditionFailed)
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	lastEventID := r.Header.Get(lastEventIDHeader)

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if h.heartbeatInterval > 0 {
		go func() {
			ticker := time.NewTicker(h.heartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-streamCtx.Done():
					return
				case <-ticker.C:
					if _, err := wf.Write([]byte(": keep-alive\n\n")); err != nil {
						cancel()
						return
					}
					wf.Flush()
				}
			}
		}()
	}

	err = h.eng.StreamSession(streamCtx, sess, lastEventID, func(cbCtx context.Context, msgID string, payload []byte) error {
		if err := writeSSEEvent(wf, msgID, payload); err != nil {
			return err
		}
		h.log.DebugContext(cbCtx, "sse.message.deliver")
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		return
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleDeleteMCP terminates a session. The close is terminal: the same
// session ID can never be revived.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeSessionNotFound, "session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		w.WriteHeader(http.StatusPreconditionFailed)
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	if err := h.eng.DeleteSession(ctx, sess.SessionID()); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeSessionNotFound, "session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// writeSSEEvent writes one SSE frame (optional id line plus data line) and
// flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

// sseProgressReporter emits notifications/progress frames on the request's
// SSE response stream, correlated by the originating request ID.
type sseProgressReporter struct {
	wf        *lockedWriteFlusher
	requestID string
}

func (p sseProgressReporter) Report(ctx context.Context, progress, total float64) error {
	params := mcp.ProgressNotificationParams{ProgressToken: p.requestID, Progress: progress}
	if total > 0 {
		params.Total = total
	}
	note, err := jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return writeSSEEvent(p.wf, "", b)
}
