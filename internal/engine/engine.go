// Package engine routes decoded JSON-RPC messages to the capability surface.
// It owns protocol version negotiation, the method dispatch table, and the
// in-flight cancellation registry; transport concerns (HTTP, SSE, headers)
// stay in streaminghttp.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/oncoref/nccn-mcp-go/internal/jsonrpc"
	"github.com/oncoref/nccn-mcp-go/internal/logctx"
	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// UnsupportedVersionError reports an initialize request naming a protocol
// revision the server does not speak. The transport maps it to -32002.
type UnsupportedVersionError struct {
	Requested string
	Supported []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version %q (supported: %v)", e.Requested, e.Supported)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProtocolVersions overrides the protocol revisions the engine accepts.
func WithProtocolVersions(versions []string) EngineOption {
	return func(e *Engine) {
		if len(versions) > 0 {
			e.supportedVersions = slices.Clone(versions)
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine glues the session manager, the session host's message streams and
// the server capability surface together.
type Engine struct {
	mgr  *sessions.Manager
	host sessions.SessionHost
	srv  mcpservice.ServerCapabilities
	log  *slog.Logger

	supportedVersions []string

	// runCtx bounds the lifetime of per-session background work (listChanged
	// emitters). Set by Run; Background until then.
	runMu  sync.Mutex
	runCtx context.Context

	cancelMu sync.Mutex
	cancels  map[string]context.CancelCauseFunc
}

// NewEngine builds an Engine over the given manager, host and capabilities.
func NewEngine(mgr *sessions.Manager, host sessions.SessionHost, srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		mgr:               mgr,
		host:              host,
		srv:               srv,
		log:               slog.Default(),
		supportedVersions: slices.Clone(mcp.SupportedProtocolVersions),
		runCtx:            context.Background(),
		cancels:           make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Run executes background work (the session sweep) until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	e.runCtx = ctx
	e.runMu.Unlock()
	return e.mgr.Run(ctx)
}

// SupportsVersion reports whether the engine speaks the given protocol
// revision. The transport consults it for Mcp-Protocol-Version headers.
func (e *Engine) SupportsVersion(v string) bool {
	return slices.Contains(e.supportedVersions, v)
}

// LatestVersion returns the newest supported protocol revision.
func (e *Engine) LatestVersion() string {
	return e.supportedVersions[0]
}

// MethodMayStream reports whether a method is allowed to produce interim
// frames (progress, server notifications) before its response. Only such
// methods qualify for the streamed response mode.
func (e *Engine) MethodMayStream(method string) bool {
	return method == string(mcp.ToolsCallMethod)
}

// InitializeSession negotiates the protocol version, creates a nascent
// session and assembles the initialize result with the advertised capability
// set. The returned session is in Initializing until the client's
// notifications/initialized arrives.
func (e *Engine) InitializeSession(ctx context.Context, userID string, req *mcp.InitializeRequest) (sessions.Session, *mcp.InitializeResult, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("initialize request required")
	}

	negotiated := req.ProtocolVersion
	if negotiated == "" {
		negotiated = e.LatestVersion()
	} else if !e.SupportsVersion(negotiated) {
		return nil, nil, &UnsupportedVersionError{Requested: negotiated, Supported: slices.Clone(e.supportedVersions)}
	}

	capSet := sessions.CapabilitySet{}
	if req.Capabilities.Sampling != nil {
		capSet.Sampling = true
	}
	if req.Capabilities.Roots != nil {
		capSet.Roots = true
		capSet.RootsListChanged = req.Capabilities.Roots.ListChanged
	}
	if req.Capabilities.Elicitation != nil {
		capSet.Elicitation = true
	}

	client := sessions.ClientInfo{Name: req.ClientInfo.Name, Version: req.ClientInfo.Version}

	sess, err := e.mgr.CreateSession(ctx, userID, negotiated, capSet, client)
	if err != nil {
		return nil, nil, err
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = e.mgr.CloseSession(ctx, sess.SessionID())
		}
	}()

	serverInfo, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, nil, fmt.Errorf("get server info: %w", err)
	}

	initRes := &mcp.InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		initRes.Instructions = instr
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && toolsCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
		}{}
		if lcCap, hasLC, lcErr := toolsCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, nil, fmt.Errorf("get tools listChanged capability: %w", lcErr)
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Tools = entry
	}

	if resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok && resCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
		if lcCap, hasLC, lcErr := resCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, nil, fmt.Errorf("get resources listChanged capability: %w", lcErr)
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Resources = entry
	}

	e.registerListChangedEmitters(sess)

	cleanup = false
	return sess, initRes, nil
}

// LoadSession resolves an established session for a follow-up request.
func (e *Engine) LoadSession(ctx context.Context, sessionID string) (sessions.Session, error) {
	return e.mgr.LoadSession(ctx, sessionID)
}

// DeleteSession tears the session down in response to an explicit client
// DELETE. Idempotency is the caller's concern; unknown IDs surface
// sessions.ErrSessionNotFound.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.mgr.CloseSession(ctx, sessionID)
}

// HandleRequest dispatches one JSON-RPC request and returns the response to
// deliver. The error return is reserved for transport-level failures; domain
// failures come back as JSON-RPC error responses.
func (e *Engine) HandleRequest(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	// A nascent session accepts only the handshake: until the client's
	// notifications/initialized arrives, ping is the sole callable method.
	if sess.State() == sessions.StateInitializing && req.Method != string(mcp.PingMethod) {
		e.log.InfoContext(ctx, "engine.handle_request.not_initialized", slog.String("method", req.Method))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session not initialized", nil), nil
	}

	switch req.Method {
	case string(mcp.PingMethod):
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, sess, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, sess, req)
	case string(mcp.ResourcesListMethod):
		return e.handleResourcesList(ctx, sess, req)
	case string(mcp.ResourcesReadMethod):
		return e.handleResourcesRead(ctx, sess, req)
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListTools(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	reqID := req.ID.String()
	if reqID == "" {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "missing request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "missing request ID", nil), nil
	}

	// Cancellation rendez-vous: notifications/cancelled arriving on another
	// request must find this call's context.
	toolCtx, toolCancel := context.WithCancelCause(ctx)
	defer toolCancel(context.Canceled)

	key := sess.SessionID() + "/" + reqID
	e.cancelMu.Lock()
	if _, exists := e.cancels[key]; exists {
		e.cancelMu.Unlock()
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "duplicate request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	e.cancels[key] = toolCancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		delete(e.cancels, key)
		e.cancelMu.Unlock()
	}()

	res, err := cap.CallTool(toolCtx, sess, &params)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListResources(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	contents, err := cap.ReadResource(ctx, sess, params.URI)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

// HandleNotification processes a client notification. Notifications never
// produce a response; failures are logged and swallowed except for
// session-state errors the transport needs.
func (e *Engine) HandleNotification(ctx context.Context, sess sessions.Session, note *jsonrpc.Request) error {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		if err := e.mgr.MarkReady(ctx, sess.SessionID()); err != nil {
			return err
		}
		e.log.InfoContext(ctx, "session.ready", slog.String("session_id", sess.SessionID()))
		return nil

	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return nil
		}
		reqID := normalizeRequestID(params.RequestID)
		if reqID == "" {
			return nil
		}
		if e.cancelInFlight(sess.SessionID(), reqID, params.Reason) {
			e.log.InfoContext(ctx, "engine.request.cancelled", slog.String("request_id", reqID), slog.String("reason", params.Reason))
		}
		return nil
	}

	// Unknown notifications are ignored per JSON-RPC semantics.
	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}

func (e *Engine) cancelInFlight(sessionID, reqID, reason string) bool {
	e.cancelMu.Lock()
	cancel, ok := e.cancels[sessionID+"/"+reqID]
	e.cancelMu.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancelled by client"
	}
	cancel(fmt.Errorf("%s", reason))
	return true
}

func normalizeRequestID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// PublishToSession encodes msg and appends it to the session's ordered
// message stream for delivery over the standalone SSE channel.
func (e *Engine) PublishToSession(ctx context.Context, sessionID string, msg any) (string, error) {
	b, err := jsonrpc.Encode(msg)
	if err != nil {
		return "", err
	}
	return e.host.PublishSession(ctx, sessionID, b)
}

// StreamSession replays and follows the session's message stream.
func (e *Engine) StreamSession(ctx context.Context, sess sessions.Session, lastEventID string, handler sessions.MessageHandlerFunc) error {
	return e.host.SubscribeSession(ctx, sess.SessionID(), lastEventID, handler)
}

// Ping reports backing-store health for the liveness endpoint.
func (e *Engine) Ping(ctx context.Context) error {
	return e.host.Ping(ctx)
}

// registerListChangedEmitters forwards capability change signals to the
// session stream as list_changed notifications. Emitters stop when the engine
// run context ends or the session's stream is cleaned up.
func (e *Engine) registerListChangedEmitters(sess sessions.Session) {
	e.runMu.Lock()
	ctx := e.runCtx
	e.runMu.Unlock()

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err == nil && ok && toolsCap != nil {
		if lcCap, hasLC, lcErr := toolsCap.GetListChangedCapability(ctx, sess); lcErr == nil && hasLC && lcCap != nil {
			_, _ = lcCap.Register(ctx, sess, func(ctx context.Context, s sessions.Session) {
				e.emitNotification(ctx, s.SessionID(), string(mcp.ToolsListChangedNotificationMethod))
			})
		}
	}
	if resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess); err == nil && ok && resCap != nil {
		if lcCap, hasLC, lcErr := resCap.GetListChangedCapability(ctx, sess); lcErr == nil && hasLC && lcCap != nil {
			_, _ = lcCap.Register(ctx, sess, func(ctx context.Context, s sessions.Session, uri string) {
				e.emitNotification(ctx, s.SessionID(), string(mcp.ResourcesListChangedNotificationMethod))
			})
		}
	}
}

func (e *Engine) emitNotification(ctx context.Context, sessionID, method string) {
	note, err := jsonrpc.NewNotification(method, nil)
	if err != nil {
		return
	}
	if _, err := e.PublishToSession(ctx, sessionID, note); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		e.log.DebugContext(ctx, "engine.notify.fail", slog.String("method", method), slog.String("err", err.Error()))
	}
}
