package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// ToolHandler handles one tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the decoded, typed arguments for a tool call along with
// the raw payload for handlers that need it.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the description surfaced in tools/list.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties relaxes the unknown-field policy. When
// false (the default) the schema sets additionalProperties=false and decoding
// rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a StaticTool with a typed input struct A. The input schema is
// reflected from A via invopop/jsonschema and down-converted to the simplified
// tool schema; the handler decodes arguments into A before invoking fn with a
// ToolResponseWriter.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectToToolInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectToToolInputSchema reflects A into a jsonschema.Schema and converts it
// to the simplified mcp.ToolInputSchema.
func reflectToToolInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map onto the tool input shape; anything else
	// degrades to an empty object.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toSchemaProperty recursively maps a jsonschema node to the simplified form.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tools. It implements
// ToolsCapability directly and embeds a ChangeNotifier so the handler can
// advertise and deliver listChanged.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	notifier ChangeNotifier

	pageSize int
}

// NewToolsContainer constructs a container with the given tool definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{pageSize: 50}
	tc.Replace(context.Background(), defs...)
	return tc
}

// SetPageSize adjusts ListTools pagination. Non-positive values are ignored.
func (tc *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	tc.mu.Lock()
	tc.pageSize = n
	tc.mu.Unlock()
}

// Replace atomically swaps the entire tool set.
func (tc *ToolsContainer) Replace(_ context.Context, defs ...StaticTool) {
	tc.mu.Lock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		// last write wins on duplicate names
		tc.tools = append(tc.tools, d.Descriptor)
		if d.Handler != nil {
			tc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	tc.mu.Unlock()
	go func() { _ = tc.notifier.Notify(context.Background()) }()
}

// Snapshot returns a copy of the current descriptors.
func (tc *ToolsContainer) Snapshot() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]mcp.Tool, len(tc.tools))
	copy(out, tc.tools)
	return out
}

// Subscriber implements ChangeSubscriber.
func (tc *ToolsContainer) Subscriber() <-chan struct{} {
	return tc.notifier.Subscriber()
}

// ListTools implements ToolsCapability with offset-cursor pagination.
func (tc *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	all := make([]mcp.Tool, len(tc.tools))
	copy(all, tc.tools)
	pageSize := tc.pageSize
	tc.mu.RUnlock()

	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]mcp.Tool, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[mcp.Tool](fmt.Sprintf("%d", end))), nil
	}
	return NewPage(items), nil
}

// CallTool implements ToolsCapability.
func (tc *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	tc.mu.RLock()
	h := tc.handlers[req.Name]
	tc.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("tool not found: %s", req.Name)
	}
	return h(ctx, session, req)
}

// GetListChangedCapability always reports support in static mode.
func (tc *ToolsContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ToolListChangedCapability, bool, error) {
	return toolsListChangedFromSubscriber{sub: tc}, true, nil
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// toolsListChangedFromSubscriber adapts a ChangeSubscriber to the capability.
type toolsListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (t toolsListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (bool, error) {
	if t.sub == nil || fn == nil {
		return false, nil
	}
	ch := t.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session)
			}
		}
	}()
	return true, nil
}

// TextResult builds a single text-block CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
