// Package mcpservice defines the capability surface a server implementation
// exposes to the HTTP transport. The transport discovers capabilities at
// runtime per session and translates JSON-RPC method calls into calls on these
// interfaces.
//
// Conventions:
//   - Capability discovery returns (cap, ok, err). ok == false means the
//     capability is absent for this session; err is reserved for transient or
//     internal failures while determining support.
//   - Every method takes a context.Context and must honor cancellation.
//   - The sessions.Session value is the unit of isolation.
//   - Pagination uses Page[T]; a nil cursor requests the first page.
package mcpservice

import (
	"context"

	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// ServerCapabilities is the root discovery interface consumed by the handler.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation identity surfaced in
	// initialize results. MAY be called repeatedly; keep it cheap.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional human-readable usage instructions
	// included in the initialize result. ok == false omits the field.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability reports tool support for the session. ok == false
	// suppresses the tools capability in the initialize advertisement.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)

	// GetResourcesCapability reports resource support for the session.
	GetResourcesCapability(ctx context.Context, session sessions.Session) (cap ResourcesCapability, ok bool, err error)
}

// ToolsCapability is the server's tools surface. Implementations may be static
// or vary per session and must be safe for concurrent use.
type ToolsCapability interface {
	// ListTools returns one page of tool descriptors. A nil cursor requests
	// the first page; NextCursor is set when more data is available.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Input validation failures should come
	// back as IsError results rather than transport errors.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	// GetListChangedCapability reports whether the tool set can change at
	// runtime; when ok, the handler registers for change callbacks and
	// advertises listChanged.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ToolListChangedCapability, ok bool, err error)
}

// NotifyToolsListChangedFunc is invoked when the tool set changes for the
// session. Implementations may coalesce rapid changes.
type NotifyToolsListChangedFunc func(ctx context.Context, session sessions.Session)

// ToolListChangedCapability registers a change callback. Register must be
// idempotent per (session, fn) pair and stop delivering when ctx ends.
type ToolListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (ok bool, err error)
}

// ResourcesCapability is the server's resources surface.
type ResourcesCapability interface {
	// ListResources returns one page of resource descriptors.
	ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error)

	// ReadResource returns the contents for a resource URI. Unknown URIs
	// should produce a descriptive error the handler can surface.
	ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

	// GetListChangedCapability mirrors the tools variant for resources.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ResourceListChangedCapability, ok bool, err error)
}

// NotifyResourceChangeFunc signals that the resource set changed. uri names
// the changed resource when known; empty means a general list change.
type NotifyResourceChangeFunc func(ctx context.Context, session sessions.Session, uri string)

// ResourceListChangedCapability registers a resource change callback.
type ResourceListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyResourceChangeFunc) (ok bool, err error)
}
