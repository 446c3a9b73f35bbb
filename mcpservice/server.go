package mcpservice

import (
	"context"

	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// ServerOption configures the ServerCapabilities built by NewServer.
type ServerOption func(*server)

type server struct {
	staticInfo   *mcp.ImplementationInfo
	infoProvider func(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	staticInstructions   *string
	instructionsProvider func(ctx context.Context, session sessions.Session) (string, bool, error)

	staticToolsCap ToolsCapability
	toolsProvider  func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)

	staticResourcesCap ResourcesCapability
	resourcesProvider  func(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error)
}

// NewServer assembles a ServerCapabilities from functional options. Options
// set either static values shared by all sessions or per-session providers;
// a provider takes precedence over the static value for the same concern.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets a static server identity.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.staticInfo = &info }
}

// WithServerInfoProvider sets a per-session provider for server identity.
func WithServerInfoProvider(fn func(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)) ServerOption {
	return func(s *server) { s.infoProvider = fn }
}

// WithInstructions sets static instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.staticInstructions = &instr }
}

// WithInstructionsProvider sets a per-session instructions provider.
func WithInstructionsProvider(fn func(ctx context.Context, session sessions.Session) (string, bool, error)) ServerOption {
	return func(s *server) { s.instructionsProvider = fn }
}

// WithToolsCapability wires a static ToolsCapability shared by all sessions.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.staticToolsCap = cap }
}

// WithToolsProvider wires a per-session tools capability provider.
func WithToolsProvider(fn func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)) ServerOption {
	return func(s *server) { s.toolsProvider = fn }
}

// WithResourcesCapability wires a static ResourcesCapability.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) { s.staticResourcesCap = cap }
}

// WithResourcesProvider wires a per-session resources capability provider.
func WithResourcesProvider(fn func(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error)) ServerOption {
	return func(s *server) { s.resourcesProvider = fn }
}

// GetServerInfo implements ServerCapabilities.
func (s *server) GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error) {
	if s.infoProvider != nil {
		return s.infoProvider(ctx, session)
	}
	if s.staticInfo != nil {
		return *s.staticInfo, nil
	}
	return mcp.ImplementationInfo{}, nil
}

// GetInstructions implements ServerCapabilities.
func (s *server) GetInstructions(ctx context.Context, session sessions.Session) (string, bool, error) {
	if s.instructionsProvider != nil {
		return s.instructionsProvider(ctx, session)
	}
	if s.staticInstructions != nil {
		return *s.staticInstructions, true, nil
	}
	return "", false, nil
}

// GetToolsCapability implements ServerCapabilities.
func (s *server) GetToolsCapability(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	if s.toolsProvider != nil {
		return s.toolsProvider(ctx, session)
	}
	if s.staticToolsCap != nil {
		return s.staticToolsCap, true, nil
	}
	return nil, false, nil
}

// GetResourcesCapability implements ServerCapabilities.
func (s *server) GetResourcesCapability(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	if s.resourcesProvider != nil {
		return s.resourcesProvider(ctx, session)
	}
	if s.staticResourcesCap != nil {
		return s.staticResourcesCap, true, nil
	}
	return nil, false, nil
}
