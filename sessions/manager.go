package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTTL           = 1 * time.Hour
	defaultHandshakeTTL  = 30 * time.Second
	defaultMaxLifetime   = 24 * time.Hour
	defaultTouchDebounce = 5 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL sets the sliding idle timeout applied once a session is Ready.
func WithTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithHandshakeTTL bounds how long a session may sit in Initializing before
// the sweep reclaims it.
func WithHandshakeTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTTL = d
		}
	}
}

// WithMaxLifetime sets the absolute lifetime horizon (0 disables it).
func WithMaxLifetime(d time.Duration) ManagerOption {
	return func(m *Manager) { m.maxLifetime = d }
}

// WithSweepInterval sets how often the idle sweep runs.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Manager orchestrates session creation, lookup, promotion and teardown on
// top of a SessionHost. It is safe for concurrent use and is the only
// component that mutates session metadata.
type Manager struct {
	host SessionHost
	log  *slog.Logger

	ttl           time.Duration
	handshakeTTL  time.Duration
	maxLifetime   time.Duration
	touchDebounce time.Duration
	sweepInterval time.Duration

	lastTouchMu sync.Mutex
	lastTouch   map[string]time.Time
}

// NewManager builds a Manager over the given host.
func NewManager(host SessionHost, opts ...ManagerOption) *Manager {
	m := &Manager{
		host:          host,
		log:           slog.Default(),
		ttl:           defaultTTL,
		handshakeTTL:  defaultHandshakeTTL,
		maxLifetime:   defaultMaxLifetime,
		touchDebounce: defaultTouchDebounce,
		sweepInterval: defaultSweepInterval,
		lastTouch:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CreateSession allocates a new session in Initializing with the negotiated
// protocol version and capability set. The nascent session carries the short
// handshake TTL until MarkReady promotes it.
func (m *Manager) CreateSession(ctx context.Context, userID, protocolVersion string, caps CapabilitySet, client ClientInfo) (*Handle, error) {
	now := time.Now().UTC()
	meta := &SessionMetadata{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		ProtocolVersion: protocolVersion,
		State:           StateInitializing,
		Capabilities:    caps,
		Client:          client,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccess:      now,
		TTL:             m.handshakeTTL,
		MaxLifetime:     m.maxLifetime,
	}
	if err := m.host.CreateSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Handle{meta: meta.Clone()}, nil
}

// LoadSession resolves a session by ID. Unknown, closed, or expired sessions
// all surface ErrSessionNotFound; expired ones are deleted on the way out so
// the failure is deterministic on every subsequent attempt.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (*Handle, error) {
	meta, err := m.host.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if meta.State == StateClosed {
		return nil, ErrSessionNotFound
	}
	if meta.Expired(time.Now().UTC()) {
		m.log.InfoContext(ctx, "session.expired", slog.String("session_id", sessionID))
		_ = m.destroy(ctx, sessionID)
		return nil, ErrSessionNotFound
	}
	m.touch(ctx, sessionID)
	return &Handle{meta: meta}, nil
}

// MarkReady promotes an Initializing session after the client confirms the
// handshake, swapping the handshake TTL for the full idle timeout.
func (m *Manager) MarkReady(ctx context.Context, sessionID string) error {
	err := m.host.MutateSession(ctx, sessionID, func(meta *SessionMetadata) error {
		if meta.State == StateClosed {
			return ErrSessionNotFound
		}
		meta.State = StateReady
		meta.TTL = m.ttl
		meta.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return fmt.Errorf("promote session: %w", err)
	}
	return nil
}

// CloseSession transitions a session to Closed and removes it from the host.
// Closing an unknown session returns ErrSessionNotFound.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	err := m.host.MutateSession(ctx, sessionID, func(meta *SessionMetadata) error {
		meta.State = StateClosed
		meta.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	return m.destroy(ctx, sessionID)
}

// Run executes the idle sweep until ctx is canceled. The sweep acquires only
// the per-session guard of sessions it closes and never blocks active
// requests.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	ids, err := m.host.ListSessions(ctx)
	if err != nil {
		m.log.ErrorContext(ctx, "session.sweep.list_fail", slog.String("err", err.Error()))
		return
	}
	now := time.Now().UTC()
	for _, id := range ids {
		meta, err := m.host.GetSession(ctx, id)
		if err != nil {
			continue
		}
		if meta.State == StateClosed || meta.Expired(now) {
			if err := m.destroy(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				m.log.ErrorContext(ctx, "session.sweep.close_fail", slog.String("session_id", id), slog.String("err", err.Error()))
				continue
			}
			m.log.InfoContext(ctx, "session.sweep.closed", slog.String("session_id", id))
		}
	}
}

func (m *Manager) destroy(ctx context.Context, sessionID string) error {
	// Cleanup wakes any stream subscribers before the record disappears.
	_ = m.host.CleanupSession(ctx, sessionID)
	m.lastTouchMu.Lock()
	delete(m.lastTouch, sessionID)
	m.lastTouchMu.Unlock()
	return m.host.DeleteSession(ctx, sessionID)
}

// touch advances LastAccess with debounce so hot sessions do not hammer the
// host. Runs asynchronously; losing a touch only shortens the idle window.
func (m *Manager) touch(ctx context.Context, sessionID string) {
	now := time.Now()
	m.lastTouchMu.Lock()
	if last, ok := m.lastTouch[sessionID]; ok && now.Sub(last) < m.touchDebounce {
		m.lastTouchMu.Unlock()
		return
	}
	m.lastTouch[sessionID] = now
	m.lastTouchMu.Unlock()
	go func() { _ = m.host.TouchSession(context.WithoutCancel(ctx), sessionID) }()
}

// Handle is the immutable snapshot view of a loaded session.
type Handle struct {
	meta *SessionMetadata
}

var _ Session = (*Handle)(nil)

func (h *Handle) SessionID() string          { return h.meta.SessionID }
func (h *Handle) UserID() string             { return h.meta.UserID }
func (h *Handle) ProtocolVersion() string    { return h.meta.ProtocolVersion }
func (h *Handle) State() State               { return h.meta.State }
func (h *Handle) Capabilities() CapabilitySet { return h.meta.Capabilities }
func (h *Handle) ClientInfo() ClientInfo     { return h.meta.Client }
