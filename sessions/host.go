package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned for a missing, expired or closed
	// session. Callers surface it as JSON-RPC -32001 so clients know to
	// re-initialize.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession on an ID collision.
	ErrSessionExists = errors.New("session already exists")
)

// SessionHost is the storage and messaging contract backing the session
// manager. Implementations must serve concurrent calls without global
// mutual exclusion: per-session state sits behind its own guard and table
// operations (create/get/delete/list) must not block unrelated sessions.
type SessionHost interface {
	// Metadata lifecycle. GetSession returns a copy; mutations go through
	// MutateSession which applies fn under the session's own guard.
	CreateSession(ctx context.Context, meta *SessionMetadata) error
	GetSession(ctx context.Context, sessionID string) (*SessionMetadata, error)
	MutateSession(ctx context.Context, sessionID string, fn func(*SessionMetadata) error) error
	// TouchSession advances LastAccess to now. Last-write-wins.
	TouchSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessions returns the IDs of all live sessions, for the idle sweep.
	ListSessions(ctx context.Context) ([]string, error)

	// Messaging: ordered per-session stream with resume via lastEventID.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunc) error
	// CleanupSession drops the message stream and any subscribers.
	CleanupSession(ctx context.Context, sessionID string) error

	// Ping reports whether the host is reachable; the liveness endpoint
	// consults it without touching any session.
	Ping(ctx context.Context) error
}
