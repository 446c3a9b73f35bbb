package sessions

import "time"

// SessionMetadata is the authoritative stored representation of a session.
//
// SessionID, UserID, ProtocolVersion, Capabilities and Client are immutable
// after the initialize handshake. Timestamps are UTC wall-clock times. TTL is
// a sliding window: a session expires once LastAccess + TTL < now. If
// MaxLifetime > 0 the session also expires once CreatedAt + MaxLifetime < now
// regardless of activity.
type SessionMetadata struct {
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	State           State         `json:"state"`
	Capabilities    CapabilitySet `json:"capabilities,omitempty"`
	Client          ClientInfo    `json:"client,omitempty"`

	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastAccess  time.Time     `json:"last_access"`
	TTL         time.Duration `json:"ttl"`
	MaxLifetime time.Duration `json:"max_lifetime,omitempty"`
}

// Expired reports whether the session's sliding or absolute horizon passed.
func (m *SessionMetadata) Expired(now time.Time) bool {
	if m.TTL > 0 && now.After(m.LastAccess.Add(m.TTL)) {
		return true
	}
	if m.MaxLifetime > 0 && now.After(m.CreatedAt.Add(m.MaxLifetime)) {
		return true
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutines.
func (m *SessionMetadata) Clone() *SessionMetadata {
	cp := *m
	return &cp
}
