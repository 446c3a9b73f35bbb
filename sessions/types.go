package sessions

import "context"

// State is the lifecycle phase of a session.
type State string

const (
	// StateUninitialized means no session record exists yet. It never appears
	// in stored metadata; it is the implicit state before initialize.
	StateUninitialized State = "uninitialized"
	// StateInitializing is a nascent session created by initialize, awaiting
	// the client's notifications/initialized message.
	StateInitializing State = "initializing"
	// StateReady accepts all methods.
	StateReady State = "ready"
	// StateClosed is terminal. Requests against a closed session fail with
	// ErrSessionNotFound; sessions are never resurrected.
	StateClosed State = "closed"
)

// Session is the read view of a negotiated session handed to capability
// implementations. Implementations must be safe for concurrent use.
type Session interface {
	SessionID() string
	UserID() string
	// ProtocolVersion is the protocol revision negotiated at initialize.
	ProtocolVersion() string
	State() State
	Capabilities() CapabilitySet
	ClientInfo() ClientInfo
}

// CapabilitySet records the client capability surface negotiated at session
// creation. It is immutable for the life of the session; renegotiation
// requires a new session.
type CapabilitySet struct {
	Roots            bool `json:"roots,omitempty"`
	RootsListChanged bool `json:"roots_list_changed,omitempty"`
	Sampling         bool `json:"sampling,omitempty"`
	Elicitation      bool `json:"elicitation,omitempty"`
}

// ClientInfo records the client identity supplied at initialize, for
// logging only. All fields are optional.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// MessageHandlerFunc handles ordered messages from a session stream. A
// non-nil error terminates the subscription with that error.
type MessageHandlerFunc func(ctx context.Context, msgID string, msg []byte) error
