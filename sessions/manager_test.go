package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oncoref/nccn-mcp-go/sessions"
	"github.com/oncoref/nccn-mcp-go/sessions/memoryhost"
)

func newManager(t *testing.T, opts ...sessions.ManagerOption) (*sessions.Manager, sessions.SessionHost) {
	t.Helper()
	host := memoryhost.New()
	return sessions.NewManager(host, opts...), host
}

func TestCreateStartsInitializing(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "user-1", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{Name: "test-client", Version: "1.0"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.SessionID() == "" {
		t.Fatal("CreateSession returned empty session ID")
	}
	if sess.State() != sessions.StateInitializing {
		t.Errorf("State = %q, want %q", sess.State(), sessions.StateInitializing)
	}
	if sess.ProtocolVersion() != "2025-06-18" {
		t.Errorf("ProtocolVersion = %q, want 2025-06-18", sess.ProtocolVersion())
	}
}

func TestMarkReadyPromotes(t *testing.T) {
	mgr, host := newManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := mgr.MarkReady(ctx, sess.SessionID()); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}

	loaded, err := mgr.LoadSession(ctx, sess.SessionID())
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.State() != sessions.StateReady {
		t.Errorf("State = %q, want %q", loaded.State(), sessions.StateReady)
	}

	meta, err := host.GetSession(ctx, sess.SessionID())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if meta.TTL <= 30*time.Second {
		t.Errorf("TTL after promotion = %v, want the full idle timeout", meta.TTL)
	}
}

func TestLoadUnknownSession(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.LoadSession(context.Background(), "nope")
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("LoadSession(unknown): got %v, want ErrSessionNotFound", err)
	}
}

// A closed session must fail identically on every subsequent attempt; it never
// comes back.
func TestClosedSessionStaysClosed(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := mgr.MarkReady(ctx, sess.SessionID()); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if err := mgr.CloseSession(ctx, sess.SessionID()); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	for i := 0; i < 1000; i++ {
		if _, err := mgr.LoadSession(ctx, sess.SessionID()); !errors.Is(err, sessions.ErrSessionNotFound) {
			t.Fatalf("attempt %d: LoadSession after close: got %v, want ErrSessionNotFound", i, err)
		}
	}
}

func TestCloseUnknownSession(t *testing.T) {
	mgr, _ := newManager(t)
	err := mgr.CloseSession(context.Background(), "nope")
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("CloseSession(unknown): got %v, want ErrSessionNotFound", err)
	}
}

func TestExpiredSessionIsDeletedOnLoad(t *testing.T) {
	mgr, host := newManager(t)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Backdate the session past its sliding window.
	err = host.MutateSession(ctx, sess.SessionID(), func(m *sessions.SessionMetadata) error {
		m.LastAccess = time.Now().UTC().Add(-2 * time.Hour)
		m.TTL = time.Hour
		return nil
	})
	if err != nil {
		t.Fatalf("MutateSession: %v", err)
	}

	if _, err := mgr.LoadSession(ctx, sess.SessionID()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("LoadSession(expired): got %v, want ErrSessionNotFound", err)
	}
	// The record is gone from the host, not just filtered.
	if _, err := host.GetSession(ctx, sess.SessionID()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("GetSession after expired load: got %v, want ErrSessionNotFound", err)
	}
}

func TestMaxLifetimeExpiry(t *testing.T) {
	mgr, host := newManager(t, sessions.WithMaxLifetime(time.Hour))
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := mgr.MarkReady(ctx, sess.SessionID()); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	// Fresh activity but an ancient birth date: the absolute horizon wins.
	err = host.MutateSession(ctx, sess.SessionID(), func(m *sessions.SessionMetadata) error {
		m.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
		m.LastAccess = time.Now().UTC()
		return nil
	})
	if err != nil {
		t.Fatalf("MutateSession: %v", err)
	}

	if _, err := mgr.LoadSession(ctx, sess.SessionID()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("LoadSession past max lifetime: got %v, want ErrSessionNotFound", err)
	}
}

func TestSweepReclaimsStaleHandshake(t *testing.T) {
	mgr, host := newManager(t, sessions.WithHandshakeTTL(10*time.Millisecond), sessions.WithSweepInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := mgr.CreateSession(ctx, "", "2025-06-18", sessions.CapabilitySet{}, sessions.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	go mgr.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := host.GetSession(ctx, sess.SessionID()); errors.Is(err, sessions.ErrSessionNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("sweep did not reclaim the stale handshake session")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
