// Package sessionhosttest holds the conformance suite every SessionHost
// implementation must pass. Host packages call Run from their own tests.
package sessionhosttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oncoref/nccn-mcp-go/sessions"
)

// Factory returns a fresh, empty host for one subtest.
type Factory func(t *testing.T) sessions.SessionHost

// Run exercises the SessionHost contract against hosts built by newHost.
func Run(t *testing.T, newHost Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newHost(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newHost(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newHost(t)) })
	t.Run("MutateRoundTrip", func(t *testing.T) { testMutateRoundTrip(t, newHost(t)) })
	t.Run("MutateMissing", func(t *testing.T) { testMutateMissing(t, newHost(t)) })
	t.Run("TouchAdvancesLastAccess", func(t *testing.T) { testTouch(t, newHost(t)) })
	t.Run("DeleteThenGet", func(t *testing.T) { testDeleteThenGet(t, newHost(t)) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, newHost(t)) })
	t.Run("PublishSubscribeOrder", func(t *testing.T) { testPublishSubscribeOrder(t, newHost(t)) })
	t.Run("PublishUnknownSession", func(t *testing.T) { testPublishUnknownSession(t, newHost(t)) })
	t.Run("SubscribeResume", func(t *testing.T) { testSubscribeResume(t, newHost(t)) })
	t.Run("ConcurrentMutate", func(t *testing.T) { testConcurrentMutate(t, newHost(t)) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newHost(t)) })
}

func newMeta() *sessions.SessionMetadata {
	now := time.Now().UTC()
	return &sessions.SessionMetadata{
		SessionID:       uuid.NewString(),
		UserID:          "user-1",
		ProtocolVersion: "2025-06-18",
		State:           sessions.StateInitializing,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccess:      now,
		TTL:             time.Hour,
	}
}

func testCreateAndGet(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := host.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SessionID != meta.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, meta.SessionID)
	}
	if got.State != sessions.StateInitializing {
		t.Errorf("State = %q, want %q", got.State, sessions.StateInitializing)
	}
	if got.ProtocolVersion != meta.ProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", got.ProtocolVersion, meta.ProtocolVersion)
	}
}

func testCreateDuplicate(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := host.CreateSession(ctx, meta); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("duplicate CreateSession: got %v, want ErrSessionExists", err)
	}
}

func testGetMissing(t *testing.T, host sessions.SessionHost) {
	_, err := host.GetSession(context.Background(), uuid.NewString())
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("GetSession(missing): got %v, want ErrSessionNotFound", err)
	}
}

func testMutateRoundTrip(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	err := host.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateReady
		m.TTL = 2 * time.Hour
		return nil
	})
	if err != nil {
		t.Fatalf("MutateSession: %v", err)
	}
	got, err := host.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != sessions.StateReady {
		t.Errorf("State = %q, want %q", got.State, sessions.StateReady)
	}
	if got.TTL != 2*time.Hour {
		t.Errorf("TTL = %v, want %v", got.TTL, 2*time.Hour)
	}
}

func testMutateMissing(t *testing.T, host sessions.SessionHost) {
	err := host.MutateSession(context.Background(), uuid.NewString(), func(m *sessions.SessionMetadata) error {
		return nil
	})
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("MutateSession(missing): got %v, want ErrSessionNotFound", err)
	}
}

func testTouch(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	meta.LastAccess = time.Now().UTC().Add(-time.Minute)
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	before := meta.LastAccess
	if err := host.TouchSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	got, err := host.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.LastAccess.After(before) {
		t.Errorf("LastAccess = %v, want after %v", got.LastAccess, before)
	}
}

func testDeleteThenGet(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := host.DeleteSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := host.GetSession(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("GetSession after delete: got %v, want ErrSessionNotFound", err)
	}
	if err := host.DeleteSession(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("DeleteSession twice: got %v, want ErrSessionNotFound", err)
	}
}

func testListSessions(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		meta := newMeta()
		if err := host.CreateSession(ctx, meta); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		want[meta.SessionID] = true
	}
	ids, err := host.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	found := 0
	for _, id := range ids {
		if want[id] {
			found++
		}
	}
	if found != len(want) {
		t.Errorf("ListSessions matched %d of %d created sessions (got %v)", found, len(want), ids)
	}
}

func testPublishSubscribeOrder(t *testing.T, host sessions.SessionHost) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go func() {
		done <- host.SubscribeSession(subCtx, meta.SessionID, "", func(ctx context.Context, eventID string, data []byte) error {
			mu.Lock()
			got = append(got, string(data))
			n := len(got)
			mu.Unlock()
			if n == 3 {
				subCancel()
			}
			return nil
		})
	}()

	// Give the subscriber a beat to establish its cursor before publishing.
	time.Sleep(100 * time.Millisecond)

	for _, msg := range []string{"one", "two", "three"} {
		if _, err := host.PublishSession(ctx, meta.SessionID, []byte(msg)); err != nil {
			t.Fatalf("PublishSession(%q): %v", msg, err)
		}
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("SubscribeSession: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("received %d messages, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func testPublishUnknownSession(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	if _, err := host.PublishSession(ctx, uuid.NewString(), []byte("orphan")); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("PublishSession(unknown): got %v, want ErrSessionNotFound", err)
	}

	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := host.DeleteSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := host.PublishSession(ctx, meta.SessionID, []byte("orphan")); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("PublishSession(deleted): got %v, want ErrSessionNotFound", err)
	}
}

func testSubscribeResume(t *testing.T, host sessions.SessionHost) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	firstID, err := host.PublishSession(ctx, meta.SessionID, []byte("first"))
	if err != nil {
		t.Fatalf("PublishSession: %v", err)
	}
	if _, err := host.PublishSession(ctx, meta.SessionID, []byte("second")); err != nil {
		t.Fatalf("PublishSession: %v", err)
	}

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- host.SubscribeSession(subCtx, meta.SessionID, firstID, func(ctx context.Context, eventID string, data []byte) error {
			got = append(got, string(data))
			subCancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("SubscribeSession: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for resumed subscriber")
	}

	if len(got) != 1 || got[0] != "second" {
		t.Fatalf("resumed subscriber got %v, want [second]", got)
	}
}

func testConcurrentMutate(t *testing.T, host sessions.SessionHost) {
	ctx := context.Background()
	meta := newMeta()
	if err := host.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := host.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
				m.UpdatedAt = time.Now().UTC()
				return nil
			})
			if err != nil {
				t.Errorf("MutateSession: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := host.GetSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("GetSession after concurrent mutates: %v", err)
	}
}

func testPing(t *testing.T, host sessions.SessionHost) {
	if err := host.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
