// Package memoryhost provides the in-process sessions.SessionHost used for
// single-instance deployments and tests.
package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oncoref/nccn-mcp-go/sessions"
)

// Host keeps every session in an entry behind its own mutex so operations on
// one session never contend with another; only table insert/remove/lookup
// takes the outer lock, and only briefly.
type Host struct {
	mu      sync.RWMutex
	entries map[string]*entry
	counter atomic.Int64
}

type entry struct {
	mu          sync.RWMutex
	meta        *sessions.SessionMetadata
	messages    []message
	subscribers map[*subscription]struct{}
}

type message struct {
	id   string
	data []byte
}

type subscription struct {
	ctx      context.Context
	notify   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	ent      *entry
}

func New() *Host {
	return &Host{entries: make(map[string]*entry)}
}

// --- Metadata lifecycle ---

func (h *Host) CreateSession(ctx context.Context, meta *sessions.SessionMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[meta.SessionID]; ok {
		return sessions.ErrSessionExists
	}
	h.entries[meta.SessionID] = &entry{
		meta:        meta.Clone(),
		subscribers: make(map[*subscription]struct{}),
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	ent, ok := h.lookup(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return ent.meta.Clone(), nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	ent, ok := h.lookup(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if err := fn(ent.meta); err != nil {
		return err
	}
	return nil
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	return h.MutateSession(ctx, sessionID, func(meta *sessions.SessionMetadata) error {
		meta.LastAccess = time.Now().UTC()
		return nil
	})
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	_, ok := h.entries[sessionID]
	delete(h.entries, sessionID)
	h.mu.Unlock()
	if !ok {
		return sessions.ErrSessionNotFound
	}
	return nil
}

func (h *Host) ListSessions(ctx context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- Messaging ---

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	ent, ok := h.lookup(sessionID)
	if !ok {
		return "", sessions.ErrSessionNotFound
	}
	evID := strconv.FormatInt(h.counter.Add(1), 10)

	ent.mu.Lock()
	ent.messages = append(ent.messages, message{id: evID, data: append([]byte(nil), data...)})
	subs := make([]*subscription, 0, len(ent.subscribers))
	for sub := range ent.subscribers {
		subs = append(subs, sub)
	}
	ent.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.notify <- struct{}{}:
		default:
			// subscriber already has a wakeup pending
		}
	}
	return evID, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	ent, ok := h.lookup(sessionID)
	if !ok {
		return sessions.ErrSessionNotFound
	}

	sub := &subscription{
		ctx:    ctx,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		ent:    ent,
	}

	ent.mu.Lock()
	nextIdx, err := ent.indexAfterLocked(lastEventID)
	if err != nil {
		ent.mu.Unlock()
		return err
	}
	ent.subscribers[sub] = struct{}{}
	ent.mu.Unlock()
	defer sub.stop()

	for {
		// Drain anything at or beyond the cursor, then wait for a wakeup.
		for {
			ent.mu.RLock()
			if nextIdx >= len(ent.messages) {
				ent.mu.RUnlock()
				break
			}
			msg := ent.messages[nextIdx]
			ent.mu.RUnlock()
			nextIdx++
			if err := handler(ctx, msg.id, msg.data); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.stopCh:
			return nil
		case <-sub.notify:
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	ent, ok := h.lookup(sessionID)
	if !ok {
		return nil
	}
	ent.mu.Lock()
	subs := make([]*subscription, 0, len(ent.subscribers))
	for sub := range ent.subscribers {
		subs = append(subs, sub)
	}
	ent.messages = nil
	ent.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (h *Host) Ping(ctx context.Context) error { return nil }

var _ sessions.SessionHost = (*Host)(nil)

func (h *Host) lookup(sessionID string) (*entry, bool) {
	h.mu.RLock()
	ent, ok := h.entries[sessionID]
	h.mu.RUnlock()
	return ent, ok
}

// indexAfterLocked resolves the replay cursor. Empty lastEventID means "from
// the next message"; a stale ID that fell out of the log is an error so the
// client knows the resume window was missed.
func (e *entry) indexAfterLocked(lastEventID string) (int, error) {
	if lastEventID == "" {
		return len(e.messages), nil
	}
	for i := range e.messages {
		if e.messages[i].id == lastEventID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("last event id %s not found", lastEventID)
}

func (s *subscription) stop() {
	s.ent.mu.Lock()
	delete(s.ent.subscribers, s)
	s.ent.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}
