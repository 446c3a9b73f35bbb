package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub used by the static containers
// to signal that a list changed, so listChanged notifications reach clients.
type ChangeNotifier struct {
	mu          sync.RWMutex
	subscribers []chan struct{}
	closed      bool
}

// Notify signals every subscriber. Delivery is best-effort: a subscriber that
// already has a pending signal is skipped rather than blocked on.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.RLock()
	defer cn.mu.RUnlock()
	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close closes all subscriber channels. Further Notify calls are no-ops.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// ChangeSubscriber is satisfied by anything that can hand out change signal
// channels, notably ChangeNotifier and the containers embedding one.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Subscriber returns a channel that receives a signal whenever Notify runs.
// The channel is buffered with capacity 1; a closed notifier hands back an
// already-closed channel.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}
