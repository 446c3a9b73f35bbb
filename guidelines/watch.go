package guidelines

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oncoref/nccn-mcp-go/mcpservice"
)

// Watcher reloads the index store when the file on disk changes and fans the
// change signal out through a ChangeNotifier. Editors and index refreshers
// replace the file with rename-over-write, so the watch sits on the parent
// directory and filters by name.
type Watcher struct {
	store    *Store
	log      *slog.Logger
	debounce time.Duration

	notifier mcpservice.ChangeNotifier

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the reload debounce window. Zero reloads on every
// event.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher builds a watcher over the given store.
func NewWatcher(store *Store, opts ...WatcherOption) *Watcher {
	w := &Watcher{store: store, log: slog.Default(), debounce: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscriber returns a channel that receives a signal after each completed
// reload.
func (w *Watcher) Subscriber() <-chan struct{} {
	return w.notifier.Subscriber()
}

// Run watches the index file until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		// Best-effort watcher close.
		_ = fw.Close()
	}()

	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(w.store.Path())

	w.log.InfoContext(ctx, "guidelines.watch.start", slog.String("path", w.store.Path()))

	for {
		select {
		case <-ctx.Done():
			w.notifier.Close()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				w.notifier.Close()
				return errors.New("watcher event channel closed")
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				w.notifier.Close()
				return errors.New("watcher error channel closed")
			}
			w.log.WarnContext(ctx, "guidelines.watch.error", slog.String("err", err.Error()))
		}
	}
}

// schedule arms the debounced reload. Bursts of events within the debounce
// window collapse into a single reload.
func (w *Watcher) schedule(ctx context.Context) {
	if w.debounce <= 0 {
		w.reload(ctx)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending {
		return
	}
	w.pending = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()
	w.reload(ctx)
}

func (w *Watcher) reload(ctx context.Context) {
	if err := w.store.Reload(ctx); err != nil {
		w.log.WarnContext(ctx, "guidelines.watch.reload_fail", slog.String("err", err.Error()))
		return
	}
	_ = w.notifier.Notify(ctx)
}
