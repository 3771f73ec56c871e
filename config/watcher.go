package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"meshnode"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Change is emitted when the effective node config changed on disk.
type Change struct {
	Interfaces meshnode.InterfaceSet
	Settings   meshnode.Settings
	OldHash    string
	NewHash    string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must be quiet before it is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// Watcher reports node file edits that change the enabled interfaces or
// settings. It watches the containing directory so atomic saves are seen.
type Watcher struct {
	source   *FileSource
	debounce time.Duration
	log      *slog.Logger
}

func NewWatcher(source *FileSource, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		debounce: defaultDebounce,
		log:      slog.With("component", "config-watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching and returns the change stream, which is closed
// once ctx is done. Setup errors are returned before any goroutine starts.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, error) {
	f, err := w.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("config watcher: initial load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	out := make(chan Change, 1)
	go w.loop(ctx, fsw, f.Hash(), out)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, lastHash string, out chan<- Change) {
	defer close(out)
	defer fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", "err", err)

		case <-timer.C:
			change, ok := w.reload(ctx, lastHash)
			if !ok {
				continue
			}
			lastHash = change.NewHash
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

// reload loads the file and reports a Change only if its hash moved.
func (w *Watcher) reload(ctx context.Context, lastHash string) (Change, bool) {
	f, err := w.source.Load(ctx)
	if err != nil {
		w.log.Error("reload node config failed", "path", w.source.Path(), "err", err)
		return Change{}, false
	}
	hash := f.Hash()
	if hash == lastHash {
		w.log.Debug("node config unchanged, skipping", "path", w.source.Path())
		return Change{}, false
	}

	w.log.Info("node config changed", "path", w.source.Path(), "old_hash", lastHash[:8], "new_hash", hash[:8])
	return Change{
		Interfaces: f.Interfaces.Enabled(),
		Settings:   f.Settings,
		OldHash:    lastHash,
		NewHash:    hash,
	}, true
}
