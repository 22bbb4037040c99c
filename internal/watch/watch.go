// Package watch re-runs a handler when one file changes on disk.
// Used by watch-mode recording to re-trace a script on every save.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault coalesces the event bursts editors produce on save.
const debounceDefault = 250 * time.Millisecond

// FileWatcher invokes a handler after each change to a single file.
type FileWatcher struct {
	path     string
	handler  func()
	debounce time.Duration
}

// New creates a watcher for path. The handler runs on the watcher's
// goroutine, serialized; overlapping saves collapse into one run.
func New(path string, handler func()) *FileWatcher {
	return &FileWatcher{
		path:     path,
		handler:  handler,
		debounce: debounceDefault,
	}
}

// Run blocks until ctx is cancelled, invoking the handler after each
// debounced change. The parent directory is watched rather than the
// file itself: editors that write-and-rename would otherwise detach
// the watch on the first save.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	// Single debounce timer, reset on each event. pending guards
	// against a stale fire after the timer was already drained.
	var mu sync.Mutex
	pending := false

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			mu.Lock()
			fire := pending
			pending = false
			mu.Unlock()
			if fire {
				w.handler()
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			mu.Lock()
			pending = true
			mu.Unlock()

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = err
		}
	}
}
