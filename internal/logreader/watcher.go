package logreader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher surfaces a change hint whenever the log file (or its directory,
// for the not-yet-created case) is written. The supervisor still reads on
// its polling schedule; the hint only wakes it early, so read ordering is
// unaffected if watching is unavailable on a platform.
type Watcher struct {
	fsw   *fsnotify.Watcher
	path  string
	hints chan struct{}
}

// NewWatcher watches the directory containing the log file. Watching the
// directory rather than the file tolerates the file not existing yet and
// survives rename-style rotation.
func NewWatcher(logPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(logPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		fsw:   fsw,
		path:  filepath.Clean(logPath),
		hints: make(chan struct{}, 1),
	}, nil
}

// Hints returns the change-hint channel. At most one hint is buffered;
// coalescing is fine because the reader always drains to EOF.
func (w *Watcher) Hints() <-chan struct{} {
	return w.hints
}

// Run pumps fsnotify events into hints until ctx is done. Watch errors are
// ignored after logging; polling covers for any missed events.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.hints <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			fmt.Printf("LogReader: watch error (falling back to polling): %v\n", err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
