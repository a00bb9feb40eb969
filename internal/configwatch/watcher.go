// Package configwatch notifies long-running commands when the config file
// changes on disk, so a queued heartbeat daemon can pick up new settings
// without a manual restart.
package configwatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pulselabs/pulseclient/internal/ports"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher watches a single config file via fsnotify and invokes a callback
// after edits settle. Editors often produce several events per save
// (truncate, write, rename), so notifications are debounced.
type Watcher struct {
	path     string
	onChange func()
	logger   ports.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// New builds a watcher for the config file at path. onChange runs on the
// watcher goroutine after each debounced change.
func New(path string, onChange func(), logger ports.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file itself so atomic-rename saves keep being seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	w.logger.Debug("watching config file", ports.String("path", w.path))

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleNotify()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Info("config file changed", ports.String("path", w.path))
		w.onChange()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
