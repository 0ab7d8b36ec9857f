// Package watch notices writes to the local store made by other offsync
// processes, so a long-running sync loop can react without waiting for its
// next tick.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes (db, -wal, -shm) into one call.
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls OnChange after files in Dir whose base name starts with
// Prefix stop changing for Debounce.
type Watcher struct {
	Dir      string
	Prefix   string
	Debounce time.Duration
	OnChange func()
}

// New creates a watcher for dir. A debounce <= 0 selects DefaultDebounce.
func New(dir, prefix string, debounce time.Duration, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{Dir: dir, Prefix: prefix, Debounce: debounce, OnChange: onChange}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	timer := time.NewTimer(w.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			timer.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: fsnotify error", "dir", w.Dir, "err", err)

		case <-timer.C:
			if w.OnChange != nil {
				w.OnChange()
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.Prefix)
}
