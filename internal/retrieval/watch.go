package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soyeahso/kassa/internal/logging"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 2 * time.Second

// Watcher re-syncs a knowledge directory when its files change.
type Watcher struct {
	dir      string
	syncer   *Syncer
	debounce time.Duration
	log      *logging.Logger

	// OnSync, when set, observes the result of every triggered sync.
	OnSync func(*SyncReport, error)
}

// NewWatcher creates a watcher for dir. debounce <= 0 uses DefaultDebounce.
func NewWatcher(dir string, syncer *Syncer, debounce time.Duration, log *logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, syncer: syncer, debounce: debounce, log: log.Sub("watch")}
}

// Run watches until ctx is done. Bursts of events are coalesced into one
// sync after the debounce interval.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Msg("watching knowledge directory")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsKnowledgeFile(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
				continue
			}
			w.log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("knowledge file changed")
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("file watcher error")

		case <-timer.C:
			report, err := w.syncer.Sync(ctx, w.dir)
			if err != nil {
				w.log.Error().Err(err).Msg("knowledge re-sync failed")
			}
			if w.OnSync != nil {
				w.OnSync(report, err)
			}
		}
	}
}
