package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
)

// debounceWindow coalesces the burst of filesystem events a single
// SQLite commit produces (db, -wal and -shm all change together).
const debounceWindow = 150 * time.Millisecond

// Watcher reports keys mutated by other processes. It is the only
// path by which one process learns about another's writes; delivery is
// best-effort and a notification may be arbitrarily delayed.
type Watcher struct {
	store   *Store
	fsw     *fsnotify.Watcher
	changes chan []string
}

// Watch starts watching the store's directory for external writes.
// Changed-key batches are delivered on Changes until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		store:   s,
		fsw:     fsw,
		changes: make(chan []string, 4),
	}
	go w.loop(ctx)
	return w, nil
}

// Changes returns the channel of changed-key batches.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.changes)

	base := filepath.Base(w.store.path)
	var debounce *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}
			pending = debounce.C
		case <-pending:
			pending = nil
			keys, err := w.store.foreignKeysSince()
			if err != nil {
				zlog.Warn().Err(err).Msg("storage: failed to resolve external change")
				continue
			}
			if len(keys) == 0 {
				continue
			}
			select {
			case w.changes <- keys:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			zlog.Warn().Err(err).Msg("storage: watcher error")
		}
	}
}
