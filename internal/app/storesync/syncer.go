// Package storesync propagates store mutations made by other
// processes into this process's in-memory views.
package storesync

import (
	"context"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/playdeck/playdeck/internal/app/queue"
	"github.com/playdeck/playdeck/internal/app/session"
)

// ChangeSource delivers batches of keys mutated outside this process.
type ChangeSource interface {
	Changes() <-chan []string
}

// QueueReloader reloads queue state from persistent storage.
type QueueReloader interface {
	Reload() queue.Snapshot
}

// Config holds syncer configuration.
type Config struct {
	Source ChangeSource
	Queue  QueueReloader

	// OnSessionChange fires when another process rewrote the player
	// session. Optional.
	OnSessionChange func()
	// OnProgressChange fires with the episode ids whose progress
	// another process updated. Optional.
	OnProgressChange func(episodeIDs []string)
}

// Syncer routes foreign key changes to the interested stores. The
// last write wins; no merging is attempted.
type Syncer struct {
	cfg Config

	done chan struct{}
}

// New creates a syncer. Run must be called to start routing.
func New(cfg Config) *Syncer {
	return &Syncer{cfg: cfg, done: make(chan struct{})}
}

// Run consumes change batches until ctx is cancelled or the source
// channel closes.
func (s *Syncer) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case keys, ok := <-s.cfg.Source.Changes():
			if !ok {
				return
			}
			s.apply(keys)
		}
	}
}

// Done is closed when Run returns.
func (s *Syncer) Done() <-chan struct{} {
	return s.done
}

func (s *Syncer) apply(keys []string) {
	var queueChanged, sessionChanged bool
	var progressIDs []string

	for _, key := range keys {
		switch {
		case key == queue.KeyQueue, key == queue.KeyCurrent, key == queue.KeyUpdatedAt:
			queueChanged = true
		case key == session.KeySession:
			sessionChanged = true
		case strings.HasPrefix(key, session.ProgressPrefix):
			progressIDs = append(progressIDs, strings.TrimPrefix(key, session.ProgressPrefix))
		default:
			zlog.Debug().Str("key", key).Msg("storesync: ignoring unrecognized key")
		}
	}

	if queueChanged && s.cfg.Queue != nil {
		zlog.Debug().Msg("storesync: reloading queue after external write")
		s.cfg.Queue.Reload()
	}
	if sessionChanged && s.cfg.OnSessionChange != nil {
		s.cfg.OnSessionChange()
	}
	if len(progressIDs) > 0 && s.cfg.OnProgressChange != nil {
		s.cfg.OnProgressChange(progressIDs)
	}
}
