// Package queue provides the play queue store: the ordered queue of
// episodes waiting to play and the single now-playing pointer.
package queue

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/playdeck/playdeck/internal/app/analytics"
	"github.com/playdeck/playdeck/internal/app/notification"
	"github.com/playdeck/playdeck/internal/domain/episode"
)

// Persisted store keys owned by the queue store.
const (
	KeyQueue     = "play_queue"
	KeyCurrent   = "current_episode"
	KeyUpdatedAt = "queue_updated_at"
)

// Snapshot is the full queue state: the now-playing episode and the
// ordered queue, both defensive copies.
type Snapshot = notification.Snapshot

// Storage is the slice of the shared store the queue needs.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// AddOptions control Add behavior.
type AddOptions struct {
	// PlayNext inserts at the head instead of the tail, and promotes
	// an already-queued episode to the head.
	PlayNext bool
}

// SetCurrentOptions control SetCurrent behavior.
type SetCurrentOptions struct {
	// EnqueueIfMissing is accepted for API symmetry with Add; the
	// now-playing episode is never duplicated into the queue either
	// way.
	EnqueueIfMissing bool
}

// Store owns the queue state. Every mutation persists the full state
// to shared storage and broadcasts one snapshot through the hub.
// Persistence failure degrades to in-memory-only behavior for that
// call; in-process consumers are still notified.
type Store struct {
	mu      sync.RWMutex
	current *episode.Episode
	queue   []episode.Episode

	storage Storage
	hub     *notification.Hub
	sink    analytics.Sink
}

// NewStore creates a queue store and loads persisted state. Corrupt or
// missing storage yields the empty defaults, never an error.
func NewStore(storage Storage, hub *notification.Hub, sink analytics.Sink) *Store {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	s := &Store{
		storage: storage,
		hub:     hub,
		sink:    sink,
	}
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
	return s
}

// Add normalizes the episode and inserts it into the queue. It is a
// no-op when the episode is unusable, already now-playing, or already
// queued without PlayNext. PlayNext on an already-queued id promotes
// it to the head, preserving the relative order of the rest.
func (s *Store) Add(raw episode.Episode, opts AddOptions) Snapshot {
	s.mu.Lock()

	ep := episode.NormalizeRecord(raw)
	if ep == nil {
		return s.unlockWithSnapshot()
	}

	if s.current != nil && s.current.ID == ep.ID {
		return s.unlockWithSnapshot()
	}

	if idx := s.indexOfLocked(ep.ID); idx >= 0 {
		if !opts.PlayNext {
			return s.unlockWithSnapshot()
		}
		promoted := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.queue = append([]episode.Episode{promoted}, s.queue...)
		snapshot := s.persistAndUnlock()
		s.sink.Track("queue_play_next", map[string]any{
			"episode_title": promoted.Title,
			"episode_date":  promoted.Date,
			"queue_size":    len(snapshot.Queue),
		})
		return snapshot
	}

	if opts.PlayNext {
		s.queue = append([]episode.Episode{*ep}, s.queue...)
	} else {
		s.queue = append(s.queue, *ep)
	}
	snapshot := s.persistAndUnlock()

	position := "end"
	if opts.PlayNext {
		position = "next"
	}
	s.sink.Track("queue_added", map[string]any{
		"episode_title": ep.Title,
		"episode_date":  ep.Date,
		"position":      position,
		"queue_size":    len(snapshot.Queue),
	})
	return snapshot
}

// SetCurrent sets the now-playing episode, removing its id from the
// queue first. A nil or unusable episode clears the pointer. Always
// persists and broadcasts.
func (s *Store) SetCurrent(raw *episode.Episode, _ SetCurrentOptions) Snapshot {
	s.mu.Lock()

	var ep *episode.Episode
	if raw != nil {
		ep = episode.NormalizeRecord(*raw)
	}

	if ep == nil {
		s.current = nil
		return s.persistAndUnlock()
	}

	s.removeFromQueueLocked(ep.ID)
	s.current = ep
	return s.persistAndUnlock()
}

// Remove removes the id from the queue, clearing the now-playing
// pointer when it matches. Unknown ids are a no-op.
func (s *Store) Remove(id string) Snapshot {
	s.mu.Lock()

	wasCurrent := s.current != nil && s.current.ID == id
	idx := s.indexOfLocked(id)
	if !wasCurrent && idx < 0 {
		return s.unlockWithSnapshot()
	}

	var removed episode.Episode
	if wasCurrent {
		removed = *s.current
		s.current = nil
	} else {
		removed = s.queue[idx]
	}
	s.removeFromQueueLocked(id)
	snapshot := s.persistAndUnlock()

	s.sink.Track("queue_removed", map[string]any{
		"episode_title": removed.Title,
		"episode_date":  removed.Date,
		"queue_size":    len(snapshot.Queue),
	})
	return snapshot
}

// Next dequeues the head into the now-playing pointer and returns it.
// On an empty queue it clears the pointer and returns nil, signalling
// end of queue. This is the sole queue-advance primitive.
func (s *Store) Next() *episode.Episode {
	s.mu.Lock()

	if len(s.queue) == 0 {
		s.current = nil
		s.persistAndUnlock()
		return nil
	}

	head := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &head
	s.persistAndUnlock()
	return head.Clone()
}

// Move shifts the item with the given id by direction (±1) within the
// queue. Out-of-bounds shifts and unknown ids are a no-op.
func (s *Store) Move(id string, direction int) Snapshot {
	s.mu.Lock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return s.unlockWithSnapshot()
	}
	target := idx + direction
	if target < 0 || target >= len(s.queue) {
		return s.unlockWithSnapshot()
	}

	item := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.insertLocked(target, item)
	return s.persistAndUnlock()
}

// Reorder relocates the item with the given id to targetIndex, clamped
// to the queue bounds. The relative order of all other items is
// preserved. Unknown ids are a no-op.
func (s *Store) Reorder(id string, targetIndex int) Snapshot {
	s.mu.Lock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return s.unlockWithSnapshot()
	}

	item := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)

	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(s.queue) {
		targetIndex = len(s.queue)
	}
	s.insertLocked(targetIndex, item)
	return s.persistAndUnlock()
}

// Clear empties the queue and clears the now-playing pointer.
func (s *Store) Clear() Snapshot {
	s.mu.Lock()
	s.queue = nil
	s.current = nil
	return s.persistAndUnlock()
}

// Contains reports whether the id is now playing or queued.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == "" {
		return false
	}
	if s.current != nil && s.current.ID == id {
		return true
	}
	return s.indexOfLocked(id) >= 0
}

// GetQueue returns a deep copy of the queued episodes.
func (s *Store) GetQueue() []episode.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyQueueLocked()
}

// GetCurrent returns a copy of the now-playing episode, or nil.
func (s *Store) GetCurrent() *episode.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// GetState returns a snapshot of the full queue state.
func (s *Store) GetState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Reload re-reads persisted state into memory and broadcasts the
// resulting snapshot. Used when another process mutated the shared
// store.
func (s *Store) Reload() Snapshot {
	s.mu.Lock()
	s.loadLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot
}

func (s *Store) indexOfLocked(id string) int {
	for i := range s.queue {
		if s.queue[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeFromQueueLocked(id string) {
	filtered := s.queue[:0]
	for _, item := range s.queue {
		if item.ID != id {
			filtered = append(filtered, item)
		}
	}
	s.queue = filtered
}

func (s *Store) insertLocked(index int, item episode.Episode) {
	rest := append([]episode.Episode{}, s.queue[index:]...)
	s.queue = append(append(s.queue[:index:index], item), rest...)
}

func (s *Store) copyQueueLocked() []episode.Episode {
	out := make([]episode.Episode, len(s.queue))
	copy(out, s.queue)
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Current: s.current.Clone(),
		Queue:   s.copyQueueLocked(),
	}
}

// unlockWithSnapshot releases the write lock and returns the current
// snapshot without persisting or broadcasting (no-op paths).
func (s *Store) unlockWithSnapshot() Snapshot {
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return snapshot
}

// persistAndUnlock writes the full state, releases the lock, then
// broadcasts the snapshot. Broadcasting happens outside the lock so a
// subscriber may read the store without deadlocking. A storage failure
// is logged and does not roll back the in-memory mutation; the
// broadcast still happens so in-process consumers stay consistent.
func (s *Store) persistAndUnlock() Snapshot {
	queueJSON, err := json.Marshal(s.copyQueueLocked())
	if err == nil {
		err = s.storage.Set(KeyQueue, queueJSON)
	}
	if err != nil {
		zlog.Warn().Err(err).Msg("queue: unable to persist play queue")
	}

	if s.current != nil {
		currentJSON, err := json.Marshal(s.current)
		if err == nil {
			err = s.storage.Set(KeyCurrent, currentJSON)
		}
		if err != nil {
			zlog.Warn().Err(err).Msg("queue: unable to persist current episode")
		}
	} else if err := s.storage.Delete(KeyCurrent); err != nil {
		zlog.Warn().Err(err).Msg("queue: unable to clear current episode")
	}

	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.storage.Set(KeyUpdatedAt, []byte(stamp)); err != nil {
		zlog.Warn().Err(err).Msg("queue: unable to persist update stamp")
	}

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot
}

func (s *Store) publish(snapshot Snapshot) {
	if s.hub != nil {
		s.hub.Publish(snapshot)
	}
}

// loadLocked reads persisted state, falling back to empty defaults on
// missing or corrupt values.
func (s *Store) loadLocked() {
	s.queue = nil
	s.current = nil

	if raw, ok, err := s.storage.Get(KeyQueue); err != nil {
		zlog.Warn().Err(err).Msg("queue: failed to read persisted queue")
	} else if ok {
		var items []episode.Episode
		if err := json.Unmarshal(raw, &items); err != nil {
			zlog.Warn().Err(err).Msg("queue: corrupt persisted queue, starting empty")
		} else {
			for _, item := range items {
				if ep := episode.NormalizeRecord(item); ep != nil {
					s.queue = append(s.queue, *ep)
				}
			}
		}
	}

	if raw, ok, err := s.storage.Get(KeyCurrent); err != nil {
		zlog.Warn().Err(err).Msg("queue: failed to read persisted current episode")
	} else if ok {
		var item episode.Episode
		if err := json.Unmarshal(raw, &item); err != nil {
			zlog.Warn().Err(err).Msg("queue: corrupt persisted current episode")
		} else {
			s.current = episode.NormalizeRecord(item)
		}
	}
}
