// Package session persists playback resume state: the single
// most-recent player session and the per-episode progress map.
package session

import (
	"encoding/json"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Persisted store keys owned by this package.
const (
	KeySession     = "player_session"
	ProgressPrefix = "progress/"
)

// Storage is the slice of the shared store the session stores need.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Session is the persisted snapshot of the most recent playback
// intent, used to restore the player after a full reload.
type Session struct {
	EpisodeID   string  `json:"episodeId"`
	Title       string  `json:"title"`
	MP3URL      string  `json:"mp3url"`
	Date        string  `json:"date"`
	URL         string  `json:"url"`
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	SavedAt     int64   `json:"timestamp"`
}

// Store persists the session record. Exactly one session exists at a
// time, or none.
type Store struct {
	storage Storage
}

// NewStore creates a session store.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Save overwrites the session record. Storage failure is logged and
// swallowed.
func (s *Store) Save(session Session) {
	if session.CurrentTime < 0 {
		session.CurrentTime = 0
	}
	session.SavedAt = time.Now().UnixMilli()

	raw, err := json.Marshal(session)
	if err == nil {
		err = s.storage.Set(KeySession, raw)
	}
	if err != nil {
		zlog.Warn().Err(err).Msg("session: unable to persist player session")
	}
}

// Load returns the persisted session, or nil when it is absent or
// corrupt. Corrupt data is treated as absence, never surfaced.
func (s *Store) Load() *Session {
	raw, ok, err := s.storage.Get(KeySession)
	if err != nil {
		zlog.Warn().Err(err).Msg("session: failed to read player session")
		return nil
	}
	if !ok {
		return nil
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		zlog.Warn().Err(err).Msg("session: corrupt player session, discarding")
		return nil
	}
	if session.EpisodeID == "" {
		return nil
	}
	return &session
}

// Clear deletes the session record.
func (s *Store) Clear() {
	if err := s.storage.Delete(KeySession); err != nil {
		zlog.Warn().Err(err).Msg("session: unable to clear player session")
	}
}

// ProgressStore persists the last known position per episode id,
// independent of session and queue lifetime. Entries are removed when
// an episode completes naturally and otherwise retained indefinitely.
type ProgressStore struct {
	storage Storage
}

// NewProgressStore creates a progress store.
func NewProgressStore(storage Storage) *ProgressStore {
	return &ProgressStore{storage: storage}
}

// Save records the position for the episode. Negative positions clamp
// to zero.
func (p *ProgressStore) Save(episodeID string, seconds float64) {
	if episodeID == "" {
		return
	}
	if seconds < 0 {
		seconds = 0
	}

	raw, err := json.Marshal(seconds)
	if err == nil {
		err = p.storage.Set(ProgressPrefix+episodeID, raw)
	}
	if err != nil {
		zlog.Warn().Err(err).Str("episode_id", episodeID).Msg("session: unable to persist progress")
	}
}

// Load returns the saved position for the episode. The second result
// reports whether a usable entry exists; corrupt entries read as
// absent.
func (p *ProgressStore) Load(episodeID string) (float64, bool) {
	if episodeID == "" {
		return 0, false
	}

	raw, ok, err := p.storage.Get(ProgressPrefix + episodeID)
	if err != nil {
		zlog.Warn().Err(err).Str("episode_id", episodeID).Msg("session: failed to read progress")
		return 0, false
	}
	if !ok {
		return 0, false
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		zlog.Warn().Err(err).Str("episode_id", episodeID).Msg("session: corrupt progress entry")
		return 0, false
	}
	if seconds < 0 {
		return 0, false
	}
	return seconds, true
}

// Clear removes the progress entry for the episode.
func (p *ProgressStore) Clear(episodeID string) {
	if episodeID == "" {
		return
	}
	if err := p.storage.Delete(ProgressPrefix + episodeID); err != nil {
		zlog.Warn().Err(err).Str("episode_id", episodeID).Msg("session: unable to clear progress")
	}
}

// Keys returns the episode ids with a saved progress entry.
func (p *ProgressStore) Keys() []string {
	keys, err := p.storage.Keys(ProgressPrefix)
	if err != nil {
		zlog.Warn().Err(err).Msg("session: failed to list progress entries")
		return nil
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key[len(ProgressPrefix):])
	}
	return ids
}
