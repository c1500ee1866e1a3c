package session

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	data    map[string][]byte
	failing bool
}

func newMemStorage() *memStorage {
	return &memStorage{data: map[string][]byte{}}
}

func (m *memStorage) Get(key string) ([]byte, bool, error) {
	if m.failing {
		return nil, false, errors.New("storage unavailable")
	}
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memStorage) Set(key string, value []byte) error {
	if m.failing {
		return errors.New("storage unavailable")
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) Delete(key string) error {
	if m.failing {
		return errors.New("storage unavailable")
	}
	delete(m.data, key)
	return nil
}

func (m *memStorage) Keys(prefix string) ([]string, error) {
	if m.failing {
		return nil, errors.New("storage unavailable")
	}
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestSessionStore_RoundTrip(t *testing.T) {
	s := NewStore(newMemStorage())

	s.Save(Session{
		EpisodeID:   "ep-1",
		Title:       "Episode 1",
		MP3URL:      "https://example.com/1.mp3",
		Date:        "2024-01-01",
		URL:         "https://example.com/1",
		CurrentTime: 42.5,
		IsPlaying:   true,
	})

	loaded := s.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, "ep-1", loaded.EpisodeID)
	assert.Equal(t, "Episode 1", loaded.Title)
	assert.Equal(t, 42.5, loaded.CurrentTime)
	assert.True(t, loaded.IsPlaying)
	assert.NotZero(t, loaded.SavedAt)
}

func TestSessionStore_LoadAbsent(t *testing.T) {
	s := NewStore(newMemStorage())
	assert.Nil(t, s.Load())
}

func TestSessionStore_LoadCorrupt(t *testing.T) {
	storage := newMemStorage()
	storage.data[KeySession] = []byte(`{broken`)

	s := NewStore(storage)
	assert.Nil(t, s.Load())
}

func TestSessionStore_Clear(t *testing.T) {
	storage := newMemStorage()
	s := NewStore(storage)

	s.Save(Session{EpisodeID: "ep-1"})
	s.Clear()
	assert.Nil(t, s.Load())
}

func TestSessionStore_StorageFailureIsSwallowed(t *testing.T) {
	storage := newMemStorage()
	storage.failing = true
	s := NewStore(storage)

	s.Save(Session{EpisodeID: "ep-1"})
	assert.Nil(t, s.Load())
	s.Clear()
}

func TestSessionStore_NegativePositionClamps(t *testing.T) {
	s := NewStore(newMemStorage())
	s.Save(Session{EpisodeID: "ep-1", CurrentTime: -3})

	loaded := s.Load()
	require.NotNil(t, loaded)
	assert.Zero(t, loaded.CurrentTime)
}

func TestProgressStore_RoundTrip(t *testing.T) {
	p := NewProgressStore(newMemStorage())

	p.Save("ep-1", 120.25)
	seconds, ok := p.Load("ep-1")
	assert.True(t, ok)
	assert.Equal(t, 120.25, seconds)
}

func TestProgressStore_LoadAbsentOrCorrupt(t *testing.T) {
	storage := newMemStorage()
	storage.data[ProgressPrefix+"ep-2"] = []byte(`"not a number"... `)

	p := NewProgressStore(storage)

	_, ok := p.Load("ep-1")
	assert.False(t, ok)
	_, ok = p.Load("ep-2")
	assert.False(t, ok)
	_, ok = p.Load("")
	assert.False(t, ok)
}

func TestProgressStore_Clear(t *testing.T) {
	p := NewProgressStore(newMemStorage())

	p.Save("ep-1", 10)
	p.Clear("ep-1")
	_, ok := p.Load("ep-1")
	assert.False(t, ok)
}

func TestProgressStore_Keys(t *testing.T) {
	p := NewProgressStore(newMemStorage())

	p.Save("ep-1", 10)
	p.Save("ep-2", 20)

	ids := p.Keys()
	assert.ElementsMatch(t, []string{"ep-1", "ep-2"}, ids)
}
