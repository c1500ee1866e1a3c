package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("play_queue", []byte(`[]`)))
	value, ok, err := s.Get("play_queue")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(value))

	require.NoError(t, s.Set("play_queue", []byte(`[{"id":"1"}]`)))
	value, _, err = s.Get("play_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(value))

	require.NoError(t, s.Delete("play_queue"))
	_, ok, err = s.Get("play_queue")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, s.Delete("play_queue"))
}

func TestStore_Keys(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Set("progress/ep-2", []byte(`10`)))
	require.NoError(t, s.Set("progress/ep-1", []byte(`5`)))
	require.NoError(t, s.Set("player_session", []byte(`{}`)))

	keys, err := s.Keys("progress/")
	require.NoError(t, err)
	assert.Equal(t, []string{"progress/ep-1", "progress/ep-2"}, keys)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("current_episode", []byte(`{"id":"ep-1"}`)))
	require.NoError(t, s.Close())

	s2 := openTestStore(t, dir)
	value, ok, err := s2.Get("current_episode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"ep-1"}`, string(value))
}

func TestWatcher_ReportsForeignWrites(t *testing.T) {
	dir := t.TempDir()
	local := openTestStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := local.Watch(ctx)
	require.NoError(t, err)

	// A second Store on the same file stands in for another process.
	foreign := openTestStore(t, dir)
	require.NoError(t, foreign.Set("play_queue", []byte(`[{"id":"9"}]`)))
	require.NoError(t, foreign.Set("queue_updated_at", []byte(`1`)))

	select {
	case keys := <-w.Changes():
		assert.Contains(t, keys, "play_queue")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for external change notification")
	}
}

func TestWatcher_IgnoresOwnWrites(t *testing.T) {
	dir := t.TempDir()
	local := openTestStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := local.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, local.Set("play_queue", []byte(`[]`)))

	select {
	case keys := <-w.Changes():
		t.Fatalf("unexpected change notification for own write: %v", keys)
	case <-time.After(500 * time.Millisecond):
	}
}
