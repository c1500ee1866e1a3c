package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdeck/playdeck/internal/app/notification"
	"github.com/playdeck/playdeck/internal/app/queue"
	"github.com/playdeck/playdeck/internal/app/session"
	"github.com/playdeck/playdeck/internal/domain/episode"
)

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Get(key string) ([]byte, bool, error) {
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memStorage) Set(key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func (m *memStorage) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// fakeDevice is a scripted Device. Tests drive it by sending events on
// its channel; command methods only mutate internal state.
type fakeDevice struct {
	mu       sync.Mutex
	source   string
	position float64
	duration float64
	rate     float64
	playErr  error
	loads    int
	paused   bool
	events   chan DeviceEvent
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{duration: 3600, rate: 1.0, events: make(chan DeviceEvent, 16)}
}

func (d *fakeDevice) AttachSource(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.source = url
}

func (d *fakeDevice) Load() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	d.position = 0
}

func (d *fakeDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return d.playErr
	}
	d.paused = false
	return nil
}

func (d *fakeDevice) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

func (d *fakeDevice) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *fakeDevice) SetPosition(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = seconds
}

func (d *fakeDevice) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

func (d *fakeDevice) Buffered() float64 {
	return d.Duration()
}

func (d *fakeDevice) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

func (d *fakeDevice) SetRate(rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = rate
}

func (d *fakeDevice) Events() <-chan DeviceEvent {
	return d.events
}

func (d *fakeDevice) emit(t DeviceEventType) {
	d.events <- DeviceEvent{Type: t}
}

func (d *fakeDevice) emitError(err error) {
	d.events <- DeviceEvent{Type: DeviceError, Err: err}
}

// recordingSurface captures surface calls.
type recordingSurface struct {
	mu         sync.Mutex
	nowPlaying *episode.Episode
	playing    bool
	revealed   bool
	cleared    bool
	alerts     []string
}

func (s *recordingSurface) UpdateNowPlaying(ep *episode.Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowPlaying = ep
}

func (s *recordingSurface) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
}

func (s *recordingSurface) Reveal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed = true
}

func (s *recordingSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
}

func (s *recordingSurface) Alert(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, message)
}

func (s *recordingSurface) lastAlert() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alerts) == 0 {
		return ""
	}
	return s.alerts[len(s.alerts)-1]
}

// recordingNotifier captures stream pings.
type recordingNotifier struct {
	ids chan string
}

func (n *recordingNotifier) Notify(_ context.Context, episodeID string) error {
	n.ids <- episodeID
	return nil
}

type fixture struct {
	controller *Controller
	device     *fakeDevice
	surface    *recordingSurface
	notifier   *recordingNotifier
	queue      *queue.Store
	sessions   *session.Store
	progress   *session.ProgressStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	storage := newMemStorage()
	device := newFakeDevice()
	surface := &recordingSurface{}
	notifier := &recordingNotifier{ids: make(chan string, 8)}
	queueStore := queue.NewStore(storage, notification.NewHub(), nil)
	sessions := session.NewStore(storage)
	progress := session.NewProgressStore(storage)

	c, err := NewController(Config{
		Device:        device,
		Queue:         queueStore,
		Sessions:      sessions,
		Progress:      progress,
		Surface:       surface,
		Notifier:      notifier,
		FrameInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &fixture{
		controller: c,
		device:     device,
		surface:    surface,
		notifier:   notifier,
		queue:      queueStore,
		sessions:   sessions,
		progress:   progress,
	}
}

func ep(id string) *episode.Episode {
	return &episode.Episode{
		ID:     id,
		Title:  "Episode " + id,
		Date:   "2026-01-15",
		MP3URL: "https://cdn.example.com/" + id + ".mp3",
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, time.Second, time.Millisecond, "expected state %s", want)
}

func TestControllerStart(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Start(ep("101"), StartOptions{OpenSurface: true})
	require.NoError(t, err)

	assert.Equal(t, StateLoading, f.controller.State())
	assert.Equal(t, "101", f.controller.Current().ID)
	assert.Equal(t, "https://cdn.example.com/101.mp3", f.device.source)
	assert.Equal(t, NormalSpeed, f.controller.Speed())
	assert.True(t, f.surface.revealed)

	// Session is written on start.
	saved := f.sessions.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "101", saved.EpisodeID)
	assert.True(t, saved.IsPlaying)

	// Stream ping fires asynchronously.
	select {
	case id := <-f.notifier.ids:
		assert.Equal(t, "101", id)
	case <-time.After(time.Second):
		t.Fatal("stream notification never sent")
	}

	// The started episode becomes current in the queue store.
	current := f.queue.GetCurrent()
	require.NotNil(t, current)
	assert.Equal(t, "101", current.ID)
}

func TestControllerStartRejectsUnplayable(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Start(&episode.Episode{ID: "101", Title: "No stream"}, StartOptions{})
	require.ErrorIs(t, err, ErrNotPlayable)

	assert.Equal(t, StateIdle, f.controller.State())
	assert.NotEmpty(t, f.surface.lastAlert())
	assert.Nil(t, f.sessions.Load())
}

func TestControllerStartNilEpisode(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Start(nil, StartOptions{})
	require.ErrorIs(t, err, ErrNoEpisode)
}

func TestControllerStartResetsSpeed(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.controller.SetSpeed(2.0)
	require.NoError(t, f.controller.Start(ep("102"), StartOptions{}))

	assert.Equal(t, NormalSpeed, f.controller.Speed())
	assert.Equal(t, NormalSpeed, f.device.Rate())
}

func TestControllerStartResumesProgress(t *testing.T) {
	f := newFixture(t)
	f.progress.Save("101", 742.5)

	require.NoError(t, f.controller.Start(ep("101"), StartOptions{ResumeProgress: true}))

	assert.Equal(t, 742.5, f.device.Position())
}

func TestControllerStartPlayRejected(t *testing.T) {
	f := newFixture(t)
	f.device.playErr = errors.New("device busy")

	err := f.controller.Start(ep("101"), StartOptions{})
	require.Error(t, err)

	assert.Equal(t, StateError, f.controller.State())
	// The session still records the attempted episode for restore.
	saved := f.sessions.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "101", saved.EpisodeID)
	assert.False(t, saved.IsPlaying)
}

func TestControllerPauseResume(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.SetPosition(120)
	require.NoError(t, f.controller.Pause())
	assert.Equal(t, StatePaused, f.controller.State())

	// Pause persists progress and the paused session.
	pos, ok := f.progress.Load("101")
	require.True(t, ok)
	assert.Equal(t, 120.0, pos)
	saved := f.sessions.Load()
	require.NotNil(t, saved)
	assert.False(t, saved.IsPlaying)

	require.NoError(t, f.controller.Resume())
	assert.Equal(t, StatePlaying, f.controller.State())
}

func TestControllerPauseWithoutEpisode(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.controller.Pause(), ErrNoEpisode)
	require.ErrorIs(t, f.controller.Resume(), ErrNoEpisode)
}

func TestControllerResumeWhilePlaying(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	require.ErrorIs(t, f.controller.Resume(), ErrNotPaused)
}

func TestControllerTogglePlayPause(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	require.NoError(t, f.controller.TogglePlayPause())
	assert.Equal(t, StatePaused, f.controller.State())

	require.NoError(t, f.controller.TogglePlayPause())
	assert.Equal(t, StatePlaying, f.controller.State())
}

func TestControllerSeek(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		delta    float64
		want     float64
	}{
		{name: "forward", position: 100, delta: 30, want: 130},
		{name: "backward", position: 100, delta: -15, want: 85},
		{name: "clamped to start", position: 5, delta: -30, want: 0},
		{name: "clamped to end", position: 3590, delta: 30, want: 3600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
			f.device.emit(DeviceCanPlay)
			waitState(t, f.controller, StatePlaying)
			f.device.SetPosition(tt.position)

			require.NoError(t, f.controller.Seek(tt.delta))

			assert.Equal(t, tt.want, f.device.Position())
			pos, ok := f.progress.Load("101")
			require.True(t, ok)
			assert.Equal(t, tt.want, pos)
		})
	}
}

func TestControllerSeekToFraction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))

	require.NoError(t, f.controller.SeekToFraction(0.5))
	assert.Equal(t, 1800.0, f.device.Position())

	require.NoError(t, f.controller.SeekToFraction(1.5))
	assert.Equal(t, 3600.0, f.device.Position())
}

func TestControllerSpeed(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, MaxSpeed, f.controller.SetSpeed(9))
	assert.Equal(t, MinSpeed, f.controller.SetSpeed(0.1))
	assert.Equal(t, 1.5, f.controller.SetSpeed(1.5))
	assert.Equal(t, 1.5, f.device.Rate())
}

func TestControllerCycleSpeed(t *testing.T) {
	f := newFixture(t)

	// From normal speed the ladder climbs, then wraps to the lowest.
	assert.Equal(t, 1.25, f.controller.CycleSpeed())
	assert.Equal(t, 1.5, f.controller.CycleSpeed())
	assert.Equal(t, 1.75, f.controller.CycleSpeed())
	assert.Equal(t, 2.0, f.controller.CycleSpeed())
	assert.Equal(t, 0.75, f.controller.CycleSpeed())
	assert.Equal(t, 1.0, f.controller.CycleSpeed())
}

func TestControllerEndedAdvancesQueue(t *testing.T) {
	f := newFixture(t)
	f.queue.Add(*ep("102"), queue.AddOptions{})
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.emit(DeviceEnded)

	require.Eventually(t, func() bool {
		current := f.controller.Current()
		return current != nil && current.ID == "102"
	}, time.Second, time.Millisecond)

	// The finished episode's progress entry is gone.
	_, ok := f.progress.Load("101")
	assert.False(t, ok)
	assert.Empty(t, f.queue.GetQueue())
}

func TestControllerEndedSkipsUnplayable(t *testing.T) {
	f := newFixture(t)
	f.queue.Add(episode.Episode{ID: "102", Title: "Broken"}, queue.AddOptions{})
	f.queue.Add(*ep("103"), queue.AddOptions{})
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.emit(DeviceEnded)

	require.Eventually(t, func() bool {
		current := f.controller.Current()
		return current != nil && current.ID == "103"
	}, time.Second, time.Millisecond)
}

func TestControllerEndedEmptyQueue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.emit(DeviceEnded)
	waitState(t, f.controller, StateIdle)

	assert.Nil(t, f.controller.Current())
	assert.Nil(t, f.sessions.Load())
	assert.True(t, f.surface.cleared)
}

func TestControllerDeviceError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.emitError(errors.New("network stall"))
	waitState(t, f.controller, StateError)

	// The failed episode stays current so the user can retry.
	require.NotNil(t, f.controller.Current())
	assert.Equal(t, "101", f.controller.Current().ID)
}

func TestControllerRetry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)
	f.device.SetPosition(500)
	f.controller.Seek(0) // persist position

	f.device.emitError(errors.New("network stall"))
	waitState(t, f.controller, StateError)

	require.NoError(t, f.controller.Retry())
	assert.Equal(t, StateLoading, f.controller.State())
	// Retry resumes from the persisted position.
	assert.Equal(t, 500.0, f.device.Position())
}

func TestControllerRetryWithoutError(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.controller.Retry(), ErrNotRetryable)
}

func TestControllerBufferingStall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.emit(DeviceWaiting)
	waitState(t, f.controller, StateLoading)

	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)
}

func TestControllerStallWhilePausedStaysPaused(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)
	require.NoError(t, f.controller.Pause())

	f.device.emit(DeviceCanPlay)

	// CanPlay without play intent must not resume.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatePaused, f.controller.State())
}

func TestControllerTimeUpdatePersistsProgress(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)

	f.device.SetPosition(42)
	f.device.emit(DeviceTimeUpdate)

	require.Eventually(t, func() bool {
		pos, ok := f.progress.Load("101")
		return ok && pos == 42
	}, time.Second, time.Millisecond)
}

func TestControllerAdvance(t *testing.T) {
	f := newFixture(t)
	f.queue.Add(*ep("102"), queue.AddOptions{})
	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))
	f.device.emit(DeviceCanPlay)
	waitState(t, f.controller, StatePlaying)
	f.device.SetPosition(300)

	require.NoError(t, f.controller.Advance())

	assert.Equal(t, "102", f.controller.Current().ID)
	// The skipped episode keeps its position for later.
	pos, ok := f.progress.Load("101")
	require.True(t, ok)
	assert.Equal(t, 300.0, pos)
}

func TestControllerRestoreSession(t *testing.T) {
	t.Run("playing session resumes", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.Save(session.Session{
			EpisodeID:   "101",
			Title:       "Episode 101",
			MP3URL:      "https://cdn.example.com/101.mp3",
			CurrentTime: 900,
			IsPlaying:   true,
		})

		require.True(t, f.controller.RestoreSession())

		assert.Equal(t, StatePlaying, f.controller.State())
		assert.Equal(t, "101", f.controller.Current().ID)
		assert.Equal(t, 900.0, f.device.Position())
	})

	t.Run("paused session stays paused", func(t *testing.T) {
		f := newFixture(t)
		f.sessions.Save(session.Session{
			EpisodeID:   "101",
			Title:       "Episode 101",
			MP3URL:      "https://cdn.example.com/101.mp3",
			CurrentTime: 900,
			IsPlaying:   false,
		})

		require.True(t, f.controller.RestoreSession())

		assert.Equal(t, StatePaused, f.controller.State())
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t)

		require.False(t, f.controller.RestoreSession())
		assert.Equal(t, StateIdle, f.controller.State())
	})
}

func TestControllerEvents(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.controller.Start(ep("101"), StartOptions{}))

	select {
	case ev := <-f.controller.Events():
		assert.Equal(t, EventEpisodeStarted, ev.Type)
		require.NotNil(t, ev.Episode)
		assert.Equal(t, "101", ev.Episode.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
