package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/playdeck/playdeck/internal/app/analytics"
	"github.com/playdeck/playdeck/internal/app/queue"
	"github.com/playdeck/playdeck/internal/app/schedule"
	"github.com/playdeck/playdeck/internal/app/session"
	"github.com/playdeck/playdeck/internal/domain/episode"
)

// Errors
var (
	ErrNoEpisode    = errors.New("no episode loaded")
	ErrNotPlayable  = errors.New("episode has no playable source")
	ErrNotPlaying   = errors.New("not playing")
	ErrNotPaused    = errors.New("not paused")
	ErrNotRetryable = errors.New("nothing to retry")
)

// StreamNotifier reports that an episode began streaming. The call is
// fire-and-forget; the controller logs the result and moves on.
type StreamNotifier interface {
	Notify(ctx context.Context, episodeID string) error
}

// NopNotifier is the default StreamNotifier.
type NopNotifier struct{}

// Notify implements StreamNotifier.
func (NopNotifier) Notify(context.Context, string) error { return nil }

// StartOptions control Start behavior.
type StartOptions struct {
	// OpenSurface reveals the player surface after playback begins.
	OpenSurface bool
	// ResumeProgress seeks to the episode's saved position.
	ResumeProgress bool
}

// Config holds controller configuration.
type Config struct {
	Device    Device
	Queue     *queue.Store
	Sessions  *session.Store
	Progress  *session.ProgressStore
	Surface   Surface
	Analytics analytics.Sink
	Notifier  StreamNotifier

	// FrameInterval paces coalesced progress persistence.
	FrameInterval time.Duration
}

// Controller is the playback state machine. It exclusively owns the
// audio output device; all mutation of device source, position and
// rate goes through here.
type Controller struct {
	mu sync.Mutex

	device    Device
	queue     *queue.Store
	sessions  *session.Store
	progress  *session.ProgressStore
	surface   Surface
	sink      analytics.Sink
	notifier  StreamNotifier
	coalescer *schedule.Coalescer

	state   State
	current *episode.Episode
	speed   float64

	// wantPlaying tracks the user's intent across buffering stalls:
	// true from a play command until pause, error or end of queue.
	wantPlaying bool

	closed  bool
	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller and starts consuming device
// events.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, errors.New("playback: device is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("playback: queue store is required")
	}
	if cfg.Sessions == nil || cfg.Progress == nil {
		return nil, errors.New("playback: session stores are required")
	}
	if cfg.Surface == nil {
		cfg.Surface = NopSurface{}
	}
	if cfg.Analytics == nil {
		cfg.Analytics = analytics.NopSink{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		device:    cfg.Device,
		queue:     cfg.Queue,
		sessions:  cfg.Sessions,
		progress:  cfg.Progress,
		surface:   cfg.Surface,
		sink:      cfg.Analytics,
		notifier:  cfg.Notifier,
		coalescer: schedule.NewCoalescer(cfg.FrameInterval),
		state:     StateIdle,
		speed:     NormalSpeed,
		eventCh:   make(chan Event, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.deviceLoop()
	return c, nil
}

// Events returns the controller event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a copy of the episode bound to the device, or nil.
func (c *Controller) Current() *episode.Episode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Speed returns the effective playback speed.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Position returns the current device position in seconds.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device.Position()
}

// Start begins playback of the episode. The episode is made current
// in the queue store (never enqueued), the saved position is restored
// when requested, and the playback speed is reset to normal. An
// episode without a playable source is rejected with a user-visible
// alert and no state change.
func (c *Controller) Start(ep *episode.Episode, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ep, opts)
}

func (c *Controller) startLocked(ep *episode.Episode, opts StartOptions) error {
	var normalized *episode.Episode
	if ep != nil {
		normalized = episode.NormalizeRecord(*ep)
	}
	if normalized == nil {
		return ErrNoEpisode
	}
	if !normalized.Playable() {
		c.surface.Alert("Stream not available for this episode.")
		return ErrNotPlayable
	}

	c.current = normalized
	c.queue.SetCurrent(normalized, queue.SetCurrentOptions{})

	c.device.AttachSource(normalized.MP3URL)
	c.device.Load()
	c.state = StateLoading

	// Speed never carries over between episodes.
	c.speed = NormalSpeed
	c.device.SetRate(NormalSpeed)

	if opts.ResumeProgress {
		if saved, ok := c.progress.Load(normalized.ID); ok {
			c.device.SetPosition(saved)
		}
	}

	playErr := c.device.Play()
	if playErr != nil {
		c.state = StateError
		c.wantPlaying = false
		zlog.Warn().Err(playErr).Str("episode_id", normalized.ID).Msg("play request rejected")
	} else {
		c.wantPlaying = true
	}

	// The session is written even when the play request failed, so a
	// later restore still lands on this episode.
	c.saveSessionLocked(playErr == nil)

	c.surface.UpdateNowPlaying(normalized)
	c.surface.SetPlaying(playErr == nil)
	if opts.OpenSurface {
		c.surface.Reveal()
	}

	if playErr != nil {
		c.sendEventLocked(Event{Type: EventPlaybackFailed, Episode: c.current, State: c.state, Err: playErr})
		return playErr
	}

	c.pingStream(normalized.ID)
	c.sink.Track("playback_started", map[string]any{
		"episode_title": normalized.Title,
		"episode_date":  normalized.Date,
	})

	c.sendEventLocked(Event{Type: EventEpisodeStarted, Episode: c.current, State: c.state})
	return nil
}

// Pause pauses the device and persists session and progress.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoEpisode
	}
	if c.state != StatePlaying && c.state != StateLoading {
		return ErrNotPlaying
	}

	c.device.Pause()
	c.wantPlaying = false
	c.state = StatePaused

	// Persist directly instead of waiting out a scheduled frame.
	c.coalescer.Cancel()
	c.persistProgressLocked()

	c.surface.SetPlaying(false)
	c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
	return nil
}

// Resume resumes paused playback.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoEpisode
	}
	if c.state != StatePaused && c.state != StateEnded {
		return ErrNotPaused
	}

	if err := c.device.Play(); err != nil {
		c.state = StateError
		c.wantPlaying = false
		c.sendEventLocked(Event{Type: EventPlaybackFailed, Episode: c.current, State: c.state, Err: err})
		return err
	}

	c.wantPlaying = true
	c.state = StatePlaying
	c.saveSessionLocked(true)
	c.surface.SetPlaying(true)
	c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
	return nil
}

// TogglePlayPause pauses when playing and resumes otherwise.
func (c *Controller) TogglePlayPause() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StatePlaying || state == StateLoading {
		return c.Pause()
	}
	return c.Resume()
}

// Seek moves the position by deltaSeconds, clamped to the media
// bounds. Progress is persisted immediately; the state is unchanged.
func (c *Controller) Seek(deltaSeconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoEpisode
	}
	c.seekToLocked(c.device.Position() + deltaSeconds)
	return nil
}

// SeekToFraction seeks to the given fraction of the media duration.
func (c *Controller) SeekToFraction(fraction float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoEpisode
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	c.seekToLocked(fraction * c.device.Duration())
	return nil
}

func (c *Controller) seekToLocked(target float64) {
	if target < 0 {
		target = 0
	}
	if duration := c.device.Duration(); duration > 0 && target > duration {
		target = duration
	}
	c.device.SetPosition(target)
	c.persistProgressLocked()
}

// SetSpeed sets the playback rate, clamped into [MinSpeed, MaxSpeed],
// and returns the effective value. Speed is not persisted; the next
// start resets it to normal.
func (c *Controller) SetSpeed(rate float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.speed = ClampSpeed(rate)
	c.device.SetRate(c.speed)
	return c.speed
}

// CycleSpeed advances to the next ladder stop, wrapping to the lowest.
func (c *Controller) CycleSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.speed = NextLadderSpeed(c.speed)
	c.device.SetRate(c.speed)
	return c.speed
}

// Advance skips to the next queued episode. The skipped episode's
// position is persisted first so it can be resumed later.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.coalescer.Cancel()
		c.persistProgressLocked()
	}
	return c.advanceLocked()
}

// Retry re-issues playback for the episode that failed, resuming from
// its saved position.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateError || c.current == nil {
		return ErrNotRetryable
	}
	return c.startLocked(c.current, StartOptions{ResumeProgress: true})
}

// RestoreSession reconstructs player state from the persisted session
// after a restart. Restoring never re-triggers completion side
// effects. Returns true when a session was restored.
func (c *Controller) RestoreSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	saved := c.sessions.Load()
	if saved == nil {
		c.surface.UpdateNowPlaying(nil)
		return false
	}

	restored := episode.NormalizeRecord(episode.Episode{
		ID:     saved.EpisodeID,
		Title:  saved.Title,
		Date:   saved.Date,
		MP3URL: saved.MP3URL,
		URL:    saved.URL,
	})
	if restored == nil {
		return false
	}

	c.current = restored
	c.queue.SetCurrent(restored, queue.SetCurrentOptions{})

	c.device.AttachSource(restored.MP3URL)
	c.device.Load()
	c.device.SetPosition(saved.CurrentTime)
	c.speed = NormalSpeed
	c.device.SetRate(NormalSpeed)

	if saved.IsPlaying && restored.Playable() {
		if err := c.device.Play(); err != nil {
			c.state = StateError
			c.wantPlaying = false
			c.sendEventLocked(Event{Type: EventPlaybackFailed, Episode: c.current, State: c.state, Err: err})
			return true
		}
		c.wantPlaying = true
		c.state = StatePlaying
	} else {
		c.wantPlaying = false
		c.state = StatePaused
	}

	c.surface.UpdateNowPlaying(restored)
	c.surface.SetPlaying(c.wantPlaying)
	return true
}

// Close releases the controller, flushing the final progress write.
func (c *Controller) Close() {
	c.mu.Lock()
	c.coalescer.Stop()
	if c.current != nil {
		c.persistProgressLocked()
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	close(c.eventCh)
}

// deviceLoop consumes device events until the controller is closed.
func (c *Controller) deviceLoop() {
	events := c.device.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleDeviceEvent(ev)
		}
	}
}

func (c *Controller) handleDeviceEvent(ev DeviceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case DevicePlay:
		if c.state == StateLoading || c.state == StatePaused {
			c.state = StatePlaying
			c.surface.SetPlaying(true)
			c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
		}
	case DevicePause:
		if c.state == StatePlaying {
			c.state = StatePaused
			c.coalescer.Cancel()
			c.persistProgressLocked()
			c.surface.SetPlaying(false)
			c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
		}
	case DeviceEnded:
		c.handleEndedLocked()
	case DeviceError:
		if c.current == nil {
			return
		}
		c.state = StateError
		c.wantPlaying = false
		zlog.Warn().Err(ev.Err).Str("episode_id", c.current.ID).Msg("device reported an error")
		c.surface.SetPlaying(false)
		c.sendEventLocked(Event{Type: EventPlaybackFailed, Episode: c.current, State: c.state, Err: ev.Err})
	case DeviceWaiting:
		if c.state == StatePlaying {
			c.state = StateLoading
			c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
		}
	case DeviceCanPlay:
		if c.state == StateLoading && c.wantPlaying {
			c.state = StatePlaying
			c.sendEventLocked(Event{Type: EventStateChanged, Episode: c.current, State: c.state})
		}
	case DeviceTimeUpdate:
		if c.state == StatePlaying {
			// Coalesced to at most one write per frame interval.
			c.coalescer.Schedule(c.persistProgressNow)
		}
	case DeviceLoadedMetadata, DeviceDurationChange, DeviceProgress:
		zlog.Debug().Str("device_event", ev.Type.String()).Msg("device metadata update")
	}
}

// handleEndedLocked handles a natural completion: the finished
// episode's progress entry and the session are cleared, then the
// queue advances.
func (c *Controller) handleEndedLocked() {
	if c.current == nil {
		return
	}

	ended := c.current
	c.progress.Clear(ended.ID)
	c.sessions.Clear()
	c.state = StateEnded
	c.sink.Track("playback_completed", map[string]any{
		"episode_title": ended.Title,
	})
	c.sendEventLocked(Event{Type: EventEpisodeEnded, Episode: ended, State: c.state})

	if err := c.advanceLocked(); err != nil {
		zlog.Debug().Err(err).Msg("auto-advance stopped")
	}
}

// advanceLocked dequeues the next playable episode and starts it, or
// winds down to idle when the queue runs out. Unplayable episodes are
// skipped rather than stalling the run.
func (c *Controller) advanceLocked() error {
	for {
		next := c.queue.Next()
		if next == nil {
			c.windDownLocked()
			return nil
		}
		if !next.Playable() {
			zlog.Warn().Str("episode_id", next.ID).Msg("skipping episode without a playable source")
			continue
		}
		return c.startLocked(next, StartOptions{ResumeProgress: true})
	}
}

// windDownLocked clears the now-playing surface at end of queue.
func (c *Controller) windDownLocked() {
	c.device.Pause()
	c.current = nil
	c.wantPlaying = false
	c.state = StateIdle
	c.sessions.Clear()

	c.surface.UpdateNowPlaying(nil)
	c.surface.SetPlaying(false)
	c.surface.Clear()
	c.sendEventLocked(Event{Type: EventQueueEmpty, State: c.state})
}

// persistProgressNow is the coalesced frame task.
func (c *Controller) persistProgressNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistProgressLocked()
}

func (c *Controller) persistProgressLocked() {
	if c.current == nil {
		return
	}
	if c.state == StatePlaying || c.state == StatePaused || c.state == StateLoading {
		c.progress.Save(c.current.ID, c.device.Position())
	}
	c.saveSessionLocked(c.wantPlaying)
}

func (c *Controller) saveSessionLocked(isPlaying bool) {
	if c.current == nil {
		return
	}
	c.sessions.Save(session.Session{
		EpisodeID:   c.current.ID,
		Title:       c.current.Title,
		MP3URL:      c.current.MP3URL,
		Date:        c.current.Date,
		URL:         c.current.URL,
		CurrentTime: c.device.Position(),
		IsPlaying:   isPlaying,
	})
}

// pingStream reports the stream start without blocking playback.
func (c *Controller) pingStream(episodeID string) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		if err := c.notifier.Notify(ctx, episodeID); err != nil {
			zlog.Debug().Err(err).Str("episode_id", episodeID).Msg("stream notification failed")
		}
	}()
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		// Channel full, drop the event.
	}
}
