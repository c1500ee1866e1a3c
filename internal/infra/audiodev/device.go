// Package audiodev provides a simulated audio output device. It keeps
// a wall-clock position that advances at the playback rate, which is
// enough to drive the playback controller without a sound card.
package audiodev

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/playdeck/playdeck/internal/app/playback"
)

const (
	// DefaultTickInterval is the position clock resolution.
	DefaultTickInterval = 250 * time.Millisecond
	// DefaultDuration is assumed when no duration resolver is set.
	DefaultDuration = 3600.0
)

// DurationFunc resolves a media duration in seconds for a source URL.
// Returning 0 falls back to the configured default.
type DurationFunc func(url string) float64

// Config holds device configuration.
type Config struct {
	TickInterval    time.Duration
	DefaultDuration float64
	Duration        DurationFunc
}

// Device is a simulated playback.Device. All events are emitted from
// the device's own clock goroutine, never from command methods.
type Device struct {
	mu sync.Mutex

	source   string
	position float64
	duration float64
	rate     float64
	playing  bool

	// Pending event flags drained by the clock goroutine.
	pendingLoad bool
	pendingPlay bool

	defaultDuration float64
	durationFn      DurationFunc

	events chan playback.DeviceEvent
	stop   chan struct{}
	done   chan struct{}
}

// New creates a device and starts its clock.
func New(cfg Config) *Device {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	defaultDuration := cfg.DefaultDuration
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}

	d := &Device{
		rate:            1.0,
		defaultDuration: defaultDuration,
		durationFn:      cfg.Duration,
		events:          make(chan playback.DeviceEvent, 32),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	go d.clock(tick)
	return d
}

// Close stops the clock and closes the event channel.
func (d *Device) Close() {
	close(d.stop)
	<-d.done
}

// AttachSource implements playback.Device.
func (d *Device) AttachSource(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.source = url
}

// Load implements playback.Device. The new source's metadata and
// readiness events are reported on the next clock tick.
func (d *Device) Load() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.position = 0
	d.playing = false
	d.duration = d.defaultDuration
	if d.durationFn != nil && d.source != "" {
		if resolved := d.durationFn(d.source); resolved > 0 {
			d.duration = resolved
		}
	}
	d.pendingLoad = true
}

// Play implements playback.Device.
func (d *Device) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.source == "" {
		return errors.New("no source attached")
	}
	if !d.playing {
		d.playing = true
		d.pendingPlay = true
	}
	return nil
}

// Pause implements playback.Device. The pause takes effect
// immediately; no pause event is emitted for a commanded pause.
func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
}

// Position implements playback.Device.
func (d *Device) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// SetPosition implements playback.Device.
func (d *Device) SetPosition(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seconds < 0 {
		seconds = 0
	}
	if d.duration > 0 && seconds > d.duration {
		seconds = d.duration
	}
	d.position = seconds
}

// Duration implements playback.Device.
func (d *Device) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

// Buffered implements playback.Device. The simulation treats the
// source as fully buffered.
func (d *Device) Buffered() float64 {
	return d.Duration()
}

// Rate implements playback.Device.
func (d *Device) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

// SetRate implements playback.Device.
func (d *Device) SetRate(rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rate > 0 {
		d.rate = rate
	}
}

// Events implements playback.Device.
func (d *Device) Events() <-chan playback.DeviceEvent {
	return d.events
}

// clock advances the position and drains pending events.
func (d *Device) clock(tick time.Duration) {
	defer close(d.done)
	defer close(d.events)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			for _, ev := range d.advance(tick) {
				select {
				case d.events <- ev:
				case <-d.stop:
					return
				}
			}
		}
	}
}

// advance moves the clock one tick and returns the events to emit.
func (d *Device) advance(tick time.Duration) []playback.DeviceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []playback.DeviceEvent
	if d.pendingLoad {
		d.pendingLoad = false
		out = append(out,
			playback.DeviceEvent{Type: playback.DeviceLoadedMetadata},
			playback.DeviceEvent{Type: playback.DeviceDurationChange},
			playback.DeviceEvent{Type: playback.DeviceCanPlay},
		)
	}
	if d.pendingPlay {
		d.pendingPlay = false
		out = append(out, playback.DeviceEvent{Type: playback.DevicePlay})
	}

	if !d.playing {
		return out
	}

	d.position += tick.Seconds() * d.rate
	if d.duration > 0 && d.position >= d.duration {
		d.position = d.duration
		d.playing = false
		zlog.Debug().Str("source", d.source).Msg("simulated playback reached end of media")
		out = append(out, playback.DeviceEvent{Type: playback.DeviceEnded})
		return out
	}
	out = append(out, playback.DeviceEvent{Type: playback.DeviceTimeUpdate})
	return out
}
