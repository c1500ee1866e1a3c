package audiodev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdeck/playdeck/internal/app/playback"
)

func waitEvent(t *testing.T, d *Device, want playback.DeviceEventType) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-d.Events():
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDeviceLoadEmitsReadiness(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond, DefaultDuration: 60})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/101.mp3")
	d.Load()

	waitEvent(t, d, playback.DeviceCanPlay)
	assert.Equal(t, 60.0, d.Duration())
	assert.Equal(t, 0.0, d.Position())
}

func TestDevicePlayAdvancesPosition(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond, DefaultDuration: 60})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/101.mp3")
	d.Load()
	require.NoError(t, d.Play())

	waitEvent(t, d, playback.DeviceTimeUpdate)
	require.Eventually(t, func() bool {
		return d.Position() > 0
	}, 2*time.Second, time.Millisecond)

	d.Pause()
	position := d.Position()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, position, d.Position(), "position must not advance while paused")
}

func TestDevicePlayWithoutSource(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond})
	defer d.Close()

	require.Error(t, d.Play())
}

func TestDeviceEndsAtDuration(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond, DefaultDuration: 0.01})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/101.mp3")
	d.Load()
	require.NoError(t, d.Play())

	waitEvent(t, d, playback.DeviceEnded)
	assert.Equal(t, d.Duration(), d.Position())
}

func TestDeviceRateScalesClock(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond, DefaultDuration: 3600})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/101.mp3")
	d.Load()
	d.SetRate(2.0)
	require.NoError(t, d.Play())

	require.Eventually(t, func() bool {
		return d.Position() >= 0.01
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 2.0, d.Rate())

	// Rates must stay positive.
	d.SetRate(-1)
	assert.Equal(t, 2.0, d.Rate())
}

func TestDeviceDurationResolver(t *testing.T) {
	d := New(Config{
		TickInterval:    time.Millisecond,
		DefaultDuration: 60,
		Duration: func(url string) float64 {
			if url == "https://cdn.example.com/long.mp3" {
				return 7200
			}
			return 0
		},
	})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/long.mp3")
	d.Load()
	assert.Equal(t, 7200.0, d.Duration())

	// Unresolvable sources fall back to the default.
	d.AttachSource("https://cdn.example.com/other.mp3")
	d.Load()
	assert.Equal(t, 60.0, d.Duration())
}

func TestDeviceSetPositionClamps(t *testing.T) {
	d := New(Config{TickInterval: time.Millisecond, DefaultDuration: 60})
	defer d.Close()

	d.AttachSource("https://cdn.example.com/101.mp3")
	d.Load()

	d.SetPosition(-5)
	assert.Equal(t, 0.0, d.Position())

	d.SetPosition(600)
	assert.Equal(t, 60.0, d.Position())
}
