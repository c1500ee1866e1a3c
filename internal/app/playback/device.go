package playback

// DeviceEventType enumerates the events an audio output device
// reports back to the controller.
type DeviceEventType int

const (
	DevicePlay DeviceEventType = iota
	DevicePause
	DeviceEnded
	DeviceError
	DeviceWaiting
	DeviceCanPlay
	DeviceLoadedMetadata
	DeviceProgress
	DeviceDurationChange
	DeviceTimeUpdate
)

// String returns the string representation of the device event type.
func (d DeviceEventType) String() string {
	switch d {
	case DevicePlay:
		return "play"
	case DevicePause:
		return "pause"
	case DeviceEnded:
		return "ended"
	case DeviceError:
		return "error"
	case DeviceWaiting:
		return "waiting"
	case DeviceCanPlay:
		return "canplay"
	case DeviceLoadedMetadata:
		return "loadedmetadata"
	case DeviceProgress:
		return "progress"
	case DeviceDurationChange:
		return "durationchange"
	case DeviceTimeUpdate:
		return "timeupdate"
	default:
		return "unknown"
	}
}

// DeviceEvent is an event reported by the device.
type DeviceEvent struct {
	Type DeviceEventType
	Err  error // Set for DeviceError
}

// Device is the single audio output the controller exclusively owns.
// Command methods must not deliver events synchronously on the
// caller's goroutine; events arrive on the Events channel only.
type Device interface {
	// AttachSource binds a new media source URL.
	AttachSource(url string)
	// Load resets the device against the attached source.
	Load()
	// Play requests playback. The request may still fail later via a
	// DeviceError event.
	Play() error
	// Pause halts playback.
	Pause()
	// Position returns the current position in seconds.
	Position() float64
	// SetPosition seeks to the given position in seconds.
	SetPosition(seconds float64)
	// Duration returns the media duration in seconds, 0 if unknown.
	Duration() float64
	// Buffered returns the buffered extent in seconds.
	Buffered() float64
	// Rate returns the playback rate multiplier.
	Rate() float64
	// SetRate sets the playback rate multiplier.
	SetRate(rate float64)
	// Events returns the device event channel.
	Events() <-chan DeviceEvent
}
