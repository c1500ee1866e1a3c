// Package playback provides the playback controller: the state
// machine driving one audio output device through the play queue.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing loaded
	StateLoading              // Source attached, not yet playable
	StatePlaying              // Device is playing
	StatePaused               // Device is paused
	StateEnded                // Current episode finished
	StateError                // Device rejected a load/play request
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
