package playback

import "github.com/playdeck/playdeck/internal/domain/episode"

// EventType represents a controller event type.
type EventType int

const (
	EventEpisodeStarted EventType = iota // Playback of an episode began
	EventEpisodeEnded                    // Episode finished naturally
	EventStateChanged                    // State transition (pause/resume/stall)
	EventQueueEmpty                      // Queue exhausted after the last episode
	EventPlaybackFailed                  // Device rejected a play or load request
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventEpisodeStarted:
		return "episode_started"
	case EventEpisodeEnded:
		return "episode_ended"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventPlaybackFailed:
		return "playback_failed"
	default:
		return "unknown"
	}
}

// Event represents a controller event.
type Event struct {
	Type    EventType
	Episode *episode.Episode // Episode concerned (nil for some events)
	State   State            // State after the transition
	Err     error            // Set for EventPlaybackFailed
}
