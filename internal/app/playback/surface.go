package playback

import "github.com/playdeck/playdeck/internal/domain/episode"

// Surface is the optional now-playing UI collaborator. A missing
// rendering surface is never an error; the default implementation
// does nothing.
type Surface interface {
	// UpdateNowPlaying refreshes labels for the given episode.
	// A nil episode means nothing is playing.
	UpdateNowPlaying(ep *episode.Episode)
	// SetPlaying reflects the play/pause toggle.
	SetPlaying(playing bool)
	// Reveal brings the player surface into view.
	Reveal()
	// Clear hides the player surface entirely.
	Clear()
	// Alert shows a user-visible, non-fatal message.
	Alert(message string)
}

// NopSurface is the default Surface when no UI is attached.
type NopSurface struct{}

func (NopSurface) UpdateNowPlaying(*episode.Episode) {}
func (NopSurface) SetPlaying(bool)                   {}
func (NopSurface) Reveal()                           {}
func (NopSurface) Clear()                            {}
func (NopSurface) Alert(string)                      {}
