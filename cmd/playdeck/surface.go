package main

import (
	"fmt"

	"github.com/playdeck/playdeck/internal/domain/episode"
)

// consoleSurface renders the now-playing state to stdout.
type consoleSurface struct{}

func (consoleSurface) UpdateNowPlaying(ep *episode.Episode) {
	if ep == nil {
		return
	}
	fmt.Printf("Now playing: %s\n", ep.Label())
}

func (consoleSurface) SetPlaying(playing bool) {
	if playing {
		fmt.Println("▶ playing")
	} else {
		fmt.Println("⏸ paused")
	}
}

func (consoleSurface) Reveal() {}

func (consoleSurface) Clear() {
	fmt.Println("Playback finished.")
}

func (consoleSurface) Alert(message string) {
	fmt.Printf("! %s\n", message)
}

// formatPosition renders seconds as h:mm:ss or m:ss.
func formatPosition(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
