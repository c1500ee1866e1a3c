// Package episode provides the Episode domain entity and its normalizer.
package episode

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// DefaultTitle is used when an episode arrives without a title.
const DefaultTitle = "Untitled Episode"

// Episode represents a playable podcast episode.
// Immutable once normalized; callers receive copies, never shared state.
type Episode struct {
	ID        string `json:"id" mapstructure:"id"`
	Title     string `json:"title" mapstructure:"title"`
	Date      string `json:"date" mapstructure:"date"`
	MP3URL    string `json:"mp3url" mapstructure:"mp3url"`
	URL       string `json:"url" mapstructure:"url"`
	ShowNotes string `json:"show_notes" mapstructure:"show_notes"`
}

// Normalize shapes raw episode input into a canonical record.
// Returns nil when the input has no usable id. Numeric ids are
// coerced to their decimal string form.
func Normalize(input map[string]any) *Episode {
	if input == nil {
		return nil
	}

	var ep Episode
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ep,
		WeaklyTypedInput: true,
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("episode: failed to build decoder")
		return nil
	}
	if err := decoder.Decode(input); err != nil {
		zlog.Warn().Err(err).Msg("episode: failed to decode raw input")
		return nil
	}

	return NormalizeRecord(ep)
}

// NormalizeRecord fills defaults on an already-typed record.
// Idempotent: normalizing a normalized record yields an equal record.
// Returns nil when the id is empty.
func NormalizeRecord(ep Episode) *Episode {
	ep.ID = strings.TrimSpace(ep.ID)
	if ep.ID == "" {
		return nil
	}
	if ep.Title == "" {
		ep.Title = DefaultTitle
	}
	return &ep
}

// Clone returns a defensive copy. Nil in, nil out.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Playable reports whether the episode has a playable source.
func (e *Episode) Playable() bool {
	return e != nil && e.MP3URL != ""
}

// Label renders the display label for now-playing surfaces.
func (e *Episode) Label() string {
	if e == nil || e.ID == "" {
		return ""
	}
	title := e.Title
	if title == "" {
		title = DefaultTitle
	}
	if e.Date != "" {
		return fmt.Sprintf("%s (%s)", title, e.Date)
	}
	return title
}
