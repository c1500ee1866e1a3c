// Package analytics defines the optional analytics capability.
package analytics

import (
	zlog "github.com/rs/zerolog/log"
)

// Sink receives named usage events. Implementations must never block
// or fail the caller; emission is strictly fire-and-forget.
type Sink interface {
	Track(event string, props map[string]any)
}

// NopSink discards all events. It is the default when no analytics
// collaborator is configured at startup.
type NopSink struct{}

// Track implements Sink.
func (NopSink) Track(string, map[string]any) {}

// LogSink writes events to the debug log.
type LogSink struct{}

// Track implements Sink.
func (LogSink) Track(event string, props map[string]any) {
	zlog.Debug().Fields(props).Str("event", event).Msg("analytics")
}
