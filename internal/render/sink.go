// Package render defines the command boundary to the presentation surface.
package render

import (
	"log/slog"
	"time"

	"github.com/jeremyward/tvrelay/internal/media"
	"github.com/jeremyward/tvrelay/internal/model"
)

// Content is the renderable payload of one overlay.
type Content struct {
	Title   string
	Body    string
	IsGroup bool
	Group   string
	Media   *media.Asset // nil when the batch had no media or the fetch failed
}

// Sink receives show/hide commands from the display scheduler. It is the
// only component allowed to touch the physical overlay surface.
//
// Show may fail when the surface is unavailable; the scheduler recovers by
// advancing to the next entry.
type Sink interface {
	Show(content Content, slot model.DisplaySlot, duration time.Duration) error
	Hide()
}

// SinkError wraps a presentation-surface failure.
type SinkError struct {
	Message string
	Cause   error
}

func (e *SinkError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SinkError) Unwrap() error {
	return e.Cause
}

// LogSink writes render commands to the structured log. It stands in for a
// real overlay surface when the daemon runs headless.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Show logs the overlay that would be presented.
func (s *LogSink) Show(content Content, slot model.DisplaySlot, duration time.Duration) error {
	attrs := []any{
		"title", content.Title,
		"body", content.Body,
		"slot", string(slot),
		"duration", duration,
		"is_group", content.IsGroup,
	}
	if content.Media != nil {
		attrs = append(attrs, "media_kind", string(content.Media.Kind))
	}
	s.logger.Info("show overlay", attrs...)
	return nil
}

// Hide logs the dismissal of the active overlay.
func (s *LogSink) Hide() {
	s.logger.Info("hide overlay")
}
