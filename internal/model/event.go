// Package model defines the core data structures for tvrelay.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Priority levels for incoming events.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// PriorityNames maps priority levels to human-readable names.
var PriorityNames = map[int]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
}

// ParsePriority converts a wire priority string to its level.
// Unknown or empty values default to normal.
func ParsePriority(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// DisplaySlot is an enumerated screen placement for an overlay.
type DisplaySlot string

const (
	// SlotUnset is the sentinel for "no explicit placement requested".
	SlotUnset        DisplaySlot = ""
	SlotTopEnd       DisplaySlot = "top-end"
	SlotTopStart     DisplaySlot = "top-start"
	SlotBottomEnd    DisplaySlot = "bottom-end"
	SlotBottomStart  DisplaySlot = "bottom-start"
	SlotTopCenter    DisplaySlot = "top-center"
	SlotBottomCenter DisplaySlot = "bottom-center"
)

// ValidSlots returns all valid placement slots.
func ValidSlots() []DisplaySlot {
	return []DisplaySlot{
		SlotTopEnd,
		SlotTopStart,
		SlotBottomEnd,
		SlotBottomStart,
		SlotTopCenter,
		SlotBottomCenter,
	}
}

// slotIndex mirrors the numeric slot encoding some producers send.
var slotIndex = []DisplaySlot{
	SlotTopEnd,
	SlotTopStart,
	SlotBottomEnd,
	SlotBottomStart,
	SlotTopCenter,
	SlotBottomCenter,
}

// ParseSlot converts a wire position value to a DisplaySlot.
// Accepts slot names ("top-end") or a numeric index ("0".."5").
// Empty or unrecognized values map to SlotUnset.
func ParseSlot(s string) DisplaySlot {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SlotUnset
	}
	for _, slot := range ValidSlots() {
		if s == string(slot) {
			return slot
		}
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '5' {
		return slotIndex[s[0]-'0']
	}
	return SlotUnset
}

// Duration bounds for a single overlay.
const (
	DefaultDisplaySeconds = 10
	MinDisplaySeconds     = 1
	MaxDisplaySeconds     = 120
)

// NotificationEvent is the unit flowing through the relay pipeline.
type NotificationEvent struct {
	ID                string      `json:"id"`
	SourceApp         string      `json:"source_app"`
	Title             string      `json:"title"`
	Body              string      `json:"body"`
	IsGroup           bool        `json:"is_group"`
	GroupName         string      `json:"group_name,omitempty"`
	SenderName        string      `json:"sender,omitempty"`
	MediaRef          string      `json:"media_ref,omitempty"`
	RequestedDuration int         `json:"requested_duration"` // seconds
	RequestedPosition DisplaySlot `json:"requested_position,omitempty"`
	Priority          int         `json:"priority"`
	ReceivedAt        time.Time   `json:"received_at"`
}

// Validation errors.
var (
	ErrEmptyTitle      = errors.New("title cannot be empty")
	ErrEmptySourceApp  = errors.New("app cannot be empty")
	ErrInvalidPriority = errors.New("priority must be low, normal or high")
	ErrMissingSender   = errors.New("sender is required for group events")
)

// NewEvent creates a NotificationEvent with a generated ULID and defaults.
func NewEvent(sourceApp string) (*NotificationEvent, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ULID: %w", err)
	}

	return &NotificationEvent{
		ID:                id.String(),
		SourceApp:         sourceApp,
		RequestedDuration: DefaultDisplaySeconds,
		Priority:          PriorityNormal,
		ReceivedAt:        time.Now(),
	}, nil
}

// Validate checks that the event has all required fields.
func (e *NotificationEvent) Validate() error {
	if e.SourceApp == "" {
		return ErrEmptySourceApp
	}
	if e.Title == "" {
		return ErrEmptyTitle
	}
	if e.Priority < PriorityLow || e.Priority > PriorityHigh {
		return ErrInvalidPriority
	}
	if e.IsGroup && e.SenderName == "" {
		return ErrMissingSender
	}
	return nil
}

// Duration returns the requested display duration, clamped to sane bounds.
func (e *NotificationEvent) Duration() time.Duration {
	secs := e.RequestedDuration
	if secs < MinDisplaySeconds {
		secs = DefaultDisplaySeconds
	}
	if secs > MaxDisplaySeconds {
		secs = MaxDisplaySeconds
	}
	return time.Duration(secs) * time.Second
}

// HasMedia reports whether the event carries a media reference.
func (e *NotificationEvent) HasMedia() bool {
	return e.MediaRef != ""
}

// DisplayBody returns the body line as it should be rendered.
// Group messages carry a "sender: body" prefix.
func (e *NotificationEvent) DisplayBody() string {
	if e.IsGroup && e.SenderName != "" {
		return e.SenderName + ": " + e.Body
	}
	return e.Body
}
