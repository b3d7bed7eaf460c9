package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// FallbackTitle is used when a merged batch has no usable title.
const FallbackTitle = "Notifications"

// MergedBatch is one or more NotificationEvents collapsed into a single
// renderable unit within one merge window.
type MergedBatch struct {
	ID                string      `json:"id"`
	SourceApp         string      `json:"source_app"`
	Title             string      `json:"title"`
	Body              string      `json:"body"`
	IsGroup           bool        `json:"is_group"`
	GroupName         string      `json:"group_name,omitempty"`
	MediaRef          string      `json:"media_ref,omitempty"`
	Priority          int         `json:"priority"`
	RequestedPosition DisplaySlot `json:"requested_position,omitempty"`
	Duration          time.Duration
	EventIDs          []string  `json:"event_ids"`
	SealedAt          time.Time `json:"sealed_at"`
}

// Size returns the number of events collapsed into the batch.
func (b *MergedBatch) Size() int {
	return len(b.EventIDs)
}

// HasMedia reports whether the batch carries a media reference.
func (b *MergedBatch) HasMedia() bool {
	return b.MediaRef != ""
}

// NewBatch seals the given events into one MergedBatch.
//
// Merge rules: title comes from the first event (or a generic fallback),
// bodies are newline-joined in arrival order, the batch counts as a group
// when it holds more than one event or any member is a group message, and
// only the first member's media survives. Priority is the highest of any
// member, and the first explicitly requested position wins.
func NewBatch(events []*NotificationEvent) *MergedBatch {
	if len(events) == 0 {
		return nil
	}

	first := events[0]
	b := &MergedBatch{
		SourceApp: first.SourceApp,
		Title:     first.Title,
		IsGroup:   len(events) > 1,
		MediaRef:  first.MediaRef,
		Priority:  first.Priority,
		Duration:  first.Duration(),
		SealedAt:  time.Now(),
	}
	if b.Title == "" {
		b.Title = FallbackTitle
	}

	id, err := ulid.New(ulid.Timestamp(b.SealedAt), rand.Reader)
	if err == nil {
		b.ID = id.String()
	} else {
		// ULID generation only fails when the entropy source does;
		// fall back to the first event's ID rather than dropping the batch.
		b.ID = first.ID
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, ev.DisplayBody())
		b.EventIDs = append(b.EventIDs, ev.ID)

		if ev.IsGroup {
			b.IsGroup = true
			if b.GroupName == "" {
				b.GroupName = ev.GroupName
			}
		}
		if ev.Priority > b.Priority {
			b.Priority = ev.Priority
		}
		if b.RequestedPosition == SlotUnset && ev.RequestedPosition != SlotUnset {
			b.RequestedPosition = ev.RequestedPosition
		}
	}
	b.Body = strings.Join(lines, "\n")

	return b
}
