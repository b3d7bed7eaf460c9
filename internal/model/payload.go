package model

import (
	"time"
)

// Payload is the wire-level body accepted at the /notify endpoint.
// Producers may send it JSON- or form-encoded; field names follow the
// contract the source device emits.
type Payload struct {
	Title     string `json:"title" form:"title"`
	Message   string `json:"message" form:"message"`
	App       string `json:"app" form:"app"`
	Duration  int    `json:"duration" form:"duration"`
	Position  string `json:"position" form:"position"`
	Priority  string `json:"priority" form:"priority"`
	IsGroup   bool   `json:"is_group" form:"is_group"`
	GroupName string `json:"group_name" form:"group_name"`
	Sender    string `json:"sender" form:"sender"`
	MediaURL  string `json:"media_url" form:"media_url"`
}

// ToEvent converts the payload into a validated NotificationEvent.
// Returns a validation error when required fields are missing.
func (p *Payload) ToEvent() (*NotificationEvent, error) {
	ev, err := NewEvent(p.App)
	if err != nil {
		return nil, err
	}

	ev.Title = p.Title
	ev.Body = p.Message
	ev.IsGroup = p.IsGroup
	ev.GroupName = p.GroupName
	ev.SenderName = p.Sender
	ev.MediaRef = p.MediaURL
	ev.RequestedPosition = ParseSlot(p.Position)
	ev.Priority = ParsePriority(p.Priority)
	ev.ReceivedAt = time.Now()

	if p.Duration > 0 {
		ev.RequestedDuration = p.Duration
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
