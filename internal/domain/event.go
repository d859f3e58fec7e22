package domain

import "time"

// EventType identifies a position lifecycle event.
type EventType string

const (
	EventPositionOpened    EventType = "position_opened"
	EventTrailingActivated EventType = "trailing_activated"
	EventPositionClosed    EventType = "position_closed"
)

// Event is a position lifecycle notification emitted by the engine. Events
// are forwarded fire-and-forget to the notification sink and to connected
// dashboard clients.
type Event struct {
	Type     EventType `json:"type"`
	Position Position  `json:"position"`
	Price    float64   `json:"price,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink receives events without blocking the caller.
type EventSink interface {
	Publish(evt Event)
}
