package domain

import (
	"encoding/json"
	"time"
)

// EventRepository records the event producers and events created upstream.
type EventRepository interface {
	// InsertEventProducer stores a producer returned by the upstream API.
	InsertEventProducer(producer *EventProducer) error
	// GetEventProducers returns every stored producer, newest first.
	GetEventProducers() ([]*EventProducer, error)
	// InsertEvent stores an event returned by the upstream API.
	InsertEvent(event *Event) error
	// GetEvents returns up to limit stored events, newest first.
	GetEvents(limit int) ([]*Event, error)
}

// EventProducerInput describes a producer to create upstream.
type EventProducerInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Active      bool           `json:"active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// EventProducer is a mutation-side actor that owns events.
type EventProducer struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Active      bool            `json:"active"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EventInput is the CreateEventInput sent to the upstream API.
type EventInput struct {
	EventProducerID string         `json:"eventProducerId"`
	Type            string         `json:"type"`
	SubType         string         `json:"subType"`
	StartTime       string         `json:"startTime"`
	EndTime         string         `json:"endTime"`
	Draft           bool           `json:"draft"`
	Metadata        map[string]any `json:"metadata"`
}

// EventProducerRef is the short producer view embedded in an event.
type EventProducerRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Event is an event created upstream.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	SubType       string            `json:"subType"`
	StartTime     string            `json:"startTime"`
	EndTime       string            `json:"endTime"`
	Draft         bool              `json:"draft"`
	Metadata      json.RawMessage   `json:"metadata,omitempty"`
	EventProducer *EventProducerRef `json:"eventProducer,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
