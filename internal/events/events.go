// Package events publishes best-effort domain events. Publishing never
// blocks or fails the request that produced the event.
package events

import (
	"context"
	"time"
)

const (
	TypeInsights      = "ai.insights"
	TypeSuggestions   = "ai.suggestions"
	TypeSummary       = "ai.summary"
	TypeTranscription = "transcription.completed"
)

// Event is the JSON payload published for every event type.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Fallback   bool      `json:"fallback"`
	At         time.Time `json:"at"`
}

// Publisher sends events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Subject joins prefix and event type: "crm" + "ai.summary" -> "crm.ai.summary".
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
