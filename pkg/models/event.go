package models

import "github.com/codeready-toolchain/chatd/ent"

// PublishEventRequest contains fields for publishing an event envelope.
type PublishEventRequest struct {
	ConversationID string         `json:"conversation_id"`
	Type           string         `json:"type"`
	CorrelationID  string         `json:"correlation_id"`
	Payload        map[string]any `json:"payload"`
}

// EventResponse wraps an Event
type EventResponse struct {
	*ent.Event
}

// EventsResponse contains list of events since a given ID
type EventsResponse struct {
	Events []*ent.Event `json:"events"`
}
