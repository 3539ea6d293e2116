package events

import (
	"context"

	"github.com/codeready-toolchain/chatd/ent"
)

// eventQuerier abstracts the event query method needed by EventServiceAdapter.
// Implemented by *services.EventService.
type eventQuerier interface {
	GetEventsSince(ctx context.Context, conversationID string, sinceEventID string, limit int) ([]*ent.Event, error)
}

// EventServiceAdapter wraps an eventQuerier to implement CatchupQuerier.
type EventServiceAdapter struct {
	querier eventQuerier
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(es eventQuerier) *EventServiceAdapter {
	return &EventServiceAdapter{querier: es}
}

// GetCatchupEvents queries events since sinceEventID up to limit for the
// catchup mechanism. channel is a WebSocket channel name
// ("conversation:{id}"); events not scoped to a conversation channel return
// an empty result.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceEventID string, limit int) ([]CatchupEvent, error) {
	conversationID, ok := ConversationIDFromChannel(channel)
	if !ok {
		return nil, nil
	}

	rows, err := a.querier.GetEventsSince(ctx, conversationID, sinceEventID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(rows))
	for i, evt := range rows {
		result[i] = CatchupEvent{
			ID:      evt.ID,
			Payload: evt.Payload,
		}
	}
	return result, nil
}
