package services

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/event"
)

// EventService queries the durable event outbox for WebSocket catch-up.
// Publishing goes through events.EventPublisher; this is the read side only.
type EventService struct {
	client *ent.Client
}

// NewEventService creates a new EventService.
func NewEventService(client *ent.Client) *EventService {
	return &EventService{client: client}
}

// GetEventsSince returns events for a conversation strictly after
// sinceEventID (oldest first), or from the beginning if sinceEventID is
// empty. Used by events.ConnectionManager's catch-up path so a client that
// reconnects with a last-seen event id never double-delivers or misses one.
func (s *EventService) GetEventsSince(ctx context.Context, conversationID string, sinceEventID string, limit int) ([]*ent.Event, error) {
	if limit <= 0 {
		limit = 200
	}

	query := s.client.Event.Query().
		Where(event.ConversationIDEQ(conversationID)).
		Order(ent.Asc(event.FieldOccurredAt), ent.Asc(event.FieldID)).
		Limit(limit)

	if sinceEventID != "" {
		anchor, err := s.client.Event.Get(ctx, sinceEventID)
		if err != nil {
			if ent.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to resolve catchup cursor: %w", err)
		}
		query = query.Where(
			event.Or(
				event.OccurredAtGT(anchor.OccurredAt),
				event.And(event.OccurredAtEQ(anchor.OccurredAt), event.IDGT(anchor.ID)),
			),
		)
	}

	rows, err := query.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since cursor: %w", err)
	}
	return rows, nil
}

// PurgeExpiredEvents deletes delivered or dead-lettered outbox rows older
// than ttl, so the table doesn't grow unbounded once a row has served its
// catch-up/claim purpose.
func (s *EventService) PurgeExpiredEvents(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	return s.client.Event.Delete().
		Where(
			event.Or(event.DeliveredEQ(true), event.DeadLetterEQ(true)),
			event.OccurredAtLT(cutoff),
		).
		Exec(ctx)
}

// MarkDelivered flags an outbox row as successfully delivered, so the
// OrchestrationWorker's at-least-once consumer loop doesn't re-claim it.
func (s *EventService) MarkDelivered(ctx context.Context, eventID string) error {
	err := s.client.Event.UpdateOneID(eventID).
		SetDelivered(true).
		Exec(ctx)
	if err != nil && ent.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
