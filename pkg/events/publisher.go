package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/chatd/pkg/metrics"
	"github.com/google/uuid"
)

// EventPublisher publishes events for WebSocket delivery.
// Durable events are inserted into the events outbox table then broadcast
// via NOTIFY, in a single transaction (pg_notify is transactional — held
// until COMMIT). Transient events (streaming chunks, typing, presence) are
// broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see payloads.go.
// Internally, payloads are marshaled to JSON and routed to the appropriate
// channel (derived from conversationID) via persistAndNotify or notifyOnly.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishMessageSent persists and broadcasts a message.sent event.
// correlationID ties the event to the request that produced it (typically
// the message id itself, since a user message has no separate request id).
func (p *EventPublisher) PublishMessageSent(ctx context.Context, conversationID, correlationID string, payload MessageSentPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MessageSentPayload: %w", err)
	}
	return p.persistAndNotify(ctx, conversationID, "MessageSent", correlationID, payloadJSON)
}

// PublishAgentResponse persists and broadcasts an agent.response event.
func (p *EventPublisher) PublishAgentResponse(ctx context.Context, conversationID, correlationID string, payload AgentResponsePayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentResponsePayload: %w", err)
	}
	return p.persistAndNotify(ctx, conversationID, "AgentResponse", correlationID, payloadJSON)
}

// PublishStreamChunk broadcasts a stream.chunk transient event (no DB persistence).
// Used for high-frequency LLM streaming tokens — ephemeral, lost on disconnect.
func (p *EventPublisher) PublishStreamChunk(ctx context.Context, conversationID string, payload StreamChunkPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal StreamChunkPayload: %w", err)
	}
	return p.notifyOnly(ctx, ConversationChannel(conversationID), payloadJSON)
}

// PublishTypingIndicator broadcasts a typing.indicator transient event.
func (p *EventPublisher) PublishTypingIndicator(ctx context.Context, conversationID string, payload TypingIndicatorPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TypingIndicatorPayload: %w", err)
	}
	return p.notifyOnly(ctx, ConversationChannel(conversationID), payloadJSON)
}

// PublishPresenceChanged broadcasts a presence.changed transient event to the
// given channels. ConnectionManager passes the single global presence channel.
func (p *EventPublisher) PublishPresenceChanged(ctx context.Context, channels []string, payload PresenceChangedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal PresenceChangedPayload: %w", err)
	}
	var firstErr error
	for _, channel := range channels {
		if err := p.notifyOnly(ctx, channel, payloadJSON); err != nil {
			slog.Warn("Failed to publish presence change", "channel", channel, "user_id", payload.UserID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the events outbox table
// and broadcasts via NOTIFY in a single transaction.
func (p *EventPublisher) persistAndNotify(ctx context.Context, conversationID, eventType, correlationID string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	eventID := uuid.New().String()
	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, conversation_id, type, correlation_id, payload, occurred_at, delivered, attempts, available_at, dead_letter)
		 VALUES ($1, $2, $3, $4, $5, $6, false, 0, $6, false)`,
		eventID, conversationID, eventType, correlationID, payloadJSON, now,
	)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	channel := ConversationChannel(conversationID)
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type           string  `json:"type"`
		ConversationID string  `json:"conversation_id"`
		DBEventID      *string `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":            routing.Type,
		"conversation_id": routing.ConversationID,
		"truncated":       true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
