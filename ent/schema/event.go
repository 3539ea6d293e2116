package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity.
// The EventBus durable outbox row backing at-least-once MessageSent/AgentResponse
// delivery; distinct from the ephemeral pg_notify wake-up signal that rides
// alongside it. Rows are produced by the publisher and removed (or parked as
// dead letters) by the bus after consumption.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("conversation_id").
			Immutable().
			Comment("Correlates the event to a conversation group"),
		field.Enum("type").
			Values(
				"MessageSent",
				"AgentResponse",
				"BuildFailed",
				"FixAttempted",
				"FixSucceeded",
				"TaskCompleted",
			).
			Immutable(),
		field.String("correlation_id").
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Comment("Envelope payload, schema per event type"),
		field.Time("occurred_at").
			Default(time.Now).
			Immutable(),
		field.Bool("delivered").
			Default(false),
		field.Int("attempts").
			Default(0),
		field.Time("available_at").
			Default(time.Now).
			Comment("Backoff-scheduled next claim time"),
		field.Bool("dead_letter").
			Default(false),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		// Competing-consumer claim: unclaimed events ready now, oldest first
		index.Fields("type", "delivered", "dead_letter", "available_at"),
		index.Fields("conversation_id", "occurred_at"),
	}
}
