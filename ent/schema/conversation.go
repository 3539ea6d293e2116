package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Conversation holds the schema definition for the Conversation entity.
// A durable, owned, append-only conversation between a user and the agent.
type Conversation struct {
	ent.Schema
}

// Fields of the Conversation.
func (Conversation) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("conversation_id").
			Unique().
			Immutable(),
		field.String("owner_user_id").
			Immutable().
			Comment("Resolved from verified auth claims"),
		field.String("title").
			MaxLen(200).
			Comment("1..200 chars, validated at the service layer"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			Comment("Always >= max(messages.sent_at)"),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Soft delete marker"),
	}
}

// Edges of the Conversation.
func (Conversation) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("messages", Message.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Conversation.
func (Conversation) Indexes() []ent.Index {
	return []ent.Index{
		// ListConversations ordering: updatedAt desc, tie-break id
		index.Fields("owner_user_id", "updated_at"),
		// Title substring search
		index.Fields("owner_user_id", "title"),
	}
}
