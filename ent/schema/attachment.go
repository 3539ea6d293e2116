package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Attachment holds the schema definition for the Attachment entity.
// Produced by the out-of-core upload collaborator; lifecycle bound to its
// message. This schema only stores the reference the collaborator hands
// back, it never performs the upload itself.
type Attachment struct {
	ent.Schema
}

// Fields of the Attachment.
func (Attachment) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("attachment_id").
			Unique().
			Immutable(),
		field.String("message_id").
			Immutable(),
		field.String("file_name").
			Immutable(),
		field.String("content_type").
			Immutable(),
		field.Int64("size_bytes").
			Immutable(),
		field.String("storage_ref").
			Immutable(),
		field.String("thumbnail_ref").
			Optional().
			Nillable(),
	}
}

// Edges of the Attachment.
func (Attachment) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("message", Message.Type).
			Ref("attachments").
			Field("message_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Attachment.
func (Attachment) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("message_id"),
	}
}
