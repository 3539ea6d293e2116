package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These indexes enable efficient full-text search on conversation titles and
// message content, backing the to_tsvector search in
// ConversationService.SearchConversations.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// GIN index for conversation title search
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_conversations_title_gin
		ON conversations USING gin(to_tsvector('english', title))`)
	if err != nil {
		return fmt.Errorf("failed to create conversation title GIN index: %w", err)
	}

	// GIN index for message content search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_messages_content_gin
		ON messages USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create message content GIN index: %w", err)
	}

	return nil
}
