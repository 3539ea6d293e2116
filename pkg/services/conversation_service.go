// Package services contains business logic service layer implementations.
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/conversation"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/google/uuid"
)

// ConversationService manages conversation lifecycle: creation, listing,
// renaming, soft-delete/restore, and full-text search.
type ConversationService struct {
	client *ent.Client
}

// NewConversationService creates a new ConversationService.
func NewConversationService(client *ent.Client) *ConversationService {
	return &ConversationService{client: client}
}

// CreateConversation creates a new, empty conversation owned by the caller.
func (s *ConversationService) CreateConversation(httpCtx context.Context, req models.CreateConversationRequest) (*ent.Conversation, error) {
	if req.OwnerUserID == "" {
		return nil, NewValidationError("owner_user_id", "required")
	}
	title := req.Title
	if title == "" {
		title = "New conversation"
	}
	if len(title) > 200 {
		return nil, NewValidationError("title", "must be 1..200 characters")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conversationID := uuid.New().String()
	now := time.Now()
	conv, err := s.client.Conversation.Create().
		SetID(conversationID).
		SetOwnerUserID(req.OwnerUserID).
		SetTitle(title).
		SetCreatedAt(now).
		SetUpdatedAt(now).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID, scoped to its owner.
// Returns ErrNotFound if the conversation doesn't exist or belongs to
// another owner — the two cases are indistinguishable to the caller.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, ownerUserID string) (*ent.Conversation, error) {
	conv, err := s.client.Conversation.Query().
		Where(
			conversation.IDEQ(conversationID),
			conversation.OwnerUserIDEQ(ownerUserID),
			conversation.DeletedAtIsNil(),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// GetConversationOwner resolves a conversation's owner without scoping the
// lookup to a caller — used by the WebSocket hub, which must distinguish
// NotFound (unknown conversation) from Forbidden (known conversation, wrong
// caller) rather than collapsing both into one outcome the way the
// REST-facing GetConversation does.
func (s *ConversationService) GetConversationOwner(ctx context.Context, conversationID string) (string, error) {
	conv, err := s.client.Conversation.Query().
		Where(
			conversation.IDEQ(conversationID),
			conversation.DeletedAtIsNil(),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get conversation owner: %w", err)
	}
	return conv.OwnerUserID, nil
}

// ListConversations lists an owner's conversations with optional title
// search and page-based pagination, ordered by updated_at desc.
func (s *ConversationService) ListConversations(ctx context.Context, filters models.ConversationFilters) (*models.ConversationListResponse, error) {
	if filters.OwnerUserID == "" {
		return nil, NewValidationError("owner_user_id", "required")
	}

	query := s.client.Conversation.Query().
		Where(
			conversation.OwnerUserIDEQ(filters.OwnerUserID),
			conversation.DeletedAtIsNil(),
		)

	if filters.Query != "" {
		query = query.Where(conversation.TitleContainsFold(filters.Query))
	}
	if filters.Before != nil {
		query = query.Where(conversation.UpdatedAtLT(*filters.Before))
	}

	totalCount, err := query.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	page := filters.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	conversations, err := query.
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Order(ent.Desc(conversation.FieldUpdatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	totalPages := int(math.Ceil(float64(totalCount) / float64(pageSize)))

	return &models.ConversationListResponse{
		Conversations: conversations,
		TotalCount:    totalCount,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
	}, nil
}

// UpdateTitle renames a conversation owned by the caller.
func (s *ConversationService) UpdateTitle(httpCtx context.Context, conversationID, ownerUserID, title string) (*ent.Conversation, error) {
	if title == "" || len(title) > 200 {
		return nil, NewValidationError("title", "must be 1..200 characters")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	count, err := s.client.Conversation.Update().
		Where(
			conversation.IDEQ(conversationID),
			conversation.OwnerUserIDEQ(ownerUserID),
			conversation.DeletedAtIsNil(),
		).
		SetTitle(title).
		SetUpdatedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation title: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	return s.client.Conversation.Get(ctx, conversationID)
}

// TouchUpdatedAt bumps updated_at, used whenever a message is appended so
// that list ordering reflects the most recent activity.
func (s *ConversationService) TouchUpdatedAt(ctx context.Context, conversationID string, at time.Time) error {
	err := s.client.Conversation.UpdateOneID(conversationID).
		SetUpdatedAt(at).
		Exec(ctx)
	if err != nil && ent.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}

// SoftDelete marks a conversation as deleted without removing its rows.
func (s *ConversationService) SoftDelete(httpCtx context.Context, conversationID, ownerUserID string) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	count, err := s.client.Conversation.Update().
		Where(
			conversation.IDEQ(conversationID),
			conversation.OwnerUserIDEQ(ownerUserID),
			conversation.DeletedAtIsNil(),
		).
		SetDeletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to soft delete conversation: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeOlderThan hard-deletes conversations that were soft-deleted more
// than retentionDays ago. Cascades to messages and their attachments via the
// schema's ON DELETE CASCADE edges; outbox rows in the events table have no
// foreign key to conversations and are not removed here.
func (s *ConversationService) PurgeOlderThan(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention_days must be positive, got %d", retentionDays)
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.client.Conversation.Delete().
		Where(
			conversation.DeletedAtNotNil(),
			conversation.DeletedAtLT(cutoff),
		).
		Exec(deleteCtx)
}

// SearchConversations performs full-text search over conversation titles
// and their messages' content, scoped to the owner.
func (s *ConversationService) SearchConversations(ctx context.Context, ownerUserID, query string, limit int) ([]*ent.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	conversations, err := s.client.Conversation.Query().
		Where(
			conversation.OwnerUserIDEQ(ownerUserID),
			conversation.DeletedAtIsNil(),
		).
		Where(func(sel *sql.Selector) {
			sel.Where(sql.Or(
				sql.ExprP("to_tsvector('english', title) @@ plainto_tsquery($1)", query),
				sql.ExprP(`exists (
					select 1 from messages m
					where m.conversation_id = "conversations"."conversation_id"
					and to_tsvector('english', m.content) @@ plainto_tsquery($1)
				)`, query),
			))
		}).
		Limit(limit).
		Order(ent.Desc(conversation.FieldUpdatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}

	return conversations, nil
}
