package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/conversation"
	"github.com/codeready-toolchain/chatd/ent/message"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/google/uuid"
)

const defaultMessagePageSize = 50

// MessageService manages message append and cursor-paginated retrieval
// within a conversation.
type MessageService struct {
	client *ent.Client
}

// NewMessageService creates a new MessageService.
func NewMessageService(client *ent.Client) *MessageService {
	return &MessageService{client: client}
}

// AppendMessage appends a message to a conversation and bumps the
// conversation's updated_at in the same transaction, so list ordering
// never lags behind the most recent turn.
func (s *MessageService) AppendMessage(httpCtx context.Context, req models.AppendMessageRequest) (*ent.Message, error) {
	if req.ConversationID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}
	if req.Content == "" || len(req.Content) > 10000 {
		return nil, NewValidationError("content", "must be 1..10000 characters")
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		return nil, NewValidationError("role", "must be one of: user, assistant, system")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 10*time.Second)
	defer cancel()

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.Conversation.Query().
		Where(conversation.IDEQ(req.ConversationID), conversation.DeletedAtIsNil()).
		Exist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	now := time.Now()
	create := tx.Message.Create().
		SetID(uuid.New().String()).
		SetConversationID(req.ConversationID).
		SetRole(message.Role(req.Role)).
		SetContent(req.Content).
		SetSentAt(now)
	if req.SenderUserIDOpt != "" {
		create = create.SetSenderUserID(req.SenderUserIDOpt)
	}

	msg, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if err := tx.Conversation.UpdateOneID(req.ConversationID).
		SetUpdatedAt(now).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return msg, nil
}

// ListMessages returns a page of messages within a conversation, ordered
// oldest-first, starting strictly after the given opaque cursor.
func (s *MessageService) ListMessages(ctx context.Context, conversationID string, cursor *string, pageSize int) (*models.MessagePage, error) {
	if conversationID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}
	if pageSize <= 0 {
		pageSize = defaultMessagePageSize
	}

	query := s.client.Message.Query().
		Where(message.ConversationIDEQ(conversationID)).
		Order(ent.Asc(message.FieldSentAt), ent.Asc(message.FieldID))

	if cursor != nil && *cursor != "" {
		sentAt, id, err := decodeMessageCursor(*cursor)
		if err != nil {
			return nil, NewValidationError("cursor", "invalid")
		}
		query = query.Where(
			message.Or(
				message.SentAtGT(sentAt),
				message.And(message.SentAtEQ(sentAt), message.IDGT(id)),
			),
		)
	}

	messages, err := query.Limit(pageSize + 1).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	page := &models.MessagePage{}
	if len(messages) > pageSize {
		last := messages[pageSize-1]
		next := encodeMessageCursor(last.SentAt, last.ID)
		page.Items = messages[:pageSize]
		page.NextCursor = &next
	} else {
		page.Items = messages
	}

	return page, nil
}

// RecentMessages returns the most recent limit messages in a conversation,
// oldest first, for orchestration context assembly.
func (s *MessageService) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*ent.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	messages, err := s.client.Message.Query().
		Where(message.ConversationIDEQ(conversationID)).
		Order(ent.Desc(message.FieldSentAt), ent.Desc(message.FieldID)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetMessage fetches a single message by ID, with its attachments loaded.
func (s *MessageService) GetMessage(ctx context.Context, messageID string) (*ent.Message, error) {
	msg, err := s.client.Message.Query().
		Where(message.IDEQ(messageID)).
		WithAttachments().
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func encodeMessageCursor(sentAt time.Time, id string) string {
	raw := fmt.Sprintf("%d:%s", sentAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeMessageCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos), parts[1], nil
}
