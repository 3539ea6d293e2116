package models

import (
	"time"

	"github.com/codeready-toolchain/chatd/ent"
)

// CreateConversationRequest contains fields for creating a new conversation.
type CreateConversationRequest struct {
	OwnerUserID string `json:"-"`
	Title       string `json:"title"`
}

// UpdateConversationTitleRequest contains fields for renaming a conversation.
type UpdateConversationTitleRequest struct {
	Title string `json:"title"`
}

// ConversationFilters contains filtering/pagination options for ListConversations.
type ConversationFilters struct {
	OwnerUserID string     `json:"-"`
	Query       string     `json:"q,omitempty"`
	Page        int        `json:"page,omitempty"`
	PageSize    int        `json:"page_size,omitempty"`
	Before      *time.Time `json:"-"`
}

// ConversationResponse wraps a Conversation with optional loaded edges.
type ConversationResponse struct {
	*ent.Conversation
}

// ConversationListResponse contains a paginated conversation list.
type ConversationListResponse struct {
	Conversations []*ent.Conversation `json:"conversations"`
	TotalCount    int                 `json:"total_count"`
	Page          int                 `json:"page"`
	PageSize      int                 `json:"page_size"`
	TotalPages    int                 `json:"total_pages"`
}
