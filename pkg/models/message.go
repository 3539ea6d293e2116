package models

import "github.com/codeready-toolchain/chatd/ent"

// AppendMessageRequest contains fields for appending a message to a conversation.
type AppendMessageRequest struct {
	ConversationID  string `json:"-"`
	SenderUserIDOpt string `json:"-"`
	Content         string `json:"content"`
	Role            string `json:"role"`
}

// MessageResponse wraps a Message.
type MessageResponse struct {
	*ent.Message
}

// MessagePage is a cursor-paginated slice of messages.
type MessagePage struct {
	Items      []*ent.Message `json:"items"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}
