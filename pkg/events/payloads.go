package events

// MessageSentPayload is the payload for message.sent events.
// Published when a user's message is appended to a conversation, ahead of
// the orchestration worker picking it up.
type MessageSentPayload struct {
	Type           string `json:"type"` // always EventTypeMessageSent
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderUserID   string `json:"sender_user_id,omitempty"` // absent implies agent-authored
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}

// AgentResponsePayload is the payload for agent.response events.
// Published when the orchestration worker finishes a turn.
type AgentResponsePayload struct {
	Type           string `json:"type"` // always EventTypeAgentResponse
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}

// StreamChunkPayload is the payload for stream.chunk transient events.
// Published for each LLM streaming token — high frequency, ephemeral.
type StreamChunkPayload struct {
	Type           string `json:"type"` // always EventTypeStreamChunk
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"` // in-progress agent message this chunk belongs to
	Delta          string `json:"delta"`
	Timestamp      string `json:"timestamp"` // RFC3339Nano
}

// TypingIndicatorPayload is the payload for typing.indicator transient events.
// AgentTyping uses an empty UserID; UserTyping sets UserID and
// OriginConnectionID so ConnectionManager.Broadcast can skip echoing the
// indicator back to the connection that sent it.
type TypingIndicatorPayload struct {
	Type                string `json:"type"` // always EventTypeTypingIndicator
	ConversationID      string `json:"conversation_id"`
	UserID              string `json:"user_id,omitempty"` // absent implies the agent is typing
	IsTyping            bool   `json:"is_typing"`
	OriginConnectionID  string `json:"origin_connection_id,omitempty"`
	Timestamp           string `json:"timestamp"` // RFC3339Nano
}

// PresenceChangedPayload is the payload for presence.changed transient events.
// Published only on a 0↔>0 online-connection-count transition for a user.
type PresenceChangedPayload struct {
	Type       string  `json:"type"` // always EventTypePresenceChanged
	UserID     string  `json:"user_id"`
	Online     bool    `json:"online"`
	LastSeenAt *string `json:"last_seen_at,omitempty"` // RFC3339Nano, set on offline transitions
	Timestamp  string  `json:"timestamp"`              // RFC3339Nano
}
