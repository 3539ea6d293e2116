// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// ════════════════════════════════════════════════════════════════
// Delivery model
// ════════════════════════════════════════════════════════════════
//
// Two classes of event ride the same NOTIFY transport:
//
// Durable (persisted to the events outbox, then pg_notify'd):
//   - message.sent      — a user's message was appended to a conversation
//   - agent.response    — the orchestration worker's reply to a turn
//
//   These are the events the at-least-once/retry/DLQ bookkeeping applies
//   to (attempts, available_at, dead_letter on the Event row). A consumer
//   that misses the NOTIFY wake-up can still discover the row by polling
//   the outbox, so delivery survives a consumer restart.
//
// Transient (NOTIFY only, never persisted):
//   - stream.chunk        — incremental LLM output, high-frequency
//   - typing.indicator    — user or agent is composing
//   - presence.changed    — a participant's online/offline transition
//
//   Losing a transient event is an accepted cost: the next durable event
//   (or a REST catch-up) supersedes it.
//
// ════════════════════════════════════════════════════════════════
//
// ════════════════════════════════════════════════════════════════
// Hub methods
// ════════════════════════════════════════════════════════════════
//
// Once connected, a client drives the hub by sending ClientMessage
// envelopes naming one of the methods below. Every method is dispatched
// from HandleConnection's read loop, serialized per connection — a
// client's own calls never race each other.
//
//	JoinConversation(conversationId)
//	LeaveConversation(conversationId)
//	SendMessage(conversationId, content)
//	TypingIndicator(conversationId, isTyping)
//	GetOnlineUsers()
//	GetUserOnlineStatus(userId)
//	GetUserLastSeen(userId)
//
// The gateway answers with a ServerMessage echoing requestId for
// request/response methods, and pushes unsolicited ServerMessage events
// (ReceiveMessage, AgentTyping, UserTyping, UserPresenceChanged) as they
// occur — see hub.go.
// ════════════════════════════════════════════════════════════════
package events

import "encoding/json"

// Durable event types (stored in the events outbox + NOTIFY).
const (
	EventTypeMessageSent   = "message.sent"
	EventTypeAgentResponse = "agent.response"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	EventTypeStreamChunk     = "stream.chunk"
	EventTypeTypingIndicator = "typing.indicator"
	EventTypePresenceChanged = "presence.changed"
)

// Sibling long-task event types. Defined for the orchestration flows named
// alongside chat in the broader system, but the core gateway/bus only ever
// consumes message.sent/agent.response — these are never published by this
// module today, just reserved so downstream consumers can type-switch on
// them without a schema migration later.
const (
	EventTypeBuildFailed   = "BuildFailed"
	EventTypeFixAttempted  = "FixAttempted"
	EventTypeFixSucceeded  = "FixSucceeded"
	EventTypeTaskCompleted = "TaskCompleted"
)

// conversationChannelPrefix is the NOTIFY channel prefix for per-conversation events.
const conversationChannelPrefix = "conversation:"

// presenceChannel is the single global channel UserPresenceChanged is
// broadcast on: presence flips are not scoped to one conversation.
const presenceChannel = "presence:global"

// ConversationChannel returns the NOTIFY channel name for a specific
// conversation's events. Format: "conversation:{conversation_id}"
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

// ConversationIDFromChannel extracts the conversation id from a channel name
// produced by ConversationChannel. Returns ok=false for any other channel shape.
func ConversationIDFromChannel(channel string) (id string, ok bool) {
	if len(channel) <= len(conversationChannelPrefix) || channel[:len(conversationChannelPrefix)] != conversationChannelPrefix {
		return "", false
	}
	return channel[len(conversationChannelPrefix):], true
}

// Hub method names, the "method" field of a client's ClientMessage envelope.
const (
	MethodJoinConversation    = "JoinConversation"
	MethodLeaveConversation   = "LeaveConversation"
	MethodSendMessage         = "SendMessage"
	MethodTypingIndicator     = "TypingIndicator"
	MethodGetOnlineUsers      = "GetOnlineUsers"
	MethodGetUserOnlineStatus = "GetUserOnlineStatus"
	MethodGetUserLastSeen     = "GetUserLastSeen"
	MethodPing                = "Ping"
)

// Hub error kinds, surfaced verbatim in a ServerMessage's Error.Kind.
const (
	ErrKindInvalidArgument = "InvalidArgument"
	ErrKindForbidden       = "Forbidden"
	ErrKindNotFound        = "NotFound"
	ErrKindBusUnavailable  = "BusUnavailable"
	ErrKindInternal        = "Internal"
)

// ClientMessage is the JSON envelope for client → server hub method calls.
// Params is method-specific and decoded by the dispatched handler.
type ClientMessage struct {
	Method    string          `json:"method"`
	RequestID string          `json:"requestId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// HubError is a structured hub-method failure, one of the ErrKind* constants.
type HubError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServerMessage is the JSON envelope for server → client traffic: both
// request/response replies (RequestID echoes the call, Error set on
// failure) and unsolicited broadcast events (RequestID empty, Type names
// the event).
type ServerMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Error     *HubError   `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// joinConversationParams decodes JoinConversation/LeaveConversation params.
type joinConversationParams struct {
	ConversationID string `json:"conversationId"`
}

// sendMessageParams decodes SendMessage params.
type sendMessageParams struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// typingIndicatorParams decodes TypingIndicator params.
type typingIndicatorParams struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// userIDParams decodes GetUserOnlineStatus/GetUserLastSeen params.
type userIDParams struct {
	UserID string `json:"userId"`
}
