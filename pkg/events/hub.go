package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/codeready-toolchain/chatd/pkg/services"
)

// ConversationAccess resolves a conversation's owner for the ownership checks
// JoinConversation and SendMessage must perform before acting. Satisfied by
// *services.ConversationService.
type ConversationAccess interface {
	GetConversationOwner(ctx context.Context, conversationID string) (ownerUserID string, err error)
}

// MessageAppender persists a message within a conversation. Satisfied by
// *services.MessageService.
type MessageAppender interface {
	AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*ent.Message, error)
}

// PresenceCollaborator is the subset of presence.Store the hub needs:
// connection-lifecycle tracking plus the read-only presence queries. Satisfied
// by *presence.Store.
type PresenceCollaborator interface {
	MarkOnline(ctx context.Context, userID, connectionID string) (becameOnline bool, err error)
	MarkOffline(ctx context.Context, userID, connectionID string) (becameOffline bool, err error)
	IsOnline(ctx context.Context, userID string) bool
	LastSeen(ctx context.Context, userID string) time.Time
	GetOnlineUsers(ctx context.Context) []string
}

// handleClientMessage dispatches a ClientMessage envelope to the named hub
// method, serialized per-connection since it only ever runs on the
// connection's own read-loop goroutine.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Method {
	case MethodJoinConversation:
		m.hubJoinConversation(ctx, c, msg)
	case MethodLeaveConversation:
		m.hubLeaveConversation(c, msg)
	case MethodSendMessage:
		m.hubSendMessage(ctx, c, msg)
	case MethodTypingIndicator:
		m.hubTypingIndicator(ctx, c, msg)
	case MethodGetOnlineUsers:
		m.hubGetOnlineUsers(ctx, c, msg)
	case MethodGetUserOnlineStatus:
		m.hubGetUserOnlineStatus(ctx, c, msg)
	case MethodGetUserLastSeen:
		m.hubGetUserLastSeen(ctx, c, msg)
	case MethodPing:
		m.reply(c, msg.RequestID, MethodPing, nil, nil)
	default:
		m.reply(c, msg.RequestID, msg.Method, nil, &HubError{
			Kind:    ErrKindInvalidArgument,
			Message: "unknown method: " + msg.Method,
		})
	}
}

// reply sends a ServerMessage answering a hub method call.
func (m *ConnectionManager) reply(c *Connection, requestID, method string, data interface{}, hubErr *HubError) {
	m.sendJSON(c, ServerMessage{Type: method, RequestID: requestID, Data: data, Error: hubErr})
}

// resolveOwner looks up a conversation's owner and classifies failures into
// the hub's error kinds, logging anything that isn't the caller's fault.
func (m *ConnectionManager) resolveOwner(ctx context.Context, method, conversationID string) (owner string, hubErr *HubError) {
	if m.conversationAccess == nil {
		return "", &HubError{Kind: ErrKindInternal, Message: "conversation lookup unavailable"}
	}
	owner, err := m.conversationAccess.GetConversationOwner(ctx, conversationID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return "", &HubError{Kind: ErrKindNotFound, Message: "conversation not found"}
		}
		slog.Error(method+": owner lookup failed", "conversation_id", conversationID, "error", err)
		return "", &HubError{Kind: ErrKindInternal, Message: "failed to resolve conversation"}
	}
	return owner, nil
}

// hubJoinConversation implements JoinConversation(conversationId): verifies
// c.UserID owns the conversation, subscribes the connection to its channel,
// and runs an auto-catchup so the client never misses events published
// between the join and the LISTEN taking effect.
func (m *ConnectionManager) hubJoinConversation(ctx context.Context, c *Connection, msg *ClientMessage) {
	var params joinConversationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ConversationID == "" {
		m.reply(c, msg.RequestID, MethodJoinConversation, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "conversationId is required"})
		return
	}

	owner, hubErr := m.resolveOwner(ctx, MethodJoinConversation, params.ConversationID)
	if hubErr != nil {
		m.reply(c, msg.RequestID, MethodJoinConversation, nil, hubErr)
		return
	}
	if owner != c.UserID {
		m.reply(c, msg.RequestID, MethodJoinConversation, nil, &HubError{Kind: ErrKindForbidden, Message: "not the conversation owner"})
		return
	}

	channel := ConversationChannel(params.ConversationID)
	if err := m.subscribe(c, channel); err != nil {
		m.reply(c, msg.RequestID, MethodJoinConversation, nil, &HubError{Kind: ErrKindInternal, Message: "failed to join conversation"})
		return
	}

	m.reply(c, msg.RequestID, MethodJoinConversation, map[string]string{"conversationId": params.ConversationID}, nil)
	m.handleCatchup(ctx, c, channel, "")
}

// hubLeaveConversation implements LeaveConversation(conversationId).
// Idempotent: leaving a conversation never joined, or already left, succeeds.
func (m *ConnectionManager) hubLeaveConversation(c *Connection, msg *ClientMessage) {
	var params joinConversationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ConversationID == "" {
		m.reply(c, msg.RequestID, MethodLeaveConversation, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "conversationId is required"})
		return
	}
	m.unsubscribe(c, ConversationChannel(params.ConversationID))
	m.reply(c, msg.RequestID, MethodLeaveConversation, map[string]string{"conversationId": params.ConversationID}, nil)
}

// hubSendMessage implements SendMessage(conversationId, content):
//
//	(a) verify c.UserID owns the conversation — hard fail
//	(b) persist a User message — hard fail
//	(c) echo the message to the conversation group — best effort
//	(d) publish MessageSent on the bus — best effort
//	(e) emit AgentTyping(true) so the client shows the agent composing — best effort
//
// (c) and (d) are satisfied by a single PublishMessageSent call: it persists
// to the outbox and issues the pg_notify in one transaction, and the NOTIFY
// receive loop calls Broadcast for every subscriber of the conversation
// channel — including the sender, since it joined before it could send.
func (m *ConnectionManager) hubSendMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	var params sendMessageParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ConversationID == "" {
		m.reply(c, msg.RequestID, MethodSendMessage, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "conversationId is required"})
		return
	}
	if params.Content == "" || len(params.Content) > 10000 {
		m.reply(c, msg.RequestID, MethodSendMessage, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "content must be 1..10000 characters"})
		return
	}

	owner, hubErr := m.resolveOwner(ctx, MethodSendMessage, params.ConversationID)
	if hubErr != nil {
		m.reply(c, msg.RequestID, MethodSendMessage, nil, hubErr)
		return
	}
	if owner != c.UserID {
		m.reply(c, msg.RequestID, MethodSendMessage, nil, &HubError{Kind: ErrKindForbidden, Message: "not the conversation owner"})
		return
	}

	if m.messageAppender == nil {
		m.reply(c, msg.RequestID, MethodSendMessage, nil, &HubError{Kind: ErrKindInternal, Message: "message store unavailable"})
		return
	}
	saved, err := m.messageAppender.AppendMessage(ctx, models.AppendMessageRequest{
		ConversationID:  params.ConversationID,
		SenderUserIDOpt: c.UserID,
		Content:         params.Content,
		Role:            "user",
	})
	if err != nil {
		slog.Error("SendMessage: append failed", "conversation_id", params.ConversationID, "error", err)
		m.reply(c, msg.RequestID, MethodSendMessage, nil, &HubError{Kind: ErrKindInternal, Message: "failed to persist message"})
		return
	}

	m.reply(c, msg.RequestID, MethodSendMessage, map[string]string{"messageId": saved.ID}, nil)

	if m.eventPublisher == nil {
		slog.Warn("SendMessage: event publisher unavailable, message persisted but not broadcast", "conversation_id", params.ConversationID)
		return
	}

	if err := m.eventPublisher.PublishMessageSent(ctx, params.ConversationID, saved.ID, MessageSentPayload{
		Type:           EventTypeMessageSent,
		ConversationID: params.ConversationID,
		MessageID:      saved.ID,
		SenderUserID:   c.UserID,
		Content:        saved.Content,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		slog.Warn("SendMessage: failed to publish MessageSent", "conversation_id", params.ConversationID, "error", err)
	}

	if err := m.eventPublisher.PublishTypingIndicator(ctx, params.ConversationID, TypingIndicatorPayload{
		Type:           EventTypeTypingIndicator,
		ConversationID: params.ConversationID,
		IsTyping:       true,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		slog.Warn("SendMessage: failed to publish AgentTyping", "conversation_id", params.ConversationID, "error", err)
	}
}

// hubTypingIndicator implements TypingIndicator(conversationId, isTyping):
// broadcasts UserTyping to every other connection in the conversation group
// (OriginConnectionID makes Broadcast skip the sender). No ownership check:
// a caller must already have joined to have a channel to broadcast on, and a
// stray broadcast to a channel nobody's subscribed to is inert.
func (m *ConnectionManager) hubTypingIndicator(ctx context.Context, c *Connection, msg *ClientMessage) {
	var params typingIndicatorParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ConversationID == "" {
		m.reply(c, msg.RequestID, MethodTypingIndicator, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "conversationId is required"})
		return
	}

	if m.eventPublisher != nil {
		if err := m.eventPublisher.PublishTypingIndicator(ctx, params.ConversationID, TypingIndicatorPayload{
			Type:               EventTypeTypingIndicator,
			ConversationID:     params.ConversationID,
			UserID:             c.UserID,
			IsTyping:           params.IsTyping,
			OriginConnectionID: c.ID,
			Timestamp:          time.Now().Format(time.RFC3339Nano),
		}); err != nil {
			slog.Warn("TypingIndicator: publish failed", "conversation_id", params.ConversationID, "error", err)
		}
	}
	m.reply(c, msg.RequestID, MethodTypingIndicator, nil, nil)
}

// hubGetOnlineUsers implements GetOnlineUsers().
func (m *ConnectionManager) hubGetOnlineUsers(ctx context.Context, c *Connection, msg *ClientMessage) {
	users := []string{}
	if m.presence != nil {
		users = m.presence.GetOnlineUsers(ctx)
	}
	m.reply(c, msg.RequestID, MethodGetOnlineUsers, users, nil)
}

// hubGetUserOnlineStatus implements GetUserOnlineStatus(userId).
func (m *ConnectionManager) hubGetUserOnlineStatus(ctx context.Context, c *Connection, msg *ClientMessage) {
	var params userIDParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.UserID == "" {
		m.reply(c, msg.RequestID, MethodGetUserOnlineStatus, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "userId is required"})
		return
	}
	online := false
	if m.presence != nil {
		online = m.presence.IsOnline(ctx, params.UserID)
	}
	m.reply(c, msg.RequestID, MethodGetUserOnlineStatus, models.UserOnlineStatus{UserID: params.UserID, IsOnline: online}, nil)
}

// hubGetUserLastSeen implements GetUserLastSeen(userId).
func (m *ConnectionManager) hubGetUserLastSeen(ctx context.Context, c *Connection, msg *ClientMessage) {
	var params userIDParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.UserID == "" {
		m.reply(c, msg.RequestID, MethodGetUserLastSeen, nil, &HubError{Kind: ErrKindInvalidArgument, Message: "userId is required"})
		return
	}
	var lastSeen *time.Time
	if m.presence != nil {
		if ls := m.presence.LastSeen(ctx, params.UserID); !ls.IsZero() {
			lastSeen = &ls
		}
	}
	m.reply(c, msg.RequestID, MethodGetUserLastSeen, map[string]interface{}{
		"userId":     params.UserID,
		"lastSeenAt": lastSeen,
	}, nil)
}
