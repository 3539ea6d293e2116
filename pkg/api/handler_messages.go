package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/chatd/pkg/events"
	"github.com/codeready-toolchain/chatd/pkg/models"
)

// postMessageHandler handles POST /api/v1/conversations/:id/messages.
// Appends the user's message, then hands the turn to the orchestration
// worker by publishing a MessageSent event. Returns 202 Accepted: the
// assistant's reply arrives asynchronously over the WebSocket hub.
func (s *Server) postMessageHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	owner := userIDFrom(c)

	if _, err := s.conversationService.GetConversation(c.Request().Context(), conversationID, owner); err != nil {
		return mapServiceError(err)
	}

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := s.messageService.AppendMessage(c.Request().Context(), models.AppendMessageRequest{
		ConversationID:  conversationID,
		SenderUserIDOpt: owner,
		Content:         req.Content,
		Role:            "user",
	})
	if err != nil {
		return mapServiceError(err)
	}

	if s.eventPublisher != nil {
		if err := s.eventPublisher.PublishMessageSent(c.Request().Context(), conversationID, msg.ID, events.MessageSentPayload{
			Type:           events.EventTypeMessageSent,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			SenderUserID:   owner,
			Content:        msg.Content,
			Timestamp:      time.Now().Format(time.RFC3339Nano),
		}); err != nil {
			return mapServiceError(err)
		}

		// Best-effort, same as the WebSocket SendMessage hub method: tell
		// connected clients the agent has picked up the turn.
		if err := s.eventPublisher.PublishTypingIndicator(c.Request().Context(), conversationID, events.TypingIndicatorPayload{
			Type:           events.EventTypeTypingIndicator,
			ConversationID: conversationID,
			IsTyping:       true,
			Timestamp:      time.Now().Format(time.RFC3339Nano),
		}); err != nil {
			slog.Warn("postMessageHandler: failed to publish AgentTyping", "conversation_id", conversationID, "error", err)
		}
	}

	return c.JSON(http.StatusAccepted, msg)
}

// listMessagesHandler handles GET /api/v1/conversations/:id/messages.
// Cursor-paginated, oldest first; pass the previous response's next_cursor
// as ?cursor= to fetch the following page.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	owner := userIDFrom(c)

	if _, err := s.conversationService.GetConversation(c.Request().Context(), conversationID, owner); err != nil {
		return mapServiceError(err)
	}

	var cursor *string
	if q := c.QueryParam("cursor"); q != "" {
		cursor = &q
	}

	page, err := s.messageService.ListMessages(c.Request().Context(), conversationID, cursor, 0)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// agentResponseCallbackHandler handles POST
// /api/v1/internal/conversations/agent-response. Called by the orchestration
// worker instead of publishing directly on the event bus when
// OrchestrationConfig.ReplyDeliveryMode is "callback" — the worker has
// already persisted the assistant message itself; this endpoint only
// notifies connected WebSocket clients.
func (s *Server) agentResponseCallbackHandler(c *echo.Context) error {
	var req agentResponseCallbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConversationID == "" || req.MessageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id and message_id are required")
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = req.MessageID
	}

	if s.eventPublisher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event publisher not available")
	}

	err := s.eventPublisher.PublishAgentResponse(c.Request().Context(), req.ConversationID, correlationID, events.AgentResponsePayload{
		Type:           events.EventTypeAgentResponse,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Content:        req.Content,
		TokensUsed:     req.TokensUsed,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return mapServiceError(err)
	}
	// AgentTyping(false) is not published here: ChatTurnExecutor.Execute
	// already brackets the whole turn with publishTyping(true)/defer
	// publishTyping(false) over the event bus, regardless of
	// ReplyDeliveryMode, so the callback path doesn't need its own.
	return c.NoContent(http.StatusNoContent)
}

// messageHistoryHandler handles GET
// /api/v1/internal/conversations/:id/messages/history. Lets a non-co-located
// orchestration worker fetch recent context over HTTP instead of a direct
// database connection, mirroring the co-located path's
// MessageService.RecentMessages call.
func (s *Server) messageHistoryHandler(c *echo.Context) error {
	limit := 10
	if q := c.QueryParam("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := s.messageService.RecentMessages(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, messages)
}
