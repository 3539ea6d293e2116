package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/pkg/classifier"
	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/events"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/codeready-toolchain/chatd/pkg/services"
	"github.com/google/uuid"
)

// ChatTurnExecutor implements TurnExecutor: it takes one claimed MessageSent
// event, assembles conversation context, classifies the task, invokes the
// LLM, and delivers the resulting AgentResponse.
type ChatTurnExecutor struct {
	cfg       *config.OrchestrationConfig
	llmClient llm.Client
	classif   *classifier.Classifier
	publisher *events.EventPublisher

	messageService *services.MessageService

	httpClient *http.Client
}

// NewChatTurnExecutor creates a new ChatTurnExecutor.
func NewChatTurnExecutor(
	cfg *config.OrchestrationConfig,
	dbClient *ent.Client,
	llmClient llm.Client,
	classif *classifier.Classifier,
	publisher *events.EventPublisher,
) *ChatTurnExecutor {
	return &ChatTurnExecutor{
		cfg:            cfg,
		llmClient:      llmClient,
		classif:        classif,
		publisher:      publisher,
		messageService: services.NewMessageService(dbClient),
		httpClient:     &http.Client{},
	}
}

// messageSentPayload is the minimal shape this executor needs out of a
// claimed event's JSON payload; fields beyond these are ignored.
type messageSentPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
}

// Execute processes a single claimed MessageSent event end-to-end.
func (e *ChatTurnExecutor) Execute(ctx context.Context, claimed *ent.Event) *ExecutionResult {
	log := slog.With("event_id", claimed.ID, "conversation_id", claimed.ConversationID)

	var payload messageSentPayload
	if err := decodeEventPayload(claimed.Payload, &payload); err != nil {
		log.Error("Failed to parse MessageSent payload", "error", err)
		return &ExecutionResult{Error: fmt.Errorf("parse payload: %w", err)}
	}

	e.publishTyping(ctx, payload.ConversationID, true)
	defer e.publishTyping(ctx, payload.ConversationID, false)

	history, err := e.messageService.RecentMessages(ctx, payload.ConversationID, e.cfg.HistoryDepth)
	if err != nil {
		log.Error("Failed to assemble conversation history", "error", err)
		return &ExecutionResult{Error: fmt.Errorf("assemble history: %w", err)}
	}

	classifyCtx, cancel := context.WithTimeout(ctx, e.cfg.ClassifierTimeout)
	result, err := e.classif.Classify(classifyCtx, payload.Content)
	cancel()
	if err != nil {
		log.Warn("Classification failed, proceeding without a classification", "error", err)
	} else {
		log.Info("Task classified",
			"task_type", result.TaskType,
			"complexity", result.Complexity,
			"classifier_used", result.ClassifierUsed,
			"strategy", result.SuggestedStrategy,
		)
	}

	messages := make([]llm.ConversationMessage, 0, len(history)+2)
	messages = append(messages, llm.ConversationMessage{Role: llm.RoleSystem, Content: e.cfg.SystemPrompt})
	for _, m := range history {
		role := llm.RoleUser
		switch string(m.Role) {
		case "assistant":
			role = llm.RoleAssistant
		case "system":
			role = llm.RoleSystem
		}
		messages = append(messages, llm.ConversationMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.ConversationMessage{Role: llm.RoleUser, Content: payload.Content})

	responseMessageID := uuid.New().String()
	chunks, err := e.llmClient.Generate(ctx, &llm.GenerateInput{
		ConversationID: payload.ConversationID,
		ExecutionID:    claimed.ID,
		Messages:       messages,
	})
	if err != nil {
		log.Error("LLM generate call failed", "error", err)
		return &ExecutionResult{Error: fmt.Errorf("llm generate: %w", err)}
	}

	var content strings.Builder
	var tokensUsed int
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			content.WriteString(c.Content)
			e.publishStreamChunk(ctx, payload.ConversationID, responseMessageID, c.Content)
		case *llm.UsageChunk:
			tokensUsed = c.TotalTokens
		case *llm.ErrorChunk:
			log.Error("LLM stream returned an error chunk", "message", c.Message, "code", c.Code, "retryable", c.Retryable)
			return &ExecutionResult{Error: fmt.Errorf("llm error: %s", c.Message)}
		}
	}

	if content.Len() == 0 {
		return &ExecutionResult{Error: fmt.Errorf("llm produced an empty response")}
	}

	msg, err := e.messageService.AppendMessage(ctx, models.AppendMessageRequest{
		ConversationID: payload.ConversationID,
		Content:        content.String(),
		Role:           "assistant",
	})
	if err != nil {
		log.Error("Failed to persist agent response message", "error", err)
		return &ExecutionResult{Error: fmt.Errorf("persist response: %w", err)}
	}

	if err := e.deliver(ctx, payload.ConversationID, claimed.CorrelationID, msg.ID, content.String(), tokensUsed); err != nil {
		log.Error("Failed to deliver agent response", "error", err)
		return &ExecutionResult{Error: fmt.Errorf("deliver response: %w", err)}
	}

	return &ExecutionResult{Succeeded: true}
}

// deliver dispatches the finished AgentResponse per the configured delivery
// mode: bus publish or a direct gateway callback.
func (e *ChatTurnExecutor) deliver(ctx context.Context, conversationID, correlationID, messageID, content string, tokensUsed int) error {
	payload := events.AgentResponsePayload{
		Type:           events.EventTypeAgentResponse,
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
		TokensUsed:     tokensUsed,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}

	switch e.cfg.ReplyDeliveryMode {
	case config.ReplyDeliveryCallback:
		return e.deliverViaCallback(ctx, payload)
	default:
		if e.publisher == nil {
			return fmt.Errorf("no event publisher configured for bus delivery")
		}
		return e.publisher.PublishAgentResponse(ctx, conversationID, correlationID, payload)
	}
}

// deliverViaCallback posts the AgentResponse directly to the chat gateway's
// callback endpoint instead of routing it through the event bus, for
// deployments that run the gateway and orchestration worker co-located.
func (e *ChatTurnExecutor) deliverViaCallback(ctx context.Context, payload events.AgentResponsePayload) error {
	if e.cfg.GatewayCallbackURL == "" {
		return fmt.Errorf("gateway callback url is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GatewayCallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.cfg.GatewayCallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// decodeEventPayload round-trips an Event row's JSON payload map into a
// typed struct via a marshal/unmarshal pass.
func decodeEventPayload(raw map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func (e *ChatTurnExecutor) publishStreamChunk(ctx context.Context, conversationID, messageID, delta string) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishStreamChunk(ctx, conversationID, events.StreamChunkPayload{
		Type:           events.EventTypeStreamChunk,
		ConversationID: conversationID,
		MessageID:      messageID,
		Delta:          delta,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		slog.Warn("Failed to publish stream chunk", "conversation_id", conversationID, "error", err)
	}
}

func (e *ChatTurnExecutor) publishTyping(ctx context.Context, conversationID string, isTyping bool) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishTypingIndicator(ctx, conversationID, events.TypingIndicatorPayload{
		Type:           events.EventTypeTypingIndicator,
		ConversationID: conversationID,
		IsTyping:       isTyping,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		slog.Warn("Failed to publish typing indicator", "conversation_id", conversationID, "error", err)
	}
}

