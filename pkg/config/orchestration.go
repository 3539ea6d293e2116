package config

import "time"

// ReplyDeliveryMode selects how OrchestrationWorker delivers an AgentResponse.
// Exactly one is active at deployment time (spec Open Question #1).
type ReplyDeliveryMode string

const (
	// ReplyDeliveryBus publishes AgentResponse on the EventBus.
	ReplyDeliveryBus ReplyDeliveryMode = "bus"
	// ReplyDeliveryCallback posts directly to the gateway's
	// /api/v1/internal/conversations/agent-response InternalService endpoint.
	ReplyDeliveryCallback ReplyDeliveryMode = "callback"
)

// IsValid reports whether the delivery mode is one of the two defined modes.
func (m ReplyDeliveryMode) IsValid() bool {
	return m == ReplyDeliveryBus || m == ReplyDeliveryCallback
}

// OrchestrationConfig contains OrchestrationWorker configuration.
type OrchestrationConfig struct {
	// HistoryDepth is the number of most-recent messages fetched for
	// context assembly (the current message is excluded).
	HistoryDepth int `yaml:"history_depth" validate:"min=0"`

	// ReplyDeliveryMode picks bus-publish vs. gateway-callback delivery.
	ReplyDeliveryMode ReplyDeliveryMode `yaml:"reply_delivery_mode"`

	// GatewayCallbackURL is the full URL the AgentResponse is POSTed to when
	// ReplyDeliveryMode is "callback"; no path is appended to it (e.g.
	// http://gateway:8080/api/v1/internal/conversations/agent-response).
	GatewayCallbackURL string `yaml:"gateway_callback_url,omitempty"`

	// GatewayCallbackTimeout bounds the gateway-to-gateway callback call.
	GatewayCallbackTimeout time.Duration `yaml:"gateway_callback_timeout"`

	// ClassifierTimeout bounds a single classifier call.
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`

	// SystemPrompt is the fixed prompt prepended before conversation history.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// LLMSidecarAddr is the gRPC address of the LLM sidecar the worker
	// streams generations from (host:port, plaintext).
	LLMSidecarAddr string `yaml:"llm_sidecar_addr"`
}

// DefaultOrchestrationConfig returns the built-in orchestration defaults.
func DefaultOrchestrationConfig() *OrchestrationConfig {
	return &OrchestrationConfig{
		HistoryDepth:           10,
		ReplyDeliveryMode:      ReplyDeliveryBus,
		GatewayCallbackTimeout: 30 * time.Second,
		ClassifierTimeout:      10 * time.Second,
		SystemPrompt:           "You are a helpful AI coding assistant.",
		LLMSidecarAddr:         "localhost:50051",
	}
}
