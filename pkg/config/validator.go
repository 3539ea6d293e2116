package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
// Order: queue -> retention -> bus -> presence -> classifier -> orchestration -> auth -> file storage -> LLM providers.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	if err := v.validateBus(); err != nil {
		return fmt.Errorf("bus validation failed: %w", err)
	}

	if err := v.validatePresence(); err != nil {
		return fmt.Errorf("presence validation failed: %w", err)
	}

	if err := v.validateClassifier(); err != nil {
		return fmt.Errorf("classifier validation failed: %w", err)
	}

	if err := v.validateOrchestration(); err != nil {
		return fmt.Errorf("orchestration validation failed: %w", err)
	}

	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := v.validateFileStorage(); err != nil {
		return fmt.Errorf("file storage validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentTurns < 1 {
		return fmt.Errorf("max_concurrent_turns must be at least 1, got %d", q.MaxConcurrentTurns)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive, got %v", q.TurnTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", q.OrphanDetectionInterval)
	}
	if q.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive, got %v", q.OrphanThreshold)
	}
	if q.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", q.HeartbeatInterval)
	}
	if q.HeartbeatInterval >= q.OrphanThreshold {
		return fmt.Errorf("heartbeat_interval must be less than orphan_threshold to prevent false orphan detection, got heartbeat=%v threshold=%v", q.HeartbeatInterval, q.OrphanThreshold)
	}

	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return fmt.Errorf("retention configuration is nil")
	}
	if r.ConversationRetentionDays < 1 {
		return fmt.Errorf("conversation_retention_days must be at least 1, got %d", r.ConversationRetentionDays)
	}
	if r.EventTTL <= 0 {
		return fmt.Errorf("event_ttl must be positive, got %v", r.EventTTL)
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %v", r.CleanupInterval)
	}
	return nil
}

func (v *Validator) validateBus() error {
	b := v.cfg.Bus
	if b == nil {
		return fmt.Errorf("bus configuration is nil")
	}
	if b.Transport == "" {
		return NewValidationError("bus", "", "transport", fmt.Errorf("transport is required"))
	}
	if b.NotifyChannel == "" {
		return NewValidationError("bus", "", "notify_channel", fmt.Errorf("notify_channel is required"))
	}
	if b.MaxRetries < 1 {
		return NewValidationError("bus", "", "max_retries", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validatePresence() error {
	p := v.cfg.Presence
	if p == nil {
		return fmt.Errorf("presence configuration is nil")
	}
	if p.TTL <= 0 {
		return NewValidationError("presence", "", "ttl", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateClassifier() error {
	c := v.cfg.Classifier
	if c == nil {
		return fmt.Errorf("classifier configuration is nil")
	}
	if c.HeuristicThreshold < 0 || c.HeuristicThreshold > 1 {
		return NewValidationError("classifier", "", "heuristic_threshold", fmt.Errorf("must be in [0,1]"))
	}
	if c.LearnedThreshold < 0 || c.LearnedThreshold > 1 {
		return NewValidationError("classifier", "", "learned_threshold", fmt.Errorf("must be in [0,1]"))
	}
	if c.LearnedThreshold > c.HeuristicThreshold {
		return NewValidationError("classifier", "", "learned_threshold", fmt.Errorf("must not exceed heuristic_threshold (escalation tiers only tighten)"))
	}
	return nil
}

func (v *Validator) validateOrchestration() error {
	o := v.cfg.Orchestration
	if o == nil {
		return fmt.Errorf("orchestration configuration is nil")
	}
	if o.HistoryDepth < 0 {
		return NewValidationError("orchestration", "", "history_depth", fmt.Errorf("must be non-negative"))
	}
	if !o.ReplyDeliveryMode.IsValid() {
		return NewValidationError("orchestration", "", "reply_delivery_mode", fmt.Errorf("invalid mode: %s", o.ReplyDeliveryMode))
	}
	if o.ReplyDeliveryMode == ReplyDeliveryCallback && o.GatewayCallbackURL == "" {
		return NewValidationError("orchestration", "", "gateway_callback_url", fmt.Errorf("required when reply_delivery_mode is callback"))
	}
	if o.GatewayCallbackTimeout <= 0 {
		return NewValidationError("orchestration", "", "gateway_callback_timeout", fmt.Errorf("must be positive"))
	}
	if o.ClassifierTimeout <= 0 {
		return NewValidationError("orchestration", "", "classifier_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateAuth() error {
	a := v.cfg.Auth
	if a == nil {
		return fmt.Errorf("auth configuration is nil")
	}
	if a.SigningMethod == "" {
		return NewValidationError("auth", "", "signing_method", fmt.Errorf("required"))
	}
	if a.PublicKeyEnv == "" {
		return NewValidationError("auth", "", "public_key_env", fmt.Errorf("required"))
	}
	if os.Getenv(a.PublicKeyEnv) == "" {
		return NewValidationError("auth", "", "public_key_env", fmt.Errorf("environment variable %s is not set", a.PublicKeyEnv))
	}
	return nil
}

func (v *Validator) validateFileStorage() error {
	f := v.cfg.FileStorage
	if f == nil {
		return fmt.Errorf("file storage configuration is nil")
	}
	if f.MaxFileSizeBytes < 1 {
		return NewValidationError("file_storage", "", "max_file_size_bytes", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}
		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
		if provider.Type == LLMProviderTypeVertexAI {
			if provider.CredentialsEnv != "" && os.Getenv(provider.CredentialsEnv) == "" {
				return NewValidationError("llm_provider", name, "credentials_env", fmt.Errorf("environment variable %s is not set", provider.CredentialsEnv))
			}
			if provider.ProjectEnv != "" && os.Getenv(provider.ProjectEnv) == "" {
				return NewValidationError("llm_provider", name, "project_env", fmt.Errorf("environment variable %s is not set", provider.ProjectEnv))
			}
			if provider.LocationEnv != "" && os.Getenv(provider.LocationEnv) == "" {
				return NewValidationError("llm_provider", name, "location_env", fmt.Errorf("environment variable %s is not set", provider.LocationEnv))
			}
		}
		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}
		if provider.Type == LLMProviderTypeGoogle && provider.NativeTools != nil {
			for tool := range provider.NativeTools {
				if !tool.IsValid() {
					return NewValidationError("llm_provider", name, "native_tools", fmt.Errorf("invalid native tool: %s", tool))
				}
			}
		}
	}

	return nil
}
