package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// ConversationRetentionDays is the grace period a soft-deleted
	// conversation (deleted_at set) is kept before the cleanup service
	// hard-purges it.
	ConversationRetentionDays int `yaml:"conversation_retention_days"`

	// EventTTL is the maximum age of delivered/dead-lettered Event outbox
	// rows before deletion. This is the safety net for outbox growth.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ConversationRetentionDays: 365,
		EventTTL:                  1 * time.Hour,
		CleanupInterval:           12 * time.Hour,
	}
}
