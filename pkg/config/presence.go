package config

import "time"

// PresenceConfig contains PresenceStore configuration.
type PresenceConfig struct {
	// RedisConnectionString is the backing store for PresenceStore. Empty
	// disables presence tracking; the gateway still accepts connections and
	// sends messages, but presence queries return conservative answers.
	RedisConnectionString string `yaml:"redis_connection_string"`

	// TTL is the liveness window; an unrefreshed entry older than TTL is
	// treated as stale and the user as offline.
	TTL time.Duration `yaml:"ttl_seconds"`
}

// DefaultPresenceConfig returns the built-in presence defaults.
func DefaultPresenceConfig() *PresenceConfig {
	return &PresenceConfig{
		TTL: 300 * time.Second,
	}
}
