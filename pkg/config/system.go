package config

import "time"

// GatewayConfig holds WebSocket/HTTP edge settings for the chat gateway.
type GatewayConfig struct {
	// AllowedWSOrigins lists additional accepted Origin header values for
	// WebSocket upgrades, beyond the default same-origin check.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`

	// WriteTimeout bounds a single WebSocket message write to a connected
	// client; a slow/stalled client is dropped rather than blocking the
	// connection's dispatch goroutine.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		WriteTimeout: 10 * time.Second,
	}
}
