package config

// BusConfig contains EventBus transport configuration. The default
// transport is the durable Postgres-backed outbox (ChatDb connection plus
// LISTEN/NOTIFY); Transport/Host/credentials are kept distinct from
// ChatDb so a dedicated message-broker deployment can be swapped in
// without touching the durable store.
type BusConfig struct {
	Transport    string `yaml:"transport"` // "postgres" (default)
	Host         string `yaml:"host,omitempty"`
	CredentialEnv string `yaml:"credential_env,omitempty"`
	NotifyChannel string `yaml:"notify_channel"`

	// MaxRetries bounds the number of redelivery attempts before an
	// envelope is moved to the dead-letter sink.
	MaxRetries int `yaml:"max_retries" validate:"min=1"`
}

// DefaultBusConfig returns the built-in bus defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		Transport:     "postgres",
		NotifyChannel: "chatd_events",
		MaxRetries:    5,
	}
}
