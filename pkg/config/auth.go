package config

// AuthConfig contains bearer-credential verification configuration. The
// auth service itself (issuing/refreshing tokens) is an out-of-core
// collaborator; the core only verifies claims against its signing material.
type AuthConfig struct {
	// SigningMethod names the JWT signing algorithm (e.g. "RS256", "HS256").
	SigningMethod string `yaml:"signing_method" validate:"required"`

	// PublicKeyEnv is the environment variable holding the verification
	// key material (PEM-encoded public key for RS*, shared secret for HS*).
	PublicKeyEnv string `yaml:"public_key_env" validate:"required"`

	// InternalServiceAudience is the JWT "aud" claim value required for
	// the InternalService authorization policy.
	InternalServiceAudience string `yaml:"internal_service_audience"`

	// UserAudience is the JWT "aud" claim value required for user-facing
	// requests (REST endpoints and the WebSocket hub). The token's "sub"
	// claim becomes the caller's UserId.
	UserAudience string `yaml:"user_audience"`
}

// DefaultAuthConfig returns the built-in auth defaults.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		SigningMethod:           "RS256",
		PublicKeyEnv:            "AUTH_JWT_PUBLIC_KEY",
		InternalServiceAudience: "internal-service",
		UserAudience:            "chatd-client",
	}
}
