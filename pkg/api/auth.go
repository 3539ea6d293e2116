package api

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/chatd/pkg/config"
)

// userIDContextKey is the echo context key userAuth stores the verified
// caller's UserId under.
const userIDContextKey = "chatd_user_id"

var (
	errSigningKeyNotConfigured = errors.New("auth signing key not configured")
	errInvalidSigningKey       = errors.New("invalid auth signing key")
	errWrongAudience           = errors.New("token not authorized for audience")
)

// bearerToken extracts a bearer credential from the Authorization header or,
// failing that, the access_token query parameter. The query-parameter form
// exists because the WebSocket handshake in a browser cannot set arbitrary
// request headers.
func bearerToken(c *echo.Context) string {
	if authz := c.Request().Header.Get("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok && token != "" {
			return token
		}
	}
	return c.QueryParam("access_token")
}

// userIDFrom returns the UserId userAuth resolved for this request, or ""
// if userAuth was never run (should not happen on a route it guards).
func userIDFrom(c *echo.Context) string {
	if v, ok := c.Get(userIDContextKey).(string); ok {
		return v
	}
	return ""
}

// userAuth returns middleware enforcing bearer JWT authentication for the
// client-facing surface (REST routes and the WebSocket upgrade): the token
// must verify against cfg's signing material, carry an "aud" claim matching
// cfg.UserAudience, and carry a "sub" claim, which becomes the caller's
// UserId for the remainder of the request.
func userAuth(cfg *config.AuthConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
			}

			claims, err := verifyToken(cfg, token, cfg.UserAudience)
			if err != nil {
				if errors.Is(err, errSigningKeyNotConfigured) || errors.Is(err, errInvalidSigningKey) {
					return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired credential")
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token missing subject claim")
			}

			c.Set(userIDContextKey, sub)
			return next(c)
		}
	}
}

// internalServiceAuth returns middleware enforcing the InternalService
// authorization policy: a bearer JWT whose "aud" claim matches
// cfg.InternalServiceAudience, signed with the key named by cfg.PublicKeyEnv.
// Gates the worker-facing callback/history endpoints.
func internalServiceAuth(cfg *config.AuthConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			_, err := verifyToken(cfg, token, cfg.InternalServiceAudience)
			switch {
			case err == nil:
				return next(c)
			case errors.Is(err, errSigningKeyNotConfigured) || errors.Is(err, errInvalidSigningKey):
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			case errors.Is(err, errWrongAudience):
				return echo.NewHTTPError(http.StatusForbidden, "token not authorized for internal service access")
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
		}
	}
}

// verifyToken parses and validates tokenString against cfg's signing
// material, requiring an "aud" claim equal to expectedAudience (skipped if
// expectedAudience is empty). Shared by both authorization policies.
func verifyToken(cfg *config.AuthConfig, tokenString, expectedAudience string) (jwt.MapClaims, error) {
	keyMaterial := os.Getenv(cfg.PublicKeyEnv)
	if keyMaterial == "" {
		return nil, errSigningKeyNotConfigured
	}

	key, err := parseVerificationKey(cfg.SigningMethod, keyMaterial)
	if err != nil {
		return nil, errInvalidSigningKey
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{cfg.SigningMethod}))
	if err != nil {
		return nil, err
	}

	if expectedAudience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, expectedAudience) {
			return nil, errWrongAudience
		}
	}
	return claims, nil
}

// parseVerificationKey decodes the verification key material according to
// the configured signing method: an RSA public key (PEM) for RS*, or the
// raw shared secret bytes for HS*.
func parseVerificationKey(signingMethod, material string) (interface{}, error) {
	if strings.HasPrefix(signingMethod, "RS") {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(material))
		if err != nil {
			return (*rsa.PublicKey)(nil), err
		}
		return key, nil
	}
	return []byte(material), nil
}
