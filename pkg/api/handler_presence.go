package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// presenceResponse is returned by GET /api/v1/presence/:userId.
type presenceResponse struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen,omitempty"`
}

// presenceHandler handles GET /api/v1/presence/:userId.
func (s *Server) presenceHandler(c *echo.Context) error {
	if s.presenceStore == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "presence is not configured")
	}

	userID := c.Param("userId")
	online := s.presenceStore.IsOnline(c.Request().Context(), userID)
	resp := presenceResponse{UserID: userID, Online: online}

	if lastSeen := s.presenceStore.LastSeen(c.Request().Context(), userID); !lastSeen.IsZero() {
		resp.LastSeen = lastSeen.Format(http.TimeFormat)
	}

	return c.JSON(http.StatusOK, resp)
}
