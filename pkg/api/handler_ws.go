package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to
// ConnectionManager. userAuth has already run (see setupRoutes), so
// userIDFrom(c) is always populated here.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(503, "WebSocket not available")
	}
	userID := userIDFrom(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
	}

	opts := &websocket.AcceptOptions{}
	if s.cfg.Gateway != nil && len(s.cfg.Gateway.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Gateway.AllowedWSOrigins
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// Register connection with the ConnectionManager.
	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, userID)
	return nil
}
