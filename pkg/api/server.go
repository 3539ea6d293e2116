// Package api provides the HTTP and WebSocket surface of the chat gateway.
package api

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/database"
	"github.com/codeready-toolchain/chatd/pkg/events"
	"github.com/codeready-toolchain/chatd/pkg/metrics"
	"github.com/codeready-toolchain/chatd/pkg/presence"
	"github.com/codeready-toolchain/chatd/pkg/queue"
	"github.com/codeready-toolchain/chatd/pkg/services"
	"github.com/codeready-toolchain/chatd/pkg/version"
)

// Server is the chat gateway's HTTP API and WebSocket edge.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.Config
	dbClient *database.Client

	conversationService *services.ConversationService
	messageService      *services.MessageService
	eventPublisher      *events.EventPublisher
	connManager         *events.ConnectionManager
	workerPool          *queue.WorkerPool
	presenceStore       *presence.Store // nil if presence is not configured

	dashboardDir string
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	conversationService *services.ConversationService,
	messageService *services.MessageService,
	eventPublisher *events.EventPublisher,
	connManager *events.ConnectionManager,
	workerPool *queue.WorkerPool,
) *Server {
	e := echo.New()

	s := &Server{
		echo:                e,
		cfg:                 cfg,
		dbClient:            dbClient,
		conversationService: conversationService,
		messageService:      messageService,
		eventPublisher:      eventPublisher,
		connManager:         connManager,
		workerPool:          workerPool,
	}

	s.setupRoutes()
	return s
}

// SetPresenceStore wires the presence store for the presence lookup endpoint.
// Presence is an optional collaborator — nil leaves the endpoint disabled.
func (s *Server) SetPresenceStore(store *presence.Store) {
	s.presenceStore = store
}

// SetDashboardDir sets the path to a static dashboard build directory and
// registers SPA fallback serving. Must be called after NewServer so that API
// routes (registered first) take priority over the wildcard fallback.
func (s *Server) SetDashboardDir(dir string) {
	s.dashboardDir = dir
	s.setupDashboardRoutes()
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler)

	// User-facing REST surface: bearer JWT required, UserId resolved from
	// its "sub" claim for ownership checks in every handler below.
	v1 := s.echo.Group("/api/v1", userAuth(s.cfg.Auth))

	v1.POST("/conversations", s.createConversationHandler)
	v1.GET("/conversations", s.listConversationsHandler)
	v1.GET("/conversations/:id", s.getConversationHandler)
	v1.PATCH("/conversations/:id", s.updateConversationTitleHandler)
	v1.DELETE("/conversations/:id", s.deleteConversationHandler)

	v1.GET("/conversations/:id/messages", s.listMessagesHandler)
	v1.POST("/conversations/:id/messages", s.postMessageHandler)

	// Registered unconditionally; presenceHandler itself reports 503 when no
	// store is wired, so a deployment without Redis configured doesn't need
	// a conditional route table.
	v1.GET("/presence/:userId", s.presenceHandler)

	// InternalService-gated: called by the orchestration worker, never by a
	// browser client. A sibling group (not nested under v1) so it is never
	// subject to userAuth — the worker presents an InternalService token,
	// not a user credential.
	internal := s.echo.Group("/api/v1/internal", internalServiceAuth(s.cfg.Auth))
	internal.POST("/conversations/agent-response", s.agentResponseCallbackHandler)
	internal.GET("/conversations/:id/messages/history", s.messageHistoryHandler)

	// WebSocket duplex endpoint for real-time event streaming. Authenticated
	// the same way as the REST surface, with the query-parameter credential
	// form mandatory here since a browser's WebSocket handshake can't set
	// arbitrary headers.
	s.echo.GET("/hubs/chat", s.wsHandler, userAuth(s.cfg.Auth))
}

// setupDashboardRoutes registers static file serving for a pre-built SPA
// dashboard, when one is configured. Kept for parity with deployments that
// bundle a web client alongside the API; no-op otherwise. Uses os.DirFS
// rather than Echo's path-relative Static/File helpers, so an absolute
// dashboard directory works regardless of the process's working directory.
func (s *Server) setupDashboardRoutes() {
	if s.dashboardDir == "" {
		return
	}
	if _, err := os.Stat(s.dashboardDir + "/index.html"); os.IsNotExist(err) {
		return
	}

	dashFS := os.DirFS(s.dashboardDir)

	if assetsFS, err := fs.Sub(dashFS, "assets"); err == nil {
		s.echo.GET("/assets/*", func(c *echo.Context) error {
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.FileFS(c.Param("*"), assetsFS)
		})
	}

	s.echo.GET("/*", func(c *echo.Context) error {
		path := c.Request().URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/health" || path == "/hubs/chat" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		c.Response().Header().Set("Cache-Control", "no-cache")

		relPath := strings.TrimPrefix(path, "/")
		if relPath != "" {
			if info, statErr := fs.Stat(dashFS, relPath); statErr == nil && !info.IsDir() {
				return c.FileFS(relPath, dashFS)
			}
		}
		return c.FileFS("index.html", dashFS)
	})
}

// Start starts the HTTP server on the given address (non-blocking caller side).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used by
// test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// metricsHandler handles GET /metrics, exposing process and domain metrics
// in the Prometheus exposition format.
func (s *Server) metricsHandler(c *echo.Context) error {
	metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := "healthy"

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		status = "unhealthy"
		checks["database"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: "healthy"}
	}

	if s.workerPool != nil {
		poolHealth := s.workerPool.Health()
		if poolHealth != nil && !poolHealth.IsHealthy {
			if status == "healthy" {
				status = "degraded"
			}
			msg := poolHealth.DBError
			if msg == "" {
				msg = "worker pool degraded"
			}
			checks["worker_pool"] = HealthCheck{Status: "degraded", Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: "healthy"}
		}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
