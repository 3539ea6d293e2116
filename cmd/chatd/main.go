// chatd is the coding-agent chat platform server: it serves the HTTP/WebSocket
// gateway and runs the orchestration worker pool in a single process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/chatd/pkg/api"
	"github.com/codeready-toolchain/chatd/pkg/classifier"
	"github.com/codeready-toolchain/chatd/pkg/cleanup"
	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/database"
	"github.com/codeready-toolchain/chatd/pkg/events"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	"github.com/codeready-toolchain/chatd/pkg/presence"
	"github.com/codeready-toolchain/chatd/pkg/queue"
	"github.com/codeready-toolchain/chatd/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	podID := flag.String("pod-id", getEnv("POD_ID", "chatd-0"), "Identifier for this replica, used in queue claims")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	dashboardDir := getEnv("DASHBOARD_DIR", "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()
	slog.Info("configuration initialized", "llm_providers", stats.LLMProviders, "config_dir", *configDir)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to PostgreSQL, schema migrated")

	conversationService := services.NewConversationService(dbClient.Client)
	messageService := services.NewMessageService(dbClient.Client)
	eventService := services.NewEventService(dbClient.Client)

	eventPublisher := events.NewEventPublisher(dbClient.DB())
	catchupAdapter := events.NewEventServiceAdapter(eventService)
	connManager := events.NewConnectionManager(catchupAdapter, cfg.Gateway.WriteTimeout)

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("failed to start NOTIFY listener: %v", err)
	}
	connManager.SetListener(notifyListener)
	defer notifyListener.Stop(context.Background())
	slog.Info("LISTEN/NOTIFY bridge started")

	var presenceStore *presence.Store
	if cfg.Presence.RedisConnectionString != "" {
		presenceStore, err = presence.New(cfg.Presence.RedisConnectionString, cfg.Presence.TTL)
		if err != nil {
			log.Fatalf("failed to connect to presence store: %v", err)
		}
		defer func() {
			if err := presenceStore.Close(); err != nil {
				slog.Error("error closing presence store", "error", err)
			}
		}()
		slog.Info("connected to Redis presence store")
	} else {
		slog.Warn("presence store not configured (no redis_connection_string); presence queries report conservative defaults")
	}

	// The hub methods dispatched from each WebSocket connection's read loop
	// (JoinConversation, SendMessage, GetOnlineUsers, ...) need the same
	// collaborators the REST handlers use. When presenceStore is unconfigured,
	// hubPresence stays an untyped nil interface rather than wrapping a nil
	// *presence.Store, so m.presence == nil holds and every hub method falls
	// back to a conservative answer.
	var hubPresence events.PresenceCollaborator
	if presenceStore != nil {
		hubPresence = presenceStore
	}
	connManager.SetHubCollaborators(conversationService, messageService, eventPublisher, hubPresence)

	llmClient, err := llm.NewGRPCClient(cfg.Orchestration.LLMSidecarAddr)
	if err != nil {
		log.Fatalf("failed to create LLM sidecar client: %v", err)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("error closing LLM sidecar connection", "error", err)
		}
	}()

	var classifierLLMConfig *config.LLMProviderConfig
	if provider, err := cfg.GetLLMProvider(cfg.Classifier.LLMProvider); err == nil {
		classifierLLMConfig = provider
	} else if cfg.Classifier.LLMProvider != "" {
		slog.Warn("classifier LLM provider not found, LLM tier disabled", "provider", cfg.Classifier.LLMProvider, "error", err)
	}

	// A nil client stops the classifier cascade at the learned tier.
	var classifierLLM llm.Client
	if classifierLLMConfig != nil {
		classifierLLM = llmClient
	}

	taskClassifier, err := classifier.New(cfg.Classifier, classifierLLMConfig, classifierLLM)
	if err != nil {
		log.Fatalf("failed to build task classifier: %v", err)
	}

	turnExecutor := queue.NewChatTurnExecutor(cfg.Orchestration, dbClient.Client, llmClient, taskClassifier, eventPublisher)
	workerPool := queue.NewWorkerPool(*podID, dbClient.Client, cfg.Queue, turnExecutor)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}
	defer workerPool.Stop()
	slog.Info("worker pool started", "pod_id", *podID, "worker_count", cfg.Queue.WorkerCount)

	cleanupService := cleanup.NewService(cfg.Retention, conversationService, eventService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	server := api.NewServer(cfg, dbClient, conversationService, messageService, eventPublisher, connManager, workerPool)
	if presenceStore != nil {
		server.SetPresenceStore(presenceStore)
	}
	if dashboardDir != "" {
		server.SetDashboardDir(dashboardDir)
	}

	go func() {
		slog.Info("HTTP server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during HTTP server shutdown", "error", err)
	}

	slog.Info("chatd stopped")
}
