// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/services"
)

// Service periodically enforces retention policies:
//   - Hard-purges conversations that were soft-deleted past their grace period
//   - Removes delivered/dead-lettered Event outbox rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config              *config.RetentionConfig
	conversationService *services.ConversationService
	eventService        *services.EventService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	conversationService *services.ConversationService,
	eventService *services.EventService,
) *Service {
	return &Service{
		config:              cfg,
		conversationService: conversationService,
		eventService:        eventService,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"conversation_retention_days", s.config.ConversationRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeOldConversations(ctx)
	s.purgeExpiredEvents(ctx)
}

func (s *Service) purgeOldConversations(_ context.Context) {
	count, err := s.conversationService.PurgeOlderThan(context.Background(), s.config.ConversationRetentionDays)
	if err != nil {
		slog.Error("Retention: conversation purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged soft-deleted conversations", "count", count)
	}
}

func (s *Service) purgeExpiredEvents(_ context.Context) {
	count, err := s.eventService.PurgeExpiredEvents(context.Background(), s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired events", "count", count)
	}
}
