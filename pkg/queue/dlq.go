package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/event"
	"github.com/codeready-toolchain/chatd/pkg/metrics"
)

// maxDeliveryAttempts bounds retries before an undelivered event is parked
// as a dead letter instead of being claimed again.
const maxDeliveryAttempts = 5

// dlqState tracks dead-letter promotion metrics (thread-safe).
type dlqState struct {
	mu            sync.Mutex
	lastScan      time.Time
	promoted      int
}

// runDeadLetterPromotion periodically scans for events that have exhausted
// their retry budget and parks them as dead letters. The claim lease itself
// (available_at) makes liveness recovery automatic — a crashed worker's
// claim simply becomes reclaimable once its lease expires — so this scan's
// only job is capping retries, not detecting orphans.
func (p *WorkerPool) runDeadLetterPromotion(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.promoteExhaustedEvents(ctx); err != nil {
				slog.Error("Dead-letter promotion scan failed", "error", err)
			}
		}
	}
}

// promoteExhaustedEvents marks undelivered events that have exceeded
// maxDeliveryAttempts as dead letters so workers stop reclaiming them.
func (p *WorkerPool) promoteExhaustedEvents(ctx context.Context) error {
	count, err := p.client.Event.Update().
		Where(
			event.DeliveredEQ(false),
			event.DeadLetterEQ(false),
			event.AttemptsGTE(maxDeliveryAttempts),
		).
		SetDeadLetter(true).
		Save(ctx)
	if err != nil {
		return err
	}

	p.dlq.mu.Lock()
	p.dlq.lastScan = time.Now()
	p.dlq.promoted += count
	p.dlq.mu.Unlock()

	if count > 0 {
		metrics.EventDeliveryFailures.Add(float64(count))
		slog.Warn("Promoted exhausted events to dead letter", "count", count)
	}
	return nil
}

// CleanupStartupDeadLetters is a one-time startup sweep that promotes any
// events already past the retry budget before the pool starts polling, so
// a crash-looping worker can't spin forever reclaiming the same event.
func CleanupStartupDeadLetters(ctx context.Context, client *ent.Client) error {
	count, err := client.Event.Update().
		Where(
			event.DeliveredEQ(false),
			event.DeadLetterEQ(false),
			event.AttemptsGTE(maxDeliveryAttempts),
		).
		SetDeadLetter(true).
		Save(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("Promoted stale events to dead letter at startup", "count", count)
	}
	return nil
}
