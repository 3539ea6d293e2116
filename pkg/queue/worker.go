package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/event"
	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/metrics"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes turns.
type Worker struct {
	id       string
	podID    string
	client   *ent.Client
	config   *config.QueueConfig
	turnExec TurnExecutor
	pool     TurnRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentEventID string
	turnsProcessed int
	lastActivity   time.Time
}

// TurnRegistry is the subset of WorkerPool used by Worker for turn registration.
type TurnRegistry interface {
	RegisterTurn(eventID string, cancel context.CancelFunc)
	UnregisterTurn(eventID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, client *ent.Client, cfg *config.QueueConfig, exec TurnExecutor, pool TurnRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		client:       client,
		config:       cfg,
		turnExec:     exec,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentEventID: w.currentEventID,
		TurnsProcessed: w.turnsProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoEventsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing turn", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims an event, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.client.Event.Query().
		Where(
			event.TypeEQ(event.TypeMessageSent),
			event.DeliveredEQ(false),
			event.DeadLetterEQ(false),
			event.AvailableAtGT(time.Now()),
		).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("checking active turns: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentTurns {
		return ErrAtCapacity
	}

	claimed, err := w.claimNextEvent(ctx)
	if err != nil {
		return err
	}

	log := slog.With("event_id", claimed.ID, "conversation_id", claimed.ConversationID, "worker_id", w.id)
	log.Info("Turn claimed")

	w.setStatus(WorkerStatusWorking, claimed.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	turnCtx, cancel := context.WithTimeout(ctx, w.config.TurnTimeout)
	defer cancel()

	w.pool.RegisterTurn(claimed.ID, cancel)
	defer w.pool.UnregisterTurn(claimed.ID)

	start := time.Now()
	result := w.turnExec.Execute(turnCtx, claimed)
	if result == nil {
		result = &ExecutionResult{Error: fmt.Errorf("executor returned nil result")}
	}

	outcome := "failed"
	if result.Succeeded {
		outcome = "succeeded"
	}
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if result.Succeeded {
		if err := w.markDelivered(context.Background(), claimed.ID); err != nil {
			log.Error("Failed to mark event delivered", "error", err)
			return err
		}
	} else {
		log.Warn("Turn failed, will retry within attempt budget", "error", result.Error)
	}

	w.mu.Lock()
	w.turnsProcessed++
	w.mu.Unlock()

	log.Info("Turn processing complete", "succeeded", result.Succeeded)
	return nil
}

// claimNextEvent atomically claims the oldest ready MessageSent event using
// FOR UPDATE SKIP LOCKED, bumping its attempt count and pushing its lease
// (available_at) forward so a crash mid-processing makes it reclaimable
// again once the lease passes, without a separate orphan scan.
func (w *Worker) claimNextEvent(ctx context.Context) (*ent.Event, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	claimed, err := tx.Event.Query().
		Where(
			event.TypeEQ(event.TypeMessageSent),
			event.DeliveredEQ(false),
			event.DeadLetterEQ(false),
			event.AvailableAtLTE(time.Now()),
		).
		Order(ent.Asc(event.FieldOccurredAt)).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoEventsAvailable
		}
		return nil, fmt.Errorf("failed to query claimable event: %w", err)
	}

	lease := time.Now().Add(w.config.TurnTimeout)
	claimed, err = claimed.Update().
		SetAvailableAt(lease).
		SetAttempts(claimed.Attempts + 1).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return claimed, nil
}

// markDelivered flags the claimed event as delivered so it's never reclaimed.
func (w *Worker) markDelivered(ctx context.Context, eventID string) error {
	return w.client.Event.UpdateOneID(eventID).
		SetDelivered(true).
		Exec(ctx)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, eventID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentEventID = eventID
	w.lastActivity = time.Now()
}
