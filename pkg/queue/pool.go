package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/chatd/ent"
	"github.com/codeready-toolchain/chatd/ent/event"
	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/metrics"
)

// WorkerPool manages a pool of queue workers polling the MessageSent outbox.
type WorkerPool struct {
	podID       string
	client      *ent.Client
	config      *config.QueueConfig
	turnExec    TurnExecutor
	workers     []*Worker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Turn cancel registry: event_id → cancel function
	activeTurns map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	dlq dlqState
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, client *ent.Client, cfg *config.QueueConfig, exec TurnExecutor) *WorkerPool {
	return &WorkerPool{
		podID:       podID,
		client:      client,
		config:      cfg,
		turnExec:    exec,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTurns: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the dead-letter promotion background
// task. It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.client, p.config, p.turnExec, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runDeadLetterPromotion(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current turn before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveEventIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active turns to complete", "count", len(active), "event_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterTurn stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterTurn(eventID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTurns[eventID] = cancel
}

// UnregisterTurn removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterTurn(eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTurns, eventID)
}

// CancelTurn triggers context cancellation for a turn on this pod.
// Returns true if the turn was found and cancelled on this pod.
func (p *WorkerPool) CancelTurn(eventID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTurns[eventID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.client.Event.Query().
		Where(
			event.TypeEQ(event.TypeMessageSent),
			event.DeliveredEQ(false),
			event.DeadLetterEQ(false),
		).
		Count(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}

	deadLettered, errD := p.client.Event.Query().
		Where(event.DeadLetterEQ(true)).
		Count(ctx)
	if errD != nil {
		slog.Error("Failed to query dead-letter count for health check", "pod_id", p.podID, "error", errD)
	}
	if errQ == nil {
		metrics.QueueDepth.Set(float64(queueDepth))
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.mu.RLock()
	activeTurns := len(p.activeTurns)
	p.mu.RUnlock()

	dbHealthy := errQ == nil && errD == nil
	isHealthy := len(p.workers) > 0 && activeTurns <= p.config.MaxConcurrentTurns && dbHealthy

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errD != nil {
			dbError = fmt.Sprintf("dead-letter query failed: %v", errD)
		}
	}

	return &PoolHealth{
		IsHealthy:     isHealthy,
		DBReachable:   dbHealthy,
		DBError:       dbError,
		PodID:         p.podID,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveTurns:   activeTurns,
		MaxConcurrent: p.config.MaxConcurrentTurns,
		QueueDepth:    queueDepth,
		WorkerStats:   workerStats,
		DeadLettered:  deadLettered,
	}
}

// getActiveEventIDs returns IDs of currently processing events (for logging).
func (p *WorkerPool) getActiveEventIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTurns))
	for id := range p.activeTurns {
		ids = append(ids, id)
	}
	return ids
}
