// Package queue provides the OrchestrationWorker pool: polling, claiming,
// and processing queued MessageSent events against the LLM.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/chatd/ent"
)

// Sentinel errors for queue operations.
var (
	// ErrNoEventsAvailable indicates no unclaimed MessageSent events are ready.
	ErrNoEventsAvailable = errors.New("no events available")

	// ErrAtCapacity indicates the global concurrent turn limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// TurnExecutor processes a single claimed MessageSent event: it assembles
// conversation context, classifies the task, calls the LLM, and appends
// and publishes the resulting AgentResponse. The executor owns the entire
// turn's lifecycle; the worker only handles claiming and terminal bookkeeping.
type TurnExecutor interface {
	Execute(ctx context.Context, claimed *ent.Event) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one turn.
type ExecutionResult struct {
	Succeeded bool
	Error     error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	DBReachable    bool           `json:"db_reachable"`
	DBError        string         `json:"db_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	ActiveTurns    int            `json:"active_turns"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	DeadLettered   int            `json:"dead_lettered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentEventID string    `json:"current_event_id,omitempty"`
	TurnsProcessed int       `json:"turns_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
