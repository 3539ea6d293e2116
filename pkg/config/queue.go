package config

import "time"

// QueueConfig contains OrchestrationWorker pool tuning.
// These values control how queued turns are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and claims queued turns.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentTurns is the global limit of concurrent turns being
	// processed across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentTurns int `yaml:"max_concurrent_turns"`

	// PollInterval is the base interval for checking for queued turns.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TurnTimeout is the maximum time a single turn can be processed
	// before it is forcibly failed.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active turns
	// to complete during shutdown. Should match TurnTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often an in-flight turn refreshes its
	// claim's liveness marker.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned turns
	// (claimed but no longer heartbeating, e.g. the owning worker crashed).
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a turn can go without a heartbeat
	// before it is considered orphaned and requeued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentTurns:      10,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		TurnTimeout:             2 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
		HeartbeatInterval:       10 * time.Second,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         1 * time.Minute,
	}
}
