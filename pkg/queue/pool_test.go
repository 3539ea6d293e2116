package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancelTurn(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterTurn("event-1", cancel)

	assert.True(t, pool.CancelTurn("event-1"))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelTurn("unknown"))
}

func TestPoolUnregisterTurn(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterTurn("event-1", cancel)

	assert.True(t, pool.CancelTurn("event-1"))

	pool.UnregisterTurn("event-1")

	assert.False(t, pool.CancelTurn("event-1"))
}

func TestPoolGetActiveEventIDs(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	ids := pool.getActiveEventIDs()
	assert.Empty(t, ids)

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterTurn("event-a", cancel1)
	pool.RegisterTurn("event-b", cancel2)

	ids = pool.getActiveEventIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "event-a")
	assert.Contains(t, ids, "event-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:      make(chan struct{}),
		activeTurns: make(map[string]context.CancelFunc),
	}

	pool.Stop()
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestPoolRegisterTurnConcurrency(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	const numTurns = 100
	for i := 0; i < numTurns; i++ {
		go func(id int) {
			_, cancel := context.WithCancel(context.Background())
			defer cancel()
			eventID := fmt.Sprintf("event-%d", id)
			pool.RegisterTurn(eventID, cancel)
		}(i)
	}

	require.Eventually(t, func() bool {
		pool.mu.RLock()
		defer pool.mu.RUnlock()
		return len(pool.activeTurns) == numTurns
	}, 1*time.Second, 10*time.Millisecond)
}

func TestPoolCancelNonExistentTurn(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	assert.False(t, pool.CancelTurn("nonexistent-event"))
}

func TestPoolUnregisterNonExistentTurn(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	assert.NotPanics(t, func() {
		pool.UnregisterTurn("nonexistent-event")
	})
}

func TestPoolMultipleTurnLifecycle(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	events := []string{"event-1", "event-2", "event-3"}

	for _, eid := range events {
		_, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.RegisterTurn(eid, cancel)
	}

	ids := pool.getActiveEventIDs()
	require.Len(t, ids, 3)

	assert.True(t, pool.CancelTurn("event-2"))
	pool.UnregisterTurn("event-2")

	ids = pool.getActiveEventIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "event-1")
	assert.Contains(t, ids, "event-3")
	assert.NotContains(t, ids, "event-2")
}

func TestPoolRegisterSameTurnTwice(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	pool.RegisterTurn("event-1", cancel1)
	pool.RegisterTurn("event-1", cancel2) // Should overwrite

	assert.True(t, pool.CancelTurn("event-1"))

	assert.Error(t, ctx2.Err())
	assert.NoError(t, ctx1.Err())
}

func TestPoolConcurrentCancellation(t *testing.T) {
	pool := &WorkerPool{
		activeTurns: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterTurn("event-racy", cancel)

	const numGoroutines = 10
	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			results <- pool.CancelTurn("event-racy")
		}()
	}

	var trueCount int
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			trueCount++
		}
	}

	assert.Equal(t, numGoroutines, trueCount)
	assert.Error(t, ctx.Err())
}
