package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitReturnsImmediatelyWhenSettled(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	require.True(t, m.Post(200))

	start := time.Now()
	assert.Equal(t, 200, m.Await(context.Background(), time.Second))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAwaitTimesOutWithZero(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	start := time.Now()
	got := m.Await(context.Background(), 80*time.Millisecond)
	elapsed := time.Since(start)

	assert.Zero(t, got)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPostWakesWaiters(t *testing.T) {
	t.Parallel()

	m := NewMonitor()

	const waiters = 5
	results := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Await(context.Background(), 5*time.Second)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	m.Post(404)
	wg.Wait()
	close(results)

	assert.Less(t, time.Since(start), time.Second)
	for got := range results {
		assert.Equal(t, 404, got)
	}
}

func TestFirstPostWins(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	assert.False(t, m.Post(0), "zero is not terminal")
	assert.True(t, m.Post(LoadFailed))
	assert.False(t, m.Post(200))
	assert.Equal(t, LoadFailed, m.Current())

	m.Reset()
	assert.Zero(t, m.Current())
	assert.True(t, m.Post(200))
	assert.Equal(t, 200, m.Current())
}

func TestAwaitInterruptedByContext(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	assert.Zero(t, m.Await(ctx, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwaitWithoutTimeoutDoesNotBlock(t *testing.T) {
	t.Parallel()

	m := NewMonitor()
	assert.Zero(t, m.Await(context.Background(), 0))
}
