package background_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/background"
)

func testConfig() background.Config {
	return background.Config{
		NumWorkers:        1,
		MaxQueueSize:      16,
		TaskTimeout:       time.Second,
		ShutdownTimeout:   time.Second,
		WorkerWaitTimeout: 20 * time.Millisecond,
	}
}

// TestPriorityOrder reproduces spec.md §8 end-to-end scenario 6: with one
// worker, T1 (priority 4), T2 (priority 1), T3 (priority 3) execute in order
// T2, T3, T1.
func TestPriorityOrder(t *testing.T) {
	p := background.NewProcessor(testConfig(), nil)

	var mu sync.Mutex
	var order []string
	block := make(chan struct{})

	// Occupy the single worker so all three submissions land in the queue
	// together before any of them can run.
	_, err := p.SubmitFlush(func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	p.Start()

	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	_, err = p.SubmitCleanup(record("T1"), 4)
	require.NoError(t, err)
	_, err = p.SubmitFlush(record("T2"), 1)
	require.NoError(t, err)
	_, err = p.SubmitCompression(record("T3"), 3)
	require.NoError(t, err)

	close(block)
	require.True(t, p.WaitForCompletion(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"T2", "T3", "T1"}, order)

	stats := p.Stats()
	require.Equal(t, int64(4), stats.TasksProcessed)
	require.Equal(t, int64(0), stats.TasksFailed)
	require.Equal(t, int64(0), stats.QueueSize)
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 0
	cfg.MaxQueueSize = 1
	p := background.NewProcessor(cfg, nil)

	_, err := p.SubmitFlush(func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	_, err = p.SubmitFlush(func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, background.ErrQueueFull)
	require.Equal(t, int64(1), p.Stats().TasksRejected)
}

func TestFailedTaskIsCountedNotPanicked(t *testing.T) {
	p := background.NewProcessor(testConfig(), nil)
	p.Start()
	defer p.Shutdown(context.Background())

	_, err := p.SubmitCompression(func(ctx context.Context) error {
		return fmt.Errorf("boom")
	})
	require.NoError(t, err)

	require.True(t, p.WaitForCompletion(time.Second))
	stats := p.Stats()
	require.Equal(t, int64(1), stats.TasksProcessed)
	require.Equal(t, int64(1), stats.TasksFailed)
}

func TestPanicInTaskIsRecovered(t *testing.T) {
	p := background.NewProcessor(testConfig(), nil)
	p.Start()
	defer p.Shutdown(context.Background())

	_, err := p.SubmitIndexing(func(ctx context.Context) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	require.True(t, p.WaitForCompletion(time.Second))
	require.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestShutdownIsIdempotentAndQuiescent(t *testing.T) {
	p := background.NewProcessor(testConfig(), nil)
	p.Start()

	var ran bool
	_, err := p.SubmitFlush(func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	p.Shutdown(ctx)
	p.Shutdown(ctx) // idempotent

	require.True(t, ran)
	require.False(t, p.Healthy())
	require.Equal(t, int64(0), p.Stats().ActiveTasks)

	_, err = p.SubmitCleanup(func(ctx context.Context) error { return nil })
	require.NoError(t, err, "submit is still accepted; execution is what stops")
}
