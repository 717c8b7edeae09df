package writebuffer_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/writebuffer"
)

type fakeStorage struct {
	mu      sync.Mutex
	writes  []writebuffer.WriteOperation
	failN   int32 // fail the next failN calls
	failAll bool
}

func (f *fakeStorage) Write(ctx context.Context, op writebuffer.WriteOperation) error {
	if f.failAll || atomic.AddInt32(&f.failN, -1) >= 0 {
		return fmt.Errorf("fake storage write error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, op)
	return nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func testConfig() writebuffer.Config {
	return writebuffer.Config{
		NumShards:            4,
		BufferSizePerShard:   100,
		FlushInterval:        50 * time.Millisecond,
		MaxFlushWorkers:      2,
		RetryAttempts:        2,
		RetryDelay:           time.Millisecond,
		LoadBalanceThreshold: 0.5,
	}
}

func TestAddWriteDispatchIsDeterministic(t *testing.T) {
	storage := &fakeStorage{}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour // keep both writes queued until inspected
	buf := writebuffer.New(cfg, storage, nil)
	buf.Start(context.Background())
	defer buf.Shutdown(context.Background())

	lset := model.LabelSet{"__name__": "m", "job": "a"}
	ok1 := buf.AddWrite(lset, []model.Sample{{Timestamp: 0, Value: 1}}, nil)
	ok2 := buf.AddWrite(lset, []model.Sample{{Timestamp: 1000, Value: 2}}, nil)
	require.True(t, ok1)
	require.True(t, ok2)

	// Both writes of the same series land in the same shard.
	nonEmpty := 0
	for _, u := range buf.Stats().PerShardUtilization {
		if u > 0 {
			nonEmpty++
			require.InDelta(t, 2.0, u, 1e-9)
		}
	}
	require.Equal(t, 1, nonEmpty)
}

func TestForceFlushDeliversAllWrites(t *testing.T) {
	storage := &fakeStorage{}
	cfg := testConfig()
	cfg.BufferSizePerShard = 1000 // room for every write even if all hash to one shard
	buf := writebuffer.New(cfg, storage, nil)
	buf.Start(context.Background())
	defer buf.Shutdown(context.Background())

	const n = 1000
	var wg sync.WaitGroup
	var delivered int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		lset := model.LabelSet{"__name__": "m", "i": fmt.Sprintf("%d", i)}
		ok := buf.AddWrite(lset, []model.Sample{{Timestamp: 0, Value: float64(i)}}, func(err error) {
			if err == nil {
				atomic.AddInt32(&delivered, 1)
			}
			wg.Done()
		})
		require.True(t, ok)
	}

	buf.Flush(context.Background(), true)
	wg.Wait()

	require.Equal(t, n, storage.count())
	require.Equal(t, int32(n), delivered)
	require.Equal(t, int64(0), buf.Stats().DroppedWrites)
}

func TestShardFullRejectsWrite(t *testing.T) {
	cfg := testConfig()
	cfg.NumShards = 1
	cfg.BufferSizePerShard = 2
	storage := &fakeStorage{failAll: true}
	buf := writebuffer.New(cfg, storage, nil)
	buf.Start(context.Background())
	defer buf.Shutdown(context.Background())

	ok1 := buf.AddWrite(model.LabelSet{"__name__": "a"}, nil, nil)
	ok2 := buf.AddWrite(model.LabelSet{"__name__": "b"}, nil, nil)
	require.True(t, ok1)
	require.True(t, ok2)

	var gotErr error
	ok3 := buf.AddWrite(model.LabelSet{"__name__": "c"}, nil, func(err error) { gotErr = err })
	require.False(t, ok3)
	require.ErrorIs(t, gotErr, writebuffer.ErrBufferFull)
	require.Equal(t, int64(1), buf.Stats().DroppedWrites)
}

func TestWriteAfterShutdownFails(t *testing.T) {
	storage := &fakeStorage{}
	buf := writebuffer.New(testConfig(), storage, nil)
	buf.Start(context.Background())
	buf.Shutdown(context.Background())

	var gotErr error
	ok := buf.AddWrite(model.LabelSet{"__name__": "a"}, nil, func(err error) { gotErr = err })
	require.False(t, ok)
	require.ErrorIs(t, gotErr, writebuffer.ErrShuttingDown)
	require.False(t, buf.Healthy())
}

func TestLoadBalanceReportsImbalance(t *testing.T) {
	cfg := testConfig()
	cfg.NumShards = 2
	cfg.BufferSizePerShard = 10
	cfg.LoadBalanceThreshold = 0.1
	storage := &fakeStorage{}
	buf := writebuffer.New(cfg, storage, nil)
	buf.Start(context.Background())
	defer buf.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		buf.AddWrite(model.LabelSet{"__name__": "a", "i": fmt.Sprintf("%d", i)}, nil, nil)
	}
	_ = buf.AddWrite(model.LabelSet{"__name__": "b"}, nil, nil)

	lb := buf.LoadBalance()
	require.GreaterOrEqual(t, lb.ImbalanceRatio, 0.0)
	require.LessOrEqual(t, lb.ImbalanceRatio, 1.0)
	require.GreaterOrEqual(t, lb.StdDev, 0.0)
}
