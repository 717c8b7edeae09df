package writebuffer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
)

// ErrBufferFull is returned (and passed to a write's callback) when its
// target shard is at capacity.
var ErrBufferFull = errors.New("writebuffer: shard buffer full")

// ErrShuttingDown is returned (and passed to a write's callback) once
// Shutdown has been called.
var ErrShuttingDown = errors.New("writebuffer: shutting down")

// Storage is the capability the flush workers write drained operations to.
type Storage interface {
	Write(ctx context.Context, op WriteOperation) error
}

// Config configures a Buffer (spec.md §4.I).
type Config struct {
	NumShards            int
	BufferSizePerShard   int
	FlushInterval        time.Duration
	MaxFlushWorkers      int
	RetryAttempts        int
	RetryDelay           time.Duration
	LoadBalanceThreshold float64

	// RateLimit, if positive, caps storage.write calls per second across all
	// flush workers (golang.org/x/time/rate, see SPEC_FULL.md §2).
	RateLimit float64
}

// Buffer is the Sharded Write Buffer from spec.md §4.I: consistent-hash
// dispatch across NumShards bounded FIFOs, drained by a pool of flush
// workers on a timer.
type Buffer struct {
	cfg     Config
	storage Storage
	logger  log.Logger
	shards  []*shard
	limiter *rate.Limiter

	initialized  atomic.Bool
	shuttingDown atomic.Bool

	totalWrites   atomic.Int64
	droppedWrites atomic.Int64
	totalFlushes  atomic.Int64
	failedFlushes atomic.Int64

	startTime   time.Time
	flushSignal chan uint32
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New constructs a Buffer. Start must be called before any write is
// accepted.
func New(cfg Config, storage Storage, logger log.Logger) *Buffer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	shards := make([]*shard, cfg.NumShards)
	for i := range shards {
		shards[i] = newShard(uint32(i), cfg.BufferSizePerShard)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(math.Max(1, cfg.RateLimit)))
	}
	return &Buffer{
		cfg:         cfg,
		storage:     storage,
		logger:      logger,
		shards:      shards,
		limiter:     limiter,
		flushSignal: make(chan uint32, cfg.NumShards),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the flush worker pool and flush scheduler (spec.md §4.I
// "Flushing").
func (b *Buffer) Start(ctx context.Context) {
	b.initialized.Store(true)
	b.startTime = time.Now()

	workCh := make(chan uint32, len(b.shards))
	for i := 0; i < b.cfg.MaxFlushWorkers; i++ {
		b.wg.Add(1)
		go b.flushWorker(ctx, workCh)
	}
	b.wg.Add(1)
	go b.scheduler(ctx, workCh)
}

func (b *Buffer) scheduler(ctx context.Context, workCh chan<- uint32) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case id := <-b.flushSignal:
			select {
			case workCh <- id:
			case <-ctx.Done():
				return
			}
		case <-ticker.C:
			for _, s := range b.shards {
				if s.dueForFlush(b.cfg.FlushInterval) {
					select {
					case workCh <- s.id:
					default:
					}
				}
			}
		}
	}
}

func (b *Buffer) flushWorker(ctx context.Context, workCh <-chan uint32) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case id, ok := <-workCh:
			if !ok {
				return
			}
			b.drainAndWrite(ctx, b.shards[id])
		}
	}
}

// shardID computes the consistent-hash dispatch target for lset: a stable
// hash of the series' canonical labels string mod num_shards, so the same
// series identity always hashes to the same shard (spec.md §4.I "Dispatch",
// §8 P5).
func (b *Buffer) shardID(lset model.LabelSet) uint32 {
	return uint32(lset.Hash() % uint64(len(b.shards)))
}

// AddWrite dispatches a write to its shard, returning false if the shard was
// full or the buffer is not accepting writes (spec.md §4.I "Dispatch",
// §6 "Ingestion surface").
func (b *Buffer) AddWrite(lset model.LabelSet, samples []model.Sample, callback func(error)) bool {
	if !b.initialized.Load() || b.shuttingDown.Load() {
		if callback != nil {
			callback(ErrShuttingDown)
		}
		return false
	}
	id := b.shardID(lset)
	op := WriteOperation{Series: lset, Samples: samples, Callback: callback}
	if !b.shards[id].addWrite(op) {
		b.droppedWrites.Add(1)
		if callback != nil {
			callback(ErrBufferFull)
		}
		return false
	}
	b.totalWrites.Add(1)
	return true
}

// drainAndWrite flushes one shard and attempts storage.write on each
// operation, retrying per spec.md §4.I "Flushing". On final failure the
// operation is requeued with its callback already fired, so a later retry
// cycle never invokes the same callback twice (spec.md §8 P6).
func (b *Buffer) drainAndWrite(ctx context.Context, s *shard) {
	ops := s.flush()
	if len(ops) == 0 {
		return
	}
	b.totalFlushes.Add(1)

	var failed []WriteOperation
	for _, op := range ops {
		err := b.writeWithRetry(ctx, op)
		if err != nil {
			level.Debug(b.logger).Log("msg", "write failed after retries", "shard", s.id, "err", err)
			if op.Callback != nil {
				op.Callback(err)
			}
			failed = append(failed, WriteOperation{Series: op.Series, Samples: op.Samples})
			continue
		}
		if op.Callback != nil {
			op.Callback(nil)
		}
	}

	if len(failed) > 0 {
		b.failedFlushes.Add(1)
		if dropped := s.requeue(failed); dropped > 0 {
			b.droppedWrites.Add(int64(dropped))
		}
	}
}

func (b *Buffer) writeWithRetry(ctx context.Context, op WriteOperation) error {
	var err error
	for attempt := 0; attempt <= b.cfg.RetryAttempts; attempt++ {
		if b.limiter != nil {
			if waitErr := b.limiter.Wait(ctx); waitErr != nil {
				return waitErr
			}
		}
		err = b.storage.Write(ctx, op)
		if err == nil {
			return nil
		}
		if attempt < b.cfg.RetryAttempts {
			select {
			case <-time.After(b.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// Flush drains every shard synchronously in the calling goroutine. With
// force=false only shards already due for a scheduled flush are drained
// (spec.md §4.I "Synchronous flush").
func (b *Buffer) Flush(ctx context.Context, force bool) {
	for _, s := range b.shards {
		if force || s.dueForFlush(b.cfg.FlushInterval) {
			b.drainAndWrite(ctx, s)
		}
	}
}

// FlushShard requests a flush of a single shard. With force=true it drains
// synchronously; otherwise it enqueues a flush request on the mpmc signal
// queue consumed by the scheduler (spec.md §4.I "Synchronous flush").
func (b *Buffer) FlushShard(ctx context.Context, id uint32, force bool) error {
	if int(id) >= len(b.shards) {
		return errors.Errorf("writebuffer: shard %d out of range", id)
	}
	if force {
		b.drainAndWrite(ctx, b.shards[id])
		return nil
	}
	select {
	case b.flushSignal <- id:
	default:
	}
	return nil
}

// Shutdown marks the buffer as shutting down, wakes all workers, performs
// one final synchronous flush, and joins every worker goroutine (spec.md
// §4.I "Shutdown"). Idempotent.
func (b *Buffer) Shutdown(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.shuttingDown.Store(true)
		close(b.stopCh)
		b.Flush(ctx, true)
		b.wg.Wait()
		b.initialized.Store(false)
	})
}

// Healthy reports whether the buffer is initialized, not shutting down, and
// no shard exceeds 90% utilization (spec.md §4.I "Health").
func (b *Buffer) Healthy() bool {
	if !b.initialized.Load() || b.shuttingDown.Load() {
		return false
	}
	for _, s := range b.shards {
		if s.utilization() > 90 {
			return false
		}
	}
	return true
}
