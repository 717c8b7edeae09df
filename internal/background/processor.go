package background

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// ErrQueueFull is returned by a submit call when the queue is at capacity
// (spec.md §4.J "Submission").
var ErrQueueFull = errors.New("Queue is full")

// ErrSubmitTimeout is returned when a task has already exceeded its timeout
// at submit time (spec.md §4.J "Submission").
var ErrSubmitTimeout = errors.New("background: task timeout exceeded at submission")

// waitPollInterval is the fixed cadence WaitForCompletion polls at (spec.md
// §4.J "WaitForCompletion").
const waitPollInterval = 10 * time.Millisecond

// Config configures a Processor (spec.md §4.J).
type Config struct {
	NumWorkers        int
	MaxQueueSize      int
	TaskTimeout       time.Duration
	ShutdownTimeout   time.Duration
	WorkerWaitTimeout time.Duration
}

type kindCounters struct {
	processed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// Processor is the Background Processor from spec.md §4.J.
type Processor struct {
	cfg    Config
	logger log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  taskHeap
	nextID int64

	shutdownRequested atomic.Bool
	shuttingDownOnce   sync.Once
	initialized        atomic.Bool
	wg                 sync.WaitGroup

	activeTasks     atomic.Int64
	tasksSubmitted  atomic.Int64
	tasksRejected   atomic.Int64
	tasksProcessed  atomic.Int64
	tasksFailed     atomic.Int64
	tasksTimeout    atomic.Int64
	maxQueueReached atomic.Int64

	perKind [numKinds]*kindCounters
}

// NewProcessor constructs a Processor. Start must be called before any
// submitted task will execute.
func NewProcessor(cfg Config, logger log.Logger) *Processor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &Processor{cfg: cfg, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.perKind {
		p.perKind[i] = &kindCounters{}
	}
	return p
}

// Start launches the worker pool (spec.md §4.J "Workers").
func (p *Processor) Start() {
	p.initialized.Store(true)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Processor) submit(kind Kind, priority int, fn func(ctx context.Context) error) (int64, error) {
	now := time.Now()

	// A task created now can only have "already timed out" if TaskTimeout is
	// effectively zero; checked up front per spec.md §4.J "Submission",
	// mirroring the source's pre-lock isTaskTimedOut check.
	if p.cfg.TaskTimeout > 0 && time.Since(now) > p.cfg.TaskTimeout {
		p.tasksTimeout.Add(1)
		return 0, ErrSubmitTimeout
	}

	p.mu.Lock()
	if len(p.queue) >= p.cfg.MaxQueueSize {
		p.mu.Unlock()
		p.tasksRejected.Add(1)
		return 0, ErrQueueFull
	}

	id := p.nextID
	p.nextID++
	t := &Task{id: id, kind: kind, priority: priority, createdAt: now, timeout: p.cfg.TaskTimeout, fn: fn}
	heap.Push(&p.queue, t)
	if int64(len(p.queue)) > p.maxQueueReached.Load() {
		p.maxQueueReached.Store(int64(len(p.queue)))
	}
	p.tasksSubmitted.Add(1)
	p.mu.Unlock()

	p.cond.Signal()
	return id, nil
}

// SubmitCompression submits a compression task, default priority 3, unless
// priority overrides it (spec.md §4.J).
func (p *Processor) SubmitCompression(fn func(ctx context.Context) error, priority ...int) (int64, error) {
	return p.submit(KindCompression, resolvePriority(defaultPriority[KindCompression], priority), fn)
}

// SubmitIndexing submits an indexing task, default priority 2.
func (p *Processor) SubmitIndexing(fn func(ctx context.Context) error, priority ...int) (int64, error) {
	return p.submit(KindIndexing, resolvePriority(defaultPriority[KindIndexing], priority), fn)
}

// SubmitFlush submits a flush task, default priority 1.
func (p *Processor) SubmitFlush(fn func(ctx context.Context) error, priority ...int) (int64, error) {
	return p.submit(KindFlush, resolvePriority(defaultPriority[KindFlush], priority), fn)
}

// SubmitCleanup submits a cleanup task, default priority 4.
func (p *Processor) SubmitCleanup(fn func(ctx context.Context) error, priority ...int) (int64, error) {
	return p.submit(KindCleanup, resolvePriority(defaultPriority[KindCleanup], priority), fn)
}

func resolvePriority(def int, override []int) int {
	if len(override) > 0 {
		return override[0]
	}
	return def
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.popNext()
		if !ok {
			return
		}
		p.process(t)
	}
}

// popNext blocks on cond, waking at most every WorkerWaitTimeout, until a
// task is available or shutdown has been requested with an empty queue
// (spec.md §4.J "Workers").
func (p *Processor) popNext() (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.queue) > 0 {
			t := heap.Pop(&p.queue).(*Task)
			return t, true
		}
		if p.shutdownRequested.Load() {
			return nil, false
		}
		timer := time.AfterFunc(p.cfg.WorkerWaitTimeout, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
}

// process runs a single task to completion. tasksProcessed counts every
// task that passes through here regardless of outcome; tasksFailed and
// tasksTimeout separately break out the unsuccessful subset, matching the
// source's updateStats (always bump processed, then bump failed/timeout on
// top of it for the unsuccessful cases).
func (p *Processor) process(t *Task) {
	p.activeTasks.Add(1)
	defer p.activeTasks.Add(-1)

	// Counted once the task has finished, so WaitForCompletion never sees a
	// task as processed while it is still running.
	defer func() {
		p.tasksProcessed.Add(1)
		p.perKind[t.kind].processed.Add(1)
	}()

	if t.timeout > 0 && time.Since(t.createdAt) > t.timeout {
		p.tasksTimeout.Add(1)
		p.perKind[t.kind].timedOut.Add(1)
		level.Debug(p.logger).Log("msg", "task timed out before execution", "task_id", t.id, "kind", t.kind)
		return
	}

	if err := p.runTask(t); err != nil {
		p.tasksFailed.Add(1)
		p.perKind[t.kind].failed.Add(1)
		level.Debug(p.logger).Log("msg", "task failed", "task_id", t.id, "kind", t.kind, "err", err)
	}
}

// runTask invokes the task closure, converting a panic into an error so one
// failing task never takes down its worker (spec.md §7 "Internal").
func (p *Processor) runTask(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("background: task %d panicked: %v", t.id, r)
		}
	}()

	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.fn(ctx)
}

// WaitForCompletion blocks until the queue is empty and every submitted
// task has been processed, or timeout elapses (spec.md §4.J
// "WaitForCompletion"). It returns true if completion was observed.
func (p *Processor) WaitForCompletion(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		qsize := len(p.queue)
		p.mu.Unlock()

		if qsize == 0 && p.tasksProcessed.Load() >= p.tasksSubmitted.Load() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(waitPollInterval)
	}
}

// Shutdown requests shutdown, wakes every worker, and waits for all workers
// to drain the queue and exit (spec.md §4.J "Shutdown"). The wait is bounded
// by ShutdownTimeout or ctx; when either ends it first, Shutdown returns
// without joining the remaining workers. Idempotent.
func (p *Processor) Shutdown(ctx context.Context) {
	p.shuttingDownOnce.Do(func() {
		p.shutdownRequested.Store(true)
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		timeout := time.After(p.cfg.ShutdownTimeout)
		select {
		case <-done:
		case <-timeout:
		case <-ctx.Done():
		}
		p.initialized.Store(false)
	})
}

// Healthy reports whether the processor is initialized and not shutting
// down (spec.md §4.J "Health").
func (p *Processor) Healthy() bool {
	return p.initialized.Load() && !p.shutdownRequested.Load()
}
