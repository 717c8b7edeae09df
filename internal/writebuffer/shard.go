// Package writebuffer implements the Shard Buffer (spec.md §4.H) and
// Sharded Write Buffer (spec.md §4.I): a consistent-hash dispatch of writes
// across a fixed number of bounded FIFO shards, drained by a pool of flush
// workers on a timer, adapted from the teacher's export-side shard queue
// (pkg/export/shard.go) onto this spec's generic WriteOperation.
package writebuffer

import (
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
)

// WriteOperation is one write accepted by the buffer: a series identity, the
// samples belonging to it, and an optional completion callback fired
// exactly once (spec.md §6 "Ingestion surface").
type WriteOperation struct {
	Series   model.LabelSet
	Samples  []model.Sample
	Callback func(error)
}

// shard is a bounded FIFO queue of write operations for one hash bucket,
// with mutex-protected state and a last-flush timestamp (spec.md §4.H). A
// shard is identified by its shard_id (spec.md §4.H).
type shard struct {
	mu        sync.Mutex
	id        uint32
	buf       []WriteOperation
	head      int
	tail      int
	n         int
	lastFlush time.Time
}

func newShard(id uint32, capacity int) *shard {
	return &shard{
		id:        id,
		buf:       make([]WriteOperation, capacity),
		lastFlush: time.Now(),
	}
}

// addWrite enqueues op, returning false if the shard is at capacity
// (spec.md §4.H "add_write(op) → bool").
func (s *shard) addWrite(op WriteOperation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == len(s.buf) {
		return false
	}
	s.buf[s.tail] = op
	s.tail = (s.tail + 1) % len(s.buf)
	s.n++
	return true
}

// flush atomically drains every queued operation (spec.md §4.H
// "flush() → [WriteOperation]").
func (s *shard) flush() []WriteOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return nil
	}
	out := make([]WriteOperation, 0, s.n)
	for s.n > 0 {
		out = append(out, s.buf[s.head])
		s.buf[s.head] = WriteOperation{}
		s.head = (s.head + 1) % len(s.buf)
		s.n--
	}
	s.lastFlush = time.Now()
	return out
}

// requeue re-inserts ops at the front of the queue, best-effort: operations
// that don't fit are dropped and the dropped count is returned, matching the
// "push the operations back into the shard for a later retry cycle" flush
// semantics in spec.md §4.I.
func (s *shard) requeue(ops []WriteOperation) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if s.n == len(s.buf) {
			dropped++
			continue
		}
		s.head = (s.head - 1 + len(s.buf)) % len(s.buf)
		s.buf[s.head] = op
		s.n++
	}
	return dropped
}

func (s *shard) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *shard) capacity() int {
	return len(s.buf)
}

// utilization returns the shard's fill level as a percentage (spec.md
// §4.H).
func (s *shard) utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return 0
	}
	return float64(s.n) / float64(len(s.buf)) * 100
}

func (s *shard) lastFlushTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush
}

func (s *shard) dueForFlush(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n > 0 && time.Since(s.lastFlush) >= interval
}
