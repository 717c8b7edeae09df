// Package background implements the Background Processor (spec.md §4.J): a
// single priority queue ordered (priority asc, task_id asc) drained by a
// fixed pool of workers, with soft per-task timeouts and graceful shutdown.
package background

import (
	"context"
	"time"
)

// Kind identifies one of the four task categories spec.md §4.J names
// type-specific submit helpers for.
type Kind int

const (
	KindCompression Kind = iota
	KindIndexing
	KindFlush
	KindCleanup
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindCompression:
		return "compression"
	case KindIndexing:
		return "indexing"
	case KindFlush:
		return "flush"
	case KindCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// defaultPriority gives each kind's default priority per spec.md §4.J
// ("submit_compression/indexing/flush/cleanup set default priorities
// {3, 2, 1, 4} respectively").
var defaultPriority = [numKinds]int{
	KindCompression: 3,
	KindIndexing:    2,
	KindFlush:       1,
	KindCleanup:     4,
}

// Task is one unit of work in the queue.
type Task struct {
	id        int64
	kind      Kind
	priority  int
	createdAt time.Time
	timeout   time.Duration
	fn        func(ctx context.Context) error
}

// taskHeap implements container/heap.Interface ordering tasks by
// (priority asc, task_id asc) so lower priority number wins, ties broken by
// submission order (spec.md §4.J "Queue").
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].id < h[j].id
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
