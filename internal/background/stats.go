package background

// KindStats breaks out processed/failed/timed-out counts for one task kind
// (spec.md §4.J "Statistics").
type KindStats struct {
	Processed int64
	Failed    int64
	TimedOut  int64
}

// Stats is a point-in-time snapshot of processor-wide counters (spec.md
// §4.J "Statistics").
type Stats struct {
	TasksSubmitted  int64
	TasksRejected   int64
	TasksProcessed  int64
	TasksFailed     int64
	TasksTimeout    int64
	ActiveTasks     int64
	QueueSize       int64
	MaxQueueReached int64

	ByKind map[string]KindStats
}

// Stats computes a Stats snapshot.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	qsize := int64(len(p.queue))
	p.mu.Unlock()

	s := Stats{
		TasksSubmitted:  p.tasksSubmitted.Load(),
		TasksRejected:   p.tasksRejected.Load(),
		TasksProcessed:  p.tasksProcessed.Load(),
		TasksFailed:     p.tasksFailed.Load(),
		TasksTimeout:    p.tasksTimeout.Load(),
		ActiveTasks:     p.activeTasks.Load(),
		QueueSize:       qsize,
		MaxQueueReached: p.maxQueueReached.Load(),
		ByKind:          make(map[string]KindStats, numKinds),
	}
	for k := Kind(0); k < numKinds; k++ {
		c := p.perKind[k]
		s.ByKind[k.String()] = KindStats{
			Processed: c.processed.Load(),
			Failed:    c.failed.Load(),
			TimedOut:  c.timedOut.Load(),
		}
	}
	return s
}
