package writebuffer

import (
	"math"
	"time"
)

// Stats is a point-in-time snapshot of buffer-wide counters (spec.md §4.I
// "Statistics").
type Stats struct {
	TotalWrites   int64
	DroppedWrites int64
	TotalFlushes  int64
	FailedFlushes int64

	PerShardUtilization []float64
	AvgUtilization      float64
	MaxUtilization      float64

	ThroughputPerSec float64
}

// Stats computes a Stats snapshot.
func (b *Buffer) Stats() Stats {
	s := Stats{
		TotalWrites:         b.totalWrites.Load(),
		DroppedWrites:       b.droppedWrites.Load(),
		TotalFlushes:        b.totalFlushes.Load(),
		FailedFlushes:       b.failedFlushes.Load(),
		PerShardUtilization: make([]float64, len(b.shards)),
	}

	var sum, max float64
	for i, shard := range b.shards {
		u := shard.utilization()
		s.PerShardUtilization[i] = u
		sum += u
		if u > max {
			max = u
		}
	}
	if len(b.shards) > 0 {
		s.AvgUtilization = sum / float64(len(b.shards))
	}
	s.MaxUtilization = max

	if !b.startTime.IsZero() {
		elapsed := time.Since(b.startTime).Seconds()
		if elapsed > 0 {
			s.ThroughputPerSec = float64(s.TotalWrites) / elapsed
		}
	}
	return s
}

// LoadBalance is the write-distribution health snapshot from spec.md §4.I
// "Load balance": imbalance ratio (max-min)/max, standard deviation of
// per-shard utilizations, and whether the imbalance exceeds the configured
// threshold.
type LoadBalance struct {
	ImbalanceRatio   float64
	StdDev           float64
	NeedsRebalancing bool
}

// LoadBalance computes a LoadBalance snapshot.
func (b *Buffer) LoadBalance() LoadBalance {
	if len(b.shards) == 0 {
		return LoadBalance{}
	}
	utils := make([]float64, len(b.shards))
	min, max, sum := math.MaxFloat64, 0.0, 0.0
	for i, s := range b.shards {
		u := s.utilization()
		utils[i] = u
		sum += u
		if u < min {
			min = u
		}
		if u > max {
			max = u
		}
	}
	mean := sum / float64(len(utils))

	var variance float64
	for _, u := range utils {
		d := u - mean
		variance += d * d
	}
	variance /= float64(len(utils))

	var imbalance float64
	if max > 0 {
		imbalance = (max - min) / max
	}

	return LoadBalance{
		ImbalanceRatio:   imbalance,
		StdDev:           math.Sqrt(variance),
		NeedsRebalancing: imbalance > b.cfg.LoadBalanceThreshold,
	}
}
