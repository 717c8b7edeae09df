package model

// MinValidTimestamp and MaxValidTimestamp bound the legal sample timestamp
// range from spec.md §3: "[0, 253402300799999]" (year 9999 in milliseconds).
const (
	MinValidTimestamp int64 = 0
	MaxValidTimestamp int64 = 253402300799999
)

// Sample is a single (timestamp, value) pair. Timestamps are milliseconds
// since the Unix epoch.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Series pairs a label set with an ascending, strictly-increasing-timestamp
// run of samples.
type Series struct {
	Labels  LabelSet
	Samples []Sample
}

// LatestAt returns the last sample with Timestamp <= at, honoring the
// lookback staleness window: samples older than minTimestamp are treated as
// absent (spec.md §4.D.1).
func (s Series) LatestAt(at, minTimestamp int64) (Sample, bool) {
	var best Sample
	found := false
	for _, sm := range s.Samples {
		if sm.Timestamp > at {
			break
		}
		if sm.Timestamp < minTimestamp {
			continue
		}
		best = sm
		found = true
	}
	return best, found
}

// InWindow returns the subslice of samples with minTimestamp <= ts <= maxTimestamp.
func (s Series) InWindow(minTimestamp, maxTimestamp int64) []Sample {
	var out []Sample
	for _, sm := range s.Samples {
		if sm.Timestamp < minTimestamp || sm.Timestamp > maxTimestamp {
			continue
		}
		out = append(out, sm)
	}
	return out
}

// Matrix is a set of series, one per distinct label set, as returned by a
// range query or matrix selector.
type Matrix []Series

// Vector is an instant vector: one (labels, timestamp, value) sample per
// distinct label set.
type Vector []VectorSample

// VectorSample is a single element of an instant vector.
type VectorSample struct {
	Labels    LabelSet
	Timestamp int64
	Value     float64
}
