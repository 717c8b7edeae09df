// Package memstore is a minimal in-memory Storage implementation
// (spec.md §4.E) used by tests and the standalone CLI. It is not the
// block/chunk storage engine the spec treats as an external collaborator —
// it exists only to give the evaluator something real to query against.
package memstore

import (
	"context"
	"math"
	"sort"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/storage"
)

// Store holds series in memory, keyed by their canonical label string.
type Store struct {
	series map[string]model.Series
}

// New returns an empty Store.
func New() *Store {
	return &Store{series: map[string]model.Series{}}
}

// Add inserts or replaces the named series. Samples are sorted by
// timestamp to uphold the strictly-increasing invariant from spec.md §3.
func (s *Store) Add(lset model.LabelSet, samples ...model.Sample) {
	sorted := append([]model.Sample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	s.series[lset.String()] = model.Series{Labels: lset, Samples: sorted}
}

// Write implements the single-series ingestion surface consumed by the
// write buffer (spec.md §6); it appends the samples to any existing series
// and re-sorts them by timestamp.
func (s *Store) Write(series model.Series) error {
	key := series.Labels.String()
	existing, ok := s.series[key]
	if !ok {
		s.series[key] = series
		return nil
	}
	existing.Samples = append(existing.Samples, series.Samples...)
	sort.Slice(existing.Samples, func(i, j int) bool { return existing.Samples[i].Timestamp < existing.Samples[j].Timestamp })
	s.series[key] = existing
	return nil
}

func (s *Store) Query(_ context.Context, matchers []*model.Matcher, startMs, endMs int64) (model.Matrix, error) {
	var out model.Matrix
	for _, series := range s.series {
		if !model.MatchesLabels(matchers, series.Labels) {
			continue
		}
		window := series.InWindow(startMs, endMs)
		if len(window) == 0 {
			continue
		}
		out = append(out, model.Series{Labels: series.Labels, Samples: window})
	}
	return out, nil
}

// QueryAggregate implements the optional pushdown path directly against the
// in-memory series set, supporting the ops named in spec.md §4.D.4.
func (s *Store) QueryAggregate(ctx context.Context, matchers []*model.Matcher, startMs, endMs int64, req storage.AggregateRequest) (model.Matrix, error) {
	raw, err := s.Query(ctx, matchers, startMs, endMs)
	if err != nil {
		return nil, err
	}
	groups := map[string][]float64{}
	groupLabels := map[string]model.LabelSet{}
	for _, series := range raw {
		sm, ok := series.LatestAt(endMs, startMs)
		if !ok {
			continue
		}
		var key model.LabelSet
		if req.Without {
			key = series.Labels.Without(append(req.GroupingKeys, model.MetricName)...)
		} else {
			key = series.Labels.Only(req.GroupingKeys...)
		}
		k := key.String()
		groups[k] = append(groups[k], sm.Value)
		groupLabels[k] = key
	}

	var out model.Matrix
	for k, values := range groups {
		v, err := reduce(req.Op, values, req.Param)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Series{
			Labels:  groupLabels[k],
			Samples: []model.Sample{{Timestamp: endMs, Value: v}},
		})
	}
	return out, nil
}

func reduce(op string, values []float64, param *float64) (float64, error) {
	switch op {
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "avg":
		if len(values) == 0 {
			return math.NaN(), nil
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "min":
		m := math.Inf(1)
		for _, v := range values {
			if v < m {
				m = v
			}
		}
		return m, nil
	case "max":
		m := math.Inf(-1)
		for _, v := range values {
			if v > m {
				m = v
			}
		}
		return m, nil
	case "count":
		return float64(len(values)), nil
	case "stddev", "stdvar":
		if len(values) == 0 {
			return math.NaN(), nil
		}
		var mean float64
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
		var variance float64
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(values))
		if op == "stdvar" {
			return variance, nil
		}
		return math.Sqrt(variance), nil
	case "quantile":
		if param == nil || len(values) == 0 {
			return math.NaN(), nil
		}
		return quantile(*param, values), nil
	default:
		return 0, storage.ErrUnsupported
	}
}

func quantile(phi float64, values []float64) float64 {
	if phi < 0 || phi > 1 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := phi * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func (s *Store) LabelNames(context.Context) ([]string, error) {
	set := map[string]bool{}
	for _, series := range s.series {
		for name := range series.Labels {
			set[name] = true
		}
	}
	var out []string
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) LabelValues(_ context.Context, name string) ([]string, error) {
	set := map[string]bool{}
	for _, series := range s.series {
		if v, ok := series.Labels[name]; ok {
			set[v] = true
		}
	}
	var out []string
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

var _ storage.Storage = (*Store)(nil)
