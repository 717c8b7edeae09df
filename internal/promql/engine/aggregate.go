package engine

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/funcs"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
	"github.com/GoogleCloudPlatform/mytsdb/internal/storage"
)

// pushdownOps is the set of aggregation ops the evaluator may ask the
// storage adapter to compute directly (spec.md §4.D.4 "Pushdown").
var pushdownOps = map[string]bool{
	"sum": true, "min": true, "max": true, "count": true, "avg": true,
	"stddev": true, "stdvar": true, "quantile": true,
}

func (e *Evaluator) evalAggregate(a *ast.Aggregate) (value.Value, error) {
	if sel, ok := a.Expr.(*ast.VectorSelector); ok && pushdownOps[a.Op] {
		if v, ok, err := e.tryPushdown(a, sel); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
	}

	v, err := e.Evaluate(a.Expr)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(value.VectorValue)
	if !ok {
		return nil, errors.Errorf("engine: aggregate %s requires a vector operand, got %s", a.Op, v.Type())
	}

	var param *float64
	if a.Param != nil {
		pv, err := e.Evaluate(a.Param)
		if err != nil {
			return nil, err
		}
		sc, ok := pv.(value.Scalar)
		if !ok {
			return nil, errors.Errorf("engine: aggregate %s parameter must be scalar, got %s", a.Op, pv.Type())
		}
		param = &sc.V
	}

	out, err := aggregateVector(model.Vector(vec), a.Op, a.Grouping, a.Without, param, e.at)
	if err != nil {
		return nil, err
	}
	return value.VectorValue(out), nil
}

func (e *Evaluator) tryPushdown(a *ast.Aggregate, sel *ast.VectorSelector) (value.Value, bool, error) {
	var param *float64
	if a.Param != nil {
		pv, err := e.Evaluate(a.Param)
		if err != nil {
			return nil, false, err
		}
		sc, ok := pv.(value.Scalar)
		if !ok {
			return nil, false, errors.Errorf("engine: aggregate %s parameter must be scalar, got %s", a.Op, pv.Type())
		}
		param = &sc.V
	}

	at := e.resolveAt(sel.At, sel.AtIsStart, sel.AtIsEnd)
	instant := at - sel.Offset
	start := instant - e.lookback
	matchers := matchersForSelector(sel)

	req := storage.AggregateRequest{Op: a.Op, GroupingKeys: a.Grouping, Without: a.Without, Param: param}
	mat, err := e.store.QueryAggregate(e.ctx, matchers, start, instant, req)
	if err != nil {
		return nil, false, nil // fall back to the non-pushdown path, per spec.md §4.D.4
	}

	var out model.Vector
	for _, series := range mat {
		sm, ok := series.LatestAt(instant, start)
		if !ok {
			continue
		}
		out = append(out, model.VectorSample{Labels: series.Labels, Timestamp: sm.Timestamp, Value: sm.Value})
	}
	return value.VectorValue(out), true, nil
}

type group struct {
	labels  model.LabelSet
	samples []model.VectorSample
}

func groupKey(lset model.LabelSet, grouping []string, without bool) model.LabelSet {
	if without {
		return lset.Without(append(append([]string(nil), grouping...), model.MetricName)...)
	}
	return lset.Only(grouping...)
}

// aggregateVector implements the per-group reduction described in spec.md
// §4.D.4, shared by the instant and range (per-step) evaluation paths.
func aggregateVector(v model.Vector, op string, grouping []string, without bool, param *float64, ts int64) (model.Vector, error) {
	groups := map[string]*group{}
	var order []string
	for _, s := range v {
		key := groupKey(s.Labels, grouping, without)
		k := key.String()
		g, ok := groups[k]
		if !ok {
			g = &group{labels: key}
			groups[k] = g
			order = append(order, k)
		}
		g.samples = append(g.samples, model.VectorSample{Labels: s.Labels, Timestamp: s.Timestamp, Value: s.Value})
	}
	sort.Strings(order)

	var out model.Vector
	for _, k := range order {
		g := groups[k]
		switch op {
		case "topk", "bottomk":
			if param == nil {
				return nil, errors.Errorf("engine: %s requires a k parameter", op)
			}
			out = append(out, topBottomK(g.samples, int(*param), op == "topk", ts)...)
		case "count_values":
			out = append(out, countValues(g.samples, g.labels, ts)...)
		default:
			val, err := reduceGroup(op, g.samples, param)
			if err != nil {
				return nil, err
			}
			out = append(out, model.VectorSample{Labels: g.labels, Timestamp: ts, Value: val})
		}
	}
	return out, nil
}

func reduceGroup(op string, samples []model.VectorSample, param *float64) (float64, error) {
	switch op {
	case "sum":
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum, nil
	case "avg":
		if len(samples) == 0 {
			return math.NaN(), nil
		}
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples)), nil
	case "min":
		m := math.Inf(1)
		for _, s := range samples {
			if s.Value < m {
				m = s.Value
			}
		}
		return m, nil
	case "max":
		m := math.Inf(-1)
		for _, s := range samples {
			if s.Value > m {
				m = s.Value
			}
		}
		return m, nil
	case "count":
		return float64(len(samples)), nil
	case "group":
		return 1.0, nil
	case "stddev", "stdvar":
		if len(samples) == 0 {
			return math.NaN(), nil
		}
		var mean float64
		for _, s := range samples {
			mean += s.Value
		}
		mean /= float64(len(samples))
		var variance float64
		for _, s := range samples {
			d := s.Value - mean
			variance += d * d
		}
		variance /= float64(len(samples))
		if op == "stdvar" {
			return variance, nil
		}
		return math.Sqrt(variance), nil
	case "quantile":
		if param == nil {
			return 0, errors.New("engine: quantile requires a φ parameter")
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}
		return funcs.Quantile(values, *param), nil
	default:
		return 0, errors.Errorf("engine: unknown aggregation operator %q", op)
	}
}

func topBottomK(samples []model.VectorSample, k int, top bool, ts int64) model.Vector {
	if k <= 0 || len(samples) == 0 {
		return nil
	}
	sorted := append([]model.VectorSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if top {
			return sorted[i].Value > sorted[j].Value
		}
		return sorted[i].Value < sorted[j].Value
	})
	if k > len(sorted) {
		k = len(sorted)
	}
	return append(model.Vector(nil), sorted[:k]...)
}

func countValues(samples []model.VectorSample, base model.LabelSet, ts int64) model.Vector {
	counts := map[float64]int{}
	var order []float64
	for _, s := range samples {
		if _, seen := counts[s.Value]; !seen {
			order = append(order, s.Value)
		}
		counts[s.Value]++
	}
	sort.Float64s(order)
	out := make(model.Vector, 0, len(order))
	for _, v := range order {
		out = append(out, model.VectorSample{Labels: base, Timestamp: ts, Value: float64(counts[v])})
	}
	return out
}
