package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/funcs"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
	"github.com/GoogleCloudPlatform/mytsdb/internal/storage"
)

// RangeEvaluator performs vectorized evaluation of a single AST across a
// sequence of steps (spec.md §4.D.2).
type RangeEvaluator struct {
	ctx      context.Context
	store    storage.Storage
	funcs    *funcs.Registry
	start    int64
	end      int64
	step     int64
	lookback int64
}

// NewRange constructs a range evaluator. step must be positive.
func NewRange(ctx context.Context, store storage.Storage, reg *funcs.Registry, startMs, endMs, stepMs, lookbackMs int64) (*RangeEvaluator, error) {
	if stepMs <= 0 {
		return nil, errors.New("engine: EvaluateRange requires a positive step")
	}
	return &RangeEvaluator{ctx: ctx, store: store, funcs: reg, start: startMs, end: endMs, step: stepMs, lookback: lookbackMs}, nil
}

// stepEvaluator returns an instant evaluator for a single range step, sharing
// the range's query-window bounds for @ start()/end() resolution.
func (e *RangeEvaluator) stepEvaluator(t int64) *Evaluator {
	return &Evaluator{ctx: e.ctx, store: e.store, funcs: e.funcs, at: t, lookback: e.lookback, step: e.step, queryStart: e.start, queryEnd: e.end}
}

// EvaluateRange dispatches on node kind, choosing an optimized bulk-fetch
// path where spec.md §4.D.2 names one and falling back to step-wise instant
// evaluation otherwise.
func (e *RangeEvaluator) EvaluateRange(node ast.Node) (model.Matrix, error) {
	switch n := node.(type) {
	case *ast.NumberLiteral:
		return e.rangeLiteral(n.Value), nil
	case *ast.Paren:
		return e.EvaluateRange(n.Expr)
	case *ast.VectorSelector:
		return e.rangeVectorSelector(n)
	case *ast.Aggregate:
		return e.rangeAggregate(n)
	case *ast.Call:
		return e.rangeCall(n)
	default:
		return e.rangeDefault(node)
	}
}

func (e *RangeEvaluator) rangeLiteral(val float64) model.Matrix {
	s := model.Series{Labels: model.LabelSet{}}
	for t := e.start; t <= e.end; t += e.step {
		s.Samples = append(s.Samples, model.Sample{Timestamp: t, Value: val})
	}
	return model.Matrix{s}
}

// fixedAt reports the single timestamp a selector's own @ modifier pins it
// to, if it has one; range evaluation then uses that fixed instant for every
// step instead of letting it track t.
func (e *RangeEvaluator) fixedAt(at *int64, atStart, atEnd bool) (int64, bool) {
	switch {
	case atStart:
		return e.start, true
	case atEnd:
		return e.end, true
	case at != nil:
		return *at, true
	default:
		return 0, false
	}
}

func (e *RangeEvaluator) rangeVectorSelector(v *ast.VectorSelector) (model.Matrix, error) {
	matchers := matchersForSelector(v)
	fixed, isFixed := e.fixedAt(v.At, v.AtIsStart, v.AtIsEnd)

	fetchStart := e.start - e.lookback - v.Offset
	fetchEnd := e.end - v.Offset
	if isFixed {
		fetchStart = fixed - e.lookback - v.Offset
		fetchEnd = fixed - v.Offset
	}

	raw, err := e.store.Query(e.ctx, matchers, fetchStart, fetchEnd)
	if err != nil {
		return nil, errors.Wrap(err, "engine: range vector selector query")
	}

	var out model.Matrix
	for _, series := range raw {
		res := model.Series{Labels: series.Labels}
		for t := e.start; t <= e.end; t += e.step {
			ref := t
			if isFixed {
				ref = fixed
			}
			refT := ref - v.Offset
			sm, ok := series.LatestAt(refT, refT-e.lookback)
			if !ok {
				continue
			}
			res.Samples = append(res.Samples, model.Sample{Timestamp: t, Value: sm.Value})
		}
		if len(res.Samples) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

func (e *RangeEvaluator) rangeCall(c *ast.Call) (model.Matrix, error) {
	if c.Func == "rate" || c.Func == "increase" || c.Func == "irate" {
		if len(c.Args) == 1 {
			if ms, ok := c.Args[0].(*ast.MatrixSelector); ok {
				return e.rangeRateLike(c.Func, ms)
			}
		}
	}
	return e.rangeDefault(c)
}

// rangeRateLike implements the bulk-fetch-plus-cursor optimization for
// rate/increase/irate named in spec.md §4.D.2, reproducing the same
// counter-reset accumulation as the instant path (see funcs/rate.go).
func (e *RangeEvaluator) rangeRateLike(name string, ms *ast.MatrixSelector) (model.Matrix, error) {
	v := ms.Vector
	matchers := matchersForSelector(v)

	fetchStart := e.start - ms.RangeMs - v.Offset
	fetchEnd := e.end - v.Offset
	raw, err := e.store.Query(e.ctx, matchers, fetchStart, fetchEnd)
	if err != nil {
		return nil, errors.Wrap(err, "engine: range rate query")
	}

	isRate := name == "rate" || name == "irate"

	var out model.Matrix
	for _, series := range raw {
		res := model.Series{Labels: series.Labels.WithoutMetricName()}
		for t := e.start; t <= e.end; t += e.step {
			evalT := t - v.Offset
			windowStart := evalT - ms.RangeMs
			window := series.InWindow(windowStart, evalT)
			if len(window) < 2 {
				continue
			}
			var val float64
			if name == "irate" {
				last := window[len(window)-1]
				prev := window[len(window)-2]
				dur := float64(last.Timestamp-prev.Timestamp) / 1000.0
				if dur <= 0 {
					continue
				}
				delta := last.Value - prev.Value
				if delta < 0 {
					delta = last.Value
				}
				val = delta / dur
			} else {
				v, ok := rangeCounterRate(window, isRate)
				if !ok {
					continue
				}
				val = v
			}
			res.Samples = append(res.Samples, model.Sample{Timestamp: t, Value: val})
		}
		if len(res.Samples) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

// rangeCounterRate mirrors funcs.calculateRate's counter-reset handling
// (rate.cpp): on a decrease it adds both the previous and current values
// rather than treating it as a reset to zero.
func rangeCounterRate(samples []model.Sample, isRate bool) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	durationSec := float64(samples[len(samples)-1].Timestamp-samples[0].Timestamp) / 1000.0
	if durationSec == 0 {
		return 0, false
	}
	var value float64
	for i := 1; i < len(samples); i++ {
		prev := samples[i-1].Value
		curr := samples[i].Value
		if curr < prev {
			value += prev
			value += curr
		} else {
			value += curr - prev
		}
	}
	if isRate {
		return value / durationSec, true
	}
	return value, true
}

func (e *RangeEvaluator) rangeAggregate(a *ast.Aggregate) (model.Matrix, error) {
	inputMat, err := e.EvaluateRange(a.Expr)
	if err != nil {
		return nil, err
	}

	cursors := make([]int, len(inputMat))
	groups := map[string]*model.Series{}
	var order []string

	for t := e.start; t <= e.end; t += e.step {
		var vec model.Vector
		for i := range inputMat {
			series := &inputMat[i]
			for cursors[i] < len(series.Samples) && series.Samples[cursors[i]].Timestamp < t {
				cursors[i]++
			}
			if cursors[i] < len(series.Samples) && series.Samples[cursors[i]].Timestamp == t {
				vec = append(vec, model.VectorSample{Labels: series.Labels, Timestamp: t, Value: series.Samples[cursors[i]].Value})
			}
		}
		if len(vec) == 0 {
			continue
		}

		var param *float64
		if a.Param != nil {
			pv, err := e.stepEvaluator(t).Evaluate(a.Param)
			if err != nil {
				return nil, err
			}
			sc, ok := pv.(value.Scalar)
			if !ok {
				return nil, errors.Errorf("engine: aggregate %s parameter must be scalar, got %s", a.Op, pv.Type())
			}
			param = &sc.V
		}

		aggOut, err := aggregateVector(vec, a.Op, a.Grouping, a.Without, param, t)
		if err != nil {
			return nil, err
		}
		for _, s := range aggOut {
			key := s.Labels.String()
			sr, ok := groups[key]
			if !ok {
				sr = &model.Series{Labels: s.Labels}
				groups[key] = sr
				order = append(order, key)
			}
			sr.Samples = append(sr.Samples, model.Sample{Timestamp: t, Value: s.Value})
		}
	}

	sort.Strings(order)
	out := make(model.Matrix, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

// rangeDefault is the generic fallback: step-wise instant evaluation merged
// into series keyed by labels (spec.md §4.D.2).
func (e *RangeEvaluator) rangeDefault(node ast.Node) (model.Matrix, error) {
	groups := map[string]*model.Series{}
	var order []string

	for t := e.start; t <= e.end; t += e.step {
		v, err := e.stepEvaluator(t).Evaluate(node)
		if err != nil {
			return nil, err
		}
		switch val := v.(type) {
		case value.VectorValue:
			for _, s := range val {
				key := s.Labels.String()
				sr, ok := groups[key]
				if !ok {
					sr = &model.Series{Labels: s.Labels}
					groups[key] = sr
					order = append(order, key)
				}
				sr.Samples = append(sr.Samples, model.Sample{Timestamp: t, Value: s.Value})
			}
		case value.Scalar:
			sr, ok := groups[""]
			if !ok {
				sr = &model.Series{Labels: model.LabelSet{}}
				groups[""] = sr
				order = append(order, "")
			}
			sr.Samples = append(sr.Samples, model.Sample{Timestamp: t, Value: val.V})
		}
	}

	sort.Strings(order)
	out := make(model.Matrix, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}
