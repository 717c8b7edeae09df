package funcs

import (
	"math"
	"sort"
	"strconv"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// registerAggregatesAsFunctions mirrors the source engine's registration of
// stddev/stdvar/topk/bottomk/quantile/group/count_values directly in the
// function table, in addition to their reserved-keyword aggregate-expression
// form (spec.md §4.C, §4.D.4). The PromQL grammar routes "stddev(...)" etc.
// through the aggregate-expression parse path rather than a call, so this
// table entry mirrors the source registration without being reachable from
// it; it exists so the registry is a complete function table regardless of
// which parse path a caller takes.
func registerAggregatesAsFunctions(r *Registry) {
	r.register(Signature{
		Name:       "stddev",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			if len(v) == 0 {
				return value.VectorValue(nil), nil
			}
			_, variance := meanAndVarianceVector(v)
			return value.VectorValue{{Labels: v[0].Labels, Timestamp: v[0].Timestamp, Value: math.Sqrt(variance)}}, nil
		},
	})

	r.register(Signature{
		Name:       "stdvar",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			if len(v) == 0 {
				return value.VectorValue(nil), nil
			}
			_, variance := meanAndVarianceVector(v)
			return value.VectorValue{{Labels: v[0].Labels, Timestamp: v[0].Timestamp, Value: variance}}, nil
		},
	})

	r.register(Signature{
		Name:       "topk",
		ArgTypes:   []value.ValueType{value.ValScalar, value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			k, v, err := scalarAndVector(args)
			if err != nil {
				return nil, err
			}
			if k <= 0 || len(v) == 0 {
				return value.VectorValue(nil), nil
			}
			sorted := sortedCopy(v, func(a, b model.VectorSample) bool { return a.Value > b.Value })
			return value.VectorValue(takeN(sorted, k)), nil
		},
	})

	r.register(Signature{
		Name:       "bottomk",
		ArgTypes:   []value.ValueType{value.ValScalar, value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			k, v, err := scalarAndVector(args)
			if err != nil {
				return nil, err
			}
			if k <= 0 || len(v) == 0 {
				return value.VectorValue(nil), nil
			}
			sorted := sortedCopy(v, func(a, b model.VectorSample) bool { return a.Value < b.Value })
			return value.VectorValue(takeN(sorted, k)), nil
		},
	})

	r.register(Signature{
		Name:       "quantile",
		ArgTypes:   []value.ValueType{value.ValScalar, value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			phi, err := asScalar(args[0])
			if err != nil {
				return nil, err
			}
			v, err := asVector(args[1])
			if err != nil {
				return nil, err
			}
			if len(v) == 0 {
				return value.VectorValue(nil), nil
			}
			values := make([]float64, len(v))
			for i, s := range v {
				values[i] = s.Value
			}
			return value.VectorValue{{Labels: v[0].Labels, Timestamp: v[0].Timestamp, Value: Quantile(values, phi)}}, nil
		},
	})

	r.register(Signature{
		Name:       "group",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			return mapVector(v, func(float64) float64 { return 1.0 }), nil
		},
	})

	r.register(Signature{
		Name:       "count_values",
		ArgTypes:   []value.ValueType{value.ValString, value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			label, err := asString(args[0])
			if err != nil {
				return nil, err
			}
			v, err := asVector(args[1])
			if err != nil {
				return nil, err
			}
			counts := map[float64]int{}
			var order []float64
			var ts int64
			var base model.LabelSet
			for _, s := range v {
				ts = s.Timestamp
				if base == nil {
					base = s.Labels
				}
				if _, seen := counts[s.Value]; !seen {
					order = append(order, s.Value)
				}
				counts[s.Value]++
			}
			sort.Float64s(order)
			out := make(model.Vector, 0, len(order))
			for _, val := range order {
				labels := base.Clone()
				labels[label] = strconv.FormatFloat(val, 'g', -1, 64)
				out = append(out, model.VectorSample{Labels: labels, Timestamp: ts, Value: float64(counts[val])})
			}
			return value.VectorValue(out), nil
		},
	})
}

func meanAndVarianceVector(v model.Vector) (mean, variance float64) {
	var sum float64
	for _, s := range v {
		sum += s.Value
	}
	n := float64(len(v))
	mean = sum / n
	for _, s := range v {
		d := s.Value - mean
		variance += d * d
	}
	variance /= n
	return mean, variance
}

func scalarAndVector(args []value.Value) (int, model.Vector, error) {
	k, err := asScalar(args[0])
	if err != nil {
		return 0, nil, err
	}
	v, err := asVector(args[1])
	if err != nil {
		return 0, nil, err
	}
	return int(k), v, nil
}

func takeN(v model.Vector, n int) model.Vector {
	if n > len(v) {
		n = len(v)
	}
	return append(model.Vector(nil), v[:n]...)
}
