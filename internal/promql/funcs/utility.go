package funcs

import (
	"math"
	"sort"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func sortedCopy(v model.Vector, less func(a, b model.VectorSample) bool) model.Vector {
	out := append(model.Vector(nil), v...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func registerUtility(r *Registry) {
	r.register(Signature{
		Name:       "sort",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			return value.VectorValue(sortedCopy(v, func(a, b model.VectorSample) bool { return a.Value < b.Value })), nil
		},
	})

	r.register(Signature{
		Name:       "sort_desc",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			return value.VectorValue(sortedCopy(v, func(a, b model.VectorSample) bool { return a.Value > b.Value })), nil
		},
	})

	r.register(Signature{
		Name:       "sort_by_label",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValString},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			label, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			return value.VectorValue(sortedCopy(v, func(a, b model.VectorSample) bool {
				return a.Labels[label] < b.Labels[label]
			})), nil
		},
	})

	r.register(Signature{
		Name:       "sort_by_label_desc",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValString},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			label, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			return value.VectorValue(sortedCopy(v, func(a, b model.VectorSample) bool {
				return a.Labels[label] > b.Labels[label]
			})), nil
		},
	})

	r.register(Signature{
		Name:       "clamp",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValScalar, value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			min, err := asScalar(args[1])
			if err != nil {
				return nil, err
			}
			max, err := asScalar(args[2])
			if err != nil {
				return nil, err
			}
			return mapVector(v, func(x float64) float64 { return math.Max(min, math.Min(max, x)) }), nil
		},
	})

	r.register(Signature{
		Name:       "clamp_min",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			min, err := asScalar(args[1])
			if err != nil {
				return nil, err
			}
			return mapVector(v, func(x float64) float64 { return math.Max(min, x) }), nil
		},
	})

	r.register(Signature{
		Name:       "clamp_max",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			max, err := asScalar(args[1])
			if err != nil {
				return nil, err
			}
			return mapVector(v, func(x float64) float64 { return math.Min(max, x) }), nil
		},
	})

	r.register(Signature{
		Name:       "vector",
		ArgTypes:   []value.ValueType{value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			s, err := asScalar(args[0])
			if err != nil {
				return nil, err
			}
			return value.VectorValue{{Labels: model.LabelSet{}, Timestamp: ctx.Timestamp(), Value: s}}, nil
		},
	})

	r.register(Signature{
		Name:       "scalar",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValScalar,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			if len(v) == 1 {
				return value.Scalar{Timestamp: v[0].Timestamp, V: v[0].Value}, nil
			}
			return value.Scalar{Timestamp: ctx.Timestamp(), V: math.NaN()}, nil
		},
	})

	r.register(Signature{
		Name:       "absent",
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			if len(v) == 0 {
				return value.VectorValue{{Labels: model.LabelSet{}, Timestamp: ctx.Timestamp(), Value: 1.0}}, nil
			}
			return value.VectorValue(nil), nil
		},
	})
}
