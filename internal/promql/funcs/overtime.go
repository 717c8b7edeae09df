package funcs

import (
	"math"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// mapSamplesOwnTS is mapSamples but tags each output sample with the last
// input sample's own timestamp rather than the evaluator's instant,
// matching how the over-time family reports results.
func mapSamplesOwnTS(m model.Matrix, fn func(samples []model.Sample) (float64, bool)) value.VectorValue {
	var out model.Vector
	for _, series := range m {
		if len(series.Samples) == 0 {
			continue
		}
		v, ok := fn(series.Samples)
		if !ok {
			continue
		}
		out = append(out, model.VectorSample{
			Labels:    series.Labels.WithoutMetricName(),
			Timestamp: series.Samples[len(series.Samples)-1].Timestamp,
			Value:     v,
		})
	}
	return value.VectorValue(out)
}

func registerOverTime(r *Registry) {
	r.register(Signature{
		Name:       "quantile_over_time",
		ArgTypes:   []value.ValueType{value.ValScalar, value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			phi, err := asScalar(args[0])
			if err != nil {
				return nil, err
			}
			m, err := asMatrix(args[1])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				values := make([]float64, len(samples))
				for i, s := range samples {
					values[i] = s.Value
				}
				return calculateQuantile(values, phi), true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "stddev_over_time",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				_, variance := meanAndVariance(samples)
				return math.Sqrt(variance), true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "stdvar_over_time",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				_, variance := meanAndVariance(samples)
				return variance, true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "last_over_time",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				return samples[len(samples)-1].Value, true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "present_over_time",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				return 1.0, true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "absent_over_time",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			for _, series := range m {
				if len(series.Samples) > 0 {
					return value.VectorValue(nil), nil
				}
			}
			return value.VectorValue{{Labels: model.LabelSet{}, Timestamp: ctx.Timestamp(), Value: 1.0}}, nil
		},
	})

	r.register(Signature{
		Name:       "changes",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamplesOwnTS(m, func(samples []model.Sample) (float64, bool) {
				var count float64
				for i := 1; i < len(samples); i++ {
					if samples[i].Value != samples[i-1].Value {
						count++
					}
				}
				return count, true
			}), nil
		},
	})
}

func meanAndVariance(samples []model.Sample) (mean, variance float64) {
	var sum, sumSq float64
	for _, s := range samples {
		sum += s.Value
		sumSq += s.Value * s.Value
	}
	n := float64(len(samples))
	mean = sum / n
	variance = (sumSq / n) - (mean * mean)
	return mean, variance
}
