package funcs

import (
	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// linearRegression fits samples to a line, measuring x in seconds relative
// to interceptTimeMs (spec.md §4.C "deriv"/"predict_linear").
func linearRegression(samples []model.Sample, interceptTimeMs int64) (slope, intercept float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := float64(s.Timestamp-interceptTimeMs) / 1000.0
		y := s.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}

func registerExtrapolation(r *Registry) {
	r.register(Signature{
		Name:       "delta",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(s []model.Sample) (float64, bool) {
				if len(s) < 2 {
					return 0, false
				}
				return s[len(s)-1].Value - s[0].Value, true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "deriv",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(s []model.Sample) (float64, bool) {
				if len(s) < 2 {
					return 0, false
				}
				slope, _, ok := linearRegression(s, 0)
				return slope, ok
			}), nil
		},
	})

	r.register(Signature{
		Name:       "predict_linear",
		ArgTypes:   []value.ValueType{value.ValMatrix, value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			t, err := asScalar(args[1])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(s []model.Sample) (float64, bool) {
				if len(s) < 2 {
					return 0, false
				}
				slope, intercept, ok := linearRegression(s, 0)
				if !ok {
					return 0, false
				}
				now := s[len(s)-1].Timestamp
				targetTime := float64(now)/1000.0 + t
				return slope*targetTime + intercept, true
			}), nil
		},
	})

	r.register(Signature{
		Name:       "holt_winters",
		ArgTypes:   []value.ValueType{value.ValMatrix, value.ValScalar, value.ValScalar},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			sf, err := asScalar(args[1])
			if err != nil {
				return nil, err
			}
			tf, err := asScalar(args[2])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(samples []model.Sample) (float64, bool) {
				if len(samples) < 2 {
					return 0, false
				}
				s := samples[0].Value
				b := samples[1].Value - samples[0].Value
				for i := 1; i < len(samples); i++ {
					val := samples[i].Value
					lastS := s
					s = sf*val + (1-sf)*(s+b)
					b = tf*(s-lastS) + (1-tf)*b
				}
				return s, true
			}), nil
		},
	})
}
