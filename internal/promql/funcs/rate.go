package funcs

import (
	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// calculateRate reproduces the source engine's counter-reset handling
// verbatim (spec.md §9 Open Question 4): on a reset it adds both the
// pre-reset value and the post-reset value rather than just the post-reset
// value, which over-counts relative to the usual Prometheus convention. This
// is intentional: it matches the behavior being ported, not a bug.
func calculateRate(samples []model.Sample, isCounter, isRate bool) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	durationSec := float64(samples[len(samples)-1].Timestamp-samples[0].Timestamp) / 1000.0
	if durationSec == 0 {
		return 0, false
	}

	var resultValue float64
	if !isCounter {
		resultValue = samples[len(samples)-1].Value - samples[0].Value
	} else {
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
		resultValue = value
	}

	if isRate {
		return resultValue / durationSec, true
	}
	return resultValue, true
}

func calculateInstantRate(samples []model.Sample) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	last := samples[len(samples)-1]
	prev := samples[len(samples)-2]
	durationSec := float64(last.Timestamp-prev.Timestamp) / 1000.0
	if durationSec == 0 {
		return 0, false
	}
	delta := last.Value - prev.Value
	if delta < 0 {
		delta = last.Value
	}
	return delta / durationSec, true
}

func registerRate(r *Registry) {
	r.register(Signature{
		Name:       "rate",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(s []model.Sample) (float64, bool) {
				return calculateRate(s, true, true)
			}), nil
		},
	})

	r.register(Signature{
		Name:       "increase",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), func(s []model.Sample) (float64, bool) {
				return calculateRate(s, true, false)
			}), nil
		},
	})

	r.register(Signature{
		Name:       "irate",
		ArgTypes:   []value.ValueType{value.ValMatrix},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			m, err := asMatrix(args[0])
			if err != nil {
				return nil, err
			}
			return mapSamples(m, ctx.Timestamp(), calculateInstantRate), nil
		},
	})
}
