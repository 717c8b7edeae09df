package funcs

import (
	"fmt"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func asVector(v value.Value) (model.Vector, error) {
	vv, ok := v.(value.VectorValue)
	if !ok {
		return nil, fmt.Errorf("expected vector, got %s", v.Type())
	}
	return model.Vector(vv), nil
}

func asMatrix(v value.Value) (model.Matrix, error) {
	mv, ok := v.(value.MatrixValue)
	if !ok {
		return nil, fmt.Errorf("expected matrix, got %s", v.Type())
	}
	return model.Matrix(mv), nil
}

func asScalar(v value.Value) (float64, error) {
	sv, ok := v.(value.Scalar)
	if !ok {
		return 0, fmt.Errorf("expected scalar, got %s", v.Type())
	}
	return sv.V, nil
}

func asString(v value.Value) (string, error) {
	s, ok := v.(value.StringValue)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", v.Type())
	}
	return s.V, nil
}

// mapSamples applies fn to every series in a matrix argument, dropping any
// series for which fn reports no result (e.g. too few samples), and tags the
// output with the evaluator's current instant. Output label sets drop
// __name__ per the label-hygiene invariant applied to every function result
// derived from a range vector.
func mapSamples(m model.Matrix, ts int64, fn func(samples []model.Sample) (float64, bool)) value.VectorValue {
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
			Timestamp: ts,
			Value:     v,
		})
	}
	return value.VectorValue(out)
}

// mapVector applies fn elementwise to an instant vector, preserving labels.
func mapVector(v model.Vector, fn func(float64) float64) value.VectorValue {
	out := make(model.Vector, len(v))
	for i, s := range v {
		out[i] = model.VectorSample{Labels: s.Labels, Timestamp: s.Timestamp, Value: fn(s.Value)}
	}
	return value.VectorValue(out)
}
