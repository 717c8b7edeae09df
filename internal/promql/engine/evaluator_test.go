package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/memstore"
	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/engine"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/funcs"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/parser"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func mustParse(t *testing.T, expr string) ast.Node {
	t.Helper()
	node, errs := parser.Parse(expr)
	require.Empty(t, errs, "parse %q", expr)
	return node
}

func evalAt(t *testing.T, store *memstore.Store, expr string, atMs int64) value.Value {
	t.Helper()
	node := mustParse(t, expr)
	ev := engine.New(context.Background(), store, funcs.NewRegistry(), atMs, engine.DefaultLookbackMs)
	v, err := ev.Evaluate(node)
	require.NoError(t, err, "evaluate %q", expr)
	return v
}

func TestEvaluateVectorSelector(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "up", "job": "a"}, model.Sample{Timestamp: 1000, Value: 1})

	vec, ok := evalAt(t, store, "up", 1000).(value.VectorValue)
	require.True(t, ok)
	require.Len(t, vec, 1)
	require.Equal(t, 1.0, vec[0].Value)
}

func TestEvaluateBinaryArithmetic(t *testing.T) {
	store := memstore.New()
	sc, ok := evalAt(t, store, "2 + 3 * 4", 0).(value.Scalar)
	require.True(t, ok)
	require.Equal(t, 14.0, sc.V)
}

func TestScalarComparisonWithoutBool(t *testing.T) {
	store := memstore.New()
	sc := evalAt(t, store, "5 > 3", 0).(value.Scalar)
	require.Equal(t, 5.0, sc.V, "true comparison without bool should yield the left value")
}

func TestVectorScalarComparisonFiltersAndBool(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "m", "i": "1"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "m", "i": "2"}, model.Sample{Timestamp: 0, Value: 5})

	vec := evalAt(t, store, "m > 2", 0).(value.VectorValue)
	require.Len(t, vec, 1)
	require.Equal(t, 5.0, vec[0].Value)

	vec = evalAt(t, store, "m > bool 2", 0).(value.VectorValue)
	require.Len(t, vec, 2, "bool form should keep all elements")
}

func TestVectorVectorOneToOne(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "a", "job": "x"}, model.Sample{Timestamp: 0, Value: 10})
	store.Add(model.LabelSet{"__name__": "b", "job": "x"}, model.Sample{Timestamp: 0, Value: 4})

	vec := evalAt(t, store, "a + b", 0).(value.VectorValue)
	require.Len(t, vec, 1)
	require.Equal(t, 14.0, vec[0].Value)
}

func TestVectorVectorGroupLeft(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "a", "job": "x", "instance": "1"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "a", "job": "x", "instance": "2"}, model.Sample{Timestamp: 0, Value: 2})
	store.Add(model.LabelSet{"__name__": "b", "job": "x"}, model.Sample{Timestamp: 0, Value: 100})

	vec := evalAt(t, store, `a + on(job) group_left() b`, 0).(value.VectorValue)
	require.Len(t, vec, 2)
	total := 0.0
	for _, s := range vec {
		total += s.Value
	}
	require.Equal(t, 203.0, total)
}

func TestVectorVectorSetOps(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "a", "job": "x"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "a", "job": "y"}, model.Sample{Timestamp: 0, Value: 2})
	store.Add(model.LabelSet{"__name__": "b", "job": "x"}, model.Sample{Timestamp: 0, Value: 9})

	vec := evalAt(t, store, "a and b", 0).(value.VectorValue)
	require.Len(t, vec, 1)
	require.Equal(t, "x", vec[0].Labels["job"])

	vec = evalAt(t, store, "a unless b", 0).(value.VectorValue)
	require.Len(t, vec, 1)
	require.Equal(t, "y", vec[0].Labels["job"])
}

func TestAggregateSumByAndWithout(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "m", "job": "a", "instance": "1"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "m", "job": "a", "instance": "2"}, model.Sample{Timestamp: 0, Value: 2})
	store.Add(model.LabelSet{"__name__": "m", "job": "b", "instance": "1"}, model.Sample{Timestamp: 0, Value: 10})

	vec := evalAt(t, store, "sum by (job) (m)", 0).(value.VectorValue)
	require.Len(t, vec, 2)
	sums := map[string]float64{}
	for _, s := range vec {
		sums[s.Labels["job"]] = s.Value
	}
	require.Equal(t, 3.0, sums["a"])
	require.Equal(t, 10.0, sums["b"])

	vec = evalAt(t, store, "sum without (instance) (m)", 0).(value.VectorValue)
	require.Len(t, vec, 2)
	sums = map[string]float64{}
	for _, s := range vec {
		sums[s.Labels["job"]] = s.Value
	}
	require.Equal(t, 3.0, sums["a"])
	require.Equal(t, 10.0, sums["b"])
}

func TestAggregateTopK(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "m", "i": "1"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "m", "i": "2"}, model.Sample{Timestamp: 0, Value: 5})
	store.Add(model.LabelSet{"__name__": "m", "i": "3"}, model.Sample{Timestamp: 0, Value: 3})

	vec := evalAt(t, store, "topk(2, m)", 0).(value.VectorValue)
	require.Len(t, vec, 2)
	require.Equal(t, 5.0, vec[0].Value)
	require.Equal(t, 3.0, vec[1].Value)
}

func TestFunctionCallRate(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "req_total", "job": "a"},
		model.Sample{Timestamp: 0, Value: 0},
		model.Sample{Timestamp: 60000, Value: 60},
	)

	vec := evalAt(t, store, "rate(req_total[1m])", 60000).(value.VectorValue)
	require.Len(t, vec, 1)
	require.InDelta(t, 1.0, vec[0].Value, 1e-9)
}

func TestAggregatePushdown(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "m", "job": "a"}, model.Sample{Timestamp: 0, Value: 1})
	store.Add(model.LabelSet{"__name__": "m", "job": "b"}, model.Sample{Timestamp: 0, Value: 2})

	vec := evalAt(t, store, "sum(m)", 0).(value.VectorValue)
	require.Len(t, vec, 1)
	require.Equal(t, 3.0, vec[0].Value)
}

func TestEvaluateRangeVectorSelector(t *testing.T) {
	store := memstore.New()
	store.Add(model.LabelSet{"__name__": "m", "job": "a"},
		model.Sample{Timestamp: 0, Value: 1},
		model.Sample{Timestamp: 60000, Value: 2},
	)

	node := mustParse(t, "m")
	rng, err := engine.NewRange(context.Background(), store, funcs.NewRegistry(), 0, 120000, 60000, engine.DefaultLookbackMs)
	require.NoError(t, err)

	mat, err := rng.EvaluateRange(node)
	require.NoError(t, err)
	require.Len(t, mat, 1)
	require.Equal(t, []model.Sample{
		{Timestamp: 0, Value: 1},
		{Timestamp: 60000, Value: 2},
		{Timestamp: 120000, Value: 2},
	}, mat[0].Samples)
}

func TestEvaluateRangeRejectsNonPositiveStep(t *testing.T) {
	store := memstore.New()
	_, err := engine.NewRange(context.Background(), store, funcs.NewRegistry(), 0, 100, 0, engine.DefaultLookbackMs)
	require.Error(t, err)
}

func TestEvaluateSubquery(t *testing.T) {
	store := memstore.New()
	series := model.Series{Labels: model.LabelSet{"__name__": "req_total", "job": "a"}}
	for i := int64(0); i <= 300000; i += 15000 {
		series.Samples = append(series.Samples, model.Sample{Timestamp: i, Value: float64(i) / 1000})
	}
	store.Add(series.Labels, series.Samples...)

	vec, ok := evalAt(t, store, "last_over_time(req_total[5m:1m])", 300000).(value.VectorValue)
	require.True(t, ok)
	require.Len(t, vec, 1)
	require.Equal(t, 300.0, vec[0].Value)
}
