// Package engine implements the PromQL evaluator: instant and vectorized
// range evaluation over a pluggable storage adapter (spec.md §4.D).
package engine

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/funcs"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
	"github.com/GoogleCloudPlatform/mytsdb/internal/storage"
)

// DefaultLookbackMs is the staleness window applied when a caller does not
// supply one explicitly (spec.md §4.D).
const DefaultLookbackMs = 5 * 60 * 1000

// DefaultSubqueryResolutionMs is used when a subquery omits its resolution
// (spec.md §4.D.5).
const DefaultSubqueryResolutionMs = 60 * 1000

// Evaluator performs instant evaluation of a single AST at a fixed logical
// timestamp (spec.md §4.D.1). A range evaluation constructs a fresh instant
// Evaluator per step internally for any node shape it cannot vectorize.
type Evaluator struct {
	ctx      context.Context
	store    storage.Storage
	funcs    *funcs.Registry
	at       int64
	lookback int64

	// step is the enclosing range evaluation's step, or 0 outside of one.
	// A subquery with no explicit resolution falls back to this step when
	// available, and to DefaultSubqueryResolutionMs otherwise (spec.md
	// §4.D.5; see SPEC_FULL.md Open Question 5).
	step int64

	// queryStart/queryEnd resolve bare "@ start()"/"@ end()" modifiers; for a
	// plain instant query both equal at.
	queryStart int64
	queryEnd   int64
}

// New constructs an instant evaluator for a single query at atMs.
func New(ctx context.Context, store storage.Storage, reg *funcs.Registry, atMs, lookbackMs int64) *Evaluator {
	return &Evaluator{
		ctx: ctx, store: store, funcs: reg,
		at: atMs, lookback: lookbackMs,
		queryStart: atMs, queryEnd: atMs,
	}
}

// Timestamp implements funcs.EvalContext.
func (e *Evaluator) Timestamp() int64 { return e.at }

// withAt returns a shallow copy of e evaluating at a different instant,
// keeping the same query-window bounds for @ start()/end() resolution.
func (e *Evaluator) withAt(at int64) *Evaluator {
	cp := *e
	cp.at = at
	return &cp
}

// Evaluate dispatches on node kind per spec.md §4.D.1.
func (e *Evaluator) Evaluate(node ast.Node) (value.Value, error) {
	switch n := node.(type) {
	case *ast.NumberLiteral:
		return value.Scalar{Timestamp: e.at, V: n.Value}, nil
	case *ast.StringLiteral:
		return value.StringValue{Timestamp: e.at, V: n.Value}, nil
	case *ast.Paren:
		return e.Evaluate(n.Expr)
	case *ast.VectorSelector:
		return e.evalVectorSelector(n)
	case *ast.MatrixSelector:
		return e.evalMatrixSelector(n)
	case *ast.Unary:
		return e.evalUnary(n)
	case *ast.Binary:
		return e.evalBinary(n)
	case *ast.Aggregate:
		return e.evalAggregate(n)
	case *ast.Call:
		return e.evalCall(n)
	case *ast.Subquery:
		return e.evalSubquery(n)
	default:
		return nil, errors.Errorf("engine: unhandled node type %T", node)
	}
}

// resolveAt computes the effective evaluation instant for a selector-like
// node carrying its own @ modifier, falling back to e.at when it has none.
func (e *Evaluator) resolveAt(at *int64, atStart, atEnd bool) int64 {
	switch {
	case atStart:
		return e.queryStart
	case atEnd:
		return e.queryEnd
	case at != nil:
		return *at
	default:
		return e.at
	}
}

// matchersForSelector builds the matcher list for a vector selector, adding a
// synthetic __name__ matcher when the selector has a bare metric name not
// already covered by an explicit matcher (spec.md §4.D.1).
func matchersForSelector(v *ast.VectorSelector) []*model.Matcher {
	if v.Name == "" {
		return v.Matchers
	}
	for _, m := range v.Matchers {
		if m.Name == model.MetricName && m.Kind == model.MatchEqual && m.Value == v.Name {
			return v.Matchers
		}
	}
	nameMatcher, _ := model.NewMatcher(model.MatchEqual, model.MetricName, v.Name)
	return append(append([]*model.Matcher(nil), v.Matchers...), nameMatcher)
}

func (e *Evaluator) evalVectorSelector(v *ast.VectorSelector) (value.Value, error) {
	at := e.resolveAt(v.At, v.AtIsStart, v.AtIsEnd)
	matchers := matchersForSelector(v)

	instant := at - v.Offset
	start := instant - e.lookback
	m, err := e.store.Query(e.ctx, matchers, start, instant)
	if err != nil {
		return nil, errors.Wrap(err, "engine: vector selector query")
	}

	var out model.Vector
	for _, series := range m {
		sm, ok := series.LatestAt(instant, start)
		if !ok {
			continue
		}
		out = append(out, model.VectorSample{Labels: series.Labels, Timestamp: sm.Timestamp, Value: sm.Value})
	}
	return value.VectorValue(out), nil
}

func (e *Evaluator) evalMatrixSelector(m *ast.MatrixSelector) (value.Value, error) {
	at := e.resolveAt(m.Vector.At, m.Vector.AtIsStart, m.Vector.AtIsEnd)
	matchers := matchersForSelector(m.Vector)

	instant := at - m.Vector.Offset
	start := instant - m.RangeMs
	mat, err := e.store.Query(e.ctx, matchers, start, instant)
	if err != nil {
		return nil, errors.Wrap(err, "engine: matrix selector query")
	}
	return value.MatrixValue(mat), nil
}

func (e *Evaluator) evalUnary(u *ast.Unary) (value.Value, error) {
	v, err := e.Evaluate(u.Expr)
	if err != nil {
		return nil, err
	}
	sign := 1.0
	if u.Op == "-" {
		sign = -1.0
	}
	switch val := v.(type) {
	case value.Scalar:
		return value.Scalar{Timestamp: e.at, V: sign * val.V}, nil
	case value.VectorValue:
		out := make(model.Vector, len(val))
		for i, s := range val {
			out[i] = model.VectorSample{Labels: s.Labels.WithoutMetricName(), Timestamp: s.Timestamp, Value: sign * s.Value}
		}
		return value.VectorValue(out), nil
	default:
		return nil, errors.Errorf("engine: unary %s requires scalar or vector operand, got %s", u.Op, v.Type())
	}
}

func (e *Evaluator) evalCall(c *ast.Call) (value.Value, error) {
	sig, ok := e.funcs.Lookup(c.Func)
	if !ok {
		return nil, errors.Errorf("engine: unknown function %q", c.Func)
	}
	if !sig.CheckArity(len(c.Args)) {
		return nil, errors.Errorf("engine: %s: wrong number of arguments (got %d)", c.Func, len(c.Args))
	}

	args := make([]value.Value, len(c.Args))
	for i, a := range c.Args {
		v, err := e.Evaluate(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	return e.invokeFunc(sig, args)
}

// invokeFunc calls a function implementation, converting any panic into an
// error result (spec.md §4.D.7 "any exception inside a function
// implementation must be caught at the call boundary").
func (e *Evaluator) invokeFunc(sig *funcs.Signature, args []value.Value) (v value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("engine: %s: %v", sig.Name, r)
		}
	}()
	return sig.Impl(args, e)
}

func isNaN(f float64) bool { return math.IsNaN(f) }
