package parser

import (
	"math"
	"testing"

	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
)

func mustParse(t *testing.T, src string) ast.Node {
	t.Helper()
	node, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors for %q: %v", src, errs)
	}
	return node
}

func TestParseVectorSelector(t *testing.T) {
	n := mustParse(t, `http_requests_total{job="api"}`)
	vs, ok := n.(*ast.VectorSelector)
	if !ok {
		t.Fatalf("expected *ast.VectorSelector, got %T", n)
	}
	if vs.Name != "http_requests_total" {
		t.Fatalf("expected metric name captured, got %q", vs.Name)
	}
	if len(vs.Matchers) != 2 {
		t.Fatalf("expected synthesized __name__ matcher + job matcher, got %d", len(vs.Matchers))
	}
}

func TestParseMatrixVsSubquery(t *testing.T) {
	n := mustParse(t, `foo[5m]`)
	if _, ok := n.(*ast.MatrixSelector); !ok {
		t.Fatalf("expected MatrixSelector for foo[5m], got %T", n)
	}

	n = mustParse(t, `foo[5m:1m]`)
	sq, ok := n.(*ast.Subquery)
	if !ok {
		t.Fatalf("expected Subquery for foo[5m:1m], got %T", n)
	}
	if sq.RangeMs != 5*60*1000 || sq.Resolution != 60*1000 {
		t.Fatalf("unexpected subquery range/resolution: %+v", sq)
	}
}

func TestParsePrecedence(t *testing.T) {
	n := mustParse(t, `1 + 2 * 3`)
	b, ok := n.(*ast.Binary)
	if !ok || b.Op != "+" {
		t.Fatalf("expected top-level +, got %#v", n)
	}
	rhs, ok := b.RHS.(*ast.Binary)
	if !ok || rhs.Op != "*" {
		t.Fatalf("expected * to bind tighter than +, got %#v", b.RHS)
	}
}

func TestParsePowerRightAssociative(t *testing.T) {
	n := mustParse(t, `2 ^ 3 ^ 2`)
	b := n.(*ast.Binary)
	if b.Op != "^" {
		t.Fatalf("expected ^ at top, got %s", b.Op)
	}
	if _, ok := b.RHS.(*ast.Binary); !ok {
		t.Fatalf("expected right-associative grouping: 2^(3^2), got LHS=%#v RHS=%#v", b.LHS, b.RHS)
	}
	if _, ok := b.LHS.(*ast.Binary); ok {
		t.Fatalf("expected left operand of right-assoc ^ to be a leaf, got %#v", b.LHS)
	}
}

func TestParseBoolModifierOnlyOnComparison(t *testing.T) {
	n, errs := Parse(`up + bool 1`)
	if len(errs) == 0 {
		t.Fatalf("expected error for bool modifier on non-comparison operator, parsed %v", n)
	}
}

func TestParseVectorMatchingClauses(t *testing.T) {
	n := mustParse(t, `a * on(method) group_left(handler) b`)
	b := n.(*ast.Binary)
	if b.VectorMatch == nil || !b.VectorMatch.On || b.VectorMatch.GroupSide != "left" {
		t.Fatalf("expected on()/group_left() captured, got %#v", b.VectorMatch)
	}
	if len(b.VectorMatch.Include) != 1 || b.VectorMatch.Include[0] != "handler" {
		t.Fatalf("expected group_left(handler) captured, got %v", b.VectorMatch.Include)
	}
}

func TestParseAggregateByAndParam(t *testing.T) {
	n := mustParse(t, `topk(5, sum by (service) (m))`)
	agg, ok := n.(*ast.Aggregate)
	if !ok || agg.Op != "topk" {
		t.Fatalf("expected topk aggregate, got %#v", n)
	}
	if agg.Param == nil {
		t.Fatalf("expected topk param captured")
	}
	inner, ok := agg.Expr.(*ast.Aggregate)
	if !ok || inner.Op != "sum" || inner.Without || len(inner.Grouping) != 1 || inner.Grouping[0] != "service" {
		t.Fatalf("expected inner sum by(service), got %#v", agg.Expr)
	}
}

func TestParseAggregateModifierAfterParens(t *testing.T) {
	n := mustParse(t, `sum(m) by (job)`)
	agg := n.(*ast.Aggregate)
	if agg.Without || len(agg.Grouping) != 1 || agg.Grouping[0] != "job" {
		t.Fatalf("expected trailing by(job) parsed, got %#v", agg)
	}
}

func TestParseOffsetAttachesToSelector(t *testing.T) {
	n := mustParse(t, `foo offset 5m`)
	vs := n.(*ast.VectorSelector)
	if vs.Offset != 5*60*1000 {
		t.Fatalf("expected offset 5m = 300000ms, got %d", vs.Offset)
	}
}

func TestParseNumberSpecials(t *testing.T) {
	n := mustParse(t, `NaN`)
	lit := n.(*ast.NumberLiteral)
	if !math.IsNaN(lit.Value) {
		t.Fatalf("expected NaN literal, got %v", lit.Value)
	}
	n = mustParse(t, `-Inf`)
	// -Inf parses as Unary(-, Inf) since '-' is a prefix token, not part of
	// the number literal itself.
	u, ok := n.(*ast.Unary)
	if !ok {
		t.Fatalf("expected Unary wrapping Inf, got %#v", n)
	}
	if !math.IsInf(u.Expr.(*ast.NumberLiteral).Value, 1) {
		t.Fatalf("expected +Inf operand under unary minus")
	}
}

func TestParseErrorsAccumulateAndDoNotPanic(t *testing.T) {
	_, errs := Parse(`sum( (1 + ) )`)
	if len(errs) == 0 {
		t.Fatalf("expected syntax errors for malformed input")
	}
}

func TestParseCallArity(t *testing.T) {
	n := mustParse(t, `rate(foo[5m])`)
	call := n.(*ast.Call)
	if call.Func != "rate" || len(call.Args) != 1 {
		t.Fatalf("unexpected call parse: %#v", call)
	}
	if _, ok := call.Args[0].(*ast.MatrixSelector); !ok {
		t.Fatalf("expected matrix-selector argument, got %#v", call.Args[0])
	}
}

func TestStringRoundTrip(t *testing.T) {
	srcs := []string{
		`foo`,
		`foo{job="api"}`,
		`rate(foo[5m])`,
		`sum by (job) (foo)`,
	}
	for _, src := range srcs {
		n := mustParse(t, src)
		again, errs := Parse(n.String())
		if len(errs) != 0 {
			t.Fatalf("re-parse of %q (from %q) failed: %v", n.String(), src, errs)
		}
		if again.String() != n.String() {
			t.Fatalf("round trip mismatch: %q != %q", again.String(), n.String())
		}
	}
}
