// Package ast defines the PromQL abstract syntax tree (spec.md §3): a
// sealed set of node types, each owning its children uniquely. There is no
// subexpression sharing and no source pointers beyond line/col for errors.
package ast

import (
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
)

// Node is the sealed interface implemented by every AST node kind. String
// returns the node's canonical PromQL rendering, used both for
// human-readable errors and the L1 round-trip law (spec.md §8).
type Node interface {
	String() string
	node()
}

// Pos carries a node's originating source position, used only for
// diagnostics; it is not part of node identity or equality.
type Pos struct {
	Line, Col int
}

// NumberLiteral is a bare numeric constant.
type NumberLiteral struct {
	Pos
	Value float64
}

func (*NumberLiteral) node() {}
func (n *NumberLiteral) String() string {
	return formatFloat(n.Value)
}

// StringLiteral is a quoted or raw string constant.
type StringLiteral struct {
	Pos
	Value string
}

func (*StringLiteral) node() {}
func (n *StringLiteral) String() string {
	return fmt.Sprintf("%q", n.Value)
}

// VectorSelector selects raw series by metric name and label matchers.
type VectorSelector struct {
	Pos
	Name     string // empty if the selector has no bare metric name
	Matchers []*model.Matcher

	Offset       int64 // milliseconds
	At           *int64 // milliseconds; nil if no @ modifier
	AtIsStart    bool   // @ start() — resolved by the engine at evaluation time
	AtIsEnd      bool   // @ end()
}

func (*VectorSelector) node() {}
func (v *VectorSelector) String() string {
	var sb strings.Builder
	if v.Name != "" {
		sb.WriteString(v.Name)
	}
	extra := matchersWithoutName(v.Matchers, v.Name)
	if len(extra) > 0 {
		sb.WriteByte('{')
		for i, m := range extra {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%s%s%q", m.Name, m.Kind.String(), m.Value)
		}
		sb.WriteByte('}')
	}
	sb.WriteString(offsetAtSuffix(v.Offset, v.At, v.AtIsStart, v.AtIsEnd))
	return sb.String()
}

// MatrixSelector selects a range vector: a VectorSelector plus an explicit
// range duration.
type MatrixSelector struct {
	Pos
	Vector    *VectorSelector
	RangeMs   int64
}

func (*MatrixSelector) node() {}
func (m *MatrixSelector) String() string {
	base := m.Vector.Name
	extra := matchersWithoutName(m.Vector.Matchers, m.Vector.Name)
	var sb strings.Builder
	sb.WriteString(base)
	if len(extra) > 0 {
		sb.WriteByte('{')
		for i, mm := range extra {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%s%s%q", mm.Name, mm.Kind.String(), mm.Value)
		}
		sb.WriteByte('}')
	}
	fmt.Fprintf(&sb, "[%s]", formatDuration(m.RangeMs))
	sb.WriteString(offsetAtSuffix(m.Vector.Offset, m.Vector.At, m.Vector.AtIsStart, m.Vector.AtIsEnd))
	return sb.String()
}

// Subquery evaluates Expr repeatedly over a synthesized range.
type Subquery struct {
	Pos
	Expr       Node
	RangeMs    int64
	Resolution int64 // milliseconds; 0 means "use the default" (spec.md §4.D.5)
	Offset     int64
	At         *int64
	AtIsStart  bool
	AtIsEnd    bool
}

func (*Subquery) node() {}
func (s *Subquery) String() string {
	res := ""
	if s.Resolution != 0 {
		res = formatDuration(s.Resolution)
	}
	out := fmt.Sprintf("%s[%s:%s]", s.Expr.String(), formatDuration(s.RangeMs), res)
	return out + offsetAtSuffix(s.Offset, s.At, s.AtIsStart, s.AtIsEnd)
}

// Paren wraps a parenthesized subexpression.
type Paren struct {
	Pos
	Expr Node
}

func (*Paren) node() {}
func (p *Paren) String() string { return "(" + p.Expr.String() + ")" }

// Unary is a prefix + or - applied to a scalar- or vector-typed operand.
type Unary struct {
	Pos
	Op   string // "+" or "-"
	Expr Node
}

func (*Unary) node() {}
func (u *Unary) String() string { return u.Op + u.Expr.String() }

// VectorMatching carries the on/ignoring and group_left/group_right clauses
// attached to a Binary node (spec.md §4.B, §4.D.3a).
type VectorMatching struct {
	On          bool // true for on(...), false for ignoring(...) / no clause
	MatchLabels []string
	GroupSide   string   // "", "left", or "right"
	Include     []string // group_left/group_right included labels
}

// Binary is a binary operator expression.
type Binary struct {
	Pos
	Op          string
	LHS, RHS    Node
	Bool        bool // "bool" modifier; legal only on comparison operators
	VectorMatch *VectorMatching
}

func (*Binary) node() {}
func (b *Binary) String() string {
	var sb strings.Builder
	sb.WriteString(b.LHS.String())
	sb.WriteByte(' ')
	sb.WriteString(b.Op)
	if b.Bool {
		sb.WriteString(" bool")
	}
	if b.VectorMatch != nil {
		vm := b.VectorMatch
		if vm.On {
			fmt.Fprintf(&sb, " on(%s)", strings.Join(vm.MatchLabels, ", "))
		} else if len(vm.MatchLabels) > 0 {
			fmt.Fprintf(&sb, " ignoring(%s)", strings.Join(vm.MatchLabels, ", "))
		}
		if vm.GroupSide != "" {
			fmt.Fprintf(&sb, " group_%s(%s)", vm.GroupSide, strings.Join(vm.Include, ", "))
		}
	}
	sb.WriteByte(' ')
	sb.WriteString(b.RHS.String())
	return sb.String()
}

// Call is a function invocation.
type Call struct {
	Pos
	Func string
	Args []Node
}

func (*Call) node() {}
func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Func, strings.Join(parts, ", "))
}

// Aggregate is an aggregation expression: op [by|without (labels)] (expr[, param]).
type Aggregate struct {
	Pos
	Op       string
	Expr     Node
	Param    Node // non-nil for topk/bottomk/quantile/count_values
	Grouping []string
	Without  bool
}

func (*Aggregate) node() {}
func (a *Aggregate) String() string {
	var sb strings.Builder
	sb.WriteString(a.Op)
	if a.Without {
		fmt.Fprintf(&sb, " without(%s)", strings.Join(a.Grouping, ", "))
	} else if len(a.Grouping) > 0 {
		fmt.Fprintf(&sb, " by(%s)", strings.Join(a.Grouping, ", "))
	}
	sb.WriteByte('(')
	if a.Param != nil {
		sb.WriteString(a.Param.String())
		sb.WriteString(", ")
	}
	sb.WriteString(a.Expr.String())
	sb.WriteByte(')')
	return sb.String()
}

func matchersWithoutName(ms []*model.Matcher, name string) []*model.Matcher {
	var out []*model.Matcher
	for _, m := range ms {
		if m.Name == model.MetricName && m.Value == name && m.Kind == model.MatchEqual {
			continue
		}
		out = append(out, m)
	}
	return out
}

func offsetAtSuffix(offsetMs int64, at *int64, atStart, atEnd bool) string {
	var sb strings.Builder
	if offsetMs != 0 {
		fmt.Fprintf(&sb, " offset %s", formatDuration(offsetMs))
	}
	switch {
	case atStart:
		sb.WriteString(" @ start()")
	case atEnd:
		sb.WriteString(" @ end()")
	case at != nil:
		fmt.Fprintf(&sb, " @ %.3f", float64(*at)/1000)
	}
	return sb.String()
}

func formatFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%f", v), "0"), ".")
}

// formatDuration renders a millisecond count back into the largest unit
// that divides it evenly, falling back to a plain millisecond count.
func formatDuration(ms int64) string {
	units := []struct {
		suffix string
		ms     int64
	}{
		{"w", 604800000}, {"d", 86400000}, {"h", 3600000}, {"m", 60000}, {"s", 1000}, {"ms", 1},
	}
	for _, u := range units {
		if ms != 0 && ms%u.ms == 0 && (u.ms != 1 || ms < 1000) {
			return fmt.Sprintf("%d%s", ms/u.ms, u.suffix)
		}
	}
	return fmt.Sprintf("%dms", ms)
}
