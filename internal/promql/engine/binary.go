package engine

import (
	"math"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func (e *Evaluator) evalBinary(b *ast.Binary) (value.Value, error) {
	lhs, err := e.Evaluate(b.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.Evaluate(b.RHS)
	if err != nil {
		return nil, err
	}

	lScalar, lIsScalar := lhs.(value.Scalar)
	rScalar, rIsScalar := rhs.(value.Scalar)
	lVector, lIsVector := lhs.(value.VectorValue)
	rVector, rIsVector := rhs.(value.VectorValue)

	switch {
	case lIsScalar && rIsScalar:
		v, ok := applyOp(b.Op, lScalar.V, rScalar.V, b.Bool)
		if !ok || (isComparisonOp(b.Op) && !b.Bool) {
			return value.Scalar{Timestamp: e.at, V: lScalar.V}, nil
		}
		return value.Scalar{Timestamp: e.at, V: v}, nil

	case lIsVector && rIsScalar:
		return applyVectorScalar(model.Vector(lVector), rScalar.V, b.Op, b.Bool, false), nil

	case lIsScalar && rIsVector:
		return applyVectorScalar(model.Vector(rVector), lScalar.V, b.Op, b.Bool, true), nil

	case lIsVector && rIsVector:
		return e.evalVectorVector(model.Vector(lVector), model.Vector(rVector), b)

	default:
		return nil, errors.Errorf("engine: binary operator %q: unsupported operand types %s, %s", b.Op, lhs.Type(), rhs.Type())
	}
}

// applyOp implements scalar-scalar arithmetic/comparison (spec.md §4.D.3).
// ok is false when the comparison is false and there is no bool modifier.
// For a comparison without bool the scalar-scalar caller returns the left
// operand unchanged whether ok is true or false (the "result is the left
// value if true" rule), so the value returned in that case is unused.
func applyOp(op string, l, r float64, boolMod bool) (float64, bool) {
	switch op {
	case "+":
		return l + r, true
	case "-":
		return l - r, true
	case "*":
		return l * r, true
	case "/":
		return l / r, true
	case "%":
		return math.Mod(l, r), true
	case "^":
		return math.Pow(l, r), true
	case "==":
		return compareResult(l == r, boolMod)
	case "!=":
		return compareResult(l != r, boolMod)
	case "<":
		return compareResult(l < r, boolMod)
	case "<=":
		return compareResult(l <= r, boolMod)
	case ">":
		return compareResult(l > r, boolMod)
	case ">=":
		return compareResult(l >= r, boolMod)
	default:
		return 0, false
	}
}

func compareResult(truth bool, boolMod bool) (float64, bool) {
	if boolMod {
		if truth {
			return 1, true
		}
		return 0, true
	}
	return 0, truth
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

// applyVectorScalar implements the Vector×Scalar / Scalar×Vector row of
// spec.md §4.D.3's table. scalarOnLeft indicates the scalar was the LHS, so
// comparisons evaluate as "scalar op element" rather than "element op
// scalar" (relevant to `<`/`>`/etc.).
func applyVectorScalar(v model.Vector, scalar float64, op string, boolMod bool, scalarOnLeft bool) value.VectorValue {
	var out model.Vector
	for _, s := range v {
		l, r := s.Value, scalar
		if scalarOnLeft {
			l, r = scalar, s.Value
		}
		if isComparisonOp(op) {
			pass := comparisonPasses(op, l, r)
			if boolMod {
				val := 0.0
				if pass {
					val = 1.0
				}
				out = append(out, model.VectorSample{Labels: s.Labels.WithoutMetricName(), Timestamp: s.Timestamp, Value: val})
			} else if pass {
				out = append(out, model.VectorSample{Labels: s.Labels.WithoutMetricName(), Timestamp: s.Timestamp, Value: s.Value})
			}
			continue
		}
		val, _ := applyOp(op, l, r, false)
		out = append(out, model.VectorSample{Labels: s.Labels.WithoutMetricName(), Timestamp: s.Timestamp, Value: val})
	}
	return value.VectorValue(out)
}

// signature derives the vector-matching key for a sample's labels per
// spec.md §4.D.3a.
func signature(lset model.LabelSet, vm *ast.VectorMatching) string {
	if vm != nil && vm.On {
		return lset.Only(vm.MatchLabels...).String()
	}
	drop := []string{model.MetricName}
	if vm != nil {
		drop = append(drop, vm.MatchLabels...)
	}
	return lset.Without(drop...).String()
}

func (e *Evaluator) evalVectorVector(l, r model.Vector, b *ast.Binary) (value.Value, error) {
	switch b.Op {
	case "and":
		return setAnd(l, r, b.VectorMatch), nil
	case "unless":
		return setUnless(l, r, b.VectorMatch), nil
	case "or":
		return setOr(l, r, b.VectorMatch), nil
	default:
		return e.matchVectorVector(l, r, b)
	}
}

func setAnd(l, r model.Vector, vm *ast.VectorMatching) value.VectorValue {
	right := map[string]bool{}
	for _, s := range r {
		right[signature(s.Labels, vm)] = true
	}
	var out model.Vector
	for _, s := range l {
		if right[signature(s.Labels, vm)] {
			out = append(out, s)
		}
	}
	return value.VectorValue(out)
}

func setUnless(l, r model.Vector, vm *ast.VectorMatching) value.VectorValue {
	right := map[string]bool{}
	for _, s := range r {
		right[signature(s.Labels, vm)] = true
	}
	var out model.Vector
	for _, s := range l {
		if !right[signature(s.Labels, vm)] {
			out = append(out, s)
		}
	}
	return value.VectorValue(out)
}

func setOr(l, r model.Vector, vm *ast.VectorMatching) value.VectorValue {
	left := map[string]bool{}
	out := append(model.Vector(nil), l...)
	for _, s := range l {
		left[signature(s.Labels, vm)] = true
	}
	for _, s := range r {
		if !left[signature(s.Labels, vm)] {
			out = append(out, s)
		}
	}
	return value.VectorValue(out)
}

// matchVectorVector implements arithmetic/comparison vector matching,
// including group_left/group_right (spec.md §4.D.3a). "many" is the side
// contributing result labels; "one" contributes only its group_left/
// group_right included labels.
func (e *Evaluator) matchVectorVector(l, r model.Vector, b *ast.Binary) (value.Value, error) {
	vm := b.VectorMatch
	groupSide := ""
	var include []string
	if vm != nil {
		groupSide = vm.GroupSide
		include = vm.Include
	}

	combine := func(manyVal, oneVal float64) (float64, bool) {
		if isComparisonOp(b.Op) {
			pass := comparisonPasses(b.Op, manyVal, oneVal)
			if b.Bool {
				if pass {
					return 1, true
				}
				return 0, true
			}
			return manyVal, pass
		}
		v, _ := applyOp(b.Op, manyVal, oneVal, false)
		return v, true
	}

	var out model.Vector
	switch groupSide {
	case "", "left":
		rightBySig := map[string][]model.VectorSample{}
		for _, s := range r {
			sig := signature(s.Labels, vm)
			rightBySig[sig] = append(rightBySig[sig], s)
		}
		errMsg := "engine: one-to-one matching must be unique"
		if groupSide == "left" {
			errMsg = "engine: group_left requires a unique match on the right side"
		}
		for _, ls := range l {
			matches := rightBySig[signature(ls.Labels, vm)]
			if len(matches) == 0 {
				continue
			}
			if len(matches) > 1 {
				return nil, errors.New(errMsg)
			}
			val, keep := combine(ls.Value, matches[0].Value)
			if !keep {
				continue
			}
			out = appendBinaryResult(out, ls.Labels, val, ls.Timestamp, include, matches[0].Labels)
		}
	case "right":
		leftBySig := map[string][]model.VectorSample{}
		for _, s := range l {
			sig := signature(s.Labels, vm)
			leftBySig[sig] = append(leftBySig[sig], s)
		}
		for _, rs := range r {
			matches := leftBySig[signature(rs.Labels, vm)]
			if len(matches) == 0 {
				continue
			}
			if len(matches) > 1 {
				return nil, errors.New("engine: group_right requires a unique match on the left side")
			}
			val, keep := combine(rs.Value, matches[0].Value)
			if !keep {
				continue
			}
			out = appendBinaryResult(out, rs.Labels, val, rs.Timestamp, include, matches[0].Labels)
		}
	}

	return value.VectorValue(out), nil
}

// appendBinaryResult builds the result sample for a matched pair: labels
// come from the "many" side with __name__ stripped, plus any group_left/
// group_right included labels copied from the "one" side.
func appendBinaryResult(out model.Vector, manyLabels model.LabelSet, val float64, ts int64, include []string, oneLabels model.LabelSet) model.Vector {
	labels := manyLabels.WithoutMetricName()
	if len(include) > 0 && oneLabels != nil {
		labels = labels.Clone()
		for _, name := range include {
			if v, ok := oneLabels[name]; ok {
				labels[name] = v
			}
		}
	}
	return append(out, model.VectorSample{Labels: labels, Timestamp: ts, Value: val})
}

func comparisonPasses(op string, l, r float64) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return true
	}
}
