package funcs

import (
	"math"

	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// unaryVectorFunc registers a function of signature (vector) -> vector that
// applies fn elementwise, matching the trigonometric/hyperbolic family's
// shape (spec.md §4.C).
func unaryVectorFunc(r *Registry, name string, fn func(float64) float64) {
	r.register(Signature{
		Name:       name,
		ArgTypes:   []value.ValueType{value.ValVector},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			return mapVector(v, fn), nil
		},
	})
}

func registerTrig(r *Registry) {
	unaryVectorFunc(r, "sin", math.Sin)
	unaryVectorFunc(r, "cos", math.Cos)
	unaryVectorFunc(r, "tan", math.Tan)
	unaryVectorFunc(r, "asin", func(x float64) float64 {
		if x < -1.0 || x > 1.0 {
			return math.NaN()
		}
		return math.Asin(x)
	})
	unaryVectorFunc(r, "acos", func(x float64) float64 {
		if x < -1.0 || x > 1.0 {
			return math.NaN()
		}
		return math.Acos(x)
	})
	unaryVectorFunc(r, "atan", math.Atan)
	unaryVectorFunc(r, "deg", func(x float64) float64 { return x * 180.0 / math.Pi })
	unaryVectorFunc(r, "rad", func(x float64) float64 { return x * math.Pi / 180.0 })
	unaryVectorFunc(r, "sgn", func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		default:
			return 0
		}
	})

	unaryVectorFunc(r, "sinh", math.Sinh)
	unaryVectorFunc(r, "cosh", math.Cosh)
	unaryVectorFunc(r, "tanh", math.Tanh)
	unaryVectorFunc(r, "asinh", math.Asinh)
	unaryVectorFunc(r, "acosh", func(x float64) float64 {
		if x < 1.0 {
			return math.NaN()
		}
		return math.Acosh(x)
	})
	unaryVectorFunc(r, "atanh", func(x float64) float64 {
		if x <= -1.0 || x >= 1.0 {
			return math.NaN()
		}
		return math.Atanh(x)
	})

	r.register(Signature{
		Name:       "pi",
		ArgTypes:   nil,
		ReturnType: value.ValScalar,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			return value.Scalar{Timestamp: ctx.Timestamp(), V: math.Pi}, nil
		},
	})
}
