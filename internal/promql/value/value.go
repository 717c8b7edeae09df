// Package value defines the PromQL tagged-union runtime value (spec.md §3),
// shared by the function registry and the evaluator so neither needs to
// import the other.
package value

import "github.com/GoogleCloudPlatform/mytsdb/internal/model"

// ValueType identifies the runtime type of a Value, used for function
// signature checking (spec.md §4.C) and error messages.
type ValueType int

const (
	ValScalar ValueType = iota
	ValString
	ValVector
	ValMatrix
)

func (t ValueType) String() string {
	switch t {
	case ValScalar:
		return "scalar"
	case ValString:
		return "string"
	case ValVector:
		return "vector"
	case ValMatrix:
		return "matrix"
	default:
		return "unknown"
	}
}

// Value is the tagged union described in spec.md §3: a Scalar, a String, a
// Vector, or a Matrix.
type Value interface {
	Type() ValueType
}

// Scalar is a single number at a logical time.
type Scalar struct {
	Timestamp int64
	V         float64
}

func (Scalar) Type() ValueType { return ValScalar }

// StringValue is a literal string produced or consumed by a handful of
// functions (named to avoid colliding with the builtin string type).
type StringValue struct {
	Timestamp int64
	V         string
}

func (StringValue) Type() ValueType { return ValString }

// VectorValue wraps model.Vector to satisfy the Value interface.
type VectorValue model.Vector

func (VectorValue) Type() ValueType { return ValVector }

// MatrixValue wraps model.Matrix to satisfy the Value interface.
type MatrixValue model.Matrix

func (MatrixValue) Type() ValueType { return ValMatrix }
