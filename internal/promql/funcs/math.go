package funcs

import "math"

func registerMath(r *Registry) {
	unaryVectorFunc(r, "abs", math.Abs)
	unaryVectorFunc(r, "ceil", math.Ceil)
	unaryVectorFunc(r, "floor", math.Floor)
	unaryVectorFunc(r, "round", math.Round)
	unaryVectorFunc(r, "exp", math.Exp)
	unaryVectorFunc(r, "sqrt", math.Sqrt)
	unaryVectorFunc(r, "ln", math.Log)
	unaryVectorFunc(r, "log2", math.Log2)
	unaryVectorFunc(r, "log10", math.Log10)
}
