package engine

import (
	"sort"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// evalSubquery evaluates expr[range:resolution] by instant-evaluating Expr at
// every resolution step within the synthesized window and collecting the
// results into a matrix, per spec.md §4.D.5.
func (e *Evaluator) evalSubquery(sq *ast.Subquery) (value.Value, error) {
	at := e.resolveAt(sq.At, sq.AtIsStart, sq.AtIsEnd)
	end := at - sq.Offset
	start := end - sq.RangeMs

	resolution := sq.Resolution
	if resolution == 0 {
		if e.step != 0 {
			resolution = e.step
		} else {
			resolution = DefaultSubqueryResolutionMs
		}
	}

	seriesByKey := map[string]*model.Series{}
	var order []string

	for t := start; t <= end; t += resolution {
		step := e.withAt(t)
		v, err := step.Evaluate(sq.Expr)
		if err != nil {
			return nil, err
		}
		vec, ok := v.(value.VectorValue)
		if !ok {
			continue
		}
		for _, s := range vec {
			key := s.Labels.String()
			sr, found := seriesByKey[key]
			if !found {
				sr = &model.Series{Labels: s.Labels}
				seriesByKey[key] = sr
				order = append(order, key)
			}
			sr.Samples = append(sr.Samples, model.Sample{Timestamp: s.Timestamp, Value: s.Value})
		}
	}

	sort.Strings(order)
	mat := make(model.Matrix, 0, len(order))
	for _, k := range order {
		mat = append(mat, *seriesByKey[k])
	}
	return value.MatrixValue(mat), nil
}
