// Package storage defines the Storage Adapter Interface the evaluator
// depends on (spec.md §4.E) and a caching decorator over it. The block/chunk
// storage engine proper is out of scope (spec.md §1); this package only
// describes the capability boundary and a reference in-memory cache.
package storage

import (
	"context"
	"errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
)

// ErrUnsupported is returned by QueryAggregate when the adapter cannot
// perform the requested pushdown; the evaluator falls back to the
// non-pushdown path on any error, including this one (spec.md §4.D.4).
var ErrUnsupported = errors.New("storage: aggregation pushdown not supported")

// AggregateRequest describes a pushed-down aggregation (spec.md §4.D.4).
type AggregateRequest struct {
	Op           string
	GroupingKeys []string
	Without      bool
	Param        *float64 // quantile φ, when Op == "quantile"
}

// Storage is the capability the evaluator consumes. It is implemented by the
// real block/chunk engine in production and by internal/memstore in tests.
type Storage interface {
	// Query returns the raw series matching matchers whose samples fall
	// within [startMs, endMs].
	Query(ctx context.Context, matchers []*model.Matcher, startMs, endMs int64) (model.Matrix, error)

	// QueryAggregate computes a pushed-down aggregation, or returns
	// ErrUnsupported (or any other error) to force the evaluator to fall
	// back to the non-pushdown path.
	QueryAggregate(ctx context.Context, matchers []*model.Matcher, startMs, endMs int64, req AggregateRequest) (model.Matrix, error)

	LabelNames(ctx context.Context) ([]string, error)
	LabelValues(ctx context.Context, name string) ([]string, error)
}
