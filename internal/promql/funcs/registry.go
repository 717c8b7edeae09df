// Package funcs implements the PromQL function registry (spec.md §4.C): a
// process-wide, populated-once, read-only name-to-implementation table.
package funcs

import (
	"fmt"

	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// EvalContext is the slice of evaluator state a function implementation may
// need: the instant it is evaluating at. It is intentionally narrow so
// funcs never needs to import the engine package.
type EvalContext interface {
	Timestamp() int64
}

// Signature is a function's name, parameter shape, and implementation, per
// spec.md §4.C.
type Signature struct {
	Name       string
	ArgTypes   []value.ValueType
	Variadic   bool
	ReturnType value.ValueType
	Impl       func(args []value.Value, ctx EvalContext) (value.Value, error)
}

// Registry is the process-wide function table. It is populated once by
// NewRegistry and never mutated afterward, so concurrent lookups are
// lock-free (spec.md §5 "Function registry: immutable after initialization").
type Registry struct {
	sigs map[string]*Signature
}

// NewRegistry builds and returns the fully populated function registry.
func NewRegistry() *Registry {
	r := &Registry{sigs: map[string]*Signature{}}
	registerRate(r)
	registerMath(r)
	registerTrig(r)
	registerTime(r)
	registerOverTime(r)
	registerAggregatesAsFunctions(r)
	registerLabelManipulation(r)
	registerUtility(r)
	registerExtrapolation(r)
	return r
}

func (r *Registry) register(s Signature) {
	if _, exists := r.sigs[s.Name]; exists {
		panic(fmt.Sprintf("funcs: duplicate registration of %q", s.Name))
	}
	r.sigs[s.Name] = &s
}

// Lookup returns the named function's signature, or false if unregistered.
func (r *Registry) Lookup(name string) (*Signature, bool) {
	s, ok := r.sigs[name]
	return s, ok
}

// CheckArity reports whether the given argument count is legal for s.
func (s *Signature) CheckArity(n int) bool {
	if s.Variadic {
		return n >= len(s.ArgTypes)
	}
	return n == len(s.ArgTypes)
}
