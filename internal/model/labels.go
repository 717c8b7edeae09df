// Package model defines the data types shared across the PromQL engine and
// the storage adapter: label sets, samples, series, and matchers.
package model

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
)

// MetricName is the reserved label carrying a series' metric name.
const MetricName = "__name__"

// LabelSet is an unordered mapping from label name to label value. Both must
// be non-empty ASCII strings outside of matcher semantics at query time.
type LabelSet map[string]string

// Clone returns a shallow copy of the label set.
func (l LabelSet) Clone() LabelSet {
	out := make(LabelSet, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Without returns a copy of l with the given names removed.
func (l LabelSet) Without(names ...string) LabelSet {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := make(LabelSet, len(l))
	for k, v := range l {
		if drop[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// WithoutMetricName drops __name__, matching the label-hygiene invariant
// applied to arithmetic, unary, comparison, and aggregation results.
func (l LabelSet) WithoutMetricName() LabelSet {
	return l.Without(MetricName)
}

// Only returns a copy of l containing exactly the listed names (missing
// names are simply absent from the result, never zero-valued).
func (l LabelSet) Only(names ...string) LabelSet {
	out := make(LabelSet, len(names))
	for _, n := range names {
		if v, ok := l[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Equal reports whether two label sets contain exactly the same pairs.
func (l LabelSet) Equal(o LabelSet) bool {
	if len(l) != len(o) {
		return false
	}
	for k, v := range l {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// sortedKeys returns the label names in sorted order, used for canonical
// string and hash computation.
func (l LabelSet) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the canonical textual form of the label set, used both for
// human-readable output and as the basis of the write-buffer's shard hash.
func (l LabelSet) String() string {
	keys := l.sortedKeys()
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteByte('"')
		sb.WriteString(l[k])
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

// Hash returns a stable 64-bit hash of the canonical label string. The same
// label set always hashes identically, which is what makes write-buffer
// shard dispatch deterministic (spec.md §4.I "Dispatch").
func (l LabelSet) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(l.String()))
	return h.Sum64()
}

// MatchKind enumerates the four matcher operators a selector may use.
type MatchKind int

const (
	MatchEqual MatchKind = iota
	MatchNotEqual
	MatchRegex
	MatchNotRegex
)

func (k MatchKind) String() string {
	switch k {
	case MatchEqual:
		return "="
	case MatchNotEqual:
		return "!="
	case MatchRegex:
		return "=~"
	case MatchNotRegex:
		return "!~"
	default:
		return "?"
	}
}

// Matcher is a single label-matching predicate as described in spec.md §3.
// Regex matchers are always anchored to a full-string match.
type Matcher struct {
	Kind  MatchKind
	Name  string
	Value string

	re *regexp.Regexp
}

// NewMatcher constructs a matcher, compiling the regex up front for
// MatchRegex/MatchNotRegex so that Matches never needs to return an error.
func NewMatcher(kind MatchKind, name, value string) (*Matcher, error) {
	m := &Matcher{Kind: kind, Name: name, Value: value}
	if kind == MatchRegex || kind == MatchNotRegex {
		re, err := regexp.Compile("^(?:" + value + ")$")
		if err != nil {
			return nil, err
		}
		m.re = re
	}
	return m, nil
}

// Matches reports whether the given label value satisfies the matcher. An
// absent label is treated as the empty string, which lets the empty-pattern
// special cases from spec.md §3 fall out naturally.
func (m *Matcher) Matches(value string) bool {
	switch m.Kind {
	case MatchEqual:
		return value == m.Value
	case MatchNotEqual:
		return value != m.Value
	case MatchRegex:
		return m.re.MatchString(value)
	case MatchNotRegex:
		return !m.re.MatchString(value)
	default:
		return false
	}
}

// MatchesLabels reports whether every matcher in ms is satisfied by lset.
func MatchesLabels(ms []*Matcher, lset LabelSet) bool {
	for _, m := range ms {
		if !m.Matches(lset[m.Name]) {
			return false
		}
	}
	return true
}
