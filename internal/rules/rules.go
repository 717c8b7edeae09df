// Package rules implements the Rule Manager (spec.md §4.G): an
// atomically-swappable set of per-series drop decisions applied at
// ingestion. Updates clone-and-swap under a writer mutex so that readers
// always observe a complete, consistent RuleSet via a single atomic load
// (spec.md §5 "Rule-set publication is release-acquire").
package rules

import (
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/parser"
)

// selectorRule is a compound drop rule: a series is dropped if every matcher
// in the selector matches it (spec.md §4.G "Selectors are parsed via the
// shared PromQL parser into one vector selector").
type selectorRule struct {
	source   string
	matchers []*model.Matcher
}

// RuleSet is an immutable bundle of drop decisions (spec.md GLOSSARY). A
// series is dropped if its metric name is in the exact set, is a prefix in
// the trie, matches any name regex, matches any label drop rule, or matches
// every matcher of a selector drop rule.
type RuleSet struct {
	exactNames map[string]struct{}
	prefixes   *prefixTrie
	nameRegex  []*regexp.Regexp
	labelDrops []*model.Matcher
	selectors  []selectorRule
}

func newRuleSet() *RuleSet {
	return &RuleSet{
		exactNames: map[string]struct{}{},
		prefixes:   newPrefixTrie(),
	}
}

// clone returns a deep-enough copy of r suitable for a writer to mutate
// without affecting readers holding the previous RuleSet.
func (r *RuleSet) clone() *RuleSet {
	c := &RuleSet{
		exactNames: make(map[string]struct{}, len(r.exactNames)),
		prefixes:   r.prefixes.clone(),
		nameRegex:  append([]*regexp.Regexp(nil), r.nameRegex...),
		labelDrops: append([]*model.Matcher(nil), r.labelDrops...),
		selectors:  append([]selectorRule(nil), r.selectors...),
	}
	for k := range r.exactNames {
		c.exactNames[k] = struct{}{}
	}
	return c
}

// ShouldDrop reports whether lset must be dropped at ingestion (spec.md
// §4.G).
func (r *RuleSet) ShouldDrop(lset model.LabelSet) bool {
	name := lset[model.MetricName]

	if _, ok := r.exactNames[name]; ok {
		return true
	}
	if r.prefixes.hasPrefixOf(name) {
		return true
	}
	for _, re := range r.nameRegex {
		if re.MatchString(name) {
			return true
		}
	}
	for _, m := range r.labelDrops {
		if m.Matches(lset[m.Name]) {
			return true
		}
	}
	for _, sel := range r.selectors {
		if model.MatchesLabels(sel.matchers, lset) {
			return true
		}
	}
	return false
}

// Manager publishes an atomically-loaded RuleSet (spec.md §4.G). Updates
// acquire mu, clone the current value, apply the mutation, and atomic-store
// the new pointer; readers always Load and hold their copy for the duration
// of their operation.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[RuleSet]
	logger  log.Logger
}

// NewManager constructs a Manager with an empty RuleSet (drops nothing). A
// nil logger defaults to a no-op logger (spec.md §1).
func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{logger: logger}
	m.current.Store(newRuleSet())
	return m
}

// Load returns the currently published RuleSet. The returned value is
// immutable and safe to hold for the duration of a caller's operation.
func (m *Manager) Load() *RuleSet {
	return m.current.Load()
}

// update clones the current RuleSet, applies fn, and atomically publishes
// the result.
func (m *Manager) update(fn func(*RuleSet)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.current.Load().clone()
	fn(next)
	m.current.Store(next)
}

// DropName adds an exact metric-name drop rule.
func (m *Manager) DropName(name string) {
	level.Debug(m.logger).Log("msg", "adding exact-name drop rule", "name", name)
	m.update(func(r *RuleSet) {
		r.exactNames[name] = struct{}{}
	})
}

// DropPrefix adds a metric-name-prefix drop rule.
func (m *Manager) DropPrefix(prefix string) {
	level.Debug(m.logger).Log("msg", "adding prefix drop rule", "prefix", prefix)
	m.update(func(r *RuleSet) {
		r.prefixes.add(prefix)
	})
}

// DropNameRegex adds a metric-name regex drop rule. The pattern is anchored
// to a full-string match.
func (m *Manager) DropNameRegex(pattern string) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return errors.Wrap(err, "rules: compile name regex")
	}
	level.Debug(m.logger).Log("msg", "adding name-regex drop rule", "pattern", pattern)
	m.update(func(r *RuleSet) {
		r.nameRegex = append(r.nameRegex, re)
	})
	return nil
}

// DropLabel adds a (label_name, value) drop rule. kind selects equality or
// regex matching; only equality and regex-match on __name__ and labels are
// meaningful for drop rules (spec.md §4.G).
func (m *Manager) DropLabel(kind model.MatchKind, name, value string) error {
	matcher, err := model.NewMatcher(kind, name, value)
	if err != nil {
		return errors.Wrap(err, "rules: compile label drop rule")
	}
	level.Debug(m.logger).Log("msg", "adding label drop rule", "name", name, "kind", kind.String(), "value", value)
	m.update(func(r *RuleSet) {
		r.labelDrops = append(r.labelDrops, matcher)
	})
	return nil
}

// DropSelector parses selector as a single PromQL vector selector and adds a
// compound drop rule: a series is dropped if it matches every matcher the
// selector carries (spec.md §4.G).
func (m *Manager) DropSelector(selector string) error {
	node, errs := parser.Parse(selector)
	if len(errs) > 0 {
		return errors.Errorf("rules: parse selector %q: %v", selector, errs)
	}
	vs, ok := node.(*ast.VectorSelector)
	if !ok {
		return errors.Errorf("rules: selector %q is not a vector selector", selector)
	}
	matchers := vs.Matchers
	if vs.Name != "" {
		nameMatcher, _ := model.NewMatcher(model.MatchEqual, model.MetricName, vs.Name)
		matchers = append(append([]*model.Matcher(nil), matchers...), nameMatcher)
	}
	level.Debug(m.logger).Log("msg", "adding selector drop rule", "selector", selector)
	m.update(func(r *RuleSet) {
		r.selectors = append(r.selectors, selectorRule{source: selector, matchers: matchers})
	})
	return nil
}
