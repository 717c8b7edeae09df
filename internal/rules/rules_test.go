package rules_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/rules"
)

func TestExactNameDrop(t *testing.T) {
	m := rules.NewManager(nil)
	m.DropName("up")

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "up"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "down"}))
}

func TestPrefixDrop(t *testing.T) {
	m := rules.NewManager(nil)
	m.DropPrefix("go_")

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "go_gc_duration_seconds"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "http_requests_total"}))
}

func TestNameRegexDrop(t *testing.T) {
	m := rules.NewManager(nil)
	require.NoError(t, m.DropNameRegex("debug_.*"))

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "debug_heap_bytes"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "heap_bytes"}))
}

func TestLabelDrop(t *testing.T) {
	m := rules.NewManager(nil)
	require.NoError(t, m.DropLabel(model.MatchEqual, "env", "canary"))

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "m", "env": "canary"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "m", "env": "prod"}))
}

func TestSelectorDrop(t *testing.T) {
	m := rules.NewManager(nil)
	require.NoError(t, m.DropSelector(`http_requests_total{job="internal"}`))

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "http_requests_total", "job": "internal"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "http_requests_total", "job": "public"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "other_metric", "job": "internal"}))
}

func TestUpdateIsAtomicSwap(t *testing.T) {
	m := rules.NewManager(nil)
	before := m.Load()

	m.DropName("up")
	after := m.Load()

	require.False(t, before.ShouldDrop(model.LabelSet{"__name__": "up"}), "previously loaded snapshot must not observe later updates")
	require.True(t, after.ShouldDrop(model.LabelSet{"__name__": "up"}))
}

func TestLoadConfigAppliesAllRuleKinds(t *testing.T) {
	raw := []byte(`
reload_interval: 30s
drop_names: [up]
drop_prefixes: [go_]
drop_name_regex: ["debug_.*"]
drop_labels:
  - name: env
    value: canary
drop_selectors:
  - 'http_requests_total{job="internal"}'
`)
	cfg, err := rules.LoadConfig(raw)
	require.NoError(t, err)

	m := rules.NewManager(nil)
	require.NoError(t, m.Apply(cfg))

	rs := m.Load()
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "up"}))
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "go_info"}))
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "debug_x"}))
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "m", "env": "canary"}))
	require.True(t, rs.ShouldDrop(model.LabelSet{"__name__": "http_requests_total", "job": "internal"}))
	require.False(t, rs.ShouldDrop(model.LabelSet{"__name__": "http_requests_total", "job": "public"}))
}
