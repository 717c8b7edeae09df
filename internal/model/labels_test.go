package model

import "testing"

func TestLabelSetHashStable(t *testing.T) {
	a := LabelSet{"__name__": "up", "job": "api", "pod": "p1"}
	b := LabelSet{"pod": "p1", "job": "api", "__name__": "up"}

	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal hash for equal label sets built in different orders")
	}
	if a.String() != b.String() {
		t.Fatalf("expected equal canonical string, got %q vs %q", a.String(), b.String())
	}
}

func TestLabelSetWithoutMetricName(t *testing.T) {
	a := LabelSet{"__name__": "up", "job": "api"}
	got := a.WithoutMetricName()
	if _, ok := got["__name__"]; ok {
		t.Fatalf("expected __name__ to be dropped")
	}
	if got["job"] != "api" {
		t.Fatalf("expected job label preserved")
	}
	// original untouched
	if _, ok := a["__name__"]; !ok {
		t.Fatalf("Without must not mutate the receiver")
	}
}

func TestMatcherEmptyPatternSemantics(t *testing.T) {
	eq, err := NewMatcher(MatchEqual, "job", "")
	if err != nil {
		t.Fatal(err)
	}
	if !eq.Matches("") {
		t.Fatalf("empty EQUAL matcher should match absent/empty label")
	}
	if eq.Matches("api") {
		t.Fatalf("empty EQUAL matcher should not match a present value")
	}

	neq, err := NewMatcher(MatchNotEqual, "job", "")
	if err != nil {
		t.Fatal(err)
	}
	if neq.Matches("") {
		t.Fatalf("empty NOT_EQUAL matcher should not match an absent label")
	}
	if !neq.Matches("api") {
		t.Fatalf("empty NOT_EQUAL matcher should match a present label")
	}
}

func TestMatcherRegexAnchored(t *testing.T) {
	m, err := NewMatcher(MatchRegex, "job", "a.*b")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Matches("ab") {
		t.Fatalf("expected ab to match a.*b")
	}
	if m.Matches("xaby") {
		t.Fatalf("regex matchers must be anchored to a full-string match")
	}
}

func TestSeriesLatestAtHonorsLookback(t *testing.T) {
	s := Series{Samples: []Sample{
		{Timestamp: 0, Value: 1},
		{Timestamp: 1000, Value: 2},
		{Timestamp: 2000, Value: 3},
	}}

	sm, ok := s.LatestAt(2000, 1500)
	if !ok || sm.Value != 3 {
		t.Fatalf("expected latest sample at window end, got %+v ok=%v", sm, ok)
	}

	_, ok = s.LatestAt(900, 950)
	if ok {
		t.Fatalf("expected no sample: all candidates fall outside lookback window")
	}
}
