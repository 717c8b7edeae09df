package lexer

import "testing"

func kinds(src string) []Kind {
	l := New(src)
	var out []Kind
	for {
		tok := l.Next()
		out = append(out, tok.Kind)
		if tok.Kind == EOF {
			return out
		}
	}
}

func TestDurationVsNumber(t *testing.T) {
	l := New("5m")
	tok := l.Next()
	if tok.Kind != DURATION || tok.Literal != "5m" {
		t.Fatalf("expected single DURATION token 5m, got %v %q", tok.Kind, tok.Literal)
	}
	if eof := l.Next(); eof.Kind != EOF {
		t.Fatalf("expected EOF after duration, got %v", eof.Kind)
	}
}

func TestMsMatchedBeforeM(t *testing.T) {
	l := New("500ms")
	tok := l.Next()
	if tok.Kind != DURATION || tok.Literal != "500ms" {
		t.Fatalf("expected DURATION 500ms, got %v %q", tok.Kind, tok.Literal)
	}
}

func TestCompoundDuration(t *testing.T) {
	l := New("1h30m")
	tok := l.Next()
	if tok.Kind != DURATION || tok.Literal != "1h30m" {
		t.Fatalf("expected DURATION 1h30m, got %v %q", tok.Kind, tok.Literal)
	}
}

func TestIllegalDurationUnit(t *testing.T) {
	// "5min" is illegal per spec.md §4.A: a trailing identifier char after
	// the matched unit must not be silently absorbed into a DURATION token.
	l := New("5min")
	tok := l.Next()
	if tok.Kind != NUMBER {
		t.Fatalf("expected 5min to NOT lex as a duration, got %v %q", tok.Kind, tok.Literal)
	}
}

func TestKeywordsAndIdents(t *testing.T) {
	got := kinds("sum by (job) (rate(x[5m]))")
	want := []Kind{SUM, BY, LPAREN, IDENT, RPAREN, LPAREN, IDENT, LPAREN, IDENT, LBRACKET, DURATION, RBRACKET, RPAREN, RPAREN, EOF}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %v want %v (full %v)", i, got[i], want[i], got)
		}
	}
}

func TestComparisonAndRegexOperators(t *testing.T) {
	got := kinds(`a=~"x" b!~"y" c==1 d!=2 e<=3 f>=3`)
	want := []Kind{
		IDENT, EQLRegex, STRING,
		IDENT, NEQRegex, STRING,
		IDENT, EQL, NUMBER,
		IDENT, NEQ, NUMBER,
		IDENT, LTE, NUMBER,
		IDENT, GTE, NUMBER,
		EOF,
	}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestIllegalBangWithoutFollow(t *testing.T) {
	l := New("a ! b")
	l.Next() // a
	tok := l.Next()
	if tok.Kind != ILLEGAL {
		t.Fatalf("expected ILLEGAL for truncated '!' operator, got %v", tok.Kind)
	}
}

func TestUnterminatedStringIsIllegal(t *testing.T) {
	l := New(`"abc`)
	tok := l.Next()
	if tok.Kind != ILLEGAL {
		t.Fatalf("expected ILLEGAL for unterminated string, got %v", tok.Kind)
	}
}

func TestCommentsAndWhitespaceSkipped(t *testing.T) {
	got := kinds("  up  # a comment\n  down")
	want := []Kind{IDENT, IDENT, EOF}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNaNAndInfLiterals(t *testing.T) {
	for _, src := range []string{"NaN", "Inf", "nan", "inf"} {
		l := New(src)
		tok := l.Next()
		if tok.Kind != NUMBER {
			t.Fatalf("expected %q to lex as NUMBER, got %v", src, tok.Kind)
		}
	}
}

func TestPositionsTracked(t *testing.T) {
	l := New("a\nb")
	first := l.Next()
	second := l.Next()
	if first.Line != 1 || second.Line != 2 {
		t.Fatalf("expected line tracking across newline, got %d %d", first.Line, second.Line)
	}
}
