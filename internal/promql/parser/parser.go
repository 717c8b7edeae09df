// Package parser implements a Pratt-style parser that turns a PromQL token
// stream into the AST defined in package ast, per spec.md §4.B. Errors are
// accumulated rather than thrown; a non-empty error list invalidates the
// result (spec.md §8 P2).
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/ast"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/lexer"
)

func nan() float64      { return math.NaN() }
func inf(sign int) float64 { return math.Inf(sign) }

// Error is a single accumulated syntax error with its source position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// precedence levels, lowest to highest, per spec.md §4.B.
const (
	precLowest = iota
	precOr
	precAnd // and, unless
	precComparison
	precAdditive
	precMultiplicative
	precPower
	precUnary
	precCall
)

var binPrec = map[string]int{
	"or":     precOr,
	"and":    precAnd,
	"unless": precAnd,
	"==":     precComparison, "!=": precComparison, "<": precComparison,
	"<=": precComparison, ">": precComparison, ">=": precComparison,
	"+": precAdditive, "-": precAdditive,
	"*": precMultiplicative, "/": precMultiplicative, "%": precMultiplicative,
	"^": precPower,
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

// rightAssoc reports whether op binds its right operand at the same
// precedence (true) or strictly higher (false). Only ^ is right-associative.
func rightAssoc(op string) bool { return op == "^" }

// Parser holds parse state over a single token stream.
type Parser struct {
	toks []lexer.Token
	pos  int
	errs []*Error
}

// Parse tokenizes and parses src, returning the root AST node (which may be
// partial) and any accumulated errors.
func Parse(src string) (ast.Node, []*Error) {
	l := lexer.New(src)
	var toks []lexer.Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == lexer.EOF {
			break
		}
	}
	p := &Parser{toks: toks}
	expr := p.parseExpr(precLowest)
	if p.cur().Kind != lexer.EOF {
		p.errorf("unexpected trailing token %q", p.cur().Literal)
	}
	return expr, p.errs
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...interface{}) {
	t := p.cur()
	p.errs = append(p.errs, &Error{Line: t.Line, Col: t.Col, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) expect(k lexer.Kind) (lexer.Token, bool) {
	if p.cur().Kind != k {
		p.errorf("expected %s, got %q", k, p.cur().Literal)
		return lexer.Token{}, false
	}
	return p.advance(), true
}

// parseExpr is the Pratt-loop entry point: parse a prefix expression, then
// repeatedly fold in binary operators whose precedence exceeds minPrec.
func (p *Parser) parseExpr(minPrec int) ast.Node {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}
	return p.parseBinaryTail(left, minPrec, "")
}

func (p *Parser) parseBinaryTail(left ast.Node, minPrec int, lastOp string) ast.Node {
	for {
		op, ok := p.peekBinaryOp()
		if !ok {
			return left
		}
		prec := binPrec[op]
		if prec <= minPrec {
			return left
		}
		if isComparisonOp(op) && isComparisonOp(lastOp) {
			p.errorf("comparisons must be non-associative, chained %q after %q", op, lastOp)
		}
		pos := tokPos(p.cur())
		p.advance() // consume operator token(s); peekBinaryOp already validated shape

		boolMod := false
		if p.cur().Kind == lexer.BOOL {
			boolMod = true
			p.advance()
			if !isComparisonOp(op) {
				p.errorf("bool modifier illegal on non-comparison operator %q", op)
			}
		}
		vm := p.maybeParseVectorMatching()

		nextMin := prec
		if rightAssoc(op) {
			nextMin = prec - 1
		}
		right := p.parseExpr(nextMin)
		if right == nil {
			return left
		}
		left = &ast.Binary{Pos: pos, Op: op, LHS: left, RHS: right, Bool: boolMod, VectorMatch: vm}
		lastOp = op
	}
}

// peekBinaryOp recognizes the current token as a binary operator, returning
// its canonical string form ("and"/"unless"/"or" are keyword tokens).
func (p *Parser) peekBinaryOp() (string, bool) {
	switch p.cur().Kind {
	case lexer.OR:
		return "or", true
	case lexer.AND:
		return "and", true
	case lexer.UNLESS:
		return "unless", true
	case lexer.EQL:
		return "==", true
	case lexer.NEQ:
		return "!=", true
	case lexer.LSS:
		return "<", true
	case lexer.LTE:
		return "<=", true
	case lexer.GTR:
		return ">", true
	case lexer.GTE:
		return ">=", true
	case lexer.ADD:
		return "+", true
	case lexer.SUB:
		return "-", true
	case lexer.MUL:
		return "*", true
	case lexer.DIV:
		return "/", true
	case lexer.MOD:
		return "%", true
	case lexer.POW:
		return "^", true
	}
	return "", false
}

// tokPos converts a lexer.Token's position into an ast.Pos.
func tokPos(t lexer.Token) ast.Pos { return ast.Pos{Line: t.Line, Col: t.Col} }

func (p *Parser) maybeParseVectorMatching() *ast.VectorMatching {
	vm := &ast.VectorMatching{}
	set := false
	if p.cur().Kind == lexer.ON {
		p.advance()
		vm.On = true
		vm.MatchLabels = p.parseLabelNameList()
		set = true
	} else if p.cur().Kind == lexer.IGNORING {
		p.advance()
		vm.On = false
		vm.MatchLabels = p.parseLabelNameList()
		set = true
	}
	if p.cur().Kind == lexer.GROUPLEFT {
		p.advance()
		vm.GroupSide = "left"
		if p.cur().Kind == lexer.LPAREN {
			vm.Include = p.parseLabelNameList()
		}
		set = true
	} else if p.cur().Kind == lexer.GROUPRIGHT {
		p.advance()
		vm.GroupSide = "right"
		if p.cur().Kind == lexer.LPAREN {
			vm.Include = p.parseLabelNameList()
		}
		set = true
	}
	if !set {
		return nil
	}
	return vm
}

func (p *Parser) parseLabelNameList() []string {
	if _, ok := p.expect(lexer.LPAREN); !ok {
		return nil
	}
	var out []string
	for p.cur().Kind != lexer.RPAREN && p.cur().Kind != lexer.EOF {
		if p.cur().Kind == lexer.IDENT || p.cur().Kind.IsAggregator() {
			out = append(out, p.cur().Literal)
			p.advance()
		} else {
			p.errorf("expected label name, got %q", p.cur().Literal)
			p.advance()
		}
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		}
	}
	p.expect(lexer.RPAREN)
	return out
}

// parsePrefix parses a unary/primary expression: literals, selectors, calls,
// aggregates, parens, and unary +/-.
func (p *Parser) parsePrefix() ast.Node {
	t := p.cur()
	switch t.Kind {
	case lexer.NUMBER:
		p.advance()
		return p.parsePostfix(&ast.NumberLiteral{Pos: tokPos(t), Value: parseNumber(t.Literal)})
	case lexer.STRING:
		p.advance()
		return &ast.StringLiteral{Pos: tokPos(t), Value: t.Literal}
	case lexer.ADD, lexer.SUB:
		p.advance()
		op := "+"
		if t.Kind == lexer.SUB {
			op = "-"
		}
		expr := p.parseExpr(precUnary)
		if expr == nil {
			return nil
		}
		return &ast.Unary{Pos: tokPos(t), Op: op, Expr: expr}
	case lexer.LPAREN:
		p.advance()
		inner := p.parseExpr(precLowest)
		p.expect(lexer.RPAREN)
		return p.parsePostfix(&ast.Paren{Pos: tokPos(t), Expr: inner})
	case lexer.IDENT:
		if p.peekAt(1).Kind == lexer.LPAREN {
			return p.parseCall()
		}
		return p.parseVectorSelectorOrMatrix("")
	case lexer.LBRACE:
		return p.parseVectorSelectorOrMatrix("")
	default:
		if t.Kind.IsAggregator() {
			return p.parseAggregate()
		}
		p.errorf("unexpected token %q", t.Literal)
		p.advance()
		return nil
	}
}

// parsePostfix handles a trailing matrix-selector/subquery range on a
// parenthesized or literal expression head, e.g. "(foo+bar)[5m:1m]".
func (p *Parser) parsePostfix(expr ast.Node) ast.Node {
	if p.cur().Kind != lexer.LBRACKET {
		return p.parseTrailingOffsetAt(expr)
	}
	return p.parseRangeSuffix(expr)
}

func parseNumber(lit string) float64 {
	low := strings.ToLower(lit)
	switch low {
	case "nan":
		return nan()
	case "inf", "+inf":
		return inf(1)
	case "-inf":
		return inf(-1)
	}
	v, _ := strconv.ParseFloat(lit, 64)
	return v
}

func (p *Parser) parseCall() ast.Node {
	nameTok := p.advance()
	pos := tokPos(nameTok)
	p.expect(lexer.LPAREN)
	var args []ast.Node
	for p.cur().Kind != lexer.RPAREN && p.cur().Kind != lexer.EOF {
		a := p.parseExpr(precLowest)
		if a != nil {
			args = append(args, a)
		}
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return p.parseTrailingOffsetAt(&ast.Call{Pos: pos, Func: nameTok.Literal, Args: args})
}

func (p *Parser) parseAggregate() ast.Node {
	opTok := p.advance()
	pos := tokPos(opTok)
	agg := &ast.Aggregate{Pos: pos, Op: opTok.Literal}

	parseModifier := func() {
		switch p.cur().Kind {
		case lexer.BY:
			p.advance()
			agg.Grouping = p.parseLabelNameList()
			agg.Without = false
		case lexer.WITHOUT:
			p.advance()
			agg.Grouping = p.parseLabelNameList()
			agg.Without = true
		}
	}
	parseModifier()

	p.expect(lexer.LPAREN)
	first := p.parseExpr(precLowest)
	if p.cur().Kind == lexer.COMMA {
		p.advance()
		second := p.parseExpr(precLowest)
		agg.Param = first
		agg.Expr = second
	} else {
		agg.Expr = first
	}
	p.expect(lexer.RPAREN)

	if len(agg.Grouping) == 0 {
		parseModifier()
	}
	return agg
}

// parseVectorSelectorOrMatrix parses an identifier-or-brace selector and
// then looks ahead to decide whether a following "[...]" is a matrix
// selector or a subquery by scanning for a ":" after the first duration
// (spec.md §4.B).
func (p *Parser) parseVectorSelectorOrMatrix(name string) ast.Node {
	pos := tokPos(p.cur())
	if p.cur().Kind == lexer.IDENT {
		name = p.cur().Literal
		pos = tokPos(p.cur())
		p.advance()
	}
	var matchers []*model.Matcher
	if name != "" {
		if eq, err := model.NewMatcher(model.MatchEqual, model.MetricName, name); err == nil {
			matchers = append(matchers, eq)
		}
	}
	if p.cur().Kind == lexer.LBRACE {
		matchers = append(matchers, p.parseMatcherList()...)
	}
	vs := &ast.VectorSelector{Pos: pos, Name: name, Matchers: matchers}
	return p.parseRangeSuffix(vs)
}

func (p *Parser) parseMatcherList() []*model.Matcher {
	p.expect(lexer.LBRACE)
	var out []*model.Matcher
	for p.cur().Kind != lexer.RBRACE && p.cur().Kind != lexer.EOF {
		nameTok, ok := p.expect(lexer.IDENT)
		if !ok {
			p.advance()
			continue
		}
		var kind model.MatchKind
		switch p.cur().Kind {
		case lexer.ASSIGN:
			kind = model.MatchEqual
		case lexer.NEQ:
			kind = model.MatchNotEqual
		case lexer.EQLRegex:
			kind = model.MatchRegex
		case lexer.NEQRegex:
			kind = model.MatchNotRegex
		default:
			p.errorf("expected matcher operator, got %q", p.cur().Literal)
			p.advance()
			continue
		}
		p.advance()
		valTok, ok := p.expect(lexer.STRING)
		if !ok {
			continue
		}
		m, err := model.NewMatcher(kind, nameTok.Literal, valTok.Literal)
		if err != nil {
			p.errorf("invalid regex in matcher %s: %v", nameTok.Literal, err)
			continue
		}
		out = append(out, m)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		}
	}
	p.expect(lexer.RBRACE)
	return out
}

// parseRangeSuffix parses an optional "[range]" or "[range:resolution]"
// suffix followed by optional offset/@ modifiers, producing either the
// input node unchanged, a MatrixSelector, or a Subquery.
func (p *Parser) parseRangeSuffix(expr ast.Node) ast.Node {
	if p.cur().Kind != lexer.LBRACKET {
		return p.parseTrailingOffsetAt(expr)
	}
	pos := tokPos(p.cur())
	p.advance()
	rangeTok, ok := p.expect(lexer.DURATION)
	var rangeMs int64
	if ok {
		rangeMs, _ = parseDurationMs(rangeTok.Literal)
	}

	if p.cur().Kind == lexer.COLON {
		p.advance()
		var resMs int64
		if p.cur().Kind == lexer.DURATION {
			resTok := p.advance()
			resMs, _ = parseDurationMs(resTok.Literal)
		}
		p.expect(lexer.RBRACKET)
		sq := &ast.Subquery{Pos: pos, Expr: expr, RangeMs: rangeMs, Resolution: resMs}
		return p.parseSubqueryTrailing(sq)
	}

	p.expect(lexer.RBRACKET)
	vs, ok := expr.(*ast.VectorSelector)
	if !ok {
		p.errorf("matrix selector range applied to non-selector expression")
		return expr
	}
	ms := &ast.MatrixSelector{Pos: pos, Vector: vs, RangeMs: rangeMs}
	return p.parseTrailingOffsetAt(ms)
}

func (p *Parser) parseSubqueryTrailing(sq *ast.Subquery) ast.Node {
	for {
		switch p.cur().Kind {
		case lexer.OFFSET:
			p.advance()
			durTok, ok := p.expect(lexer.DURATION)
			if ok {
				sq.Offset, _ = parseDurationMs(durTok.Literal)
			}
		case lexer.AT:
			p.advance()
			p.parseAtModifierInto(&sq.At, &sq.AtIsStart, &sq.AtIsEnd)
		default:
			return sq
		}
	}
}

// parseTrailingOffsetAt attaches offset/@ modifiers to the vector selector
// or matrix selector that syntactically precedes them (spec.md §4.B);
// subquery modifiers are handled by parseSubqueryTrailing.
func (p *Parser) parseTrailingOffsetAt(expr ast.Node) ast.Node {
	for {
		switch v := expr.(type) {
		case *ast.VectorSelector:
			switch p.cur().Kind {
			case lexer.OFFSET:
				p.advance()
				durTok, ok := p.expect(lexer.DURATION)
				if ok {
					v.Offset, _ = parseDurationMs(durTok.Literal)
				}
				continue
			case lexer.AT:
				p.advance()
				p.parseAtModifierInto(&v.At, &v.AtIsStart, &v.AtIsEnd)
				continue
			}
		case *ast.MatrixSelector:
			switch p.cur().Kind {
			case lexer.OFFSET:
				p.advance()
				durTok, ok := p.expect(lexer.DURATION)
				if ok {
					v.Vector.Offset, _ = parseDurationMs(durTok.Literal)
				}
				continue
			case lexer.AT:
				p.advance()
				p.parseAtModifierInto(&v.Vector.At, &v.Vector.AtIsStart, &v.Vector.AtIsEnd)
				continue
			}
		}
		return expr
	}
}

func (p *Parser) parseAtModifierInto(at **int64, isStart, isEnd *bool) {
	if p.cur().Kind == lexer.IDENT && p.cur().Literal == "start" && p.peekAt(1).Kind == lexer.LPAREN {
		p.advance()
		p.advance()
		p.expect(lexer.RPAREN)
		*isStart = true
		return
	}
	if p.cur().Kind == lexer.IDENT && p.cur().Literal == "end" && p.peekAt(1).Kind == lexer.LPAREN {
		p.advance()
		p.advance()
		p.expect(lexer.RPAREN)
		*isEnd = true
		return
	}
	neg := false
	if p.cur().Kind == lexer.SUB {
		neg = true
		p.advance()
	}
	numTok, ok := p.expect(lexer.NUMBER)
	if !ok {
		return
	}
	v := parseNumber(numTok.Literal)
	if neg {
		v = -v
	}
	ms := int64(v * 1000)
	*at = &ms
}
