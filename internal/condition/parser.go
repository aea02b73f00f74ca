// Package condition 实现策略入场/出场规则的封闭文法：
// 手写词法与递归下降解析，对齐行情列做三值逻辑求值。
package condition

import (
	"fmt"
	"sort"
	"strconv"

	"stratlab/internal/pkg/errs"
)

type valueType int

const (
	typeNumber valueType = iota
	typeBool
)

func (t valueType) String() string {
	if t == typeBool {
		return "boolean"
	}
	return "numeric"
}

type cmpOp int

const (
	opLT cmpOp = iota
	opLE
	opGT
	opGE
	opEQ
	opNE
)

type node interface {
	typ() valueType
}

type (
	numLit   struct{ v float64 }
	boolLit  struct{ v bool }
	colRef   struct{ name string }
	constRef struct{ name string }
	negNode  struct{ x node }
	absNode  struct{ x node }
	notNode  struct{ x node }

	shiftNode struct {
		x node
		n int
	}
	cmpNode struct {
		op   cmpOp
		l, r node
	}
	logicNode struct {
		and  bool
		l, r node
	}
)

func (numLit) typ() valueType      { return typeNumber }
func (boolLit) typ() valueType     { return typeBool }
func (colRef) typ() valueType      { return typeNumber }
func (constRef) typ() valueType    { return typeNumber }
func (negNode) typ() valueType     { return typeNumber }
func (absNode) typ() valueType     { return typeNumber }
func (notNode) typ() valueType     { return typeBool }
func (s shiftNode) typ() valueType { return s.x.typ() }
func (cmpNode) typ() valueType     { return typeBool }
func (logicNode) typ() valueType   { return typeBool }

// Expr 是解析后的布尔条件。
type Expr struct {
	src       string
	root      node
	columns   []string
	constants []string
}

// Parse 解析条件字符串；语法或类型错误返回 InvalidStrategy 并指出出错 token。
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, cols: map[string]struct{}{}, consts: map[string]struct{}{}}
	if p.peek().kind == tokEOF {
		return nil, errs.InvalidStrategy("empty condition", src)
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		if tok.kind == tokRParen {
			return nil, errs.InvalidStrategy("unbalanced parenthesis", tok.text)
		}
		return nil, p.unexpected(tok)
	}
	if root.typ() != typeBool {
		return nil, errs.InvalidStrategy("condition must be boolean", src)
	}
	return &Expr{
		src:       src,
		root:      root,
		columns:   sortedKeys(p.cols),
		constants: sortedKeys(p.consts),
	}, nil
}

// MustParse 用于静态条件，解析失败直接 panic。
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

// Columns 返回引用的列名（去重、排序）。
func (e *Expr) Columns() []string { return append([]string(nil), e.columns...) }

// Constants 返回引用的常量名（不含 $）。
func (e *Expr) Constants() []string { return append([]string(nil), e.constants...) }

type parser struct {
	toks   []token
	pos    int
	cols   map[string]struct{}
	consts map[string]struct{}
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) unexpected(tok token) error {
	if tok.kind == tokEOF {
		return errs.InvalidStrategy("unexpected end of condition", "")
	}
	return errs.InvalidStrategy(fmt.Sprintf("unexpected token at position %d", tok.pos), tok.text)
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		if kind == tokRParen && tok.kind == tokEOF {
			return tok, errs.InvalidStrategy("unbalanced parenthesis", "(")
		}
		if tok.kind == tokEOF {
			return tok, errs.InvalidStrategy("expected "+what+" at end of condition", "")
		}
		return tok, errs.InvalidStrategy(fmt.Sprintf("expected %s at position %d", what, tok.pos), tok.text)
	}
	return tok, nil
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPipe && !tok.isKeyword("or") {
			return l, nil
		}
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := requireType(tok, typeBool, l, r); err != nil {
			return nil, err
		}
		l = logicNode{and: false, l: l, r: r}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokAmp && !tok.isKeyword("and") {
			return l, nil
		}
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := requireType(tok, typeBool, l, r); err != nil {
			return nil, err
		}
		l = logicNode{and: true, l: l, r: r}
	}
}

func (p *parser) parseNot() (node, error) {
	tok := p.peek()
	if tok.kind == tokTilde || tok.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := requireType(tok, typeBool, x); err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	op, ok := comparison(tok.kind)
	if !ok {
		return l, nil
	}
	p.next()
	r, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if err := requireType(tok, typeNumber, l, r); err != nil {
		return nil, err
	}
	if nxt := p.peek(); isComparison(nxt.kind) {
		return nil, errs.InvalidStrategy("chained comparison is not supported, combine with &", nxt.text)
	}
	return cmpNode{op: op, l: l, r: r}, nil
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokMinus {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := requireType(tok, typeNumber, x); err != nil {
			return nil, err
		}
		if lit, ok := x.(numLit); ok {
			return numLit{v: -lit.v}, nil
		}
		return negNode{x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokDot {
		p.next()
		name := p.next()
		if !name.isKeyword("shift") {
			return nil, errs.InvalidStrategy("unsupported method", name.text)
		}
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		n := 1
		if p.peek().kind != tokRParen {
			if n, err = p.parseShiftArg(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		x = shiftNode{x: x, n: n}
	}
	return x, nil
}

func (p *parser) parseShiftArg() (int, error) {
	neg := false
	if p.peek().kind == tokMinus {
		p.next()
		neg = true
	}
	tok, err := p.expect(tokNumber, "shift period")
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(tok.text)
	if convErr != nil {
		return 0, errs.InvalidStrategy("shift period must be an integer", tok.text)
	}
	if neg {
		return 0, errs.InvalidStrategy("negative shift looks ahead", "-"+tok.text)
	}
	return n, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, errs.InvalidStrategy("malformed number", tok.text)
		}
		return numLit{v: v}, nil
	case tokDollar:
		name, err := p.expect(tokIdent, "constant name")
		if err != nil {
			return nil, err
		}
		p.consts[name.text] = struct{}{}
		return constRef{name: name.text}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return x, nil
	case tokIdent:
		switch {
		case tok.isKeyword("true"):
			return boolLit{v: true}, nil
		case tok.isKeyword("false"):
			return boolLit{v: false}, nil
		case tok.text == "abs" && p.peek().kind == tokLParen:
			return p.parseAbs(tok)
		case tok.text == "shift" && p.peek().kind == tokLParen:
			return p.parseShiftCall()
		case tok.isKeyword("and") || tok.isKeyword("or") || tok.isKeyword("not"):
			return nil, p.unexpected(tok)
		}
		p.cols[tok.text] = struct{}{}
		return colRef{name: tok.text}, nil
	case tokRParen:
		return nil, errs.InvalidStrategy("unbalanced parenthesis", tok.text)
	}
	return nil, p.unexpected(tok)
}

func (p *parser) parseAbs(tok token) (node, error) {
	p.next()
	x, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	if err := requireType(tok, typeNumber, x); err != nil {
		return nil, err
	}
	return absNode{x: x}, nil
}

func (p *parser) parseShiftCall() (node, error) {
	p.next()
	x, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	n := 1
	if p.peek().kind == tokComma {
		p.next()
		if n, err = p.parseShiftArg(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return shiftNode{x: x, n: n}, nil
}

func requireType(op token, want valueType, operands ...node) error {
	for _, o := range operands {
		if o.typ() != want {
			return errs.InvalidStrategy(fmt.Sprintf("operator needs %s operands, got %s", want, o.typ()), op.text)
		}
	}
	return nil
}

func comparison(kind tokenKind) (cmpOp, bool) {
	switch kind {
	case tokLT:
		return opLT, true
	case tokLE:
		return opLE, true
	case tokGT:
		return opGT, true
	case tokGE:
		return opGE, true
	case tokEQ:
		return opEQ, true
	case tokNE:
		return opNE, true
	}
	return 0, false
}

func isComparison(kind tokenKind) bool {
	_, ok := comparison(kind)
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
