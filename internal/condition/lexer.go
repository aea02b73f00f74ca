package condition

import (
	"fmt"
	"strings"

	"stratlab/internal/pkg/errs"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokDollar
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
	tokAmp
	tokPipe
	tokTilde
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int // 字节偏移
}

func (t token) isKeyword(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

// lex 将条件字符串切分为 token，末尾追加 EOF。
func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			if i < len(src) && isIdentStart(src[i]) {
				return nil, errs.InvalidStrategy(fmt.Sprintf("malformed number at position %d", start), src[start:i+1])
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			out = append(out, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			kind, width := punct(src[i:])
			if width == 0 {
				return nil, errs.InvalidStrategy(fmt.Sprintf("unexpected character at position %d", i), string(src[i]))
			}
			out = append(out, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func punct(s string) (tokenKind, int) {
	if len(s) >= 2 {
		switch s[:2] {
		case "<=":
			return tokLE, 2
		case ">=":
			return tokGE, 2
		case "==":
			return tokEQ, 2
		case "!=":
			return tokNE, 2
		}
	}
	switch s[0] {
	case '<':
		return tokLT, 1
	case '>':
		return tokGT, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case ',':
		return tokComma, 1
	case '.':
		return tokDot, 1
	case '$':
		return tokDollar, 1
	case '&':
		return tokAmp, 1
	case '|':
		return tokPipe, 1
	case '~':
		return tokTilde, 1
	case '-':
		return tokMinus, 1
	}
	return tokEOF, 0
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
