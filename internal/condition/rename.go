package condition

import "strings"

// Rename 按 token 改写列名，保留原有空白与其它文本。
// 常量（$name）、关键字与 .shift 方法名不会被改写。
func Rename(src string, mapping map[string]string) (string, error) {
	if len(mapping) == 0 {
		return src, nil
	}
	toks, err := lex(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	last := 0
	for i, tok := range toks {
		if tok.kind != tokIdent {
			continue
		}
		if i > 0 && (toks[i-1].kind == tokDollar || toks[i-1].kind == tokDot) {
			continue
		}
		if isKeyword(tok) || (isFunc(tok) && toks[i+1].kind == tokLParen) {
			continue
		}
		repl, ok := mapping[tok.text]
		if !ok || repl == tok.text {
			continue
		}
		b.WriteString(src[last:tok.pos])
		b.WriteString(repl)
		last = tok.pos + len(tok.text)
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

func isKeyword(tok token) bool {
	for _, kw := range []string{"and", "or", "not", "true", "false"} {
		if tok.isKeyword(kw) {
			return true
		}
	}
	return false
}

func isFunc(tok token) bool { return tok.text == "abs" || tok.text == "shift" }
