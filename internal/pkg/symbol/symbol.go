// Package symbol 统一交易对写法，如 BTC/USDT、btc-usdt、BTCUSDT:USDT 都归一为 BTCUSDT。
package symbol

import (
	"strings"
)

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "USD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

// Pair 返回 BASE/QUOTE 形式。
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact 返回去掉分隔符的形式，用作存储 key。
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 识别带分隔符的交易对；无分隔符时按常见计价币后缀拆分。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if base == "" || quote == "" {
				return Symbol{}
			}
			return Symbol{Base: base, Quote: quote}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Key 返回存储使用的代码。无法识别为交易对的代码（如股票 AAPL）只做大写处理。
func Key(s string) string {
	if c := Parse(s).Compact(); c != "" {
		return c
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsPair(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
