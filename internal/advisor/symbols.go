package advisor

import (
	"strings"

	"whalepulse/internal/domain"
)

// ExtractSymbols pulls supported asset symbols out of a free-text question,
// matching both tickers ("btc") and CoinGecko names ("bitcoin"). The result
// is uppercase and deduplicated, in order of first mention.
func ExtractSymbols(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})

	seen := make(map[string]bool, len(tokens))
	var found []string
	add := func(symbol string) {
		if !seen[symbol] {
			seen[symbol] = true
			found = append(found, symbol)
		}
	}

	for _, tok := range tokens {
		ticker := strings.ToUpper(tok)
		if _, ok := domain.CoinGeckoID[ticker]; ok {
			add(ticker)
			continue
		}
		if symbol, ok := domain.CoinGeckoIDToSymbol[tok]; ok {
			add(symbol)
		}
	}
	return found
}
