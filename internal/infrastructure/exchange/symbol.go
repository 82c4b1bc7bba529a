package exchange

import "strings"

// quoteAssets are the quote currencies recognized when splitting a
// concatenated pair; checked longest-first so USDT wins over USD.
var quoteAssets = []string{
	"USDT", "USDC", "TUSD", "BUSD", "FDUSD",
	"USD", "EUR", "GBP", "BTC", "ETH", "BNB",
}

// PairFromConcat converts an exchange-native concatenated pair such as
// "BTCUSDT" into the canonical "BTC/USDT". Unrecognized inputs are returned
// upper-cased and unchanged.
func PairFromConcat(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}

// ConcatFromPair is the inverse: "BTC/USDT" -> "BTCUSDT".
func ConcatFromPair(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(pair)), "/", "")
}
