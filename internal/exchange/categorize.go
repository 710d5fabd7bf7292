package exchange

import "strings"

// categoryPatterns is evaluated in order; the first matching substring wins.
var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryTrading, []string{"/private/buy", "/private/sell", "/private/cancel", "/private/edit"}},
	{CategoryMarketData, []string{"/public/ticker", "/public/get_order_book", "/public/get_last_trades", "/public/get_instruments"}},
	{CategoryAccount, []string{"/private/get_account_summary", "/private/get_positions", "/private/get_subaccounts"}},
	{CategoryAuth, []string{"/public/auth", "/private/logout"}},
}

// Categorize maps a request path to its rate limit category.
func Categorize(path string) Category {
	for _, group := range categoryPatterns {
		for _, p := range group.patterns {
			if strings.Contains(path, p) {
				return group.category
			}
		}
	}
	return CategoryGeneral
}
