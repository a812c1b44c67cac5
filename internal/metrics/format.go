package metrics

import (
	"fmt"
	"math"
)

// FormatLargeNumber renders a USD amount with a magnitude suffix: billions
// and millions get two decimals, thousands one, smaller values none. The
// sign sits outside the dollar symbol ("-$500").
func FormatLargeNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "$0"
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, n/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, n/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%s$%.1fK", sign, n/1e3)
	default:
		return fmt.Sprintf("%s$%.0f", sign, n)
	}
}
