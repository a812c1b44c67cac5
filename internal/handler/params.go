package handler

import (
	"net/http"
	"strconv"
	"strings"

	"whalepulse/internal/domain"

	"github.com/gin-gonic/gin"
)

// symbolParam upper-cases the :symbol path segment and checks it against the
// supported set. On an unknown symbol it writes the 400 response itself and
// reports false.
func symbolParam(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return symbol, false
	}
	return symbol, true
}

// intervalQuery reads ?interval with a 1h default, rejecting anything
// outside the supported buckets with a 400.
func intervalQuery(c *gin.Context) (string, bool) {
	interval := c.DefaultQuery("interval", "1h")
	if !isSupportedInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":               "unsupported interval: " + interval,
			"supported_intervals": domain.SupportedIntervals,
		})
		return interval, false
	}
	return interval, true
}

// limitQuery reads ?limit, keeping fallback for values that are missing,
// malformed or outside (0, max].
func limitQuery(c *gin.Context, fallback, max int) int {
	l := c.Query("limit")
	if l == "" {
		return fallback
	}
	n, err := strconv.Atoi(l)
	if err != nil || n <= 0 || n > max {
		return fallback
	}
	return n
}

func isSupportedInterval(interval string) bool {
	for _, si := range domain.SupportedIntervals {
		if interval == si {
			return true
		}
	}
	return false
}
