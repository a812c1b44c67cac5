package advisor

import (
	"fmt"
	"strings"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/metrics"
)

const tradingPhilosophy = `You are a whale-flow analyst bot. Your role is to interpret computed whale activity metrics and market data, NOT to invent readings yourself.

Metric Framework:
- Market sentiment is 0..100; 50 is neutral, above 75 very bullish, below 25 very bearish.
- Whale pressure is a signed percentage; beyond +/-30 the order flow is strongly one-sided.
- Volatility index scores realized turbulence; above 50 is extreme and favors staying flat.
- Coordination score above 75 suggests a single actor or group is moving the tape; treat moves as less organic.
- Alert risk runs 1 (conservative) to 5 (speculative). Position sizing shrinks as risk rises.

Rules:
- Always reference the specific metrics and alerts when making observations.
- Never fabricate data. If a metric is unavailable, say so.
- Express uncertainty when metrics conflict.
- Include the risk level when discussing any alert.
- Keep responses concise and actionable. You are talking via Telegram.
- Do not provide financial advice disclaimers on every message. The user understands this is informational.
- When asked about an asset, summarize: current price, its latest whale metrics, and your interpretation.
- If no metrics exist for an asset, say so honestly rather than speculating.
- High coordination plus strong one-sided pressure deserves an explicit manipulation warning.`

func BuildSystemPrompt(marketContext string) string {
	var sb strings.Builder
	sb.WriteString(tradingPhilosophy)
	sb.WriteString("\n\n--- LIVE MARKET DATA (as of ")
	sb.WriteString(time.Now().UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(marketContext)
	return sb.String()
}

func FormatMarketContext(prices []*domain.PriceSnapshot, snaps []domain.MetricSnapshot, alerts []domain.Alert) string {
	var sb strings.Builder

	if len(prices) > 0 {
		sb.WriteString("\nCurrent Prices:\n")
		for _, p := range prices {
			sb.WriteString(fmt.Sprintf("  %s: $%.2f (24h: %+.2f%%, vol: $%.0f)\n",
				p.Symbol, p.PriceUSD, p.Change24hPct, p.Volume24h))
		}
	}

	if len(snaps) > 0 {
		sb.WriteString("\nLatest Whale Metrics:\n")
		for _, s := range snaps {
			sb.WriteString(fmt.Sprintf("  %s %s: sentiment %.0f (%s), pressure %+.0f%% (%s), volatility %.1f (%s), coordination %.0f (%s), flow %s across %d events\n",
				s.Symbol, s.Interval,
				s.SentimentScore, s.SentimentLabel,
				s.PressureValue, s.PressureLabel,
				s.VolatilityScore, s.VolatilityLabel,
				s.CoordScore, s.CoordLabel,
				metrics.FormatLargeNumber(s.WhaleVolumeUSD), s.WhaleCount))
		}
	}

	if len(alerts) > 0 {
		sb.WriteString("\nRecent Alerts:\n")
		for _, a := range alerts {
			sb.WriteString(fmt.Sprintf("  %s %s %s %s risk=%d %s\n",
				a.Symbol, a.Interval, a.Source,
				strings.ToUpper(string(a.Direction)),
				a.Risk, a.Details))
		}
	}

	if sb.Len() == 0 {
		return "No market data currently available."
	}
	return sb.String()
}
