package metrics

import (
	"fmt"
	"math"

	"whalepulse/internal/domain"
	"whalepulse/internal/ta"
)

// Engine computes dashboard metrics from whale events and price history.
// All methods are pure: the same inputs always produce the same results,
// and malformed inputs degrade to neutral values instead of failing.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: normalizeConfig(cfg)}
}

func (e *Engine) Config() Config { return e.cfg }

// PriceChangePercent returns the percent move across an interval.
// A zero start price yields 0 rather than a division blowup.
func (e *Engine) PriceChangePercent(interval domain.IntervalSummary) float64 {
	if interval.StartPrice == 0 {
		return 0
	}
	pct := (interval.EndPrice - interval.StartPrice) / interval.StartPrice * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}

// MarketSentiment scores the mood of the tape on a 0..100 scale. Each event
// shifts the base by its type/side weight scaled by notional size, then the
// price move nudges the total before clamping.
func (e *Engine) MarketSentiment(events []domain.WhaleEvent, priceChange float64) domain.MetricResult {
	score := e.cfg.SentimentBase
	for _, ev := range events {
		w, ok := e.cfg.EventWeights[WeightKey(ev.EventType, ev.Side)]
		if !ok {
			continue
		}
		scale := ev.USDValue / e.cfg.ValueScaleUSD
		if math.IsNaN(scale) || scale < 0 {
			continue
		}
		if scale > e.cfg.ValueScaleCap {
			scale = e.cfg.ValueScaleCap
		}
		score += w * scale
	}
	if math.IsNaN(priceChange) || math.IsInf(priceChange, 0) {
		priceChange = 0
	}
	score += priceChange * e.cfg.PriceChangeMultiplier
	score = clamp(score, 0, 100)

	label, sentiment := e.sentimentLabel(score)
	return domain.MetricResult{Value: score, Label: label, Sentiment: sentiment}
}

func (e *Engine) sentimentLabel(score float64) (string, string) {
	switch {
	case score >= e.cfg.VeryBullishMin:
		return "Very Bullish", domain.SentimentPositive
	case score >= e.cfg.BullishMin:
		return "Bullish", domain.SentimentPositive
	case score >= e.cfg.NeutralMin:
		return "Neutral", domain.SentimentNeutral
	case score >= e.cfg.BearishMin:
		return "Bearish", domain.SentimentNegative
	default:
		return "Very Bearish", domain.SentimentNegative
	}
}

// WhalePressure measures directional imbalance as a signed percentage.
// Market orders count at full value, order increases at half, other resting
// liquidity at a discount; decreases carry no directional information.
func (e *Engine) WhalePressure(events []domain.WhaleEvent) domain.MetricResult {
	var buy, sell float64
	for _, ev := range events {
		value := ev.USDValue
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		var weighted float64
		switch ev.EventType {
		case domain.EventTypeMarket:
			weighted = value * e.cfg.MarketOrderFactor
		case domain.EventTypeIncrease:
			weighted = value * e.cfg.IncreaseFactor
		case domain.EventTypeDecrease:
			continue
		default:
			weighted = value * e.cfg.RestingOrderFactor
		}
		switch ev.Side {
		case domain.SideBid:
			buy += weighted
		case domain.SideAsk:
			sell += weighted
		}
	}

	total := buy + sell
	if total == 0 {
		return domain.MetricResult{Value: 0, Label: "Balanced", Sentiment: domain.SentimentNeutral}
	}
	ratio := math.Round((buy - sell) / total * 100)

	label, sentiment := e.pressureLabel(ratio)
	return domain.MetricResult{Value: ratio, Label: label, Sentiment: sentiment}
}

func (e *Engine) pressureLabel(ratio float64) (string, string) {
	switch {
	case ratio >= e.cfg.StrongPressureMin:
		return "Strong Buy Pressure", domain.SentimentPositive
	case ratio >= e.cfg.PressureMin:
		return "Buy Pressure", domain.SentimentPositive
	case ratio <= -e.cfg.StrongPressureMin:
		return "Strong Sell Pressure", domain.SentimentNegative
	case ratio <= -e.cfg.PressureMin:
		return "Sell Pressure", domain.SentimentNegative
	default:
		return "Balanced", domain.SentimentNeutral
	}
}

// LiquidityDelta summarizes order book flow in USD terms.
type LiquidityDelta struct {
	Added         float64 `json:"added"`
	Removed       float64 `json:"removed"`
	Net           float64 `json:"net"`
	ChangePercent float64 `json:"change_percent"`
}

// LiquidityDelta aggregates additions and removals of resting liquidity.
// Decreases and market fills drain the book; everything else feeds it.
func (e *Engine) LiquidityDelta(events []domain.WhaleEvent) LiquidityDelta {
	var added, removed float64
	for _, ev := range events {
		value := ev.USDValue
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		switch ev.EventType {
		case domain.EventTypeDecrease, domain.EventTypeMarket:
			removed += value
		default:
			added += value
		}
	}
	net := added - removed
	var change float64
	if added != 0 {
		change = net / added * 100
	}
	return LiquidityDelta{Added: added, Removed: removed, Net: net, ChangePercent: change}
}

// Result folds a LiquidityDelta into the common metric shape: the value is
// the percent change, the formatted string is the signed net flow.
func (d LiquidityDelta) Result() domain.MetricResult {
	label := "Flat"
	sentiment := domain.SentimentNeutral
	switch {
	case d.Net > 0:
		label = "Liquidity Added"
		sentiment = domain.SentimentPositive
	case d.Net < 0:
		label = "Liquidity Removed"
		sentiment = domain.SentimentNegative
	}
	return domain.MetricResult{
		Value:     d.ChangePercent,
		Label:     label,
		Sentiment: sentiment,
		Formatted: FormatLargeNumber(d.Net),
	}
}

// VolatilityIndex scores realized volatility as the standard deviation of
// consecutive absolute percent moves, scaled to whole points. Fewer than two
// prices cannot produce a change series, so the score is 0 with label N/A.
func (e *Engine) VolatilityIndex(prices []domain.PricePoint) domain.MetricResult {
	if len(prices) < 2 {
		return domain.MetricResult{Value: 0, Label: "N/A", Sentiment: domain.SentimentNeutral}
	}
	values := make([]float64, len(prices))
	for i, p := range prices {
		values[i] = p.Value
	}
	changes := ta.AbsPctChanges(values)
	if len(changes) == 0 {
		return domain.MetricResult{Value: 0, Label: "N/A", Sentiment: domain.SentimentNeutral}
	}
	_, std := ta.MeanStd(changes)
	score := std * 100
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		score = 0
	}

	label, sentiment := e.volatilityLabel(score)
	return domain.MetricResult{Value: score, Label: label, Sentiment: sentiment}
}

func (e *Engine) volatilityLabel(score float64) (string, string) {
	switch {
	case score > e.cfg.ExtremeVolMin:
		return "Extreme", domain.SentimentNegative
	case score > e.cfg.HighVolMin:
		return "High", domain.SentimentNegative
	case score > e.cfg.ModerateVolMin:
		return "Moderate", domain.SentimentNeutral
	case score > e.cfg.LowVolMin:
		return "Low", domain.SentimentNeutral
	default:
		return "Very Low", domain.SentimentPositive
	}
}

// WhaleVolume reports gross notional across the window alongside the event
// count. It is informational, so the sentiment is always neutral.
func (e *Engine) WhaleVolume(events []domain.WhaleEvent) domain.MetricResult {
	var total float64
	count := 0
	for _, ev := range events {
		value := ev.USDValue
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		total += value
		count++
	}
	return domain.MetricResult{
		Value:     total,
		Label:     fmt.Sprintf("%d events", count),
		Sentiment: domain.SentimentNeutral,
		Formatted: FormatLargeNumber(total),
	}
}

// Compute evaluates every metric for one symbol window. Nil inputs mark the
// metrics that depend on them unavailable; empty-but-present inputs resolve
// to their neutral baselines.
func (e *Engine) Compute(interval *domain.IntervalSummary, events []domain.WhaleEvent, prices []domain.PricePoint) map[string]domain.MetricResult {
	results := make(map[string]domain.MetricResult, 7)

	var priceChange float64
	if interval == nil {
		results[domain.MetricPriceChange] = domain.Unavailable()
	} else {
		priceChange = e.PriceChangePercent(*interval)
		results[domain.MetricPriceChange] = priceChangeResult(priceChange)
	}

	if events == nil {
		results[domain.MetricSentiment] = domain.Unavailable()
		results[domain.MetricPressure] = domain.Unavailable()
		results[domain.MetricLiquidity] = domain.Unavailable()
		results[domain.MetricCoordination] = domain.Unavailable()
		results[domain.MetricWhaleVolume] = domain.Unavailable()
	} else {
		results[domain.MetricSentiment] = e.MarketSentiment(events, priceChange)
		results[domain.MetricPressure] = e.WhalePressure(events)
		results[domain.MetricLiquidity] = e.LiquidityDelta(events).Result()
		results[domain.MetricCoordination] = e.CoordinationScore(events)
		results[domain.MetricWhaleVolume] = e.WhaleVolume(events)
	}

	if prices == nil {
		results[domain.MetricVolatility] = domain.Unavailable()
	} else {
		results[domain.MetricVolatility] = e.VolatilityIndex(prices)
	}

	return results
}

func priceChangeResult(pct float64) domain.MetricResult {
	sentiment := domain.SentimentNeutral
	switch {
	case pct > 0:
		sentiment = domain.SentimentPositive
	case pct < 0:
		sentiment = domain.SentimentNegative
	}
	return domain.MetricResult{
		Value:     pct,
		Label:     fmt.Sprintf("%+.2f%%", pct),
		Sentiment: sentiment,
	}
}

// clamp bounds v to [lo, hi], treating NaN and infinities as zero so a bad
// upstream value cannot poison a score.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
