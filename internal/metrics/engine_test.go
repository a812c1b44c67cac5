package metrics

import (
	"math"
	"reflect"
	"testing"
	"time"

	"whalepulse/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testEngine() *Engine {
	return NewEngine(DefaultConfig())
}

func TestPriceChangePercent(t *testing.T) {
	t.Parallel()
	e := testEngine()

	got := e.PriceChangePercent(domain.IntervalSummary{StartPrice: 100, EndPrice: 105})
	if !approx(got, 5.0) {
		t.Fatalf("expected 5.0, got %v", got)
	}

	if got := e.PriceChangePercent(domain.IntervalSummary{StartPrice: 0, EndPrice: 50}); got != 0 {
		t.Fatalf("zero start price should yield 0, got %v", got)
	}

	got = e.PriceChangePercent(domain.IntervalSummary{StartPrice: 200, EndPrice: 150})
	if !approx(got, -25.0) {
		t.Fatalf("expected -25.0, got %v", got)
	}
}

func TestMarketSentimentBaseline(t *testing.T) {
	t.Parallel()
	e := testEngine()

	got := e.MarketSentiment(nil, 0)
	if got.Value != 50 || got.Label != "Neutral" || got.Sentiment != domain.SentimentNeutral {
		t.Fatalf("expected neutral baseline, got %+v", got)
	}

	got = e.MarketSentiment([]domain.WhaleEvent{}, 0)
	if got.Value != 50 || got.Label != "Neutral" {
		t.Fatalf("empty slice should match baseline, got %+v", got)
	}
}

func TestMarketSentimentBuyFlow(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 300000},
	}
	got := e.MarketSentiment(events, 2)
	// 50 + 8*3 (scale capped) + 2*5 = 84
	if !approx(got.Value, 84) {
		t.Fatalf("expected 84, got %v", got.Value)
	}
	if got.Label != "Very Bullish" || got.Sentiment != domain.SentimentPositive {
		t.Fatalf("unexpected labeling: %+v", got)
	}
}

func TestMarketSentimentSellFlow(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 300000},
	}
	got := e.MarketSentiment(events, -2)
	// 50 - 24 - 10 = 16
	if !approx(got.Value, 16) {
		t.Fatalf("expected 16, got %v", got.Value)
	}
	if got.Label != "Very Bearish" || got.Sentiment != domain.SentimentNegative {
		t.Fatalf("unexpected labeling: %+v", got)
	}
}

func TestMarketSentimentLabelTiers(t *testing.T) {
	t.Parallel()
	e := testEngine()

	cases := []struct {
		name   string
		events []domain.WhaleEvent
		change float64
		label  string
	}{
		{
			name: "bullish",
			events: []domain.WhaleEvent{
				{EventType: domain.EventTypeIncrease, Side: domain.SideBid, USDValue: 250000},
			},
			label: "Bullish", // 50 + 5*2.5 = 62.5
		},
		{
			name: "neutral",
			events: []domain.WhaleEvent{
				{EventType: domain.EventTypeNew, Side: domain.SideBid, USDValue: 100000},
			},
			label: "Neutral", // 50 + 4 = 54
		},
		{
			name: "bearish",
			events: []domain.WhaleEvent{
				{EventType: domain.EventTypeNew, Side: domain.SideAsk, USDValue: 300000},
			},
			change: -1,
			label:  "Bearish", // 50 - 12 - 5 = 33
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := e.MarketSentiment(tc.events, tc.change)
			if got.Label != tc.label {
				t.Fatalf("expected %q, got %q (score %v)", tc.label, got.Label, got.Value)
			}
		})
	}
}

func TestMarketSentimentIgnoresJunkEvents(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: "teleport", Side: domain.SideBid, USDValue: 900000},
		{EventType: domain.EventTypeMarket, Side: "sideways", USDValue: 900000},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: -50000},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: math.NaN()},
	}
	got := e.MarketSentiment(events, 0)
	if got.Value != 50 {
		t.Fatalf("junk events should not move the score, got %v", got.Value)
	}
}

func TestMarketSentimentScoreStaysInRange(t *testing.T) {
	t.Parallel()
	e := testEngine()

	nasty := []struct {
		events []domain.WhaleEvent
		change float64
	}{
		{
			events: []domain.WhaleEvent{
				{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: math.MaxFloat64},
				{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 1e18},
			},
			change: 1e9,
		},
		{
			events: []domain.WhaleEvent{
				{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 1e18},
			},
			change: math.Inf(-1),
		},
		{change: math.NaN()},
	}
	for _, tc := range nasty {
		got := e.MarketSentiment(tc.events, tc.change)
		if got.Value < 0 || got.Value > 100 {
			t.Fatalf("score escaped [0,100]: %v", got.Value)
		}
	}
}

func TestWhalePressureEmpty(t *testing.T) {
	t.Parallel()
	e := testEngine()

	got := e.WhalePressure(nil)
	if got.Value != 0 || got.Label != "Balanced" || got.Sentiment != domain.SentimentNeutral {
		t.Fatalf("expected balanced zero, got %+v", got)
	}
}

func TestWhalePressureWeighting(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 100000},
		{EventType: domain.EventTypeIncrease, Side: domain.SideAsk, USDValue: 100000},
	}
	// buy 100000, sell 50000 -> (50000/150000)*100 = 33.33 -> 33
	got := e.WhalePressure(events)
	if got.Value != 33 {
		t.Fatalf("expected rounded 33, got %v", got.Value)
	}
	if got.Label != "Strong Buy Pressure" || got.Sentiment != domain.SentimentPositive {
		t.Fatalf("unexpected labeling: %+v", got)
	}
}

func TestWhalePressureSellSide(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeNew, Side: domain.SideBid, USDValue: 100000},
		{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 100000},
	}
	// buy 70000, sell 100000 -> -17.6 -> -18
	got := e.WhalePressure(events)
	if got.Value != -18 {
		t.Fatalf("expected rounded -18, got %v", got.Value)
	}
	if got.Label != "Sell Pressure" || got.Sentiment != domain.SentimentNegative {
		t.Fatalf("unexpected labeling: %+v", got)
	}
}

func TestWhalePressureDecreasesCarryNoDirection(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeDecrease, Side: domain.SideBid, USDValue: 500000},
		{EventType: domain.EventTypeDecrease, Side: domain.SideAsk, USDValue: 250000},
	}
	got := e.WhalePressure(events)
	if got.Value != 0 || got.Label != "Balanced" {
		t.Fatalf("decrease-only window should stay balanced, got %+v", got)
	}
}

func TestLiquidityDelta(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeNew, Side: domain.SideBid, USDValue: 100000},
		{EventType: domain.EventTypeIncrease, Side: domain.SideAsk, USDValue: 50000},
		{EventType: domain.EventTypeDecrease, Side: domain.SideBid, USDValue: 30000},
		{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 80000},
	}
	got := e.LiquidityDelta(events)
	if !approx(got.Added, 150000) || !approx(got.Removed, 110000) {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if !approx(got.Net, 40000) {
		t.Fatalf("expected net 40000, got %v", got.Net)
	}
	if !approx(got.ChangePercent, 40000.0/150000.0*100) {
		t.Fatalf("unexpected change percent: %v", got.ChangePercent)
	}

	res := got.Result()
	if res.Label != "Liquidity Added" || res.Sentiment != domain.SentimentPositive {
		t.Fatalf("unexpected result mapping: %+v", res)
	}
	if res.Formatted != "$40.0K" {
		t.Fatalf("unexpected formatted net: %q", res.Formatted)
	}
}

func TestLiquidityDeltaNoAdditions(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 80000},
	}
	got := e.LiquidityDelta(events)
	if got.Added != 0 || !approx(got.Removed, 80000) {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.ChangePercent != 0 {
		t.Fatalf("change percent must be 0 when nothing was added, got %v", got.ChangePercent)
	}
	res := got.Result()
	if res.Label != "Liquidity Removed" || res.Sentiment != domain.SentimentNegative {
		t.Fatalf("unexpected result mapping: %+v", res)
	}
	if res.Formatted != "-$80.0K" {
		t.Fatalf("unexpected formatted net: %q", res.Formatted)
	}
}

func TestVolatilityIndexTooFewPoints(t *testing.T) {
	t.Parallel()
	e := testEngine()

	got := e.VolatilityIndex([]domain.PricePoint{{Value: 1}})
	if got.Value != 0 || got.Label != "N/A" || got.Sentiment != domain.SentimentNeutral {
		t.Fatalf("single point must yield N/A, got %+v", got)
	}

	got = e.VolatilityIndex(nil)
	if got.Label != "N/A" {
		t.Fatalf("nil series must yield N/A, got %+v", got)
	}
}

func TestVolatilityIndexFlatSeries(t *testing.T) {
	t.Parallel()
	e := testEngine()

	prices := []domain.PricePoint{{Value: 100}, {Value: 100}, {Value: 100}}
	got := e.VolatilityIndex(prices)
	if got.Value != 0 || got.Label != "Very Low" || got.Sentiment != domain.SentimentPositive {
		t.Fatalf("flat series should score 0 Very Low, got %+v", got)
	}
}

func TestVolatilityIndexLabels(t *testing.T) {
	t.Parallel()
	e := testEngine()

	// abs changes 0.01 and 0.48514851..., population std 0.23757... -> score ~23.8
	prices := []domain.PricePoint{{Value: 100}, {Value: 101}, {Value: 150}}
	got := e.VolatilityIndex(prices)
	if got.Label != "High" || got.Sentiment != domain.SentimentNegative {
		t.Fatalf("expected High, got %+v", got)
	}
	if got.Value <= e.cfg.HighVolMin || got.Value > e.cfg.ExtremeVolMin {
		t.Fatalf("score out of expected band: %v", got.Value)
	}
}

func TestCoordinationScoreTooFewEvents(t *testing.T) {
	t.Parallel()
	e := testEngine()

	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 100000},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 100000},
	}
	got := e.CoordinationScore(events)
	if got.Value != 0 || got.Label != "N/A" {
		t.Fatalf("two events cannot support the estimate, got %+v", got)
	}
}

func TestCoordinationScoreExtremes(t *testing.T) {
	t.Parallel()
	e := testEngine()
	base := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	coordinated := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 200000, Time: base},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 200000, Time: base.Add(time.Minute)},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 200000, Time: base.Add(2 * time.Minute)},
	}
	high := e.CoordinationScore(coordinated)
	if !approx(high.Value, 100) {
		t.Fatalf("identical burst should max out, got %v", high.Value)
	}
	if high.Label != "Highly Coordinated" || high.Sentiment != domain.SentimentNegative {
		t.Fatalf("unexpected labeling: %+v", high)
	}

	organic := []domain.WhaleEvent{
		{EventType: domain.EventTypeNew, Side: domain.SideBid, USDValue: 10000, Time: base},
		{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 80000, Time: base.Add(7 * time.Minute)},
		{EventType: domain.EventTypeIncrease, Side: domain.SideBid, USDValue: 25000, Time: base.Add(14 * time.Minute)},
		{EventType: domain.EventTypeNew, Side: domain.SideAsk, USDValue: 60000, Time: base.Add(21 * time.Minute)},
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 15000, Time: base.Add(28 * time.Minute)},
		{EventType: domain.EventTypeNew, Side: domain.SideAsk, USDValue: 95000, Time: base.Add(35 * time.Minute)},
	}
	low := e.CoordinationScore(organic)
	if low.Value >= e.cfg.CoordinationMin {
		t.Fatalf("spread-out flow should not look coordinated, got %v", low.Value)
	}
	if low.Value >= high.Value {
		t.Fatalf("organic score %v should sit below coordinated score %v", low.Value, high.Value)
	}
}

func TestComputeNilInputs(t *testing.T) {
	t.Parallel()
	e := testEngine()

	results := e.Compute(nil, nil, nil)
	if len(results) != 7 {
		t.Fatalf("expected 7 metrics, got %d", len(results))
	}
	for key, r := range results {
		if r.Label != "Unavailable" || r.Sentiment != domain.SentimentNeutral {
			t.Fatalf("metric %s should be unavailable, got %+v", key, r)
		}
	}
}

func TestComputePopulatedWindow(t *testing.T) {
	t.Parallel()
	e := testEngine()
	base := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	interval := &domain.IntervalSummary{
		StartPrice: 100,
		EndPrice:   105,
		StartTime:  base,
		EndTime:    base.Add(time.Hour),
	}
	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 120000, Time: base.Add(5 * time.Minute)},
	}
	prices := []domain.PricePoint{
		{Value: 100, Time: base},
		{Value: 102, Time: base.Add(30 * time.Minute)},
		{Value: 105, Time: base.Add(time.Hour)},
	}

	results := e.Compute(interval, events, prices)

	pc := results[domain.MetricPriceChange]
	if !approx(pc.Value, 5.0) || pc.Sentiment != domain.SentimentPositive {
		t.Fatalf("unexpected price change result: %+v", pc)
	}
	if pc.Label != "+5.00%" {
		t.Fatalf("unexpected price change label: %q", pc.Label)
	}
	if results[domain.MetricSentiment].Label == "Unavailable" {
		t.Fatal("sentiment should be computed when events are present")
	}
	if results[domain.MetricCoordination].Label != "N/A" {
		t.Fatalf("one event cannot support coordination, got %+v", results[domain.MetricCoordination])
	}
	wv := results[domain.MetricWhaleVolume]
	if !approx(wv.Value, 120000) || wv.Label != "1 events" || wv.Formatted != "$120.0K" {
		t.Fatalf("unexpected whale volume result: %+v", wv)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	t.Parallel()
	e := testEngine()
	base := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	interval := &domain.IntervalSummary{StartPrice: 50, EndPrice: 48, StartTime: base, EndTime: base.Add(time.Hour)}
	events := []domain.WhaleEvent{
		{EventType: domain.EventTypeMarket, Side: domain.SideAsk, USDValue: 90000, Time: base},
		{EventType: domain.EventTypeNew, Side: domain.SideBid, USDValue: 40000, Time: base.Add(time.Minute)},
		{EventType: domain.EventTypeDecrease, Side: domain.SideAsk, USDValue: 20000, Time: base.Add(2 * time.Minute)},
	}
	prices := []domain.PricePoint{{Value: 50, Time: base}, {Value: 49, Time: base.Add(30 * time.Minute)}, {Value: 48, Time: base.Add(time.Hour)}}

	first := e.Compute(interval, events, prices)
	second := e.Compute(interval, events, prices)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same inputs produced different results:\n%+v\n%+v", first, second)
	}
}

func TestNewEngineNormalizesConfig(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{SentimentBase: -5, StrongPressureMin: 1, PressureMin: 10})
	cfg := e.Config()
	if cfg.SentimentBase != 50 {
		t.Fatalf("expected base reset to 50, got %v", cfg.SentimentBase)
	}
	if cfg.StrongPressureMin != 30 || cfg.PressureMin != 10 {
		t.Fatalf("inverted pressure cutoffs should reset, got %v/%v", cfg.StrongPressureMin, cfg.PressureMin)
	}
	if len(cfg.EventWeights) == 0 {
		t.Fatal("weights should default when omitted")
	}

	custom := NewEngine(Config{ValueScaleUSD: 50000}).Config()
	if custom.ValueScaleUSD != 50000 {
		t.Fatalf("valid override should survive, got %v", custom.ValueScaleUSD)
	}
}
