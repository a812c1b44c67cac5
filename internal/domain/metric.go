package domain

import "time"

// Sentiment tags attached to every computed metric.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Metric keys of the computed result map.
const (
	MetricPriceChange  = "price_change"
	MetricSentiment    = "market_sentiment"
	MetricPressure     = "whale_pressure"
	MetricLiquidity    = "liquidity_delta"
	MetricVolatility   = "volatility_index"
	MetricCoordination = "coordination_score"
	MetricWhaleVolume  = "whale_volume"
)

// MetricResult is one labeled, sentiment-tagged metric value. Created fresh
// per computation pass; no persisted identity.
type MetricResult struct {
	Value     float64 `json:"value"`
	Label     string  `json:"label"`
	Sentiment string  `json:"sentiment"`
	Formatted string  `json:"formatted,omitempty"`
}

// Unavailable is the defensive default returned when a metric's inputs are
// missing entirely.
func Unavailable() MetricResult {
	return MetricResult{Value: 0, Label: "Unavailable", Sentiment: SentimentNeutral}
}

// MetricSnapshot is one persisted computation pass for a symbol/interval
// bucket.
type MetricSnapshot struct {
	ID               int64     `json:"id"`
	Symbol           string    `json:"symbol"`
	Interval         string    `json:"interval"`
	BucketTime       time.Time `json:"bucket_time"`
	PriceChangePct   float64   `json:"price_change_pct"`
	SentimentScore   float64   `json:"sentiment_score"`
	SentimentLabel   string    `json:"sentiment_label"`
	PressureValue    float64   `json:"pressure_value"`
	PressureLabel    string    `json:"pressure_label"`
	LiquidityAdded   float64   `json:"liquidity_added"`
	LiquidityRemoved float64   `json:"liquidity_removed"`
	LiquidityNet     float64   `json:"liquidity_net"`
	LiquidityChange  float64   `json:"liquidity_change_pct"`
	VolatilityScore  float64   `json:"volatility_score"`
	VolatilityLabel  string    `json:"volatility_label"`
	CoordScore       float64   `json:"coordination_score"`
	CoordLabel       string    `json:"coordination_label"`
	WhaleCount       int       `json:"whale_count"`
	WhaleVolumeUSD   float64   `json:"whale_volume_usd"`
	DetailsJSON      string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// MetricsRunResult summarizes one metrics cycle across symbols/intervals.
type MetricsRunResult struct {
	SnapshotsWritten int
	AlertsWritten    int
	EventsScored     int
	Errors           []string
}
