package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/metrics"

	"go.opentelemetry.io/otel/trace"
)

// SnapshotStore persists computed metric snapshots.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap domain.MetricSnapshot) (*domain.MetricSnapshot, error)
	GetLatest(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, error)
	ListRecent(ctx context.Context, symbol, interval string, limit int) ([]domain.MetricSnapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventWindowStore reads and re-scores stored whale events.
type EventWindowStore interface {
	ListEventsInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.AnnotatedWhaleEvent, error)
	UpdateAnomalyScores(ctx context.Context, events []domain.AnnotatedWhaleEvent) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SeriesWindowStore reads stored price points for a closed bucket.
type SeriesWindowStore interface {
	GetSeriesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.PricePoint, error)
}

// AlertStore persists derived alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Annotator attaches anomaly scores to a window of events.
type Annotator interface {
	Annotate(events []domain.AnnotatedWhaleEvent) []domain.AnnotatedWhaleEvent
}

// AlertNotifier pushes a freshly inserted alert to subscribers.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert domain.Alert) error
}

// CycleConfig tunes the metrics cycle.
type CycleConfig struct {
	// Intervals lists the bucket widths to compute each cycle.
	Intervals []string
	// RetentionDays bounds how long events, snapshots and alerts are kept.
	RetentionDays int
	// AlertsEnabled gates alert derivation entirely.
	AlertsEnabled bool
}

// MetricsService owns the periodic compute cycle: it reads the last closed
// bucket of events and prices per symbol, scores events for anomalies,
// computes the metric set and persists one snapshot per symbol/interval,
// then derives alerts from extreme readings.
type MetricsService struct {
	tracer    trace.Tracer
	engine    *metrics.Engine
	snapshots SnapshotStore
	events    EventWindowStore
	series    SeriesWindowStore
	alerts    AlertStore
	detector  Annotator
	notifier  AlertNotifier
	renderers []metrics.Renderer
	cfg       CycleConfig
}

// NewMetricsService wires the cycle. detector and notifier may be nil; scoring
// and pushes are then skipped. A zero cfg gets sensible defaults.
func NewMetricsService(
	tracer trace.Tracer,
	engine *metrics.Engine,
	snapshots SnapshotStore,
	events EventWindowStore,
	series SeriesWindowStore,
	alerts AlertStore,
	detector Annotator,
	notifier AlertNotifier,
	cfg CycleConfig,
) *MetricsService {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = domain.SupportedIntervals
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if engine == nil {
		engine = metrics.NewEngine(metrics.DefaultConfig())
	}
	return &MetricsService{
		tracer:    tracer,
		engine:    engine,
		snapshots: snapshots,
		events:    events,
		series:    series,
		alerts:    alerts,
		detector:  detector,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Engine exposes the metric engine for read paths that need its config.
func (s *MetricsService) Engine() *metrics.Engine { return s.engine }

// AddRenderer registers a presentation sink that receives every computed
// metric set. Not safe to call once the cycle is running.
func (s *MetricsService) AddRenderer(r metrics.Renderer) {
	if r != nil {
		s.renderers = append(s.renderers, r)
	}
}

// SetNotifier installs the alert push sink. Exists because the usual sink
// (the Telegram bot) is itself constructed around this service.
func (s *MetricsService) SetNotifier(n AlertNotifier) { s.notifier = n }

// RunCycle computes and persists one snapshot per symbol and interval for the
// last closed bucket. Partial failures are collected into the result, never
// aborting the remaining symbols.
func (s *MetricsService) RunCycle(ctx context.Context, now time.Time) (domain.MetricsRunResult, error) {
	_, span := s.tracer.Start(ctx, "metrics-service.run-cycle")
	defer span.End()

	var result domain.MetricsRunResult

	for _, interval := range s.cfg.Intervals {
		d := domain.IntervalDuration(interval)
		if d == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("interval:%s: unsupported", interval))
			continue
		}
		bucket := closedBucket(now, d)
		bucketEnd := bucket.Add(d)

		for _, symbol := range domain.SupportedSymbols {
			if err := s.computeOne(ctx, symbol, interval, bucket, bucketEnd, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s:%s: %v", symbol, interval, err))
			}
		}
	}

	s.applyRetention(ctx, now, &result)
	return result, nil
}

func (s *MetricsService) computeOne(ctx context.Context, symbol, interval string, bucket, bucketEnd time.Time, result *domain.MetricsRunResult) error {
	events, err := s.events.ListEventsInRange(ctx, symbol, bucket, bucketEnd)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	events = s.scoreEvents(ctx, symbol, interval, events, result)

	prices, err := s.series.GetSeriesInRange(ctx, symbol, interval, bucket, bucketEnd)
	if err != nil {
		return fmt.Errorf("price series: %w", err)
	}

	// An empty-but-successful read still computes baselines; only a failed
	// read upstream leaves inputs nil.
	raw := domain.RawEvents(events)
	if raw == nil {
		raw = []domain.WhaleEvent{}
	}
	if prices == nil {
		prices = []domain.PricePoint{}
	}

	summary := intervalSummary(prices)
	results := s.engine.Compute(summary, raw, prices)
	ld := s.engine.LiquidityDelta(raw)

	snap, err := s.buildSnapshot(symbol, interval, bucket, results, ld, raw)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	stored, err := s.snapshots.UpsertSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	result.SnapshotsWritten++

	for _, r := range s.renderers {
		if err := r.RenderMetrics(ctx, symbol, interval, results); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("render:%s:%s: %v", symbol, interval, err))
		}
	}

	if s.cfg.AlertsEnabled && s.alerts != nil {
		s.deriveAlerts(ctx, *stored, results, result)
	}
	return nil
}

// scoreEvents runs anomaly detection over the window and persists the scores.
func (s *MetricsService) scoreEvents(ctx context.Context, symbol, interval string, events []domain.AnnotatedWhaleEvent, result *domain.MetricsRunResult) []domain.AnnotatedWhaleEvent {
	if s.detector == nil || len(events) == 0 {
		return events
	}
	scored := s.detector.Annotate(events)
	updated, err := s.events.UpdateAnomalyScores(ctx, scored)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("score:%s:%s: %v", symbol, interval, err))
		return events
	}
	result.EventsScored += updated
	return scored
}

func (s *MetricsService) buildSnapshot(symbol, interval string, bucket time.Time, results map[string]domain.MetricResult, ld metrics.LiquidityDelta, raw []domain.WhaleEvent) (domain.MetricSnapshot, error) {
	details, err := json.Marshal(results)
	if err != nil {
		return domain.MetricSnapshot{}, err
	}

	var volume float64
	for _, ev := range raw {
		if ev.USDValue > 0 && !math.IsInf(ev.USDValue, 0) && !math.IsNaN(ev.USDValue) {
			volume += ev.USDValue
		}
	}

	price := results[domain.MetricPriceChange]
	sentiment := results[domain.MetricSentiment]
	pressure := results[domain.MetricPressure]
	volatility := results[domain.MetricVolatility]
	coordination := results[domain.MetricCoordination]

	return domain.MetricSnapshot{
		Symbol:           symbol,
		Interval:         interval,
		BucketTime:       bucket,
		PriceChangePct:   price.Value,
		SentimentScore:   sentiment.Value,
		SentimentLabel:   sentiment.Label,
		PressureValue:    pressure.Value,
		PressureLabel:    pressure.Label,
		LiquidityAdded:   ld.Added,
		LiquidityRemoved: ld.Removed,
		LiquidityNet:     ld.Net,
		LiquidityChange:  ld.ChangePercent,
		VolatilityScore:  volatility.Value,
		VolatilityLabel:  volatility.Label,
		CoordScore:       coordination.Value,
		CoordLabel:       coordination.Label,
		WhaleCount:       len(raw),
		WhaleVolumeUSD:   volume,
		DetailsJSON:      string(details),
	}, nil
}

// deriveAlerts turns extreme readings into stored alerts and optional pushes.
func (s *MetricsService) deriveAlerts(ctx context.Context, snap domain.MetricSnapshot, results map[string]domain.MetricResult, result *domain.MetricsRunResult) {
	cfg := s.engine.Config()

	var candidates []domain.Alert

	if p := results[domain.MetricPressure]; math.Abs(p.Value) >= cfg.StrongPressureMin {
		direction := domain.DirectionLong
		if p.Value < 0 {
			direction = domain.DirectionShort
		}
		candidates = append(candidates, domain.Alert{
			Symbol:    snap.Symbol,
			Interval:  snap.Interval,
			Source:    domain.AlertSourcePressure,
			Timestamp: snap.BucketTime,
			Risk:      2,
			Direction: direction,
			Details:   fmt.Sprintf("%s (%.0f%% imbalance, %d events)", p.Label, p.Value, snap.WhaleCount),
		})
	}

	if m := results[domain.MetricSentiment]; m.Value >= cfg.VeryBullishMin || m.Value < cfg.BearishMin {
		direction := domain.DirectionLong
		if m.Value < cfg.BearishMin {
			direction = domain.DirectionShort
		}
		candidates = append(candidates, domain.Alert{
			Symbol:    snap.Symbol,
			Interval:  snap.Interval,
			Source:    domain.AlertSourceSentiment,
			Timestamp: snap.BucketTime,
			Risk:      2,
			Direction: direction,
			Details:   fmt.Sprintf("%s (score %.0f)", m.Label, m.Value),
		})
	}

	if v := results[domain.MetricVolatility]; v.Value > cfg.ExtremeVolMin {
		candidates = append(candidates, domain.Alert{
			Symbol:    snap.Symbol,
			Interval:  snap.Interval,
			Source:    domain.AlertSourceVolatility,
			Timestamp: snap.BucketTime,
			Risk:      3,
			Direction: domain.DirectionHold,
			Details:   fmt.Sprintf("%s volatility (index %.1f)", v.Label, v.Value),
		})
	}

	if c := results[domain.MetricCoordination]; c.Value >= cfg.HighCoordinationMin && c.Label != "N/A" {
		candidates = append(candidates, domain.Alert{
			Symbol:    snap.Symbol,
			Interval:  snap.Interval,
			Source:    domain.AlertSourceCoordination,
			Timestamp: snap.BucketTime,
			Risk:      3,
			Direction: domain.DirectionHold,
			Details:   fmt.Sprintf("%s whale activity (score %.0f, %d events)", c.Label, c.Value, snap.WhaleCount),
		})
	}

	for i := range candidates {
		alert := &candidates[i]
		if _, err := s.alerts.InsertAlert(ctx, alert); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("alert:%s:%s: %v", snap.Symbol, snap.Interval, err))
			continue
		}
		result.AlertsWritten++
		if s.notifier != nil {
			if err := s.notifier.NotifyAlert(ctx, *alert); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("notify:%s:%s: %v", snap.Symbol, snap.Interval, err))
			}
		}
	}
}

func (s *MetricsService) applyRetention(ctx context.Context, now time.Time, result *domain.MetricsRunResult) {
	cutoff := now.UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	if _, err := s.events.DeleteOlderThan(ctx, cutoff); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("retention:events: %v", err))
	}
	if _, err := s.snapshots.DeleteOlderThan(ctx, cutoff); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("retention:snapshots: %v", err))
	}
	if s.alerts != nil {
		if _, err := s.alerts.DeleteOlderThan(ctx, cutoff); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("retention:alerts: %v", err))
		}
	}
}

// LatestMetrics returns the stored metric set for a symbol/interval, or nil
// when nothing has been computed yet.
func (s *MetricsService) LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error) {
	_, span := s.tracer.Start(ctx, "metrics-service.latest-metrics")
	defer span.End()

	snap, err := s.snapshots.GetLatest(ctx, symbol, interval)
	if err != nil || snap == nil {
		return nil, nil, err
	}
	return snap, ResultsFromSnapshot(snap), nil
}

// History returns recent snapshots for a symbol/interval, newest first.
func (s *MetricsService) History(ctx context.Context, symbol, interval string, limit int) ([]domain.MetricSnapshot, error) {
	return s.snapshots.ListRecent(ctx, symbol, interval, limit)
}

// ResultsFromSnapshot reconstructs the metric map from a stored snapshot,
// preferring the persisted details when they parse.
func ResultsFromSnapshot(snap *domain.MetricSnapshot) map[string]domain.MetricResult {
	if snap == nil {
		return nil
	}
	if snap.DetailsJSON != "" {
		var results map[string]domain.MetricResult
		if err := json.Unmarshal([]byte(snap.DetailsJSON), &results); err == nil && len(results) > 0 {
			return results
		}
	}

	// Older rows without details: rebuild from the flat columns.
	return map[string]domain.MetricResult{
		domain.MetricPriceChange: {
			Value: snap.PriceChangePct,
			Label: fmt.Sprintf("%+.2f%%", snap.PriceChangePct),
		},
		domain.MetricSentiment: {
			Value: snap.SentimentScore,
			Label: snap.SentimentLabel,
		},
		domain.MetricPressure: {
			Value: snap.PressureValue,
			Label: snap.PressureLabel,
		},
		domain.MetricLiquidity: {
			Value:     snap.LiquidityChange,
			Formatted: metrics.FormatLargeNumber(snap.LiquidityNet),
		},
		domain.MetricVolatility: {
			Value: snap.VolatilityScore,
			Label: snap.VolatilityLabel,
		},
		domain.MetricCoordination: {
			Value: snap.CoordScore,
			Label: snap.CoordLabel,
		},
		domain.MetricWhaleVolume: {
			Value:     snap.WhaleVolumeUSD,
			Label:     fmt.Sprintf("%d events", snap.WhaleCount),
			Formatted: metrics.FormatLargeNumber(snap.WhaleVolumeUSD),
		},
	}
}

// intervalSummary reduces a chronological price series to its endpoints.
func intervalSummary(prices []domain.PricePoint) *domain.IntervalSummary {
	if len(prices) == 0 {
		return nil
	}
	first := prices[0]
	last := prices[len(prices)-1]
	return &domain.IntervalSummary{
		StartPrice: first.Value,
		EndPrice:   last.Value,
		StartTime:  first.Time,
		EndTime:    last.Time,
	}
}

// closedBucket returns the start of the last fully closed bucket of width d.
func closedBucket(now time.Time, d time.Duration) time.Time {
	return now.UTC().Truncate(d).Add(-d)
}
