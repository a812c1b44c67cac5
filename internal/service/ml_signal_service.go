package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ml/features"
	"whalepulse/internal/ml/inference"
	"whalepulse/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

// holdCorrectBand is the absolute return inside which a hold call counts as
// correct when its outcome resolves.
const holdCorrectBand = 0.005

type FeatureStore interface {
	UpsertRows(ctx context.Context, rows []domain.MLFeatureRow) error
}

type Trainer interface {
	TrainAll(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error)
}

type Inferer interface {
	RunLatest(ctx context.Context, now time.Time) (inference.RunResult, error)
}

type PredictionResolver interface {
	ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.MLPrediction, error)
	ResolvePrediction(ctx context.Context, predictionID int64, actualUp bool, isCorrect bool, realizedReturn float64) error
	ListRecent(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error)
}

// MLConfig tunes the signal pipeline.
type MLConfig struct {
	Interval       string
	TargetBuckets  int
	FeatureHistory int
}

// MLSignalService drives the model pipeline end to end: refresh feature rows
// from stored snapshots, train and promote model versions, predict from the
// freshest rows and grade predictions once their target bucket closes.
type MLSignalService struct {
	tracer       trace.Tracer
	snapshots    SnapshotStore
	prices       SeriesWindowStore
	featureEng   *features.Engine
	featureStore FeatureStore
	trainer      Trainer
	inferer      Inferer
	resolver     PredictionResolver
	cfg          MLConfig
}

func NewMLSignalService(
	tracer trace.Tracer,
	snapshots SnapshotStore,
	prices SeriesWindowStore,
	featureEng *features.Engine,
	featureStore FeatureStore,
	trainer Trainer,
	inferer Inferer,
	resolver PredictionResolver,
	cfg MLConfig,
) *MLSignalService {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.TargetBuckets <= 0 {
		cfg.TargetBuckets = 4
	}
	if cfg.FeatureHistory <= 0 {
		cfg.FeatureHistory = 500
	}
	if featureEng == nil {
		featureEng = features.NewEngine(nil)
	}
	return &MLSignalService{
		tracer:       tracer,
		snapshots:    snapshots,
		prices:       prices,
		featureEng:   featureEng,
		featureStore: featureStore,
		trainer:      trainer,
		inferer:      inferer,
		resolver:     resolver,
		cfg:          cfg,
	}
}

// BuildFeatures recomputes feature rows for every symbol from stored
// snapshots. Returns the number of rows written.
func (s *MLSignalService) BuildFeatures(ctx context.Context, now time.Time) (int, error) {
	_, span := s.tracer.Start(ctx, "ml-signal-service.build-features")
	defer span.End()

	if s.snapshots == nil || s.featureStore == nil {
		return 0, fmt.Errorf("feature pipeline is not initialized")
	}

	written := 0
	for _, symbol := range domain.SupportedSymbols {
		snaps, err := s.snapshots.ListRecent(ctx, symbol, s.cfg.Interval, s.cfg.FeatureHistory)
		if err != nil {
			return written, fmt.Errorf("list snapshots for %s: %w", symbol, err)
		}
		rows := s.featureEng.BuildRows(snaps, s.cfg.TargetBuckets)
		if len(rows) == 0 {
			continue
		}
		if err := s.featureStore.UpsertRows(ctx, rows); err != nil {
			return written, fmt.Errorf("upsert feature rows for %s: %w", symbol, err)
		}
		written += len(rows)
	}
	return written, nil
}

// TrainNow refreshes features and runs a full training pass.
func (s *MLSignalService) TrainNow(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error) {
	_, span := s.tracer.Start(ctx, "ml-signal-service.train")
	defer span.End()

	if s.trainer == nil {
		return nil, fmt.Errorf("training is not initialized")
	}
	if _, err := s.BuildFeatures(ctx, now); err != nil {
		return nil, err
	}
	results, err := s.trainer.TrainAll(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		log.Printf("Trained %s v%d (auc=%.4f promoted=%v)", r.ModelKey, r.Version, r.AUC, r.Promoted)
	}
	return results, nil
}

// InferLatest refreshes features and predicts from each symbol's newest row.
func (s *MLSignalService) InferLatest(ctx context.Context, now time.Time) (inference.RunResult, error) {
	_, span := s.tracer.Start(ctx, "ml-signal-service.infer")
	defer span.End()

	if s.inferer == nil {
		return inference.RunResult{}, fmt.Errorf("inference is not initialized")
	}
	if _, err := s.BuildFeatures(ctx, now); err != nil {
		return inference.RunResult{}, err
	}
	return s.inferer.RunLatest(ctx, now)
}

// ResolveOutcomes grades due predictions against the stored price series.
// Predictions whose open or target bucket has no price yet stay unresolved.
func (s *MLSignalService) ResolveOutcomes(ctx context.Context, now time.Time) (int, error) {
	_, span := s.tracer.Start(ctx, "ml-signal-service.resolve-outcomes")
	defer span.End()

	if s.resolver == nil || s.prices == nil {
		return 0, fmt.Errorf("outcome resolution is not initialized")
	}

	due, err := s.resolver.ListUnresolvedDue(ctx, now.UTC(), 200)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range due {
		pred := due[i]
		points, err := s.prices.GetSeriesInRange(ctx, pred.Symbol, pred.Interval, pred.OpenTime, pred.TargetTime)
		if err != nil {
			return resolved, fmt.Errorf("price series for %s: %w", pred.Symbol, err)
		}
		openPx, targetPx, ok := extractOpenAndTargetClose(points, pred.OpenTime, pred.TargetTime)
		if !ok || openPx == 0 {
			continue
		}
		realized := targetPx/openPx - 1
		actualUp := targetPx > openPx
		if err := s.resolver.ResolvePrediction(ctx, pred.ID, actualUp, isCallCorrect(pred.Direction, actualUp, realized), realized); err != nil {
			return resolved, fmt.Errorf("resolve prediction %d: %w", pred.ID, err)
		}
		resolved++
	}
	if resolved > 0 {
		log.Printf("Resolved %d ML prediction outcomes", resolved)
	}
	return resolved, nil
}

// Predictions returns a symbol's recent predictions for read paths.
func (s *MLSignalService) Predictions(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("predictions are not initialized")
	}
	return s.resolver.ListRecent(ctx, symbol, modelKey, limit)
}

func isCallCorrect(direction domain.AlertDirection, actualUp bool, realized float64) bool {
	switch direction {
	case domain.DirectionLong:
		return actualUp
	case domain.DirectionShort:
		return !actualUp
	default:
		return math.Abs(realized) <= holdCorrectBand
	}
}

// extractOpenAndTargetClose finds the prices at the prediction's open and
// target buckets. Order of points does not matter; matches are exact.
func extractOpenAndTargetClose(points []domain.PricePoint, open, target time.Time) (float64, float64, bool) {
	var openPx, targetPx float64
	var haveOpen, haveTarget bool
	for i := range points {
		ts := points[i].Time.UTC()
		if ts.Equal(open.UTC()) {
			openPx = points[i].Value
			haveOpen = true
		}
		if ts.Equal(target.UTC()) {
			targetPx = points[i].Value
			haveTarget = true
		}
	}
	return openPx, targetPx, haveOpen && haveTarget
}
