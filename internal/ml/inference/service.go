// Package inference scores each symbol's freshest feature row with the
// active model versions, persists the predictions and raises alerts for
// directional calls.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ml/common"
	"whalepulse/internal/ml/ensemble"
	"whalepulse/internal/ml/models/logreg"
	"whalepulse/internal/ml/models/xgboost"

	"go.opentelemetry.io/otel/trace"
)

type FeatureReader interface {
	ListLatestByInterval(ctx context.Context, interval string) ([]domain.MLFeatureRow, error)
}

type ModelRegistry interface {
	GetActiveModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error)
}

type PredictionStore interface {
	UpsertPrediction(ctx context.Context, prediction domain.MLPrediction) (*domain.MLPrediction, error)
	AttachAlertID(ctx context.Context, predictionID, alertID int64) error
}

type AlertStore interface {
	InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error)
	ListRecent(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error)
}

type Config struct {
	Interval       string
	TargetBuckets  int
	LongThreshold  float64
	ShortThreshold float64
}

type Service struct {
	tracer      trace.Tracer
	features    FeatureReader
	registry    ModelRegistry
	predictions PredictionStore
	alerts      AlertStore
	ensemble    *ensemble.Service
	cfg         Config
}

type RunResult struct {
	Predictions int `json:"predictions"`
	Alerts      int `json:"alerts"`
}

func NewService(
	tracer trace.Tracer,
	features FeatureReader,
	registry ModelRegistry,
	predictions PredictionStore,
	alerts AlertStore,
	ensembleSvc *ensemble.Service,
	cfg Config,
) *Service {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.TargetBuckets <= 0 {
		cfg.TargetBuckets = 4
	}
	if cfg.LongThreshold <= 0 || cfg.LongThreshold >= 1 {
		cfg.LongThreshold = 0.55
	}
	if cfg.ShortThreshold <= 0 || cfg.ShortThreshold >= 1 {
		cfg.ShortThreshold = 0.45
	}
	if ensembleSvc == nil {
		ensembleSvc = ensemble.NewService()
	}
	return &Service{
		tracer:      tracer,
		features:    features,
		registry:    registry,
		predictions: predictions,
		alerts:      alerts,
		ensemble:    ensembleSvc,
		cfg:         cfg,
	}
}

// predictor is a loaded active model version ready to score feature vectors.
// predict is nil when no active version exists for the key.
type predictor struct {
	version int
	predict func([]float64) float64
}

// RunLatest scores the freshest feature row of every symbol: one prediction
// per active model plus the blended ensemble row.
func (s *Service) RunLatest(ctx context.Context, now time.Time) (RunResult, error) {
	_, span := s.tracer.Start(ctx, "ml-inference.run-latest")
	defer span.End()

	if s.features == nil || s.registry == nil || s.predictions == nil || s.alerts == nil {
		return RunResult{}, fmt.Errorf("ml inference service is not fully initialized")
	}

	lr, err := s.loadActive(ctx, common.ModelKeyLogReg)
	if err != nil {
		return RunResult{}, err
	}
	xgb, err := s.loadActive(ctx, common.ModelKeyXGBoost)
	if err != nil {
		return RunResult{}, err
	}
	if lr.predict == nil && xgb.predict == nil {
		return RunResult{}, nil
	}

	rows, err := s.features.ListLatestByInterval(ctx, s.cfg.Interval)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{}
	for i := range rows {
		if err := s.predictRow(ctx, rows[i], lr, xgb, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// predictRow runs every available model over one feature row and finishes
// with the ensemble, which blends the model probabilities with the
// threshold-alert consensus for the same bucket.
func (s *Service) predictRow(ctx context.Context, row domain.MLFeatureRow, lr, xgb predictor, result *RunResult) error {
	targetTime := row.OpenTime.UTC().Add(time.Duration(s.cfg.TargetBuckets) * intervalDuration(s.cfg.Interval))
	featureVec := common.FeatureVector(row)

	lrProb := 0.5
	if lr.predict != nil {
		lrProb = common.Clamp01(lr.predict(featureVec))
		if err := s.persistModelPrediction(ctx, row, common.ModelKeyLogReg, lr.version, lrProb, targetTime, 0, result); err != nil {
			return err
		}
	}

	xgbProb := 0.5
	if xgb.predict != nil {
		xgbProb = common.Clamp01(xgb.predict(featureVec))
		if err := s.persistModelPrediction(ctx, row, common.ModelKeyXGBoost, xgb.version, xgbProb, targetTime, 0, result); err != nil {
			return err
		}
	}

	score := clampScore(s.ensemble.Score(ensemble.Components{
		ThresholdScore: s.thresholdScore(ctx, row),
		LogRegProb:     lrProb,
		XGBoostProb:    xgbProb,
	}))
	version := max(lr.version, xgb.version)
	if version <= 0 {
		version = 1
	}
	return s.persistModelPrediction(ctx, row, common.ModelKeyEnsemble, version, common.Clamp01((score+1)/2), targetTime, score, result)
}

func (s *Service) persistModelPrediction(
	ctx context.Context,
	row domain.MLFeatureRow,
	modelKey string,
	modelVersion int,
	probUp float64,
	targetTime time.Time,
	ensembleScore float64,
	result *RunResult,
) error {
	confidence := common.Confidence(probUp)
	direction := common.DirectionFromProb(probUp, s.cfg.LongThreshold, s.cfg.ShortThreshold)
	if modelKey == common.ModelKeyEnsemble {
		direction = ensemble.Direction(ensembleScore)
	}
	risk := common.RiskFromConfidence(confidence)

	pred, err := s.predictions.UpsertPrediction(ctx, domain.MLPrediction{
		Symbol:       row.Symbol,
		Interval:     row.Interval,
		OpenTime:     row.OpenTime.UTC(),
		TargetTime:   targetTime.UTC(),
		ModelKey:     modelKey,
		ModelVersion: modelVersion,
		ProbUp:       probUp,
		Confidence:   confidence,
		Direction:    direction,
		Risk:         risk,
		DetailsJSON:  s.buildDetailsJSON(modelKey, modelVersion, probUp, confidence, ensembleScore),
	})
	if err != nil {
		return err
	}
	result.Predictions++

	if direction == domain.DirectionHold {
		return nil
	}
	alert := domain.Alert{
		Symbol:    row.Symbol,
		Interval:  row.Interval,
		Source:    common.AlertSourceForModelKey(modelKey),
		Timestamp: row.OpenTime.UTC(),
		Risk:      risk,
		Direction: direction,
		Details:   alertDetails(modelKey, modelVersion, probUp, confidence, ensembleScore),
	}
	alertID, err := s.alerts.InsertAlert(ctx, &alert)
	if err != nil {
		return err
	}
	if alertID > 0 {
		if err := s.predictions.AttachAlertID(ctx, pred.ID, alertID); err != nil {
			return err
		}
	}
	result.Alerts++
	return nil
}

// loadActive fetches the active version for a model key and decodes its
// artifact. Keys without an active version come back with a nil predict.
func (s *Service) loadActive(ctx context.Context, modelKey string) (predictor, error) {
	active, err := s.registry.GetActiveModel(ctx, modelKey)
	if err != nil || active == nil {
		return predictor{}, err
	}
	switch modelKey {
	case common.ModelKeyLogReg:
		model, err := logreg.UnmarshalBinary(active.ArtifactBlob)
		if err != nil {
			return predictor{}, err
		}
		return predictor{version: active.Version, predict: model.PredictProb}, nil
	case common.ModelKeyXGBoost:
		model, err := xgboost.UnmarshalBinary(active.ArtifactBlob)
		if err != nil {
			return predictor{}, err
		}
		return predictor{version: active.Version, predict: model.PredictProb}, nil
	default:
		return predictor{}, fmt.Errorf("no artifact decoder for model key %q", modelKey)
	}
}

// thresholdScore condenses this bucket's threshold alerts into a [-1,1]
// consensus, weighting lower-risk alerts more.
func (s *Service) thresholdScore(ctx context.Context, row domain.MLFeatureRow) float64 {
	alerts, err := s.alerts.ListRecent(ctx, domain.AlertFilter{Symbol: row.Symbol, Limit: 100})
	if err != nil {
		return 0
	}
	bucketTS := row.OpenTime.UTC().Unix()
	weighted := 0.0
	weightTotal := 0.0
	for i := range alerts {
		alert := alerts[i]
		if alert.Interval != row.Interval || alert.Timestamp.UTC().Unix() != bucketTS {
			continue
		}
		if !isThresholdSource(alert.Source) {
			continue
		}
		dir := 0.0
		switch alert.Direction {
		case domain.DirectionLong:
			dir = 1
		case domain.DirectionShort:
			dir = -1
		}
		weight := (6.0 - float64(alert.Risk)) / 5.0
		if weight < 0 {
			weight = 0
		}
		weighted += dir * weight
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0
	}
	return clampScore(weighted / weightTotal)
}

func (s *Service) buildDetailsJSON(modelKey string, version int, probUp, confidence, ensembleScore float64) string {
	payload := map[string]any{
		"model_key":      modelKey,
		"model_version":  version,
		"prob_up":        roundFloat(probUp),
		"confidence":     roundFloat(confidence),
		"target_buckets": s.cfg.TargetBuckets,
	}
	if modelKey == common.ModelKeyEnsemble {
		payload["ensemble_score"] = roundFloat(ensembleScore)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func alertDetails(modelKey string, version int, probUp, confidence, ensembleScore float64) string {
	if modelKey == common.ModelKeyEnsemble {
		return fmt.Sprintf(
			"model_key=%s;model_version=%d;prob_up=%.4f;confidence=%.4f;ensemble_score=%.4f",
			modelKey, version, probUp, confidence, ensembleScore,
		)
	}
	return fmt.Sprintf(
		"model_key=%s;model_version=%d;prob_up=%.4f;confidence=%.4f",
		modelKey, version, probUp, confidence,
	)
}

func isThresholdSource(source string) bool {
	switch source {
	case domain.AlertSourcePressure, domain.AlertSourceSentiment, domain.AlertSourceVolatility, domain.AlertSourceCoordination:
		return true
	default:
		return false
	}
}

func intervalDuration(interval string) time.Duration {
	if d := domain.IntervalDuration(interval); d > 0 {
		return d
	}
	return time.Hour
}

func clampScore(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

func roundFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10000) / 10000
}
