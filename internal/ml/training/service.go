// Package training fits the candidate models on labeled feature rows and
// registers a new version of each, activating versions that beat the
// currently active one on a held-out chronological tail.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ml/common"
	"whalepulse/internal/ml/features"
	"whalepulse/internal/ml/models/logreg"
	"whalepulse/internal/ml/models/xgboost"

	"go.opentelemetry.io/otel/trace"
)

// Promotion gates: the first version of a model always activates, later
// versions need a real test tail and a clear AUC improvement.
const (
	promoteAUCMargin   = 0.01
	promoteMinTestRows = 300
)

type FeatureRowStore interface {
	ListLabeledRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error)
}

type ModelRegistry interface {
	NextVersion(ctx context.Context, modelKey string) (int, error)
	InsertModelVersion(ctx context.Context, model domain.MLModelVersion) (*domain.MLModelVersion, error)
	GetActiveModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error)
	ActivateModel(ctx context.Context, modelKey string, version int) error
}

type Config struct {
	Interval        string
	TrainWindowDays int
	MinTrainSamples int
}

type Service struct {
	tracer   trace.Tracer
	features FeatureRowStore
	registry ModelRegistry
	cfg      Config
}

type ModelTrainResult struct {
	ModelKey     string  `json:"model_key"`
	Version      int     `json:"version"`
	SampleCount  int     `json:"sample_count"`
	TestCount    int     `json:"test_count"`
	AUC          float64 `json:"auc"`
	Promoted     bool    `json:"promoted"`
	PromoteError string  `json:"promote_error,omitempty"`
}

func NewService(tracer trace.Tracer, features FeatureRowStore, registry ModelRegistry, cfg Config) *Service {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.TrainWindowDays <= 0 {
		cfg.TrainWindowDays = 90
	}
	if cfg.MinTrainSamples <= 0 {
		cfg.MinTrainSamples = 1000
	}
	return &Service{tracer: tracer, features: features, registry: registry, cfg: cfg}
}

// fitted is what a candidate hands back after training: the serialized
// artifact, the hyperparameters it trained with and its scores on the
// held-out test partition.
type fitted struct {
	artifact  []byte
	hyper     map[string]any
	testProbs []float64
}

// candidate binds a model key to its artifact format and training routine.
type candidate struct {
	key    string
	format string
	fit    func(trainX [][]float64, trainY []float64, testX [][]float64) (fitted, error)
}

func candidates() []candidate {
	return []candidate{
		{
			key:    common.ModelKeyLogReg,
			format: "json/logreg-v1",
			fit: func(trainX [][]float64, trainY []float64, testX [][]float64) (fitted, error) {
				opts := logreg.DefaultTrainOptions()
				model, err := logreg.Train(trainX, trainY, common.FeatureNames, opts)
				if err != nil {
					return fitted{}, err
				}
				blob, err := model.MarshalBinary()
				if err != nil {
					return fitted{}, err
				}
				return fitted{
					artifact: blob,
					hyper: map[string]any{
						"learning_rate": opts.LearningRate,
						"epochs":        opts.Epochs,
						"l2":            opts.L2,
					},
					testProbs: model.PredictBatch(testX),
				}, nil
			},
		},
		{
			key:    common.ModelKeyXGBoost,
			format: "json/boo-xgboost-v1",
			fit: func(trainX [][]float64, trainY []float64, testX [][]float64) (fitted, error) {
				opts := xgboost.DefaultTrainOptions()
				model, err := xgboost.Train(trainX, trainY, common.FeatureNames, opts)
				if err != nil {
					return fitted{}, err
				}
				blob, err := model.MarshalBinary()
				if err != nil {
					return fitted{}, err
				}
				return fitted{
					artifact: blob,
					hyper: map[string]any{
						"rounds":        opts.Rounds,
						"learning_rate": opts.LearningRate,
						"max_depth":     opts.MaxDepth,
					},
					testProbs: model.PredictBatch(testX),
				}, nil
			},
		},
	}
}

// TrainAll fits every candidate on the training window and registers one new
// version per model. A version only becomes active when its test AUC clears
// the active model's by promoteAUCMargin.
func (s *Service) TrainAll(ctx context.Context, now time.Time) ([]ModelTrainResult, error) {
	_, span := s.tracer.Start(ctx, "ml-training.train-all")
	defer span.End()

	trainedTo := now.UTC()
	trainedFrom := trainedTo.AddDate(0, 0, -s.cfg.TrainWindowDays)
	rows, err := s.features.ListLabeledRows(ctx, s.cfg.Interval, trainedFrom, trainedTo)
	if err != nil {
		return nil, err
	}
	samples, labels := buildDataset(rows)
	if len(samples) < s.cfg.MinTrainSamples {
		return nil, fmt.Errorf("not enough labeled samples: got %d need >= %d", len(samples), s.cfg.MinTrainSamples)
	}

	trainX, trainY, _, _, testX, testY := chronologicalSplit(samples, labels)
	if len(trainX) == 0 || len(testX) == 0 {
		return nil, errors.New("dataset split produced empty partitions")
	}

	specs := candidates()
	results := make([]ModelTrainResult, 0, len(specs))
	for _, spec := range specs {
		fit, err := spec.fit(trainX, trainY, testX)
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", spec.key, err)
		}
		metrics := computeMetrics(testY, fit.testProbs)
		result, err := s.registerVersion(ctx, spec, fit, metrics, trainedFrom, trainedTo, len(samples), len(testY))
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// registerVersion inserts the trained artifact as the next version of the
// model and activates it when the promotion gate allows. Promotion failures
// are reported on the result rather than failing the whole cycle.
func (s *Service) registerVersion(
	ctx context.Context,
	spec candidate,
	fit fitted,
	metrics map[string]float64,
	trainedFrom time.Time,
	trainedTo time.Time,
	sampleCount int,
	testCount int,
) (ModelTrainResult, error) {
	version, err := s.registry.NextVersion(ctx, spec.key)
	if err != nil {
		return ModelTrainResult{}, err
	}
	hyperJSON, _ := json.Marshal(fit.hyper)
	metricJSON, _ := json.Marshal(metrics)

	inserted, err := s.registry.InsertModelVersion(ctx, domain.MLModelVersion{
		ModelKey:           spec.key,
		Version:            version,
		FeatureSpecVersion: features.FeatureSpecVersion(),
		TrainedFrom:        trainedFrom,
		TrainedTo:          trainedTo,
		HyperparamsJSON:    string(hyperJSON),
		MetricsJSON:        string(metricJSON),
		ArtifactFormat:     spec.format,
		ArtifactBlob:       fit.artifact,
		IsActive:           false,
	})
	if err != nil {
		return ModelTrainResult{}, err
	}

	result := ModelTrainResult{
		ModelKey:    spec.key,
		Version:     inserted.Version,
		SampleCount: sampleCount,
		TestCount:   testCount,
		AUC:         metrics["auc"],
	}

	promote, promoteErr := s.shouldPromote(ctx, spec.key, metrics["auc"], testCount, inserted.Version)
	if promoteErr != nil {
		result.PromoteError = promoteErr.Error()
		return result, nil
	}
	if promote {
		if err := s.registry.ActivateModel(ctx, spec.key, inserted.Version); err != nil {
			result.PromoteError = err.Error()
			return result, nil
		}
		result.Promoted = true
	}
	return result, nil
}

func (s *Service) shouldPromote(ctx context.Context, modelKey string, newAUC float64, testCount int, newVersion int) (bool, error) {
	active, err := s.registry.GetActiveModel(ctx, modelKey)
	if err != nil {
		return false, err
	}
	switch {
	case active == nil:
		return true, nil
	case active.Version == newVersion:
		return active.IsActive, nil
	case testCount < promoteMinTestRows:
		return false, nil
	}
	activeAUC, ok := metricValue(active.MetricsJSON, "auc")
	if !ok {
		// Active model carries no comparable score; take the new one.
		return true, nil
	}
	return newAUC >= activeAUC+promoteAUCMargin, nil
}

func buildDataset(rows []domain.MLFeatureRow) ([][]float64, []float64) {
	x := make([][]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for i := range rows {
		label, ok := common.TargetLabel(rows[i])
		if !ok {
			continue
		}
		x = append(x, common.FeatureVector(rows[i]))
		y = append(y, label)
	}
	return x, y
}

// chronologicalSplit cuts 70/15/15 in row order. No shuffling: the test
// partition must be the newest tail so evaluation never sees the future.
func chronologicalSplit(samples [][]float64, labels []float64) (trainX [][]float64, trainY []float64, valX [][]float64, valY []float64, testX [][]float64, testY []float64) {
	n := len(samples)
	if n < 3 {
		return nil, nil, nil, nil, nil, nil
	}
	trainEnd := int(float64(n) * 0.70)
	valEnd := int(float64(n) * 0.85)
	if trainEnd < 1 {
		trainEnd = 1
	}
	if valEnd <= trainEnd {
		valEnd = trainEnd + 1
	}
	if valEnd >= n {
		valEnd = n - 1
	}
	if trainEnd >= valEnd {
		trainEnd = valEnd - 1
	}
	return samples[:trainEnd], labels[:trainEnd],
		samples[trainEnd:valEnd], labels[trainEnd:valEnd],
		samples[valEnd:], labels[valEnd:]
}

func metricValue(metricsJSON, key string) (float64, bool) {
	var m map[string]float64
	if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil {
		return 0, false
	}
	v, ok := m[key]
	return v, ok
}

// confusion holds 0.5-threshold classification counts.
type confusion struct {
	tp, fp, tn, fn float64
}

func (c confusion) accuracy(n int) float64 {
	return (c.tp + c.tn) / float64(n)
}

func (c confusion) precision() float64 {
	if c.tp+c.fp == 0 {
		return 0
	}
	return c.tp / (c.tp + c.fp)
}

func (c confusion) recall() float64 {
	if c.tp+c.fn == 0 {
		return 0
	}
	return c.tp / (c.tp + c.fn)
}

func computeMetrics(labels []float64, probs []float64) map[string]float64 {
	n := len(labels)
	if n == 0 || len(probs) != n {
		return map[string]float64{"auc": 0.5, "accuracy": 0, "precision": 0, "recall": 0, "f1": 0, "brier": 0, "n_test": 0}
	}

	var c confusion
	brier := 0.0
	for i := 0; i < n; i++ {
		y := labels[i]
		p := common.Clamp01(probs[i])
		positive := p >= 0.5
		switch {
		case positive && y == 1:
			c.tp++
		case positive && y == 0:
			c.fp++
		case !positive && y == 0:
			c.tn++
		default:
			c.fn++
		}
		d := p - y
		brier += d * d
	}

	precision := c.precision()
	recall := c.recall()
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return map[string]float64{
		"auc":       computeAUC(labels, probs),
		"accuracy":  c.accuracy(n),
		"precision": precision,
		"recall":    recall,
		"f1":        f1,
		"brier":     brier / float64(n),
		"n_test":    float64(n),
	}
}

// computeAUC uses the Mann-Whitney rank-sum form. Tied scores share their
// average rank so uniform predictions land on 0.5.
func computeAUC(labels []float64, probs []float64) float64 {
	type scored struct {
		p float64
		y float64
	}
	items := make([]scored, len(labels))
	pos := 0.0
	neg := 0.0
	for i := range labels {
		items[i] = scored{p: common.Clamp01(probs[i]), y: labels[i]}
		if labels[i] >= 0.5 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}

	sort.Slice(items, func(i, j int) bool { return items[i].p < items[j].p })

	sumRankPos := 0.0
	for lo := 0; lo < len(items); {
		hi := lo + 1
		for hi < len(items) && math.Abs(items[hi].p-items[lo].p) < 1e-12 {
			hi++
		}
		// Ranks are 1-based; every member of a tie group gets the mean rank.
		avgRank := float64(lo+1+hi) / 2
		for k := lo; k < hi; k++ {
			if items[k].y >= 0.5 {
				sumRankPos += avgRank
			}
		}
		lo = hi
	}
	auc := (sumRankPos - (pos*(pos+1))/2) / (pos * neg)
	if math.IsNaN(auc) || math.IsInf(auc, 0) {
		return 0.5
	}
	return auc
}
