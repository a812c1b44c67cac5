// Package xgboost wraps the boo gradient-boosting library behind the same
// train/predict/marshal surface as the logreg model, so the registry and
// inference paths treat both interchangeably.
package xgboost

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Rounds: 40, LearningRate: 0.08, MaxDepth: 4}
}

func (o *TrainOptions) applyDefaults() {
	def := DefaultTrainOptions()
	if o.Rounds <= 0 {
		o.Rounds = def.Rounds
	}
	if o.LearningRate <= 0 {
		o.LearningRate = def.LearningRate
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
}

type Model struct {
	featureNames []string
	boost        *boo.MultiClass
}

type artifact struct {
	FeatureNames []string `json:"feature_names"`
	ModelText    string   `json:"model_text"`
}

// binaryLabels thresholds float targets at 0.5. boo builds a softmax head,
// so both classes must occur in the training set.
func binaryLabels(labels []float64) ([]int, error) {
	out := make([]int, len(labels))
	var ups, downs int
	for i, v := range labels {
		if v >= 0.5 {
			out[i] = 1
			ups++
		} else {
			downs++
		}
	}
	if ups == 0 || downs == 0 {
		return nil, errors.New("xgboost requires at least two classes")
	}
	return out, nil
}

// Train fits a two-class booster over the feature matrix.
func Train(samples [][]float64, labels []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	width := len(samples[0])
	if width == 0 {
		return nil, errors.New("empty feature vectors")
	}

	intLabels, err := binaryLabels(labels)
	if err != nil {
		return nil, err
	}

	if len(featureNames) != width {
		featureNames = make([]string, width)
		for i := range featureNames {
			featureNames[i] = "f"
		}
	}

	opts.applyDefaults()
	booOpts := boo.DefaultXOptions()
	booOpts.Rounds = opts.Rounds
	booOpts.LearningRate = opts.LearningRate
	booOpts.MaxDepth = opts.MaxDepth
	booOpts.Verbose = false
	booOpts.EarlyStop = 0

	booster := boo.NewMultiClass(&utils.DataBunch{
		Data:   samples,
		Labels: intLabels,
		Keys:   featureNames,
	}, booOpts)
	if booster == nil {
		return nil, errors.New("failed to train xgboost model")
	}

	return &Model{
		featureNames: append([]string(nil), featureNames...),
		boost:        booster,
	}, nil
}

// PredictProb returns the probability of the up class for one sample.
func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || m.boost == nil {
		return 0.5
	}

	probs := m.boost.PredictSingle(sample)
	for i, label := range m.boost.ClassLabels() {
		if label == 1 {
			return clamp01(probs[i])
		}
	}
	if len(probs) == 0 {
		return 0.5
	}
	return clamp01(probs[len(probs)-1])
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = m.PredictProb(s)
	}
	return out
}

// MarshalBinary serializes the booster through boo's own JSON writer and
// wraps it together with the feature names.
func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}

	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		FeatureNames: m.featureNames,
		ModelText:    buf.String(),
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}

	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	booster, err := boo.UnJSONMultiClass(bufio.NewReader(bytes.NewReader([]byte(a.ModelText))))
	if err != nil {
		return nil, err
	}
	return &Model{
		featureNames: append([]string(nil), a.FeatureNames...),
		boost:        booster,
	}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.featureNames...)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
