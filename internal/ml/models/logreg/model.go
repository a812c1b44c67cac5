// Package logreg trains and serves a ridge-regularized logistic regression
// over z-normalized features. Artifacts round-trip through JSON so the model
// registry can store them as blobs.
package logreg

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{LearningRate: 0.05, Epochs: 600, L2: 0.0001}
}

func (o *TrainOptions) applyDefaults() {
	def := DefaultTrainOptions()
	if o.LearningRate <= 0 {
		o.LearningRate = def.LearningRate
	}
	if o.Epochs <= 0 {
		o.Epochs = def.Epochs
	}
	if o.L2 < 0 {
		o.L2 = def.L2
	}
}

type Artifact struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Means        []float64 `json:"means"`
	Stds         []float64 `json:"stds"`
	L2           float64   `json:"l2"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
}

type Model struct {
	artifact Artifact
}

// scaler z-normalizes features. Constant columns get std 1 so applying it
// never divides by zero.
type scaler struct {
	means []float64
	stds  []float64
}

func fitScaler(samples [][]float64, width int) scaler {
	s := scaler{
		means: make([]float64, width),
		stds:  make([]float64, width),
	}
	n := float64(len(samples))

	for j := 0; j < width; j++ {
		var sum float64
		for i := range samples {
			sum += samples[i][j]
		}
		s.means[j] = sum / n

		var sq float64
		for i := range samples {
			d := samples[i][j] - s.means[j]
			sq += d * d
		}
		s.stds[j] = math.Sqrt(sq / n)
		if s.stds[j] == 0 {
			s.stds[j] = 1
		}
	}
	return s
}

func (s scaler) apply(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = (v - s.means[i]) / s.stds[i]
	}
	return out
}

// Train fits weights by full-batch gradient descent. Labels must be 0 or 1.
func Train(samples [][]float64, labels []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	width := len(samples[0])
	if width == 0 {
		return nil, errors.New("empty feature vectors")
	}
	opts.applyDefaults()

	sc := fitScaler(samples, width)

	// Normalize once; the scaled matrix is reused across every epoch.
	scaled := make([][]float64, len(samples))
	for i := range samples {
		scaled[i] = sc.apply(samples[i])
	}

	weights := make([]float64, width)
	bias := 0.0
	n := float64(len(scaled))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		grads := make([]float64, width)
		gradBias := 0.0

		for i, row := range scaled {
			residual := sigmoid(dot(weights, row)+bias) - labels[i]
			for j, x := range row {
				grads[j] += residual * x
			}
			gradBias += residual
		}

		for j := range weights {
			weights[j] -= opts.LearningRate * (grads[j]/n + opts.L2*weights[j])
		}
		bias -= opts.LearningRate * (gradBias / n)
	}

	if len(featureNames) != width {
		featureNames = indexedFeatureNames(width)
	}

	return &Model{artifact: Artifact{
		FeatureNames: featureNames,
		Weights:      weights,
		Bias:         bias,
		Means:        sc.means,
		Stds:         sc.stds,
		L2:           opts.L2,
		LearningRate: opts.LearningRate,
		Epochs:       opts.Epochs,
	}}, nil
}

// PredictProb returns P(label=1). Dimension mismatches fall back to the prior.
func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || len(sample) != len(m.artifact.Weights) {
		return 0.5
	}
	sc := scaler{means: m.artifact.Means, stds: m.artifact.Stds}
	return sigmoid(dot(m.artifact.Weights, sc.apply(sample)) + m.artifact.Bias)
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	probs := make([]float64, len(samples))
	for i, s := range samples {
		probs[i] = m.PredictProb(s)
	}
	return probs
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.Means) || len(a.Weights) != len(a.Stds) {
		return nil, errors.New("invalid artifact")
	}
	return &Model{artifact: a}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.artifact.FeatureNames...)
}

func sigmoid(x float64) float64 {
	switch {
	case x > 35:
		return 1
	case x < -35:
		return 0
	default:
		return 1 / (1 + math.Exp(-x))
	}
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func indexedFeatureNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "f" + strconv.Itoa(i)
	}
	return out
}
