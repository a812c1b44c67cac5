package xgboost

import "testing"

// two well-separated clusters so the booster has an easy decision surface
func clusterDataset() ([][]float64, []float64) {
	var samples [][]float64
	var labels []float64
	for i := 0; i < 60; i++ {
		samples = append(samples, []float64{-2.0 + float64(i)/90.0, -1.5 + float64(i)/120.0})
		labels = append(labels, 0)
		samples = append(samples, []float64{1.0 + float64(i)/90.0, 1.1 + float64(i)/110.0})
		labels = append(labels, 1)
	}
	return samples, labels
}

func TestTrainPredictAndRoundTrip(t *testing.T) {
	samples, labels := clusterDataset()
	model, err := Train(samples, labels, []string{"x1", "x2"}, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}

	pLow := model.PredictProb([]float64{-1.8, -1.3})
	pHigh := model.PredictProb([]float64{1.8, 1.3})
	if pLow < 0 || pLow > 1 || pHigh < 0 || pHigh > 1 {
		t.Fatalf("probabilities out of [0,1]: low=%.4f high=%.4f", pLow, pHigh)
	}
	if pHigh <= pLow {
		t.Fatalf("up cluster should score above down cluster: %.4f <= %.4f", pHigh, pLow)
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	restored, err := UnmarshalBinary(blob)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := restored.PredictProb([]float64{1.8, 1.3}); got < 0 || got > 1 {
		t.Fatalf("roundtrip probability out of [0,1]: %.4f", got)
	}
	if names := restored.FeatureNames(); len(names) != 2 || names[0] != "x1" {
		t.Fatalf("feature names lost in roundtrip: %v", names)
	}
}

func TestTrainRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Train(nil, nil, nil, TrainOptions{}); err == nil {
		t.Error("expected error for empty dataset")
	}

	oneClass := [][]float64{{1, 1}, {2, 2}, {3, 3}}
	if _, err := Train(oneClass, []float64{1, 1, 1}, nil, TrainOptions{}); err == nil {
		t.Error("expected error for single-class labels")
	}

	if _, err := Train([][]float64{{1}, {2}}, []float64{1}, nil, TrainOptions{}); err == nil {
		t.Error("expected error for mismatched labels")
	}
}

func TestNilModelFallsBackToPrior(t *testing.T) {
	t.Parallel()

	var model *Model
	if p := model.PredictProb([]float64{1, 2}); p != 0.5 {
		t.Fatalf("nil model should return the prior, got %.4f", p)
	}
}

func TestUnmarshalEmptyArtifact(t *testing.T) {
	t.Parallel()

	if _, err := UnmarshalBinary(nil); err == nil {
		t.Fatal("expected error for empty artifact")
	}
}
