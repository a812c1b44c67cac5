package common

import (
	"math"

	"whalepulse/internal/domain"
)

// Model keys stored in ml_model_versions and ml_predictions.
const (
	ModelKeyLogReg   = "logreg_next"
	ModelKeyXGBoost  = "xgboost_next"
	ModelKeyEnsemble = "ensemble_next"
)

// FeatureNames fixes the order of the feature vector. Changing this list
// requires bumping the feature spec version, or stored artifacts go stale.
var FeatureNames = []string{
	"ret_1",
	"ret_4",
	"ret_12",
	"volatility",
	"sentiment",
	"pressure",
	"liquidity_change",
	"coordination",
	"whale_volume_z",
	"event_count_z",
}

// FeatureVector flattens a row in FeatureNames order.
func FeatureVector(row domain.MLFeatureRow) []float64 {
	return []float64{
		row.Ret1,
		row.Ret4,
		row.Ret12,
		row.Volatility,
		row.Sentiment,
		row.Pressure,
		row.LiquidityChange,
		row.Coordination,
		row.WhaleVolumeZ,
		row.EventCountZ,
	}
}

// TargetLabel returns the training label for a row, false when unlabeled.
func TargetLabel(row domain.MLFeatureRow) (float64, bool) {
	if row.TargetUpNext == nil {
		return 0, false
	}
	if *row.TargetUpNext {
		return 1, true
	}
	return 0, true
}

// Clamp01 bounds a probability; NaN and Inf collapse to the 0.5 prior.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Confidence maps a probability to [0,1] distance from the 0.5 prior.
func Confidence(probUp float64) float64 {
	return Clamp01(math.Abs(2*Clamp01(probUp) - 1))
}

// DirectionFromProb applies the long/short thresholds to a probability.
func DirectionFromProb(probUp, longThreshold, shortThreshold float64) domain.AlertDirection {
	p := Clamp01(probUp)
	if p >= longThreshold {
		return domain.DirectionLong
	}
	if p <= shortThreshold {
		return domain.DirectionShort
	}
	return domain.DirectionHold
}

// RiskFromConfidence maps confidence to a risk level, lower is stronger.
func RiskFromConfidence(confidence float64) domain.RiskLevel {
	c := Clamp01(confidence)
	switch {
	case c >= 0.70:
		return domain.RiskLevel2
	case c >= 0.50:
		return domain.RiskLevel3
	case c >= 0.30:
		return domain.RiskLevel4
	default:
		return domain.RiskLevel5
	}
}

// AlertSourceForModelKey maps a model key to its alert source string.
func AlertSourceForModelKey(modelKey string) string {
	switch modelKey {
	case ModelKeyLogReg:
		return domain.AlertSourceMLLogReg
	case ModelKeyXGBoost:
		return domain.AlertSourceMLXGBoost
	default:
		return domain.AlertSourceMLEnsemble
	}
}
