// Package ensemble blends the threshold-alert consensus with the two model
// probabilities into a single [-1,1] score.
package ensemble

import "whalepulse/internal/domain"

// Blend weights sum to 1. The threshold consensus carries less weight than
// either model.
const (
	weightThreshold = 0.30
	weightLogReg    = 0.35
	weightXGBoost   = 0.35

	// Scores inside (-deadZone, deadZone) are too weak to act on.
	deadZone = 0.15
)

// Components are the inputs to one blended score. ThresholdScore is the
// risk-weighted direction consensus of this bucket's threshold alerts in
// [-1,1]; the probabilities come from the active models.
type Components struct {
	ThresholdScore float64
	LogRegProb     float64
	XGBoostProb    float64
}

type Service struct{}

func NewService() *Service { return &Service{} }

// Score maps each probability onto [-1,1] and takes the weighted blend.
func (s *Service) Score(c Components) float64 {
	return weightThreshold*c.ThresholdScore +
		weightLogReg*probToScore(c.LogRegProb) +
		weightXGBoost*probToScore(c.XGBoostProb)
}

// Direction converts a blended score into a trade direction.
func Direction(score float64) domain.AlertDirection {
	switch {
	case score > deadZone:
		return domain.DirectionLong
	case score < -deadZone:
		return domain.DirectionShort
	default:
		return domain.DirectionHold
	}
}

// probToScore rescales an up-probability from [0,1] to [-1,1].
func probToScore(p float64) float64 {
	return 2*p - 1
}
