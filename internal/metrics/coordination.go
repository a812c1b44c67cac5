package metrics

import (
	"math"

	"whalepulse/internal/domain"
	"whalepulse/internal/ta"
)

// CoordinationScore estimates how likely the window's whale activity came
// from a single actor or cooperating group. Three signals are blended:
// burst concentration (share of notional landing in the busiest time
// bucket), directional agreement (bid/ask imbalance), and size uniformity
// (inverted coefficient of variation). Fewer than MinCoordinationEvents
// usable events cannot support the estimate, so the score is 0 with
// label N/A.
func (e *Engine) CoordinationScore(events []domain.WhaleEvent) domain.MetricResult {
	usable := events[:0:0]
	for _, ev := range events {
		if ev.USDValue <= 0 || math.IsNaN(ev.USDValue) || math.IsInf(ev.USDValue, 0) {
			continue
		}
		usable = append(usable, ev)
	}
	if len(usable) < e.cfg.MinCoordinationEvents {
		return domain.MetricResult{Value: 0, Label: "N/A", Sentiment: domain.SentimentNeutral}
	}

	burst := e.burstConcentration(usable)
	direction := directionalAgreement(usable)
	uniformity := sizeUniformity(usable)

	score := clamp(100*(e.cfg.BurstWeight*burst+e.cfg.DirectionWeight*direction+e.cfg.UniformityWeight*uniformity), 0, 100)

	label, sentiment := e.coordinationLabel(score)
	return domain.MetricResult{Value: score, Label: label, Sentiment: sentiment}
}

func (e *Engine) coordinationLabel(score float64) (string, string) {
	switch {
	case score >= e.cfg.HighCoordinationMin:
		return "Highly Coordinated", domain.SentimentNegative
	case score >= e.cfg.CoordinationMin:
		return "Coordinated", domain.SentimentNegative
	case score >= e.cfg.MixedMin:
		return "Mixed", domain.SentimentNeutral
	default:
		return "Organic", domain.SentimentPositive
	}
}

func (e *Engine) burstConcentration(events []domain.WhaleEvent) float64 {
	buckets := make(map[int64]float64)
	var total float64
	for _, ev := range events {
		key := ev.Time.Truncate(e.cfg.CoordinationBucket).Unix()
		buckets[key] += ev.USDValue
		total += ev.USDValue
	}
	if total == 0 {
		return 0
	}
	var peak float64
	for _, v := range buckets {
		if v > peak {
			peak = v
		}
	}
	return clamp(peak/total, 0, 1)
}

func directionalAgreement(events []domain.WhaleEvent) float64 {
	var bid, ask float64
	for _, ev := range events {
		switch ev.Side {
		case domain.SideBid:
			bid += ev.USDValue
		case domain.SideAsk:
			ask += ev.USDValue
		}
	}
	total := bid + ask
	if total == 0 {
		return 0
	}
	return clamp(math.Abs(bid-ask)/total, 0, 1)
}

func sizeUniformity(events []domain.WhaleEvent) float64 {
	values := make([]float64, len(events))
	for i, ev := range events {
		values[i] = ev.USDValue
	}
	mean, std := ta.MeanStd(values)
	if mean <= 0 {
		return 0
	}
	return clamp(1-std/mean, 0, 1)
}
