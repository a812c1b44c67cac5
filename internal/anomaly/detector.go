package anomaly

import (
	"math"

	"github.com/narumiruna/go-iforest/pkg/iforest"

	"whalepulse/internal/domain"
)

const (
	defaultThreshold  = 0.62
	defaultMinSamples = 32
)

// Detector flags whale events that stand apart from the rest of a window
// using an isolation forest. Scores land in [0,1]; events at or above the
// threshold are marked anomalous.
type Detector struct {
	threshold  float64
	minSamples int
}

// NewDetector builds a detector, substituting defaults for out-of-range
// arguments. minSamples guards against fitting a forest on windows too
// small to say anything about.
func NewDetector(threshold float64, minSamples int) *Detector {
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultThreshold
	}
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	return &Detector{threshold: threshold, minSamples: minSamples}
}

// Annotate fits a forest on the window and returns a copy of every event
// with its outlier score filled in. Windows below minSamples come back
// unscored rather than scored badly.
func (d *Detector) Annotate(events []domain.AnnotatedWhaleEvent) []domain.AnnotatedWhaleEvent {
	out := make([]domain.AnnotatedWhaleEvent, len(events))
	copy(out, events)
	if len(events) < d.minSamples {
		return out
	}

	samples := make([][]float64, len(events))
	for i, ev := range events {
		samples[i] = featureVector(ev.WhaleEvent)
	}

	forest := iforest.New()
	forest.Fit(samples)
	scores := forest.Score(samples)
	if len(scores) != len(out) {
		return out
	}
	for i, score := range scores {
		out[i].AnomalyScore = score
		out[i].Anomalous = score >= d.threshold
	}
	return out
}

// featureVector projects an event onto the axes the forest splits on:
// log-compressed notional, side, order flavor and time of day.
func featureVector(ev domain.WhaleEvent) []float64 {
	return []float64{
		math.Log1p(math.Max(ev.USDValue, 0)),
		sideSign(ev.Side),
		typeOrdinal(ev.EventType),
		float64(ev.Time.UTC().Hour()),
	}
}

func sideSign(side string) float64 {
	switch side {
	case domain.SideBid:
		return 1
	case domain.SideAsk:
		return -1
	default:
		return 0
	}
}

func typeOrdinal(eventType string) float64 {
	switch eventType {
	case domain.EventTypeMarket:
		return 3
	case domain.EventTypeIncrease:
		return 2
	case domain.EventTypeNew:
		return 1
	case domain.EventTypeDecrease:
		return -1
	default:
		return 0
	}
}
