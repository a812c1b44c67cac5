package metrics

import (
	"time"

	"whalepulse/internal/domain"
)

// Config carries every threshold and weight the engine uses. Zero or
// inconsistent fields are replaced with the canonical defaults by NewEngine,
// so operators can override single groups without restating the rest.
type Config struct {
	// Market sentiment
	SentimentBase         float64
	EventWeights          map[string]float64
	ValueScaleUSD         float64
	ValueScaleCap         float64
	PriceChangeMultiplier float64
	VeryBullishMin        float64
	BullishMin            float64
	NeutralMin            float64
	BearishMin            float64

	// Whale pressure
	MarketOrderFactor  float64
	IncreaseFactor     float64
	RestingOrderFactor float64
	StrongPressureMin  float64
	PressureMin        float64

	// Volatility index
	ExtremeVolMin  float64
	HighVolMin     float64
	ModerateVolMin float64
	LowVolMin      float64

	// Coordination score
	CoordinationBucket    time.Duration
	BurstWeight           float64
	DirectionWeight       float64
	UniformityWeight      float64
	HighCoordinationMin   float64
	CoordinationMin       float64
	MixedMin              float64
	MinCoordinationEvents int
}

// WeightKey builds the sentiment weight lookup key for an event type and side.
func WeightKey(eventType, side string) string {
	return eventType + "|" + side
}

func DefaultConfig() Config {
	return Config{
		SentimentBase: 50,
		EventWeights: map[string]float64{
			WeightKey(domain.EventTypeMarket, domain.SideBid):   8,
			WeightKey(domain.EventTypeMarket, domain.SideAsk):   -8,
			WeightKey(domain.EventTypeIncrease, domain.SideBid): 5,
			WeightKey(domain.EventTypeIncrease, domain.SideAsk): -5,
			WeightKey(domain.EventTypeNew, domain.SideBid):      4,
			WeightKey(domain.EventTypeNew, domain.SideAsk):      -4,
			WeightKey(domain.EventTypeDecrease, domain.SideBid): -3,
			WeightKey(domain.EventTypeDecrease, domain.SideAsk): 3,
		},
		ValueScaleUSD:         100000,
		ValueScaleCap:         3,
		PriceChangeMultiplier: 5,
		VeryBullishMin:        75,
		BullishMin:            60,
		NeutralMin:            40,
		BearishMin:            25,

		MarketOrderFactor:  1.0,
		IncreaseFactor:     0.5,
		RestingOrderFactor: 0.7,
		StrongPressureMin:  30,
		PressureMin:        10,

		ExtremeVolMin:  50,
		HighVolMin:     20,
		ModerateVolMin: 10,
		LowVolMin:      5,

		CoordinationBucket:    5 * time.Minute,
		BurstWeight:           0.40,
		DirectionWeight:       0.35,
		UniformityWeight:      0.25,
		HighCoordinationMin:   75,
		CoordinationMin:       50,
		MixedMin:              25,
		MinCoordinationEvents: 3,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()

	if cfg.SentimentBase <= 0 || cfg.SentimentBase >= 100 {
		cfg.SentimentBase = def.SentimentBase
	}
	if len(cfg.EventWeights) == 0 {
		cfg.EventWeights = def.EventWeights
	}
	if cfg.ValueScaleUSD <= 0 {
		cfg.ValueScaleUSD = def.ValueScaleUSD
	}
	if cfg.ValueScaleCap <= 0 {
		cfg.ValueScaleCap = def.ValueScaleCap
	}
	if cfg.PriceChangeMultiplier == 0 {
		cfg.PriceChangeMultiplier = def.PriceChangeMultiplier
	}
	if !(cfg.VeryBullishMin > cfg.BullishMin && cfg.BullishMin > cfg.NeutralMin && cfg.NeutralMin > cfg.BearishMin && cfg.BearishMin > 0) {
		cfg.VeryBullishMin = def.VeryBullishMin
		cfg.BullishMin = def.BullishMin
		cfg.NeutralMin = def.NeutralMin
		cfg.BearishMin = def.BearishMin
	}

	if cfg.MarketOrderFactor <= 0 {
		cfg.MarketOrderFactor = def.MarketOrderFactor
	}
	if cfg.IncreaseFactor <= 0 {
		cfg.IncreaseFactor = def.IncreaseFactor
	}
	if cfg.RestingOrderFactor <= 0 {
		cfg.RestingOrderFactor = def.RestingOrderFactor
	}
	if !(cfg.StrongPressureMin > cfg.PressureMin && cfg.PressureMin > 0) {
		cfg.StrongPressureMin = def.StrongPressureMin
		cfg.PressureMin = def.PressureMin
	}

	if !(cfg.ExtremeVolMin > cfg.HighVolMin && cfg.HighVolMin > cfg.ModerateVolMin && cfg.ModerateVolMin > cfg.LowVolMin && cfg.LowVolMin > 0) {
		cfg.ExtremeVolMin = def.ExtremeVolMin
		cfg.HighVolMin = def.HighVolMin
		cfg.ModerateVolMin = def.ModerateVolMin
		cfg.LowVolMin = def.LowVolMin
	}

	if cfg.CoordinationBucket <= 0 {
		cfg.CoordinationBucket = def.CoordinationBucket
	}
	if cfg.BurstWeight <= 0 || cfg.DirectionWeight <= 0 || cfg.UniformityWeight <= 0 {
		cfg.BurstWeight = def.BurstWeight
		cfg.DirectionWeight = def.DirectionWeight
		cfg.UniformityWeight = def.UniformityWeight
	}
	if !(cfg.HighCoordinationMin > cfg.CoordinationMin && cfg.CoordinationMin > cfg.MixedMin && cfg.MixedMin > 0) {
		cfg.HighCoordinationMin = def.HighCoordinationMin
		cfg.CoordinationMin = def.CoordinationMin
		cfg.MixedMin = def.MixedMin
	}
	if cfg.MinCoordinationEvents <= 0 {
		cfg.MinCoordinationEvents = def.MinCoordinationEvents
	}

	return cfg
}
