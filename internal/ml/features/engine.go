package features

import (
	"math"
	"sort"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ta"
)

const (
	featureSpecVersion = "v1"

	// warmup is the number of trailing buckets the z-score features need.
	warmup = 24
)

// Engine turns a chronological run of metric snapshots into ML feature rows.
// The injected clock keeps created_at deterministic under test.
type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

func FeatureSpecVersion() string {
	return featureSpecVersion
}

// BuildRows derives one feature row per snapshot past the warmup window.
// Returns are taken from a price index compounded out of each bucket's price
// change, so rows need no side channel back to the raw series. Rows whose
// target bucket has not closed yet stay unlabeled.
func (e *Engine) BuildRows(snaps []domain.MetricSnapshot, targetBuckets int) []domain.MLFeatureRow {
	ordered := normalizeSnapshots(snaps)
	if len(ordered) == 0 {
		return nil
	}
	if targetBuckets <= 0 {
		targetBuckets = 4
	}

	index := priceIndex(ordered)
	volumes := make([]float64, len(ordered))
	counts := make([]float64, len(ordered))
	for i := range ordered {
		volumes[i] = ordered[i].WhaleVolumeUSD
		counts[i] = float64(ordered[i].WhaleCount)
	}

	now := e.now().UTC()
	rows := make([]domain.MLFeatureRow, 0, len(ordered))
	for i := range ordered {
		if i < warmup {
			continue
		}

		ret1 := ta.PctReturn(index, i, 1)
		ret4 := ta.PctReturn(index, i, 4)
		ret12 := ta.PctReturn(index, i, 12)
		if anyNaN(ret1, ret4, ret12) {
			continue
		}

		volumeZ := ta.ZScore(volumes, i, warmup)
		countZ := ta.ZScore(counts, i, warmup)
		if anyNaN(volumeZ, countZ) {
			continue
		}

		var target *bool
		targetIdx := i + targetBuckets
		if targetIdx < len(index) {
			up := index[targetIdx] > index[i]
			target = &up
		}

		rows = append(rows, domain.MLFeatureRow{
			Symbol:          ordered[i].Symbol,
			Interval:        ordered[i].Interval,
			OpenTime:        ordered[i].BucketTime.UTC(),
			Ret1:            ret1,
			Ret4:            ret4,
			Ret12:           ret12,
			Volatility:      ordered[i].VolatilityScore,
			Sentiment:       ordered[i].SentimentScore,
			Pressure:        ordered[i].PressureValue,
			LiquidityChange: ordered[i].LiquidityChange,
			Coordination:    ordered[i].CoordScore,
			WhaleVolumeZ:    volumeZ,
			EventCountZ:     countZ,
			TargetUpNext:    target,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return rows
}

func normalizeSnapshots(in []domain.MetricSnapshot) []domain.MetricSnapshot {
	out := make([]domain.MetricSnapshot, 0, len(in))
	for i := range in {
		if in[i].Symbol == "" || in[i].BucketTime.IsZero() {
			continue
		}
		out = append(out, in[i])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketTime.Before(out[j].BucketTime)
	})
	return out
}

// priceIndex compounds per-bucket price changes into a level series starting
// at 100. Buckets without price data carry the index flat.
func priceIndex(snaps []domain.MetricSnapshot) []float64 {
	index := make([]float64, len(snaps))
	level := 100.0
	for i := range snaps {
		change := snaps[i].PriceChangePct
		if !math.IsNaN(change) && !math.IsInf(change, 0) {
			level *= 1 + change/100
		}
		if level <= 0 {
			level = math.SmallestNonzeroFloat64
		}
		index[i] = level
	}
	return index
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
