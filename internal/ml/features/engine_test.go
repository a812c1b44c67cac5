package features

import (
	"testing"
	"time"

	"whalepulse/internal/domain"
)

func TestEngineBuildRowsDeterministic(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(func() time.Time { return now })
	snaps := makeSnapshots(48)

	rowsA := engine.BuildRows(snaps, 4)
	rowsB := engine.BuildRows(snaps, 4)
	if len(rowsA) == 0 {
		t.Fatal("expected non-empty feature rows")
	}
	if len(rowsA) != len(rowsB) {
		t.Fatalf("expected deterministic row count, got %d vs %d", len(rowsA), len(rowsB))
	}
	if rowsA[0].Ret1 != rowsB[0].Ret1 || rowsA[0].WhaleVolumeZ != rowsB[0].WhaleVolumeZ {
		t.Fatalf("expected deterministic features, got %+v vs %+v", rowsA[0], rowsB[0])
	}
	if !rowsA[0].CreatedAt.Equal(now) {
		t.Fatalf("expected created_at from injected clock, got %s", rowsA[0].CreatedAt)
	}

	hasLabeled := false
	hasUnlabeled := false
	for _, row := range rowsA {
		if row.TargetUpNext != nil {
			hasLabeled = true
		} else {
			hasUnlabeled = true
		}
	}
	if !hasLabeled || !hasUnlabeled {
		t.Fatalf("expected both labeled and unlabeled rows, got labeled=%v unlabeled=%v", hasLabeled, hasUnlabeled)
	}
}

func TestEngineLabelsFollowPriceIndex(t *testing.T) {
	engine := NewEngine(nil)
	snaps := makeSnapshots(48)
	// Rising price changes throughout, so every labeled row must be up.
	rows := engine.BuildRows(snaps, 2)
	for _, row := range rows {
		if row.TargetUpNext != nil && !*row.TargetUpNext {
			t.Fatalf("expected up label at %s in a rising series", row.OpenTime)
		}
	}
}

func TestEngineSkipsUnusableSnapshots(t *testing.T) {
	engine := NewEngine(nil)
	if rows := engine.BuildRows(nil, 4); rows != nil {
		t.Fatalf("expected nil rows for nil input, got %d", len(rows))
	}
	if rows := engine.BuildRows(makeSnapshots(10), 4); len(rows) != 0 {
		t.Fatalf("expected no rows inside the warmup window, got %d", len(rows))
	}
}

func makeSnapshots(n int) []domain.MetricSnapshot {
	out := make([]domain.MetricSnapshot, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out = append(out, domain.MetricSnapshot{
			Symbol:          "BTC",
			Interval:        "1h",
			BucketTime:      start.Add(time.Duration(i) * time.Hour),
			PriceChangePct:  0.4,
			SentimentScore:  50 + float64(i%7),
			PressureValue:   float64(i%21) - 10,
			LiquidityChange: float64(i % 5),
			VolatilityScore: 4 + float64(i%3),
			CoordScore:      float64(i % 40),
			WhaleCount:      3 + i%4,
			WhaleVolumeUSD:  200000 + float64(i*1500),
		})
	}
	return out
}
