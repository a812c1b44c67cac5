package service

import (
	"context"
	"math"
	"testing"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ml/inference"
	"whalepulse/internal/ml/training"
)

func TestExtractOpenAndTargetClose(t *testing.T) {
	t.Parallel()

	open := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	target := open.Add(4 * time.Hour)
	points := []domain.PricePoint{
		{Time: target, Value: 120},
		{Time: open, Value: 100},
		{Time: open.Add(2 * time.Hour), Value: 110},
	}

	openPx, targetPx, ok := extractOpenAndTargetClose(points, open, target)
	if !ok {
		t.Fatal("expected to find open and target prices")
	}
	if openPx != 100 || targetPx != 120 {
		t.Fatalf("unexpected prices open=%.2f target=%.2f", openPx, targetPx)
	}

	if _, _, ok := extractOpenAndTargetClose(points[1:], open, target); ok {
		t.Fatal("expected no match once the target bucket is missing")
	}
}

func TestIsCallCorrect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		direction domain.AlertDirection
		actualUp  bool
		realized  float64
		want      bool
	}{
		{"long rewarded by up move", domain.DirectionLong, true, 0.03, true},
		{"long punished by down move", domain.DirectionLong, false, -0.03, false},
		{"short rewarded by down move", domain.DirectionShort, false, -0.02, true},
		{"short punished by up move", domain.DirectionShort, true, 0.02, false},
		{"hold correct inside band", domain.DirectionHold, true, 0.004, true},
		{"hold wrong outside band", domain.DirectionHold, true, 0.02, false},
	}
	for _, tc := range cases {
		if got := isCallCorrect(tc.direction, tc.actualUp, tc.realized); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestMLSignalService_BuildFeatures(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshotStore{recent: featureSnapshots(48)}
	featureStore := &fakeFeatureStore{}
	svc := NewMLSignalService(testTracer, snapshots, nil, nil, featureStore, nil, nil, nil, MLConfig{})

	written, err := svc.BuildFeatures(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written == 0 {
		t.Fatal("expected feature rows from 48 snapshots")
	}
	if featureStore.upsertCalls != len(domain.SupportedSymbols) {
		t.Fatalf("expected one upsert per symbol, got %d", featureStore.upsertCalls)
	}
	if snapshots.lastListInterval != "1h" || snapshots.lastListLimit != 500 {
		t.Fatalf("unexpected snapshot query: %s %d", snapshots.lastListInterval, snapshots.lastListLimit)
	}
	if len(featureStore.lastRows) == 0 || featureStore.lastRows[0].Interval != "1h" {
		t.Fatalf("unexpected rows: %+v", featureStore.lastRows)
	}
}

func TestMLSignalService_BuildFeaturesSkipsShortHistory(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshotStore{recent: featureSnapshots(10)}
	featureStore := &fakeFeatureStore{}
	svc := NewMLSignalService(testTracer, snapshots, nil, nil, featureStore, nil, nil, nil, MLConfig{})

	written, err := svc.BuildFeatures(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 0 || featureStore.upsertCalls != 0 {
		t.Fatalf("warmup-short history should write nothing, got written=%d calls=%d", written, featureStore.upsertCalls)
	}
}

func TestMLSignalService_TrainNow(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshotStore{recent: featureSnapshots(48)}
	trainer := &fakeTrainer{results: []training.ModelTrainResult{
		{ModelKey: "logreg_next", Version: 2, AUC: 0.61, Promoted: true},
	}}
	svc := NewMLSignalService(testTracer, snapshots, nil, nil, &fakeFeatureStore{}, trainer, nil, nil, MLConfig{})

	results, err := svc.TrainNow(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trainer.calls != 1 || len(results) != 1 || results[0].Version != 2 {
		t.Fatalf("unexpected training results: calls=%d %+v", trainer.calls, results)
	}

	uninitialized := NewMLSignalService(testTracer, snapshots, nil, nil, &fakeFeatureStore{}, nil, nil, nil, MLConfig{})
	if _, err := uninitialized.TrainNow(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error without a trainer")
	}
}

func TestMLSignalService_InferLatestRefreshesFeaturesFirst(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshotStore{recent: featureSnapshots(48)}
	featureStore := &fakeFeatureStore{}
	inferer := &fakeInferer{result: inference.RunResult{Predictions: 3, Alerts: 1}}
	svc := NewMLSignalService(testTracer, snapshots, nil, nil, featureStore, nil, inferer, nil, MLConfig{})

	result, err := svc.InferLatest(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if featureStore.upsertCalls == 0 {
		t.Fatal("expected features refreshed before inference")
	}
	if inferer.calls != 1 || result.Predictions != 3 || result.Alerts != 1 {
		t.Fatalf("unexpected inference result: calls=%d %+v", inferer.calls, result)
	}
}

func TestMLSignalService_ResolveOutcomes(t *testing.T) {
	t.Parallel()

	open := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	target := open.Add(4 * time.Hour)

	resolver := &fakeResolver{due: []domain.MLPrediction{
		{ID: 1, Symbol: "BTC", Interval: "1h", OpenTime: open, TargetTime: target, Direction: domain.DirectionLong},
		{ID: 2, Symbol: "ETH", Interval: "1h", OpenTime: open, TargetTime: target, Direction: domain.DirectionShort},
	}}
	series := &fakeSeriesWindowStore{points: map[string][]domain.PricePoint{
		"BTC": {
			{Symbol: "BTC", Time: open, Value: 100},
			{Symbol: "BTC", Time: target, Value: 120},
		},
		// ETH has no target bucket price yet, so prediction 2 stays pending.
		"ETH": {
			{Symbol: "ETH", Time: open, Value: 2000},
		},
	}}
	svc := NewMLSignalService(testTracer, &fakeSnapshotStore{}, series, nil, &fakeFeatureStore{}, nil, nil, resolver, MLConfig{})

	resolved, err := svc.ResolveOutcomes(context.Background(), target.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("expected exactly one resolution, got %d", resolved)
	}
	if len(resolver.resolved) != 1 {
		t.Fatalf("expected one resolve call, got %d", len(resolver.resolved))
	}
	call := resolver.resolved[0]
	if call.id != 1 || !call.actualUp || !call.isCorrect {
		t.Fatalf("unexpected resolution: %+v", call)
	}
	if math.Abs(call.realized-0.2) > 1e-9 {
		t.Fatalf("expected +20%% realized return, got %f", call.realized)
	}
}

func TestMLSignalService_Predictions(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{recent: []domain.MLPrediction{{ID: 9, Symbol: "BTC", ModelKey: "ensemble_next"}}}
	svc := NewMLSignalService(testTracer, &fakeSnapshotStore{}, nil, nil, &fakeFeatureStore{}, nil, nil, resolver, MLConfig{})

	preds, err := svc.Predictions(context.Background(), "BTC", "ensemble_next", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preds) != 1 || preds[0].ID != 9 {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
	if resolver.lastRecentSymbol != "BTC" || resolver.lastRecentModelKey != "ensemble_next" || resolver.lastRecentLimit != 5 {
		t.Fatalf("unexpected query args: %s %s %d", resolver.lastRecentSymbol, resolver.lastRecentModelKey, resolver.lastRecentLimit)
	}
}

// featureSnapshots builds an hourly snapshot series long enough to clear the
// feature engine's warmup window, with enough variance for usable z-scores.
func featureSnapshots(n int) []domain.MetricSnapshot {
	out := make([]domain.MetricSnapshot, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out = append(out, domain.MetricSnapshot{
			Symbol:          "BTC",
			Interval:        "1h",
			BucketTime:      start.Add(time.Duration(i) * time.Hour),
			PriceChangePct:  0.3,
			SentimentScore:  50 + float64(i%9),
			PressureValue:   float64(i%15) - 7,
			LiquidityChange: float64(i % 6),
			VolatilityScore: 5 + float64(i%4),
			CoordScore:      float64(i % 35),
			WhaleCount:      2 + i%5,
			WhaleVolumeUSD:  150000 + float64(i*2000),
		})
	}
	return out
}

type fakeFeatureStore struct {
	err error

	upsertCalls int
	lastRows    []domain.MLFeatureRow
}

func (f *fakeFeatureStore) UpsertRows(ctx context.Context, rows []domain.MLFeatureRow) error {
	f.upsertCalls++
	f.lastRows = rows
	return f.err
}

type fakeTrainer struct {
	results []training.ModelTrainResult
	err     error
	calls   int
}

func (f *fakeTrainer) TrainAll(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeInferer struct {
	result inference.RunResult
	err    error
	calls  int
}

func (f *fakeInferer) RunLatest(ctx context.Context, now time.Time) (inference.RunResult, error) {
	f.calls++
	if f.err != nil {
		return inference.RunResult{}, f.err
	}
	return f.result, nil
}

type resolvedCall struct {
	id        int64
	actualUp  bool
	isCorrect bool
	realized  float64
}

type fakeResolver struct {
	due     []domain.MLPrediction
	recent  []domain.MLPrediction
	listErr error

	resolved           []resolvedCall
	lastRecentSymbol   string
	lastRecentModelKey string
	lastRecentLimit    int
}

func (f *fakeResolver) ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.MLPrediction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.due, nil
}

func (f *fakeResolver) ResolvePrediction(ctx context.Context, predictionID int64, actualUp bool, isCorrect bool, realizedReturn float64) error {
	f.resolved = append(f.resolved, resolvedCall{id: predictionID, actualUp: actualUp, isCorrect: isCorrect, realized: realizedReturn})
	return nil
}

func (f *fakeResolver) ListRecent(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error) {
	f.lastRecentSymbol = symbol
	f.lastRecentModelKey = modelKey
	f.lastRecentLimit = limit
	return f.recent, nil
}
