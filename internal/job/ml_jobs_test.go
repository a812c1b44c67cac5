package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"whalepulse/internal/ml/inference"
	"whalepulse/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

func TestMLFeatureInferenceJobRunsAtLeastOnce(t *testing.T) {
	var calls int32
	svc := &inferencerTestStub{calls: &calls}
	job := NewMLFeatureInferenceJob(trace.NewNoopTracerProvider().Tracer("test"), svc, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one inference run")
	}
}

func TestMLOutcomeResolverJobRunsAtLeastOnce(t *testing.T) {
	var calls int32
	svc := &resolverTestStub{calls: &calls}
	job := NewMLOutcomeResolverJob(trace.NewNoopTracerProvider().Tracer("test"), svc, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one resolver run")
	}
}

func TestNextRunUTC(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	next := nextRunUTC(now, 12)
	if next.Day() != 1 || next.Hour() != 12 {
		t.Fatalf("expected same-day 12:00, got %v", next)
	}

	next = nextRunUTC(now, 3)
	if next.Day() != 2 || next.Hour() != 3 {
		t.Fatalf("expected next-day 03:00, got %v", next)
	}
}

func TestMLTrainingJobStopsOnCancel(t *testing.T) {
	t.Parallel()

	job := NewMLTrainingJob(trace.NewNoopTracerProvider().Tracer("test"), &trainerTestStub{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("training job did not stop after cancel")
	}
}

type inferencerTestStub struct {
	calls *int32
}

func (s *inferencerTestStub) InferLatest(ctx context.Context, now time.Time) (inference.RunResult, error) {
	atomic.AddInt32(s.calls, 1)
	return inference.RunResult{Predictions: 1}, nil
}

type resolverTestStub struct {
	calls *int32
}

func (s *resolverTestStub) ResolveOutcomes(ctx context.Context, now time.Time) (int, error) {
	atomic.AddInt32(s.calls, 1)
	return 1, nil
}

type trainerTestStub struct{}

func (trainerTestStub) TrainNow(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error) {
	return nil, nil
}
