package job

import (
	"context"
	"log"
	"time"

	"whalepulse/internal/ml/inference"

	"go.opentelemetry.io/otel/trace"
)

type MLInferencer interface {
	InferLatest(ctx context.Context, now time.Time) (inference.RunResult, error)
}

// MLFeatureInferenceJob drives the predict side of the pipeline: each cycle
// refreshes feature rows and scores the freshest one per symbol. The refresh
// happens inside InferLatest so the models never see stale rows.
type MLFeatureInferenceJob struct {
	tracer trace.Tracer
	svc    MLInferencer
	every  time.Duration
}

func NewMLFeatureInferenceJob(tracer trace.Tracer, svc MLInferencer, every time.Duration) *MLFeatureInferenceJob {
	if every <= 0 {
		every = 15 * time.Minute
	}
	return &MLFeatureInferenceJob{tracer: tracer, svc: svc, every: every}
}

// Start blocks until ctx is done, running one cycle immediately and then one
// per interval.
func (j *MLFeatureInferenceJob) Start(ctx context.Context) {
	if j.svc == nil {
		log.Println("ML inference job not started: pipeline disabled")
		<-ctx.Done()
		return
	}
	runEvery(ctx, j.every, j.cycle)
}

func (j *MLFeatureInferenceJob) cycle(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "ml-feature-inference-job.cycle")
	defer span.End()

	res, err := j.svc.InferLatest(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("ML inference cycle failed: %v", err)
		return
	}
	if res.Predictions > 0 {
		log.Printf("ML inference wrote %d predictions (%d alerts)", res.Predictions, res.Alerts)
	}
}

// runEvery runs fn once up front, then on every tick until ctx ends.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
