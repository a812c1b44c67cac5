package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type MLOutcomeResolver interface {
	ResolveOutcomes(ctx context.Context, now time.Time) (int, error)
}

// MLOutcomeResolverJob grades pending predictions once their target bucket
// has closed, so model accuracy stays measurable.
type MLOutcomeResolverJob struct {
	tracer trace.Tracer
	svc    MLOutcomeResolver
	every  time.Duration
}

func NewMLOutcomeResolverJob(tracer trace.Tracer, svc MLOutcomeResolver, every time.Duration) *MLOutcomeResolverJob {
	if every <= 0 {
		every = 30 * time.Minute
	}
	return &MLOutcomeResolverJob{tracer: tracer, svc: svc, every: every}
}

func (j *MLOutcomeResolverJob) Start(ctx context.Context) {
	if j.svc == nil {
		log.Println("ML outcome resolver not started: pipeline disabled")
		<-ctx.Done()
		return
	}
	runEvery(ctx, j.every, j.cycle)
}

func (j *MLOutcomeResolverJob) cycle(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "ml-outcome-resolver-job.cycle")
	defer span.End()

	n, err := j.svc.ResolveOutcomes(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("ML outcome resolution failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("resolved outcomes for %d predictions", n)
	}
}
