package job

import (
	"context"
	"log"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type MetricsCycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (domain.MetricsRunResult, error)
}

// MetricsJob drives the periodic metric computation cycle.
type MetricsJob struct {
	tracer       trace.Tracer
	runner       MetricsCycleRunner
	pollInterval time.Duration
}

func NewMetricsJob(tracer trace.Tracer, runner MetricsCycleRunner, pollInterval time.Duration) *MetricsJob {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &MetricsJob{tracer: tracer, runner: runner, pollInterval: pollInterval}
}

func (j *MetricsJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Metrics job disabled: no runner")
		<-ctx.Done()
		return
	}

	runEvery(ctx, j.pollInterval, j.runOnce)
}

func (j *MetricsJob) runOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "metrics-job.run-once")
	defer span.End()

	result, err := j.runner.RunCycle(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("Metrics cycle error: %v", err)
		return
	}
	if result.SnapshotsWritten > 0 || result.AlertsWritten > 0 || len(result.Errors) > 0 {
		log.Printf(
			"Metrics cycle complete snapshots=%d alerts=%d scored=%d warnings=%d",
			result.SnapshotsWritten,
			result.AlertsWritten,
			result.EventsScored,
			len(result.Errors),
		)
	}
}
