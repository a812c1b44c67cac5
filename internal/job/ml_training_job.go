package job

import (
	"context"
	"log"
	"time"

	"whalepulse/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

type MLTrainer interface {
	TrainNow(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error)
}

// MLTrainingJob retrains every model once a day at a fixed UTC hour.
type MLTrainingJob struct {
	tracer trace.Tracer
	svc    MLTrainer
	hour   int
}

func NewMLTrainingJob(tracer trace.Tracer, svc MLTrainer, trainHourUTC int) *MLTrainingJob {
	if trainHourUTC < 0 || trainHourUTC > 23 {
		trainHourUTC = 0
	}
	return &MLTrainingJob{tracer: tracer, svc: svc, hour: trainHourUTC}
}

func (j *MLTrainingJob) Start(ctx context.Context) {
	if j.svc == nil {
		log.Println("ML training job not started: pipeline disabled")
		<-ctx.Done()
		return
	}

	for {
		wait := time.Until(nextRunUTC(time.Now().UTC(), j.hour))
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.cycle(ctx)
		}
	}
}

func (j *MLTrainingJob) cycle(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "ml-training-job.cycle")
	defer span.End()

	results, err := j.svc.TrainNow(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("ML training failed: %v", err)
		return
	}
	for _, r := range results {
		log.Printf("trained %s v%d auc=%.4f promoted=%v", r.ModelKey, r.Version, r.AUC, r.Promoted)
	}
}

// nextRunUTC is the next wall-clock occurrence of hour:00 UTC strictly after
// now.
func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.AddDate(0, 0, 1)
	}
	return run
}
