package anomaly

import (
	"testing"
	"time"

	"whalepulse/internal/domain"
)

func annotated(eventType, side string, usd float64, ts time.Time) domain.AnnotatedWhaleEvent {
	return domain.AnnotatedWhaleEvent{
		WhaleEvent: domain.WhaleEvent{
			Symbol:    "BTC",
			EventType: eventType,
			Side:      side,
			USDValue:  usd,
			Time:      ts,
		},
	}
}

func TestAnnotateSmallWindowUnscored(t *testing.T) {
	t.Parallel()

	d := NewDetector(0.5, 10)
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	events := []domain.AnnotatedWhaleEvent{
		annotated(domain.EventTypeMarket, domain.SideBid, 100000, now),
		annotated(domain.EventTypeNew, domain.SideAsk, 200000, now),
	}
	got := d.Annotate(events)
	if len(got) != len(events) {
		t.Fatalf("expected %d annotated events, got %d", len(events), len(got))
	}
	for _, ev := range got {
		if ev.Anomalous || ev.AnomalyScore != 0 {
			t.Fatalf("small window must stay unscored, got %+v", ev)
		}
	}
}

func TestAnnotateFlagsExtremeOutlier(t *testing.T) {
	t.Parallel()

	d := NewDetector(0.5, 8)
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	events := make([]domain.AnnotatedWhaleEvent, 0, 41)
	for i := 0; i < 40; i++ {
		ev := annotated(domain.EventTypeNew, domain.SideBid, 50000, base.Add(time.Duration(i)*time.Second))
		ev.ID = int64(i + 1)
		events = append(events, ev)
	}
	outlierEvent := annotated(domain.EventTypeMarket, domain.SideAsk, 50000000, base.Add(12*time.Hour))
	outlierEvent.ID = 41
	events = append(events, outlierEvent)

	got := d.Annotate(events)
	if len(got) != 41 {
		t.Fatalf("expected 41 annotated events, got %d", len(got))
	}

	outlier := got[40]
	if outlier.ID != 41 {
		t.Fatalf("row identity must survive annotation, got %+v", outlier)
	}
	for i, ev := range got {
		if ev.AnomalyScore < 0 || ev.AnomalyScore > 1 {
			t.Fatalf("score out of range at %d: %v", i, ev.AnomalyScore)
		}
		if i < 40 && ev.AnomalyScore >= outlier.AnomalyScore {
			t.Fatalf("uniform event %d scored %v, outlier scored %v", i, ev.AnomalyScore, outlier.AnomalyScore)
		}
	}
}

func TestNewDetectorDefaults(t *testing.T) {
	t.Parallel()

	d := NewDetector(-1, 0)
	if d.threshold != defaultThreshold || d.minSamples != defaultMinSamples {
		t.Fatalf("expected defaults, got threshold=%v minSamples=%d", d.threshold, d.minSamples)
	}
}
