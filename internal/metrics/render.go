package metrics

import (
	"context"
	"log"
	"sort"

	"whalepulse/internal/domain"
)

// Renderer receives a computed metric set for presentation. Implementations
// decide the output medium (HTTP payload, chat message, terminal view); the
// engine itself never formats for a specific surface.
type Renderer interface {
	RenderMetrics(ctx context.Context, symbol, interval string, results map[string]domain.MetricResult) error
}

// LogRenderer writes each metric to the process log, one line per metric in
// stable key order. Useful as a default sink and in smoke tests.
type LogRenderer struct{}

func (LogRenderer) RenderMetrics(_ context.Context, symbol, interval string, results map[string]domain.MetricResult) error {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := results[k]
		if r.Formatted != "" {
			log.Printf("metrics %s/%s %s=%.2f (%s, %s) %s", symbol, interval, k, r.Value, r.Label, r.Sentiment, r.Formatted)
			continue
		}
		log.Printf("metrics %s/%s %s=%.2f (%s, %s)", symbol, interval, k, r.Value, r.Label, r.Sentiment)
	}
	return nil
}
