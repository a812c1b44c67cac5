package domain

import "time"

// Event sides as reported by the whale feed.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Event types observed in the whale feed. Unknown types are tolerated and
// contribute nothing to weighted metrics.
const (
	EventTypeMarket   = "market"
	EventTypeNew      = "new"
	EventTypeIncrease = "increase"
	EventTypeDecrease = "decrease"
)

// WhaleEvent is one large order-book or trade action attributed to a
// high-value participant. Externally supplied, never mutated.
type WhaleEvent struct {
	Symbol    string    `json:"symbol"`
	EventType string    `json:"event_type"`
	Side      string    `json:"side"`
	USDValue  float64   `json:"usd_value"`
	Price     float64   `json:"price"`
	Time      time.Time `json:"time"`
}

// AnnotatedWhaleEvent is a stored WhaleEvent enriched with its row ID and
// the outlier score assigned by the anomaly detector. A zero score means
// the event has not been scored yet.
type AnnotatedWhaleEvent struct {
	WhaleEvent
	ID           int64   `json:"id"`
	AnomalyScore float64 `json:"anomaly_score"`
	Anomalous    bool    `json:"anomalous"`
}

// RawEvents unwraps annotated events for consumers that only need the
// underlying feed data.
func RawEvents(events []AnnotatedWhaleEvent) []WhaleEvent {
	if events == nil {
		return nil
	}
	out := make([]WhaleEvent, len(events))
	for i, ev := range events {
		out[i] = ev.WhaleEvent
	}
	return out
}
