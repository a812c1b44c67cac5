package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// WhaleFeedProvider pulls large order book and trade events from the
// upstream whale feed. The feed is operated separately; this client only
// normalizes its payloads into domain events.
type WhaleFeedProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	minUSD  float64
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewWhaleFeedProvider creates a feed client. Rate limited to 30 requests
// per minute (one token every 2 seconds).
func NewWhaleFeedProvider(tracer trace.Tracer, baseURL, apiKey string, minUSD float64) *WhaleFeedProvider {
	return &WhaleFeedProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		minUSD:  minUSD,
		tracer:  tracer,
		limiter: NewRateLimiter(30, 2*time.Second),
	}
}

// feedEvent is the upstream wire shape.
type feedEvent struct {
	Symbol    string  `json:"symbol"`
	EventType string  `json:"event_type"`
	Side      string  `json:"side"`
	USDValue  float64 `json:"usd_value"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// FetchEvents returns normalized whale events for one symbol observed since
// the given time. Rows below the configured USD floor or with unusable
// fields are dropped rather than surfaced as errors.
func (p *WhaleFeedProvider) FetchEvents(ctx context.Context, symbol string, since time.Time) ([]domain.WhaleEvent, error) {
	_, span := p.tracer.Start(ctx, "whalefeed.fetch-events")
	defer span.End()

	url := fmt.Sprintf("%s/events?symbol=%s&since=%d&min_value=%.0f",
		p.baseURL, symbol, since.Unix(), p.minUSD)

	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch whale events for %s: %w", symbol, err)
	}

	var payload struct {
		Events []feedEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse whale events for %s: %w", symbol, err)
	}

	events := make([]domain.WhaleEvent, 0, len(payload.Events))
	for _, raw := range payload.Events {
		ev, ok := p.normalizeEvent(raw)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *WhaleFeedProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("whale feed API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// normalizeEvent maps one wire row into a domain event. Sides accept the
// buy/sell aliases some feed versions emit; timestamps accept seconds or
// milliseconds.
func (p *WhaleFeedProvider) normalizeEvent(raw feedEvent) (domain.WhaleEvent, bool) {
	if raw.USDValue <= 0 || raw.USDValue < p.minUSD {
		return domain.WhaleEvent{}, false
	}

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return domain.WhaleEvent{}, false
	}

	side := strings.ToLower(strings.TrimSpace(raw.Side))
	switch side {
	case "buy":
		side = domain.SideBid
	case "sell":
		side = domain.SideAsk
	case domain.SideBid, domain.SideAsk:
	default:
		return domain.WhaleEvent{}, false
	}

	ts := raw.Timestamp
	if ts <= 0 {
		return domain.WhaleEvent{}, false
	}
	if ts > 1_000_000_000_000 {
		ts = ts / 1000
	}

	return domain.WhaleEvent{
		Symbol:    symbol,
		EventType: strings.ToLower(strings.TrimSpace(raw.EventType)),
		Side:      side,
		USDValue:  raw.USDValue,
		Price:     raw.Price,
		Time:      time.Unix(ts, 0).UTC(),
	}, true
}
