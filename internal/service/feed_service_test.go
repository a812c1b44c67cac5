package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"whalepulse/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestFeedService_GetCurrentPriceCacheHit(t *testing.T) {
	t.Parallel()

	redisClient := newFakeRedis()
	snap := &domain.PriceSnapshot{Symbol: "BTC", PriceUSD: 123.45}
	data, _ := json.Marshal(snap)
	_ = redisClient.Set(context.Background(), "price:BTC", data, 0)

	svc := NewFeedService(testTracer, &mockPriceProvider{}, nil, &mockPriceStore{}, &mockEventStore{}, redisClient, 0)

	got, err := svc.GetCurrentPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PriceUSD != snap.PriceUSD {
		t.Fatalf("expected %.2f, got %.2f", snap.PriceUSD, got.PriceUSD)
	}
}

func TestFeedService_GetCurrentPriceFetchesOnMiss(t *testing.T) {
	t.Parallel()

	provider := &mockPriceProvider{
		prices: map[string]*domain.PriceSnapshot{
			"BTC": {Symbol: "BTC", PriceUSD: 42},
		},
	}
	redisClient := newFakeRedis()
	svc := NewFeedService(testTracer, provider, nil, &mockPriceStore{}, &mockEventStore{}, redisClient, 0)

	got, err := svc.GetCurrentPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "BTC" || got.PriceUSD != 42 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if provider.fetchPricesCalls != 1 {
		t.Fatalf("expected FetchPrices to be called once, got %d", provider.fetchPricesCalls)
	}
	if _, ok := redisClient.data["price:BTC"]; !ok {
		t.Fatalf("price not cached")
	}
}

func TestFeedService_GetCurrentPriceUnsupported(t *testing.T) {
	t.Parallel()

	svc := NewFeedService(testTracer, &mockPriceProvider{}, nil, &mockPriceStore{}, &mockEventStore{}, nil, 0)
	if _, err := svc.GetCurrentPrice(context.Background(), "FAKE"); err == nil {
		t.Fatal("expected error for unsupported symbol")
	}
}

func TestFeedService_GetCurrentPricesUsesCache(t *testing.T) {
	t.Parallel()

	redisClient := newFakeRedis()
	cached := &domain.PriceSnapshot{Symbol: "BTC", PriceUSD: 1}
	data, _ := json.Marshal(cached)
	_ = redisClient.Set(context.Background(), "price:BTC", data, 0)

	prices := make(map[string]*domain.PriceSnapshot)
	for _, symbol := range domain.SupportedSymbols {
		if symbol == "BTC" {
			continue
		}
		prices[symbol] = &domain.PriceSnapshot{Symbol: symbol, PriceUSD: float64(len(symbol))}
	}

	provider := &mockPriceProvider{prices: prices}
	svc := NewFeedService(testTracer, provider, nil, &mockPriceStore{}, &mockEventStore{}, redisClient, 0)

	snapshots, err := svc.GetCurrentPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.fetchPricesCalls != 1 {
		t.Fatalf("expected fetch once, got %d", provider.fetchPricesCalls)
	}
	if len(snapshots) != len(domain.SupportedSymbols) {
		t.Fatalf("expected %d snapshots, got %d", len(domain.SupportedSymbols), len(snapshots))
	}
}

func TestFeedService_RefreshPricesCachesAll(t *testing.T) {
	t.Parallel()

	provider := &mockPriceProvider{
		prices: map[string]*domain.PriceSnapshot{
			"BTC": {Symbol: "BTC", PriceUSD: 10},
			"ETH": {Symbol: "ETH", PriceUSD: 20},
		},
	}
	redisClient := newFakeRedis()
	svc := NewFeedService(testTracer, provider, nil, &mockPriceStore{}, &mockEventStore{}, redisClient, 0)

	if err := svc.RefreshPrices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.fetchPricesCalls != 1 {
		t.Fatalf("expected fetch once, got %d", provider.fetchPricesCalls)
	}
	if len(redisClient.data) != 2 {
		t.Fatalf("expected cached entries, got %d", len(redisClient.data))
	}
}

func TestFeedService_RefreshSeries(t *testing.T) {
	t.Parallel()

	points := []domain.PricePoint{{Symbol: "BTC", Value: 50000}}
	provider := &mockPriceProvider{seriesPoints: points}
	repo := &mockPriceStore{}
	svc := NewFeedService(testTracer, provider, nil, repo, &mockEventStore{}, nil, 0)

	if err := svc.RefreshSeries(context.Background(), "BTC", "15m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.lastSeriesSymbol != "BTC" || provider.lastSeriesDays != 1 || provider.lastSeriesInterval != "15m" {
		t.Fatalf("unexpected series args: %+v", provider)
	}
	if repo.upsertCalls != 1 || repo.lastUpsertInterval != "15m" || len(repo.upsertArg) != 1 {
		t.Fatalf("unexpected upsert call: calls=%d interval=%s", repo.upsertCalls, repo.lastUpsertInterval)
	}

	if err := svc.RefreshSeries(context.Background(), "BTC", "4h"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.lastSeriesDays != 30 {
		t.Fatalf("expected days=30 for 4h series, got %d", provider.lastSeriesDays)
	}
}

func TestFeedService_RefreshEvents(t *testing.T) {
	t.Parallel()

	feed := &mockWhaleFeed{events: []domain.WhaleEvent{
		{Symbol: "BTC", EventType: domain.EventTypeMarket, Side: domain.SideBid, USDValue: 250000},
		{Symbol: "BTC", EventType: domain.EventTypeNew, Side: domain.SideAsk, USDValue: 130000},
	}}
	events := &mockEventStore{insertResult: 2}
	svc := NewFeedService(testTracer, &mockPriceProvider{}, feed, &mockPriceStore{}, events, nil, 10*time.Minute)

	inserted, err := svc.RefreshEvents(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}
	if feed.lastSymbol != "BTC" {
		t.Fatalf("unexpected feed symbol %q", feed.lastSymbol)
	}
	if time.Since(feed.lastSince) < 10*time.Minute-time.Minute {
		t.Fatalf("lookback not applied, since=%s", feed.lastSince)
	}
	if events.insertCalls != 1 || len(events.insertArg) != 2 {
		t.Fatalf("unexpected insert call: calls=%d events=%d", events.insertCalls, len(events.insertArg))
	}
}

func TestFeedService_RefreshEventsNoFeed(t *testing.T) {
	t.Parallel()

	events := &mockEventStore{}
	svc := NewFeedService(testTracer, &mockPriceProvider{}, nil, &mockPriceStore{}, events, nil, 0)

	inserted, err := svc.RefreshEvents(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 0 || events.insertCalls != 0 {
		t.Fatalf("expected no-op without a feed, got inserted=%d calls=%d", inserted, events.insertCalls)
	}
}

func TestFeedService_RecentEvents(t *testing.T) {
	t.Parallel()

	events := &mockEventStore{recent: []domain.AnnotatedWhaleEvent{
		{WhaleEvent: domain.WhaleEvent{Symbol: "ETH", USDValue: 500000}},
	}}
	svc := NewFeedService(testTracer, &mockPriceProvider{}, nil, &mockPriceStore{}, events, nil, 0)

	got, err := svc.RecentEvents(context.Background(), "ETH", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events.lastRecentSymbol != "ETH" || events.lastRecentLimit != 5 {
		t.Fatalf("unexpected repo args: %s %d", events.lastRecentSymbol, events.lastRecentLimit)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
}

type mockPriceProvider struct {
	prices       map[string]*domain.PriceSnapshot
	seriesPoints []domain.PricePoint
	priceErr     error
	seriesErr    error

	fetchPricesCalls   int
	seriesCalls        int
	lastSeriesSymbol   string
	lastSeriesDays     int
	lastSeriesInterval string
}

func (m *mockPriceProvider) FetchPrices(ctx context.Context) (map[string]*domain.PriceSnapshot, error) {
	m.fetchPricesCalls++
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	return m.prices, nil
}

func (m *mockPriceProvider) FetchPriceSeries(ctx context.Context, symbol string, days int, interval string) ([]domain.PricePoint, error) {
	m.seriesCalls++
	m.lastSeriesSymbol = symbol
	m.lastSeriesDays = days
	m.lastSeriesInterval = interval
	if m.seriesErr != nil {
		return nil, m.seriesErr
	}
	return m.seriesPoints, nil
}

type mockWhaleFeed struct {
	events     []domain.WhaleEvent
	err        error
	lastSymbol string
	lastSince  time.Time
}

func (m *mockWhaleFeed) FetchEvents(ctx context.Context, symbol string, since time.Time) ([]domain.WhaleEvent, error) {
	m.lastSymbol = symbol
	m.lastSince = since
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

type mockPriceStore struct {
	seriesResp []domain.PricePoint
	seriesErr  error
	upsertErr  error

	upsertCalls        int
	upsertArg          []domain.PricePoint
	lastUpsertInterval string

	lastGetSymbol   string
	lastGetInterval string
	lastGetLimit    int
}

func (m *mockPriceStore) UpsertPoints(ctx context.Context, interval string, points []domain.PricePoint) error {
	m.upsertCalls++
	m.lastUpsertInterval = interval
	m.upsertArg = points
	return m.upsertErr
}

func (m *mockPriceStore) GetSeries(ctx context.Context, symbol, interval string, limit int) ([]domain.PricePoint, error) {
	m.lastGetSymbol = symbol
	m.lastGetInterval = interval
	m.lastGetLimit = limit
	if m.seriesErr != nil {
		return nil, m.seriesErr
	}
	return m.seriesResp, nil
}

type mockEventStore struct {
	insertResult int
	insertErr    error
	recent       []domain.AnnotatedWhaleEvent
	recentErr    error

	insertCalls      int
	insertArg        []domain.WhaleEvent
	lastRecentSymbol string
	lastRecentLimit  int
}

func (m *mockEventStore) InsertEvents(ctx context.Context, events []domain.WhaleEvent) (int, error) {
	m.insertCalls++
	m.insertArg = events
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	return m.insertResult, nil
}

func (m *mockEventStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error) {
	m.lastRecentSymbol = symbol
	m.lastRecentLimit = limit
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	return m.recent, nil
}

type fakeRedis struct {
	data   map[string][]byte
	setErr error
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	default:
		bytes, _ := json.Marshal(v)
		f.data[key] = bytes
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}
