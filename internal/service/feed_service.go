package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"whalepulse/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const priceCacheTTL = 90 * time.Second

type PriceProvider interface {
	FetchPrices(ctx context.Context) (map[string]*domain.PriceSnapshot, error)
	FetchPriceSeries(ctx context.Context, symbol string, days int, interval string) ([]domain.PricePoint, error)
}

type WhaleFeed interface {
	FetchEvents(ctx context.Context, symbol string, since time.Time) ([]domain.WhaleEvent, error)
}

type PriceStore interface {
	UpsertPoints(ctx context.Context, interval string, points []domain.PricePoint) error
	GetSeries(ctx context.Context, symbol, interval string, limit int) ([]domain.PricePoint, error)
}

type WhaleEventStore interface {
	InsertEvents(ctx context.Context, events []domain.WhaleEvent) (int, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error)
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// FeedService keeps the local copies of upstream data fresh: spot prices in
// Redis, downsampled price series and whale events in Postgres.
type FeedService struct {
	tracer        trace.Tracer
	prices        PriceProvider
	whales        WhaleFeed
	priceRepo     PriceStore
	eventRepo     WhaleEventStore
	redis         RedisClient
	eventLookback time.Duration
}

// NewFeedService wires the refresh paths. whales may be nil when no feed is
// configured; event refreshes then become no-ops. eventLookback controls how
// far back each event poll reaches; overlap is safe because inserts dedup.
func NewFeedService(
	tracer trace.Tracer,
	prices PriceProvider,
	whales WhaleFeed,
	priceRepo PriceStore,
	eventRepo WhaleEventStore,
	redisClient RedisClient,
	eventLookback time.Duration,
) *FeedService {
	if eventLookback <= 0 {
		eventLookback = 5 * time.Minute
	}
	return &FeedService{
		tracer:        tracer,
		prices:        prices,
		whales:        whales,
		priceRepo:     priceRepo,
		eventRepo:     eventRepo,
		redis:         redisClient,
		eventLookback: eventLookback,
	}
}

// GetCurrentPrice returns the latest cached price for a symbol.
// Falls back to a live API call if cache is empty/expired.
func (s *FeedService) GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error) {
	_, span := s.tracer.Start(ctx, "feed-service.get-current-price")
	defer span.End()

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	if s.redis != nil {
		cached, err := s.getPriceCache(ctx, symbol)
		if err != nil {
			log.Printf("redis cache read error: %v", err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	// Cache miss: fetch all prices (single batched API call), cache them
	prices, err := s.prices.FetchPrices(ctx)
	if err != nil {
		return nil, err
	}

	for _, snap := range prices {
		if s.redis != nil {
			_ = s.setPriceCache(ctx, snap)
		}
	}

	snap, ok := prices[symbol]
	if !ok {
		return nil, fmt.Errorf("price not available for %s", symbol)
	}
	return snap, nil
}

// GetCurrentPrices returns latest cached prices for all supported symbols.
func (s *FeedService) GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error) {
	_, span := s.tracer.Start(ctx, "feed-service.get-current-prices")
	defer span.End()

	var snapshots []*domain.PriceSnapshot
	var missing []string

	for _, symbol := range domain.SupportedSymbols {
		if s.redis != nil {
			cached, _ := s.getPriceCache(ctx, symbol)
			if cached != nil {
				snapshots = append(snapshots, cached)
				continue
			}
		}
		missing = append(missing, symbol)
	}

	if len(missing) > 0 {
		prices, err := s.prices.FetchPrices(ctx)
		if err != nil {
			return snapshots, err
		}
		for _, snap := range prices {
			if s.redis != nil {
				_ = s.setPriceCache(ctx, snap)
			}
			snapshots = append(snapshots, snap)
		}
	}

	return snapshots, nil
}

// GetSeries returns stored price points for a symbol and interval, newest first.
func (s *FeedService) GetSeries(ctx context.Context, symbol, interval string, limit int) ([]domain.PricePoint, error) {
	return s.priceRepo.GetSeries(ctx, symbol, interval, limit)
}

// RecentEvents returns a symbol's newest stored whale events, newest first.
func (s *FeedService) RecentEvents(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error) {
	return s.eventRepo.ListRecent(ctx, symbol, limit)
}

// RefreshPrices fetches latest prices from CoinGecko and caches in Redis.
func (s *FeedService) RefreshPrices(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "feed-service.refresh-prices")
	defer span.End()

	prices, err := s.prices.FetchPrices(ctx)
	if err != nil {
		return err
	}

	for _, snap := range prices {
		if s.redis != nil {
			if err := s.setPriceCache(ctx, snap); err != nil {
				log.Printf("redis cache write error for %s: %v", snap.Symbol, err)
			}
		}
	}

	log.Printf("Refreshed prices for %d assets", len(prices))
	return nil
}

// RefreshSeries fetches market_chart data and stores the downsampled series
// for one symbol/interval.
func (s *FeedService) RefreshSeries(ctx context.Context, symbol, interval string) error {
	_, span := s.tracer.Start(ctx, "feed-service.refresh-series")
	defer span.End()

	points, err := s.prices.FetchPriceSeries(ctx, symbol, daysForInterval(interval), interval)
	if err != nil {
		return err
	}

	if err := s.priceRepo.UpsertPoints(ctx, interval, points); err != nil {
		return fmt.Errorf("upsert %s series for %s: %w", interval, symbol, err)
	}

	log.Printf("Refreshed %s series for %s (%d points)", interval, symbol, len(points))
	return nil
}

// RefreshEvents polls the whale feed for one symbol and stores what is new.
// Returns the number of rows actually inserted.
func (s *FeedService) RefreshEvents(ctx context.Context, symbol string) (int, error) {
	_, span := s.tracer.Start(ctx, "feed-service.refresh-events")
	defer span.End()

	if s.whales == nil {
		return 0, nil
	}

	since := time.Now().UTC().Add(-s.eventLookback)
	events, err := s.whales.FetchEvents(ctx, symbol, since)
	if err != nil {
		return 0, err
	}

	inserted, err := s.eventRepo.InsertEvents(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("insert whale events for %s: %w", symbol, err)
	}
	if inserted > 0 {
		log.Printf("Stored %d new whale events for %s", inserted, symbol)
	}
	return inserted, nil
}

// daysForInterval picks the market_chart range whose source granularity can
// fill the interval's buckets. days=1 returns ~5min points, days=30 ~1h.
func daysForInterval(interval string) int {
	switch interval {
	case "4h":
		return 30
	default:
		return 1
	}
}

func (s *FeedService) setPriceCache(ctx context.Context, snapshot *domain.PriceSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, "price:"+snapshot.Symbol, data, priceCacheTTL).Err()
}

func (s *FeedService) getPriceCache(ctx context.Context, symbol string) (*domain.PriceSnapshot, error) {
	data, err := s.redis.Get(ctx, "price:"+symbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot domain.PriceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
