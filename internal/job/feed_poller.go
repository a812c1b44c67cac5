package job

import (
	"context"
	"log"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// FeedPoller runs background goroutines that keep prices, price series and
// whale events flowing into storage.
type FeedPoller struct {
	tracer        trace.Tracer
	feed          FeedRefresher
	priceInterval time.Duration
	eventInterval time.Duration
}

type FeedRefresher interface {
	RefreshPrices(ctx context.Context) error
	RefreshSeries(ctx context.Context, symbol, interval string) error
	RefreshEvents(ctx context.Context, symbol string) (int, error)
}

func NewFeedPoller(tracer trace.Tracer, feed FeedRefresher, pricePollSecs, eventPollSecs int) *FeedPoller {
	if pricePollSecs <= 0 {
		pricePollSecs = 60
	}
	if eventPollSecs <= 0 {
		eventPollSecs = 30
	}
	return &FeedPoller{
		tracer:        tracer,
		feed:          feed,
		priceInterval: time.Duration(pricePollSecs) * time.Second,
		eventInterval: time.Duration(eventPollSecs) * time.Second,
	}
}

// Start launches background polling goroutines. Blocks until ctx is cancelled.
func (p *FeedPoller) Start(ctx context.Context) {
	log.Println("Feed poller starting...")

	// Tier 1: Spot prices every priceInterval (default 60s)
	go p.pollLoop(ctx, "spot-prices", p.priceInterval, func(ctx context.Context) error {
		return p.feed.RefreshPrices(ctx)
	})

	// Tier 2: Whale events — 2 symbols per eventInterval, round-robin.
	// Lookback overlap in the feed service makes the sweep gap safe.
	go p.pollEvents(ctx)

	// Tier 3: Short series (15m, 1h) — 2 symbols every 5 minutes, round-robin
	go p.pollShortSeries(ctx)

	// Tier 4: Long series (4h) — 1 symbol every 30 minutes, round-robin
	go p.pollLongSeries(ctx)

	<-ctx.Done()
	log.Println("Feed poller stopped")
}

func (p *FeedPoller) pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	// Run immediately on start
	if err := fn(ctx); err != nil {
		log.Printf("poller %s initial run error: %v", name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Printf("poller %s error: %v", name, err)
			}
		}
	}
}

func (p *FeedPoller) pollEvents(ctx context.Context) {
	// Stagger behind the price poller's first burst
	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	ticker := time.NewTicker(p.eventInterval)
	defer ticker.Stop()

	symbolIndex := 0
	symbolsPerTick := 2

	// Run immediately
	p.fetchEventBatch(ctx, &symbolIndex, symbolsPerTick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchEventBatch(ctx, &symbolIndex, symbolsPerTick)
		}
	}
}

func (p *FeedPoller) fetchEventBatch(ctx context.Context, symbolIndex *int, count int) {
	symbols := domain.SupportedSymbols
	for i := 0; i < count; i++ {
		symbol := symbols[*symbolIndex%len(symbols)]
		*symbolIndex++

		if _, err := p.feed.RefreshEvents(ctx, symbol); err != nil {
			log.Printf("whale event refresh error for %s: %v", symbol, err)
		}
	}
}

func (p *FeedPoller) pollShortSeries(ctx context.Context) {
	// Wait a bit before starting to stagger API calls with the price poller
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	symbolIndex := 0
	symbolsPerTick := 2

	// Run immediately
	p.fetchShortBatch(ctx, &symbolIndex, symbolsPerTick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchShortBatch(ctx, &symbolIndex, symbolsPerTick)
		}
	}
}

func (p *FeedPoller) fetchShortBatch(ctx context.Context, symbolIndex *int, count int) {
	symbols := domain.SupportedSymbols
	for i := 0; i < count; i++ {
		symbol := symbols[*symbolIndex%len(symbols)]
		*symbolIndex++

		for _, interval := range []string{"15m", "1h"} {
			if err := p.feed.RefreshSeries(ctx, symbol, interval); err != nil {
				log.Printf("%s series refresh error for %s: %v", interval, symbol, err)
			}
		}
	}
}

func (p *FeedPoller) pollLongSeries(ctx context.Context) {
	// Wait before starting to stagger API calls
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	symbolIndex := 0

	// Run immediately
	p.fetchLongBatch(ctx, &symbolIndex)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchLongBatch(ctx, &symbolIndex)
		}
	}
}

func (p *FeedPoller) fetchLongBatch(ctx context.Context, symbolIndex *int) {
	symbols := domain.SupportedSymbols
	symbol := symbols[*symbolIndex%len(symbols)]
	*symbolIndex++

	if err := p.feed.RefreshSeries(ctx, symbol, "4h"); err != nil {
		log.Printf("4h series refresh error for %s: %v", symbol, err)
	}
}
