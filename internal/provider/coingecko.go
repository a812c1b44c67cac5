package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoProvider fetches spot prices and historical series from the
// CoinGecko free API.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewCoinGeckoProvider builds a provider throttled to the free-tier quota,
// roughly 8 calls per minute.
func NewCoinGeckoProvider(tracer trace.Tracer) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: coingeckoBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(8, 7500*time.Millisecond),
	}
}

// FetchPrices loads current prices for every supported asset in one call.
func (p *CoinGeckoProvider) FetchPrices(ctx context.Context) (map[string]*domain.PriceSnapshot, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-prices")
	defer span.End()

	ids := make([]string, 0, len(domain.SupportedSymbols))
	for _, symbol := range domain.SupportedSymbols {
		ids = append(ids, domain.CoinGeckoID[symbol])
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_24hr_change=true",
		p.baseURL, strings.Join(ids, ","))

	// Shape: {"bitcoin": {"usd": 97000, "usd_24h_vol": ..., "usd_24h_change": ...}, ...}
	var raw map[string]map[string]float64
	if err := p.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	now := time.Now().Unix()
	snapshots := make(map[string]*domain.PriceSnapshot, len(raw))
	for geckoID, fields := range raw {
		symbol, ok := domain.CoinGeckoIDToSymbol[geckoID]
		if !ok {
			continue
		}
		snapshots[symbol] = &domain.PriceSnapshot{
			Symbol:          symbol,
			PriceUSD:        fields["usd"],
			Volume24h:       fields["usd_24h_vol"],
			Change24hPct:    fields["usd_24h_change"],
			LastUpdatedUnix: now,
		}
	}
	return snapshots, nil
}

// FetchPriceSeries loads market_chart data and downsamples it to one point
// per interval bucket. days=1 gives ~5min source granularity, days=30 ~1h.
func (p *CoinGeckoProvider) FetchPriceSeries(ctx context.Context, symbol string, days int, interval string) ([]domain.PricePoint, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-price-series")
	defer span.End()

	geckoID, ok := domain.CoinGeckoID[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", p.baseURL, geckoID, days)

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := p.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch market chart for %s: %w", symbol, err)
	}

	return buildSeriesFromMarketChart(symbol, interval, raw.Prices, raw.TotalVolumes), nil
}

func (p *CoinGeckoProvider) getJSON(ctx context.Context, url string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildSeriesFromMarketChart reduces raw market_chart arrays to one point per
// interval bucket: the last price inside a bucket is the sample, volume comes
// from the raw volume point nearest the bucket close.
func buildSeriesFromMarketChart(symbol, interval string, prices, volumes [][]float64) []domain.PricePoint {
	step := domain.IntervalDuration(interval)
	if step == 0 || len(prices) == 0 {
		return nil
	}

	vols := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			vols = append(vols, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].ts < vols[j].ts })

	sort.Slice(prices, func(i, j int) bool { return prices[i][0] < prices[j][0] })

	// Prices arrive sorted, so later samples in the same bucket overwrite
	// earlier ones and the bucket ends up holding its closing price.
	closes := make(map[int64]float64)
	for _, sample := range prices {
		if len(sample) < 2 {
			continue
		}
		bucket := time.UnixMilli(int64(sample[0])).Truncate(step).UnixMilli()
		closes[bucket] = sample[1]
	}

	starts := make([]int64, 0, len(closes))
	for ts := range closes {
		starts = append(starts, ts)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	stepMs := int64(step / time.Millisecond)
	points := make([]domain.PricePoint, 0, len(starts))
	for _, ts := range starts {
		points = append(points, domain.PricePoint{
			Symbol: symbol,
			Value:  closes[ts],
			Volume: findClosestVolume(vols, ts+stepMs),
			Time:   time.UnixMilli(ts).UTC(),
		})
	}
	return points
}

// findClosestVolume picks the volume sample nearest targetMs. vols must be
// sorted by timestamp.
func findClosestVolume(vols []volumePoint, targetMs int64) float64 {
	if len(vols) == 0 {
		return 0
	}
	i := sort.Search(len(vols), func(i int) bool { return vols[i].ts >= targetMs })
	if i == 0 {
		return vols[0].vol
	}
	if i == len(vols) {
		return vols[len(vols)-1].vol
	}
	if vols[i].ts-targetMs < targetMs-vols[i-1].ts {
		return vols[i].vol
	}
	return vols[i-1].vol
}
