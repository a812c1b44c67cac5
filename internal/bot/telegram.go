package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/metrics"

	tele "gopkg.in/telebot.v3"
)

// MetricsQuerier serves the /metrics command.
type MetricsQuerier interface {
	LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error)
}

// WhaleQuerier serves the /whales command.
type WhaleQuerier interface {
	RecentEvents(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error)
}

// PriceQuerier serves the /price command.
type PriceQuerier interface {
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
}

// Asker serves the /ask command. May be nil when no advisor is configured.
type Asker interface {
	Ask(ctx context.Context, chatID int64, userMessage string) (string, error)
}

// telegramAPI is the slice of telebot the bot uses, extracted for tests.
type telegramAPI interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Start()
}

// Bot exposes the computed whale metrics over Telegram and pushes threshold
// alerts to a configured chat.
type Bot struct {
	api         telegramAPI
	metrics     MetricsQuerier
	whales      WhaleQuerier
	prices      PriceQuerier
	advisor     Asker
	alertChatID int64
}

var newTelebot = func(pref tele.Settings) (telegramAPI, error) {
	return tele.NewBot(pref)
}

// New builds the bot. An empty token returns (nil, nil): the caller treats
// that as "bot disabled" rather than an error, matching how the rest of the
// stack degrades when optional config is missing.
func New(token string, alertChatID int64, metricsQ MetricsQuerier, whalesQ WhaleQuerier, pricesQ PriceQuerier, advisor Asker) (*Bot, error) {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	api, err := newTelebot(pref)
	if err != nil {
		return nil, fmt.Errorf("create Telegram bot: %w", err)
	}

	b := &Bot{
		api:         api,
		metrics:     metricsQ,
		whales:      whalesQ,
		prices:      pricesQ,
		advisor:     advisor,
		alertChatID: alertChatID,
	}
	b.registerHandlers()
	return b, nil
}

// Start begins long-polling in a background goroutine.
func (b *Bot) Start() {
	log.Println("Telegram bot started")
	go b.api.Start()
}

func (b *Bot) registerHandlers() {
	b.api.Handle("/start", func(c tele.Context) error {
		return c.Send(startMessage())
	})

	b.api.Handle("/price", func(c tele.Context) error {
		symbol, errMsg := symbolArg(c.Args(), "/price BTC")
		if errMsg != "" {
			return c.Send(errMsg)
		}
		snapshot, err := b.prices.GetCurrentPrice(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching price for %s: %v", symbol, err))
		}
		return c.Send(fmt.Sprintf(
			"%s\nPrice: $%.2f\n24h Change: %.2f%%\n24h Volume: $%.0f",
			symbol, snapshot.PriceUSD, snapshot.Change24hPct, snapshot.Volume24h,
		))
	})

	b.api.Handle("/metrics", func(c tele.Context) error {
		symbol, errMsg := symbolArg(c.Args(), "/metrics BTC")
		if errMsg != "" {
			return c.Send(errMsg)
		}
		snap, results, err := b.metrics.LatestMetrics(context.Background(), symbol, "1h")
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching metrics for %s: %v", symbol, err))
		}
		if snap == nil {
			return c.Send(fmt.Sprintf("No metrics computed yet for %s", symbol))
		}
		return c.Send(formatMetrics(symbol, snap, results))
	})

	b.api.Handle("/whales", func(c tele.Context) error {
		symbol, errMsg := symbolArg(c.Args(), "/whales BTC")
		if errMsg != "" {
			return c.Send(errMsg)
		}
		events, err := b.whales.RecentEvents(context.Background(), symbol, 10)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching whale events for %s: %v", symbol, err))
		}
		if len(events) == 0 {
			return c.Send(fmt.Sprintf("No recent whale activity for %s", symbol))
		}
		return c.Send(formatWhaleEvents(symbol, events))
	})

	b.api.Handle("/ask", func(c tele.Context) error {
		if b.advisor == nil {
			return c.Send("The advisor is not configured.")
		}
		question := strings.TrimSpace(strings.Join(c.Args(), " "))
		if question == "" {
			return c.Send("Usage: /ask what does the BTC whale flow look like?")
		}
		reply, err := b.advisor.Ask(context.Background(), c.Chat().ID, question)
		if err != nil {
			return c.Send(fmt.Sprintf("Advisor error: %v", err))
		}
		return c.Send(reply)
	})
}

// NotifyAlert pushes a derived alert to the configured chat. Implements the
// metrics service's alert sink; a zero chat ID drops pushes silently.
func (b *Bot) NotifyAlert(ctx context.Context, alert domain.Alert) error {
	if b.alertChatID == 0 {
		return nil
	}
	if _, err := b.api.Send(tele.ChatID(b.alertChatID), formatAlert(alert)); err != nil {
		return fmt.Errorf("send alert for %s: %w", alert.Symbol, err)
	}
	return nil
}

func startMessage() string {
	return strings.Join([]string{
		"WhalePulse — whale order-flow metrics.",
		"",
		"/price SYMBOL — latest price",
		"/metrics SYMBOL — computed whale metrics",
		"/whales SYMBOL — recent whale events",
		"/ask QUESTION — ask the market advisor",
		"",
		"Supported: " + strings.Join(domain.SupportedSymbols, ", "),
	}, "\n")
}

func symbolArg(args []string, usage string) (string, string) {
	if len(args) == 0 {
		return "", fmt.Sprintf("Usage: %s\nSupported: %s", usage, strings.Join(domain.SupportedSymbols, ", "))
	}
	symbol := strings.ToUpper(args[0])
	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return "", fmt.Sprintf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(domain.SupportedSymbols, ", "))
	}
	return symbol, ""
}

func formatMetrics(symbol string, snap *domain.MetricSnapshot, results map[string]domain.MetricResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s whale metrics (1h bucket %s)\n", symbol, snap.BucketTime.UTC().Format("15:04 MST"))
	fmt.Fprintf(&sb, "Whale events: %d\n", snap.WhaleCount)

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := results[k]
		name := strings.ReplaceAll(k, "_", " ")
		if r.Formatted != "" {
			fmt.Fprintf(&sb, "%s: %s (%s)\n", name, r.Formatted, r.Label)
			continue
		}
		fmt.Fprintf(&sb, "%s: %.2f (%s)\n", name, r.Value, r.Label)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatWhaleEvents(symbol string, events []domain.AnnotatedWhaleEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s — last %d whale events\n", symbol, len(events))
	for _, ev := range events {
		marker := ""
		if ev.Anomalous {
			marker = " [unusual]"
		}
		fmt.Fprintf(&sb, "%s %s/%s %s @ $%.2f%s\n",
			ev.Time.UTC().Format("15:04"),
			ev.EventType, ev.Side,
			metrics.FormatLargeNumber(ev.USDValue),
			ev.Price,
			marker,
		)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAlert(alert domain.Alert) string {
	return fmt.Sprintf(
		"ALERT %s/%s\nSource: %s\nDirection: %s | Risk: %d/5\n%s",
		alert.Symbol, alert.Interval, alert.Source, alert.Direction, alert.Risk, alert.Details,
	)
}
