package advisor

import (
	"context"
	"fmt"
	"log"

	"whalepulse/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// contextInterval is the bucket width the advisor reads metric snapshots at.
const contextInterval = "1h"

// Stored message roles.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// PriceQuerier provides current price data for the advisor's context.
type PriceQuerier interface {
	GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error)
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
}

// MetricQuerier provides the latest computed whale metrics per symbol.
type MetricQuerier interface {
	LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error)
}

// AlertQuerier provides recent alert data for the advisor's context.
type AlertQuerier interface {
	ListRecent(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error)
}

// ConversationStore persists and retrieves conversation messages.
type ConversationStore interface {
	AppendMessage(ctx context.Context, sessionID int64, role, content string) error
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]domain.ConversationMessage, error)
}

type AdvisorService struct {
	tracer     trace.Tracer
	llm        LLMClient
	prices     PriceQuerier
	metrics    MetricQuerier
	alerts     AlertQuerier
	convStore  ConversationStore
	model      string
	maxHistory int
}

func NewAdvisorService(
	tracer trace.Tracer,
	llm LLMClient,
	prices PriceQuerier,
	metrics MetricQuerier,
	alerts AlertQuerier,
	convStore ConversationStore,
	model string,
	maxHistory int,
) *AdvisorService {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &AdvisorService{
		tracer:     tracer,
		llm:        llm,
		prices:     prices,
		metrics:    metrics,
		alerts:     alerts,
		convStore:  convStore,
		model:      model,
		maxHistory: maxHistory,
	}
}

// Ask answers one user message inside a session. The live market context is
// rebuilt on every call so the model never reasons over stale numbers;
// storage hiccups degrade to a contextless answer instead of failing.
func (s *AdvisorService) Ask(ctx context.Context, sessionID int64, userMessage string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.ask")
	defer span.End()
	span.SetAttributes(attribute.Int64("session_id", sessionID))

	if err := s.convStore.AppendMessage(ctx, sessionID, roleUser, userMessage); err != nil {
		log.Printf("failed to store user message: %v", err)
	}

	marketContext, err := s.gatherContext(ctx, ExtractSymbols(userMessage))
	if err != nil {
		log.Printf("failed to gather market context: %v", err)
		marketContext = "Market data temporarily unavailable."
	}

	history, err := s.convStore.RecentMessages(ctx, sessionID, s.maxHistory)
	if err != nil {
		log.Printf("failed to load conversation history: %v", err)
		history = nil
	}

	reply, err := s.callLLM(ctx, s.buildMessages(BuildSystemPrompt(marketContext), history))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}

	if err := s.convStore.AppendMessage(ctx, sessionID, roleAssistant, reply); err != nil {
		log.Printf("failed to store assistant reply: %v", err)
	}
	return reply, nil
}

// gatherContext collects prices, metric snapshots and alerts. With mentioned
// symbols it narrows to those; otherwise it takes a market-wide view.
func (s *AdvisorService) gatherContext(ctx context.Context, symbols []string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.gather-context")
	defer span.End()

	if len(symbols) == 0 {
		prices, err := s.prices.GetCurrentPrices(ctx)
		if err != nil {
			return "", err
		}
		alerts, _ := s.alerts.ListRecent(ctx, domain.AlertFilter{Limit: 10})
		return FormatMarketContext(prices, nil, alerts), nil
	}

	var prices []*domain.PriceSnapshot
	var snaps []domain.MetricSnapshot
	var alerts []domain.Alert
	for _, sym := range symbols {
		if p, err := s.prices.GetCurrentPrice(ctx, sym); err == nil {
			prices = append(prices, p)
		}
		if snap, _, err := s.metrics.LatestMetrics(ctx, sym, contextInterval); err == nil && snap != nil {
			snaps = append(snaps, *snap)
		}
		if recent, err := s.alerts.ListRecent(ctx, domain.AlertFilter{Symbol: sym, Limit: 5}); err == nil {
			alerts = append(alerts, recent...)
		}
	}
	return FormatMarketContext(prices, snaps, alerts), nil
}

func (s *AdvisorService) buildMessages(
	systemPrompt string,
	history []domain.ConversationMessage,
) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))

	// History is already capped by the RecentMessages query.
	for _, msg := range history {
		switch msg.Role {
		case roleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case roleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
