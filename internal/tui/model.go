package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/metrics"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshEvery   = 30 * time.Second
	fetchTimeout   = 10 * time.Second
	detailInterval = "1h"
	detailEvents   = 12
)

// PriceQuerier feeds the dashboard's price column.
type PriceQuerier interface {
	GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error)
}

// MetricsQuerier feeds the metric columns and the detail pane.
type MetricsQuerier interface {
	LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error)
}

// WhaleQuerier feeds the detail pane's event list.
type WhaleQuerier interface {
	RecentEvents(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error)
}

// PredictionQuerier feeds the detail pane's model call. May be nil.
type PredictionQuerier interface {
	Predictions(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error)
}

// AdvisorQuerier answers free-text questions. May be nil.
type AdvisorQuerier interface {
	Ask(ctx context.Context, chatID int64, userMessage string) (string, error)
}

// Services bundles everything the dashboard reads from, plus the identity of
// the SSH user driving it.
type Services struct {
	Prices      PriceQuerier
	Metrics     MetricsQuerier
	Whales      WhaleQuerier
	Predictions PredictionQuerier
	Advisor     AdvisorQuerier
	UserID      int64
	Username    string
}

type view int

const (
	viewDashboard view = iota
	viewDetail
	viewAdvisor
)

type symbolRow struct {
	Symbol     string
	PriceUSD   float64
	Change     float64
	Sentiment  domain.MetricResult
	Pressure   domain.MetricResult
	Volatility domain.MetricResult
	WhaleCount int
}

type detailData struct {
	Symbol     string
	Snapshot   *domain.MetricSnapshot
	Results    map[string]domain.MetricResult
	Events     []domain.AnnotatedWhaleEvent
	Prediction *domain.MLPrediction
}

type dashboardMsg struct {
	rows []symbolRow
	err  error
}

type detailMsg struct {
	data detailData
	err  error
}

type advisorReplyMsg struct {
	reply string
	err   error
}

type tickMsg time.Time

// AppModel is the root bubbletea model served over SSH.
type AppModel struct {
	svc    Services
	view   view
	width  int
	height int

	table     table.Model
	rows      []symbolRow
	lastErr   error
	refreshed time.Time

	detail detailData

	input    textinput.Model
	question string
	reply    string
	waiting  bool
}

func NewAppModel(svc Services) *AppModel {
	columns := []table.Column{
		{Title: "Symbol", Width: 7},
		{Title: "Price", Width: 12},
		{Title: "Change", Width: 8},
		{Title: "Sentiment", Width: 14},
		{Title: "Pressure", Width: 20},
		{Title: "Volatility", Width: 12},
		{Title: "Whales", Width: 7},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(len(domain.SupportedSymbols)+1),
	)
	tbl.SetStyles(tableStyles())

	input := textinput.New()
	input.Placeholder = "Ask about the whale flow..."
	input.CharLimit = 400
	input.Width = 60

	return &AppModel{svc: svc, table: tbl, input: input}
}

// SetSize records the PTY dimensions before the program starts.
func (m *AppModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.fetchDashboard(), tick())
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.view == viewDashboard {
			return m, tea.Batch(m.fetchDashboard(), tick())
		}
		return m, tick()

	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.refreshed = time.Now().UTC()
			m.table.SetRows(m.tableRows())
		}
		return m, nil

	case detailMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.detail = msg.data
			m.view = viewDetail
		}
		return m, nil

	case advisorReplyMsg:
		m.waiting = false
		if msg.err != nil {
			m.reply = "Error: " + msg.err.Error()
		} else {
			m.reply = msg.reply
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.view == viewAdvisor {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case viewAdvisor:
		switch msg.String() {
		case "esc":
			m.view = viewDashboard
			m.input.Blur()
			return m, nil
		case "enter":
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.waiting || m.svc.Advisor == nil {
				return m, nil
			}
			m.question = question
			m.reply = ""
			m.waiting = true
			m.input.SetValue("")
			return m, m.askAdvisor(question)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case viewDetail:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.view = viewDashboard
			return m, nil
		}
		return m, nil

	default: // dashboard
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchDashboard()
		case "a":
			if m.svc.Advisor == nil {
				return m, nil
			}
			m.view = viewAdvisor
			m.input.Focus()
			return m, textinput.Blink
		case "enter":
			if symbol := m.selectedSymbol(); symbol != "" {
				return m, m.fetchDetail(symbol)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
}

func (m *AppModel) selectedSymbol() string {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func (m *AppModel) tableRows() []table.Row {
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, table.Row{
			r.Symbol,
			fmt.Sprintf("$%.2f", r.PriceUSD),
			fmt.Sprintf("%+.2f%%", r.Change),
			r.Sentiment.Label,
			fmt.Sprintf("%s (%+.0f%%)", r.Pressure.Label, r.Pressure.Value),
			r.Volatility.Label,
			fmt.Sprintf("%d", r.WhaleCount),
		})
	}
	return rows
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *AppModel) fetchDashboard() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		priceBySymbol := map[string]*domain.PriceSnapshot{}
		if svc.Prices != nil {
			prices, err := svc.Prices.GetCurrentPrices(ctx)
			if err != nil {
				return dashboardMsg{err: err}
			}
			for _, p := range prices {
				priceBySymbol[p.Symbol] = p
			}
		}

		rows := make([]symbolRow, 0, len(domain.SupportedSymbols))
		for _, symbol := range domain.SupportedSymbols {
			row := symbolRow{Symbol: symbol}
			if p := priceBySymbol[symbol]; p != nil {
				row.PriceUSD = p.PriceUSD
				row.Change = p.Change24hPct
			}
			if svc.Metrics != nil {
				snap, results, err := svc.Metrics.LatestMetrics(ctx, symbol, detailInterval)
				if err == nil && snap != nil {
					row.Sentiment = results[domain.MetricSentiment]
					row.Pressure = results[domain.MetricPressure]
					row.Volatility = results[domain.MetricVolatility]
					row.WhaleCount = snap.WhaleCount
				}
			}
			rows = append(rows, row)
		}
		return dashboardMsg{rows: rows}
	}
}

func (m *AppModel) fetchDetail(symbol string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		data := detailData{Symbol: symbol}

		if svc.Metrics != nil {
			snap, results, err := svc.Metrics.LatestMetrics(ctx, symbol, detailInterval)
			if err != nil {
				return detailMsg{err: err}
			}
			data.Snapshot = snap
			data.Results = results
		}
		if svc.Whales != nil {
			events, err := svc.Whales.RecentEvents(ctx, symbol, detailEvents)
			if err != nil {
				return detailMsg{err: err}
			}
			data.Events = events
		}
		if svc.Predictions != nil {
			preds, err := svc.Predictions.Predictions(ctx, symbol, domain.AlertSourceMLEnsemble, 1)
			if err == nil && len(preds) > 0 {
				data.Prediction = &preds[0]
			}
		}
		return detailMsg{data: data}
	}
}

func (m *AppModel) askAdvisor(question string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		reply, err := svc.Advisor.Ask(ctx, svc.UserID, question)
		return advisorReplyMsg{reply: reply, err: err}
	}
}

func (m *AppModel) View() string {
	switch m.view {
	case viewDetail:
		return m.detailView()
	case viewAdvisor:
		return m.advisorView()
	default:
		return m.dashboardView()
	}
}

func (m *AppModel) dashboardView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("WhalePulse — whale order-flow dashboard"))
	sb.WriteString("\n")
	if m.svc.Username != "" {
		sb.WriteString(subtleStyle.Render("operator: " + m.svc.Username))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n\n")
	if m.lastErr != nil {
		sb.WriteString(errorStyle.Render("refresh error: " + m.lastErr.Error()))
		sb.WriteString("\n")
	}
	if !m.refreshed.IsZero() {
		sb.WriteString(subtleStyle.Render("updated " + m.refreshed.Format("15:04:05 MST")))
		sb.WriteString("\n")
	}
	help := "enter: detail • r: refresh • q: quit"
	if m.svc.Advisor != nil {
		help = "enter: detail • a: advisor • r: refresh • q: quit"
	}
	sb.WriteString(helpStyle.Render(help))
	return sb.String()
}

func (m *AppModel) detailView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.detail.Symbol + " — whale metrics (" + detailInterval + ")"))
	sb.WriteString("\n\n")

	if m.detail.Snapshot == nil {
		sb.WriteString(subtleStyle.Render("No metrics computed yet."))
	} else {
		keys := make([]string, 0, len(m.detail.Results))
		for k := range m.detail.Results {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r := m.detail.Results[k]
			name := strings.ReplaceAll(k, "_", " ")
			value := fmt.Sprintf("%.2f", r.Value)
			if r.Formatted != "" {
				value = r.Formatted
			}
			sb.WriteString(fmt.Sprintf("%-20s %10s  %s\n", name, value, sentimentBadge(r)))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(titleStyle.Render("Recent whale events"))
	sb.WriteString("\n")
	if len(m.detail.Events) == 0 {
		sb.WriteString(subtleStyle.Render("none in window"))
		sb.WriteString("\n")
	}
	for _, ev := range m.detail.Events {
		line := fmt.Sprintf("%s  %-8s %-3s %10s  @ $%.2f",
			ev.Time.UTC().Format("15:04"),
			ev.EventType, ev.Side,
			metrics.FormatLargeNumber(ev.USDValue),
			ev.Price,
		)
		if ev.Anomalous {
			line = errorStyle.Render(line + "  [unusual]")
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	if p := m.detail.Prediction; p != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Model call: %s (p(up)=%.2f, risk %d/5) for %s\n",
			p.Direction, p.ProbUp, p.Risk, p.TargetTime.UTC().Format("Jan 2 15:04")))
	}

	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("esc: back • q: quit"))
	return sb.String()
}

func (m *AppModel) advisorView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Market advisor"))
	sb.WriteString("\n\n")
	if m.question != "" {
		sb.WriteString(subtleStyle.Render("you: " + m.question))
		sb.WriteString("\n\n")
	}
	if m.waiting {
		sb.WriteString("thinking...\n\n")
	} else if m.reply != "" {
		sb.WriteString(m.reply)
		sb.WriteString("\n\n")
	}
	sb.WriteString(m.input.View())
	sb.WriteString("\n\n")
	sb.WriteString(helpStyle.Render("enter: send • esc: back"))
	return sb.String()
}
