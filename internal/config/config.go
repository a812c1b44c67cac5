package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	DatabaseURL      string
	RedisURL         string
	APIKey           string

	WhaleFeedURL      string
	WhaleFeedAPIKey   string
	WhaleFeedPollSecs int
	MinWhaleUSD       float64

	CoinGeckoPollSecs int
	MetricsPollSecs   int

	SSHPort        int
	SSHHostKeyPath string

	MCPRequestTimeoutSecs int

	OpenAIAPIKey      string
	OpenAIModel       string
	AdvisorMaxHistory int

	MLEnabled         bool
	MLInterval        string
	MLTargetHours     int
	MLTrainWindowDays int
	MLInferPollSecs   int
	MLResolvePollSecs int
	MLTrainHourUTC    int
	MLLongThreshold   float64
	MLShortThreshold  float64
	MLMinTrainSamples int
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		WhaleFeedAPIKey:  os.Getenv("WHALE_FEED_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	if cfg.APIKey == "" {
		log.Println("Warning: API_KEY not set, protected endpoints are open")
	}

	cfg.TelegramChatID = envInt64("TELEGRAM_CHAT_ID", 0)
	if cfg.TelegramChatID == 0 {
		log.Println("Warning: TELEGRAM_CHAT_ID not set, alert pushes disabled")
	}

	cfg.WhaleFeedURL = strings.TrimSpace(os.Getenv("WHALE_FEED_URL"))
	if cfg.WhaleFeedURL == "" {
		log.Println("Warning: WHALE_FEED_URL not set, whale feed polling disabled")
	}
	cfg.WhaleFeedPollSecs = envPositiveInt("WHALE_FEED_POLL_SECS", 30)
	cfg.MinWhaleUSD = envPositiveFloat("MIN_WHALE_USD", 100000)

	cfg.CoinGeckoPollSecs = envPositiveInt("COINGECKO_POLL_SECS", 60)
	cfg.MetricsPollSecs = envPositiveInt("METRICS_POLL_SECS", 60)

	cfg.SSHPort = envPositiveInt("SSH_PORT", 2222)
	cfg.SSHHostKeyPath = envString("SSH_HOST_KEY_PATH", ".ssh/whalepulse_ed25519")

	cfg.MCPRequestTimeoutSecs = envPositiveInt("MCP_REQUEST_TIMEOUT_SECS", 5)

	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, advisor will be disabled")
	}
	cfg.OpenAIModel = envString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.AdvisorMaxHistory = envPositiveInt("ADVISOR_MAX_HISTORY", 20)

	cfg.MLEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("ML_ENABLED")), "true")
	cfg.MLInterval = envString("ML_INTERVAL", "1h")
	cfg.MLTargetHours = envPositiveInt("ML_TARGET_HOURS", 4)
	cfg.MLTrainWindowDays = envPositiveInt("ML_TRAIN_WINDOW_DAYS", 90)
	cfg.MLInferPollSecs = envPositiveInt("ML_INFER_POLL_SECS", 900)
	cfg.MLResolvePollSecs = envPositiveInt("ML_RESOLVE_POLL_SECS", 1800)
	cfg.MLTrainHourUTC = envHourUTC("ML_TRAIN_HOUR_UTC", 0)
	cfg.MLLongThreshold = envRatio("ML_LONG_THRESHOLD", 0.55)
	cfg.MLShortThreshold = envRatio("ML_SHORT_THRESHOLD", 0.45)
	cfg.MLMinTrainSamples = envPositiveInt("ML_MIN_TRAIN_SAMPLES", 1000)

	return cfg
}

// envString returns the trimmed variable, or fallback when unset or blank.
func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envPositiveInt parses the variable as a positive integer. Unset, malformed
// and non-positive values fall back.
func envPositiveInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envPositiveFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envRatio accepts only values strictly between 0 and 1.
func envRatio(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 || n >= 1 {
		return fallback
	}
	return n
}

func envHourUTC(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 23 {
		return fallback
	}
	return n
}
