package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Env carries the process secrets and runtime knobs loaded from the
// environment. Secrets never live in the schedule document.
type Env struct {
	// Broker (practice environment only).
	OandaToken   string
	OandaAccount string
	OandaBaseURL string

	// Feed + history credentials.
	FinnhubKeys   []string
	TwelveDataKey string

	// Notifier sinks.
	DiscordWebhook string
	TelegramToken  string
	TelegramChatID int64

	// Runtime.
	JournalDSN string
	DataDir    string
	LogDir     string
	EquityUSD  float64
	Debug      bool
}

// LoadEnv reads .env (when present) and the process environment.
func LoadEnv() Env {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}
	return Env{
		OandaToken:     os.Getenv("OANDA_TOKEN"),
		OandaAccount:   os.Getenv("OANDA_ACCOUNT"),
		OandaBaseURL:   getEnv("OANDA_BASE_URL", ""),
		FinnhubKeys:    splitKeys(os.Getenv("FINNHUB_KEYS")),
		TwelveDataKey:  os.Getenv("TWELVEDATA_KEY"),
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
		JournalDSN:     getEnv("JOURNAL_DSN", "data/axfl.db"),
		DataDir:        getEnv("DATA_DIR", "data"),
		LogDir:         getEnv("LOG_DIR", "logs"),
		EquityUSD:      getEnvFloat("EQUITY_USD", 100000),
		Debug:          getEnvBool("DEBUG", false),
	}
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}
