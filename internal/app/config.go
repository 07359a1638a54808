package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	APIRateLimit    float64
	APIRateBurst    int
	LogLevel        string
	LogFormat       string
	UserAgent       string
	JikanBaseURL    string
	JikanTimeout    time.Duration
	JikanRateLimit  float64
	JikanMaxFlight  int64
	SearchDebounce  time.Duration
	SearchPageLimit int
	SessionIdleTTL  time.Duration
	RedisURL        string
	CacheTTL        time.Duration
	CacheDisabled   bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

// LoadConfig reads the environment, after merging an optional .env file from
// the working directory. Variables already set win over the file.
func LoadConfig() Config {
	_ = godotenv.Load()
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		APIRateLimit:    getEnvFloat("API_RATE_LIMIT_RPS", 50),
		APIRateBurst:    getEnvInt("API_RATE_BURST", 100),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:       getEnv("USER_AGENT", "animesearch/1.0"),
		JikanBaseURL:    getEnv("JIKAN_BASE_URL", "https://api.jikan.moe/v4"),
		JikanTimeout:    time.Duration(getEnvInt("JIKAN_TIMEOUT_SECONDS", 10)) * time.Second,
		JikanRateLimit:  getEnvFloat("JIKAN_RATE_LIMIT_RPS", 3),
		JikanMaxFlight:  int64(getEnvInt("JIKAN_MAX_IN_FLIGHT", 4)),
		SearchDebounce:  time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 250)) * time.Millisecond,
		SearchPageLimit: getEnvInt("SEARCH_PAGE_LIMIT", 25),
		SessionIdleTTL:  time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		RedisURL:        getEnv("REDIS_URL", ""),
		CacheTTL:        time.Duration(getEnvInt("UPSTREAM_CACHE_TTL_MINUTES", 10)) * time.Minute,
		CacheDisabled:   getEnvBool("UPSTREAM_CACHE_DISABLED", false),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
