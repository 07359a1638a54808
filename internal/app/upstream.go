package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"animesearch/internal/jikan"
)

// NewJikanClient builds the upstream client, attaching the shared Redis
// response cache when one is configured and reachable. The returned close
// func releases the Redis connection.
func NewJikanClient(cfg Config, logger *slog.Logger) (*jikan.Client, func()) {
	closeFn := func() {}
	clientCfg := jikan.Config{
		BaseURL:     cfg.JikanBaseURL,
		UserAgent:   cfg.UserAgent,
		Client:      &http.Client{Timeout: cfg.JikanTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		CacheTTL:    cfg.CacheTTL,
		RateLimit:   cfg.JikanRateLimit,
		Burst:       1,
		MaxInFlight: cfg.JikanMaxFlight,
		Logger:      logger,
	}

	if cache := connectRedis(cfg, logger); cache != nil {
		clientCfg.Cache = cache
		closeFn = func() { _ = cache.Close() }
	}
	return jikan.NewClient(clientCfg), closeFn
}

// connectRedis returns the shared response cache, or nil when Redis is not
// configured or not reachable. The service runs without it in that case.
func connectRedis(cfg Config, logger *slog.Logger) *jikan.RedisCache {
	if cfg.CacheDisabled {
		return nil
	}
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, upstream cache disabled", slog.String("error", err.Error()))
		return nil
	}
	cache := jikan.NewRedisCache(redis.NewClient(redisOpts))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, upstream cache disabled", slog.String("error", err.Error()))
		_ = cache.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return cache
}
