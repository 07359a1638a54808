package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "animesearch/internal/api/http"
	"animesearch/internal/app"
	"animesearch/internal/metrics"
	"animesearch/internal/search"
	"animesearch/internal/session"
	"animesearch/internal/telemetry"
)

const serviceName = "animesearch"

func main() {
	cfg := app.LoadConfig()
	logger := app.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("jikanBaseURL", cfg.JikanBaseURL),
		slog.Duration("jikanTimeout", cfg.JikanTimeout),
		slog.Float64("jikanRateLimit", cfg.JikanRateLimit),
		slog.Duration("debounce", cfg.SearchDebounce),
		slog.Duration("sessionIdleTTL", cfg.SessionIdleTTL),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
	)

	jikanClient, closeUpstream := app.NewJikanClient(cfg, logger)
	defer closeUpstream()

	sessions := session.NewManager(func() *search.Store {
		return search.NewStore(jikanClient,
			search.WithDebounce(cfg.SearchDebounce),
			search.WithPageLimit(cfg.SearchPageLimit),
			search.WithLogger(logger),
		)
	},
		session.WithIdleTTL(cfg.SessionIdleTTL),
		session.WithLogger(logger),
	)

	handler := apihttp.NewServer(jikanClient,
		apihttp.WithLogger(logger),
		apihttp.WithSessions(sessions),
		apihttp.WithPageLimit(cfg.SearchPageLimit),
		apihttp.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Session event streams outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionsDone := make(chan struct{})
	go func() {
		sessions.Run(rootCtx)
		close(sessionsDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("anime search service started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Closing sessions ends open event streams so Shutdown can drain.
	stop()
	<-sessionsDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("anime search service stopped")
}
