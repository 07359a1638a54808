package jikan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"animesearch/internal/domain"
	"animesearch/internal/metrics"
)

const (
	DefaultBaseURL   = "https://api.jikan.moe/v4"
	DefaultTimeout   = 10 * time.Second
	defaultCacheTTL  = 10 * time.Minute
	maxResponseBytes = 4 << 20
)

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	cache     ResponseCache
	cacheTTL  time.Duration
	limiter   *rate.Limiter
	inFlight  *semaphore.Weighted
	retry     RetryConfig
	logger    *slog.Logger
	tracer    trace.Tracer
	health    *breaker
	now       func() time.Time
}

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Cache     ResponseCache
	CacheTTL  time.Duration
	// RateLimit is requests per second; zero disables throttling.
	RateLimit   float64
	Burst       int
	MaxInFlight int64
	Retry       RetryConfig
	Logger      *slog.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      httpClient,
		cache:     cfg.Cache,
		cacheTTL:  cacheTTL,
		retry:     retry,
		logger:    logger,
		tracer:    otel.Tracer("animesearch/jikan"),
		health:    &breaker{},
		now:       time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxInFlight > 0 {
		c.inFlight = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	metrics.UpstreamAvailable.Set(1)
	return c
}

// SearchAnime runs GET /anime. The query and each filter are only sent when
// set; page and limit always are.
func (c *Client) SearchAnime(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error) {
	page := params.Page
	if page < 1 {
		page = domain.DefaultPage
	}
	limit := params.Limit
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	params.Page, params.Limit = page, limit

	values := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		values.Set("q", q)
	}
	if params.Type != "" {
		values.Set("type", string(params.Type))
	}
	if params.Status != "" {
		values.Set("status", string(params.Status))
	}
	if params.Rating != "" {
		values.Set("rating", string(params.Rating))
	}

	body, err := c.get(ctx, "search", "/anime", values, "search:"+params.Key())
	if err != nil {
		return domain.SearchResult{}, err
	}
	var result domain.SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}
	return result, nil
}

// GetAnimeByID runs GET /anime/{id}.
func (c *Client) GetAnimeByID(ctx context.Context, id int) (domain.Anime, error) {
	if id <= 0 {
		return domain.Anime{}, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	path := "/anime/" + strconv.Itoa(id)
	body, err := c.get(ctx, "details", path, nil, "anime:"+strconv.Itoa(id))
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return domain.Anime{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return domain.Anime{}, err
	}
	var details domain.AnimeDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return domain.Anime{}, fmt.Errorf("decode anime response: %w", err)
	}
	return details.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, values url.Values, cacheKey string) ([]byte, error) {
	if body, ok := c.cached(ctx, cacheKey); ok {
		return body, nil
	}

	if blocked, until := c.health.blocked(c.now()); blocked {
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "blocked").Inc()
		return nil, fmt.Errorf("%w until %s", ErrUnavailable, until.UTC().Format(time.RFC3339))
	}

	reqURL := c.baseURL + path
	if len(values) > 0 {
		reqURL += "?" + values.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "jikan."+endpoint, trace.WithAttributes(
		attribute.String("jikan.path", path),
		attribute.String("jikan.query", values.Get("q")),
	))
	defer span.End()

	start := time.Now()
	var body []byte
	err := RetryWithBackoff(ctx, c.retry, func() error {
		var callErr error
		body, callErr = c.do(ctx, reqURL)
		return callErr
	})
	elapsed := time.Since(start)
	metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	c.health.record(err, elapsed, c.now())

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			span.SetAttributes(attribute.Bool("jikan.cancelled", true))
			return nil, ErrCancelled
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "200").Inc()

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, body, c.cacheTTL); err != nil {
			c.logger.Debug("upstream cache write failed", slog.String("key", cacheKey), slog.String("error", err.Error()))
		}
	}
	return body, nil
}

// Health reports the upstream circuit state.
func (c *Client) Health() Health {
	return c.health.snapshot(c.now())
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Debug("upstream cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		metrics.UpstreamCacheMissesTotal.Inc()
		return nil, false
	}
	metrics.UpstreamCacheHitsTotal.Inc()
	return body, true
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.inFlight != nil {
		if err := c.inFlight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.inFlight.Release(1)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func statusLabel(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	return "error"
}
