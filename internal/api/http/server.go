package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"animesearch/internal/domain"
	"animesearch/internal/jikan"
	"animesearch/internal/search"
	"animesearch/internal/session"
)

type AnimeService interface {
	SearchAnime(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error)
	GetAnimeByID(ctx context.Context, id int) (domain.Anime, error)
}

// UpstreamHealth is implemented by anime services that track upstream
// availability.
type UpstreamHealth interface {
	Health() jikan.Health
}

type SessionService interface {
	Create() *session.Session
	Get(id string) (*session.Session, bool)
	Delete(id string) bool
}

type Server struct {
	anime       AnimeService
	sessions    SessionService
	logger      *slog.Logger
	pageLimit   int
	imageHosts  []string
	imageClient *http.Client
	rateLimit   float64
	rateBurst   int
}

const (
	maxQueryLength = 500
	maxPageLimit   = 25

	defaultRateLimit = 50
	defaultRateBurst = 100
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSessions(sessions SessionService) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

func WithPageLimit(limit int) ServerOption {
	return func(s *Server) {
		if limit > 0 && limit <= maxPageLimit {
			s.pageLimit = limit
		}
	}
}

// WithImageHosts replaces the host allowlist of the poster proxy.
func WithImageHosts(hosts ...string) ServerOption {
	return func(s *Server) {
		s.imageHosts = append([]string(nil), hosts...)
	}
}

// WithRateLimit sets the API-wide request rate; rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = rps
		s.rateBurst = burst
	}
}

func WithImageClient(client *http.Client) ServerOption {
	return func(s *Server) {
		s.imageClient = client
	}
}

func NewServer(anime AnimeService, options ...ServerOption) *Server {
	server := &Server{
		anime:      anime,
		logger:     slog.Default(),
		pageLimit:  domain.DefaultLimit,
		imageHosts: defaultImageHosts,
		rateLimit:  defaultRateLimit,
		rateBurst:  defaultRateBurst,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.imageClient == nil {
		server.imageClient = newImageProxyClient(server.imageHosts)
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /anime", s.handleSearch)
	mux.HandleFunc("GET /anime/image", s.handleImageProxy)
	mux.HandleFunc("GET /anime/filters", s.handleFilterOptions)
	mux.HandleFunc("GET /anime/{id}", s.handleAnimeDetails)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.withSession(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /sessions/{id}/query", s.withSession(s.handleSetQuery))
	mux.HandleFunc("PUT /sessions/{id}/page", s.withSession(s.handleSetPage))
	mux.HandleFunc("PUT /sessions/{id}/filters", s.withSession(s.handleSetFilters))
	mux.HandleFunc("DELETE /sessions/{id}/filters", s.withSession(s.storeAction((*search.Store).ClearFilters)))
	mux.HandleFunc("POST /sessions/{id}/filters/apply", s.withSession(s.storeAction((*search.Store).ApplyFilters)))
	mux.HandleFunc("POST /sessions/{id}/filters/toggle", s.withSession(s.storeAction((*search.Store).ToggleFilterPanel)))
	mux.HandleFunc("POST /sessions/{id}/retry", s.withSession(s.storeAction((*search.Store).Retry)))
	mux.HandleFunc("POST /sessions/{id}/reset", s.withSession(s.storeAction((*search.Store).Reset)))
	mux.HandleFunc("GET /sessions/{id}/events", s.withSession(s.handleSessionEvents))
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "animesearch",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimit, s.rateBurst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if reporter, ok := s.anime.(UpstreamHealth); ok {
		health := reporter.Health()
		if !health.Available {
			payload["status"] = "degraded"
		}
		payload["upstream"] = health
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.anime == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "anime service is not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	page, err := parsePositiveInt(r, "page", domain.DefaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page")
		return
	}
	limit, err := parsePositiveInt(r, "limit", s.pageLimit)
	if err != nil || limit > maxPageLimit {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit (1-25)")
		return
	}
	filters, err := domain.ParseFilters(r.URL.Query().Get("type"), r.URL.Query().Get("status"), r.URL.Query().Get("rating"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	params := domain.NewSearchCriteria(query, page, filters).Params(limit)
	result, err := s.anime.SearchAnime(r.Context(), params)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":   domain.TypeOptions,
		"status": domain.StatusOptions,
		"rating": domain.RatingOptions,
	})
}

func (s *Server) handleAnimeDetails(w http.ResponseWriter, r *http.Request) {
	if s.anime == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "anime service is not configured")
		return
	}
	id, err := strconv.Atoi(strings.TrimSpace(r.PathValue("id")))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid anime id")
		return
	}
	anime, err := s.anime.GetAnimeByID(r.Context(), id)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.AnimeDetails{Data: anime})
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the response.
		return
	case errors.Is(err, jikan.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, jikan.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, jikan.ErrUnavailable):
		w.Header().Set("Retry-After", "15")
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
	default:
		s.logger.Warn("upstream request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

type navigationResponse struct {
	LastPage    int   `json:"lastPage"`
	Window      []int `json:"window"`
	CanPrevious bool  `json:"canPrevious"`
	CanNext     bool  `json:"canNext"`
}

type sessionResponse struct {
	ID         string             `json:"id"`
	State      search.State       `json:"state"`
	Navigation navigationResponse `json:"navigation"`
}

func newSessionResponse(id string, state search.State) sessionResponse {
	last := state.LastPage()
	hasNext := false
	if state.Display != nil {
		hasNext = state.Display.Pagination.HasNextPage
	}
	return sessionResponse{
		ID:    id,
		State: state,
		Navigation: navigationResponse{
			LastPage:    last,
			Window:      search.PageWindow(state.Page, last),
			CanPrevious: search.CanGoPrevious(state.Page),
			CanNext:     search.CanGoNext(state.Page, last, hasNext),
		},
	}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			writeError(w, http.StatusNotFound, "not_found", "sessions are not enabled")
			return
		}
		sess, ok := s.sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		next(w, r, sess)
	}
}

// storeAction adapts a parameterless store action into a handler that
// answers with the resulting state.
func (s *Server) storeAction(action func(*search.Store)) sessionHandler {
	return func(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
		action(sess.Store)
		writeJSON(w, http.StatusOK, newSessionResponse(sess.ID, sess.Store.Snapshot()))
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "not_found", "sessions are not enabled")
		return
	}
	sess := s.sessions.Create()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess.ID, sess.Store.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, newSessionResponse(sess.ID, sess.Store.Snapshot()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || !s.sessions.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetQuery(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Query string `json:"query"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(strings.TrimSpace(body.Query)) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	sess.Store.SetQuery(body.Query)
	writeJSON(w, http.StatusOK, newSessionResponse(sess.ID, sess.Store.Snapshot()))
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Page int `json:"page"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := sess.Store.JumpToPage(body.Page); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess.ID, sess.Store.Snapshot()))
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Rating string `json:"rating"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filters, err := domain.ParseFilters(body.Type, body.Status, body.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	sess.Store.SetFilters(filters)
	writeJSON(w, http.StatusOK, newSessionResponse(sess.ID, sess.Store.Snapshot()))
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	updates, cancel := sess.Store.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
				return
			}
			if err := writeSSEEvent(w, flusher, "snapshot", newSessionResponse(sess.ID, state)); err != nil {
				return
			}
		}
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
