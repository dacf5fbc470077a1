// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
	"github.com/streamforge/catalog-crawler/internal/metrics"
	"github.com/streamforge/catalog-crawler/internal/settings"
	"github.com/streamforge/catalog-crawler/internal/trigger"
)

// Config controls server-side behavior.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the settings and trigger services.
type Server struct {
	router   chi.Router
	settings *settings.Service
	trigger  *trigger.Service
	tracker  crawler.RunTracker
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	settingsSvc *settings.Service,
	triggerSvc *trigger.Service,
	tracker crawler.RunTracker,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		settings: settingsSvc,
		trigger:  triggerSvc,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey, logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawlers", func(r chi.Router) {
			r.Post("/", s.createCrawler)
			r.Get("/", s.listCrawlers)
			r.Post("/trigger", s.triggerCrawler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCrawler)
				r.Patch("/", s.updateCrawler)
				r.Delete("/", s.deleteCrawler)
				r.Get("/status", s.crawlerStatus)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createCrawler(w http.ResponseWriter, r *http.Request) {
	var in crawler.SettingsInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	created, err := s.settings.Create(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": created.ID})
}

func (s *Server) listCrawlers(w http.ResponseWriter, r *http.Request) {
	filter := crawler.ListFilter{
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
		Search: r.URL.Query().Get("search"),
	}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		filter.Enabled = &enabled
	}

	items, total, err := s.settings.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"total": total,
	})
}

func (s *Server) getCrawler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.settings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateCrawler(w http.ResponseWriter, r *http.Request) {
	var patch crawler.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	updated, err := s.settings.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": updated.ID})
}

func (s *Server) deleteCrawler(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) crawlerStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.settings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	state, ok := s.tracker.State(rec.Name)
	if !ok {
		state = crawler.RunState{Crawler: rec.Name, Status: crawler.RunStatusIdle}
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) triggerCrawler(w http.ResponseWriter, r *http.Request) {
	var in crawler.TriggerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.trigger.Trigger(r.Context(), in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Fire-and-forget: the ack only says the run was dispatched (or
	// deduped), never that it finished.
	s.writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

// writeDomainError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var ve *crawler.ValidationError
	if errors.As(err, &ve) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ve.Error(),
			"field": ve.Field,
		})
		return
	}
	switch {
	case crawler.IsConflict(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case crawler.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case crawler.IsEngineDispatch(err):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				logger.Warn("unauthorized request",
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
