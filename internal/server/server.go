// Package server exposes the HTTP surface: webhook intake, the exit-worker
// trigger, read endpoints, health, and metrics.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstanton/tradepulse/internal/monitor"
	"github.com/mstanton/tradepulse/internal/pipeline"
	"github.com/mstanton/tradepulse/internal/positions"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/mstanton/tradepulse/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds webhook payload size.
const maxBodyBytes = 1 << 20

// Config tunes the HTTP server.
type Config struct {
	Port int
	// WebhookSecret enables HMAC verification of webhook bodies when set.
	WebhookSecret string
	RatePerSecond float64
	RateBurst     int
}

// Server hosts the controller's HTTP endpoints.
type Server struct {
	cfg        Config
	pipeline   *pipeline.Pipeline
	exitWorker *worker.ExitWorker
	store      storage.Interface
	positions  *positions.Manager
	health     *monitor.HealthTracker
	logger     *logrus.Logger
	limiter    *rate.Limiter
	router     *chi.Mux
	httpServer *http.Server
}

// New builds the server and its routes.
func New(
	cfg Config,
	pl *pipeline.Pipeline,
	exitWorker *worker.ExitWorker,
	store storage.Interface,
	posManager *positions.Manager,
	health *monitor.HealthTracker,
	logger *logrus.Logger,
) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	s := &Server{
		cfg:        cfg,
		pipeline:   pl,
		exitWorker: exitWorker,
		store:      store,
		positions:  posManager,
		health:     health,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/webhook", s.handleWebhook)
	})
	s.router.Post("/refactored-exit-worker", s.handleExitWorker)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/signals", s.handleSignals)
	s.router.Get("/orders", s.handleOrders)
	s.router.Get("/trades", s.handleTrades)
	s.router.Get("/positions", s.handlePositions)
	s.router.Get("/stats", s.handleStats)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.WithField("port", s.cfg.Port).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebhook ingests one payload. It always answers quickly: accepted
// signals are orchestrated asynchronously.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.cfg.WebhookSecret != "" && !s.verifySignature(body, r.Header.Get("X-Signature")) {
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	out := s.pipeline.Process(r.Context(), payload, body)
	status := http.StatusOK
	if out.Status == pipeline.StatusRejected {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, out)
}

// verifySignature checks a hex-encoded HMAC-SHA256 of the body in constant
// time.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// handleExitWorker triggers one sweep. dry_run=true reports decisions
// without executing them.
func (s *Server) handleExitWorker(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	res, err := s.exitWorker.Sweep(r.Context(), dryRun)
	if err != nil {
		if errors.Is(err, worker.ErrSweepInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.health != nil {
		states := s.health.States()
		resp["dependencies"] = states
		resp["uptime_seconds"] = int(s.health.Uptime().Seconds())
		for _, st := range states {
			if st != monitor.StateHealthy {
				resp["status"] = "degraded"
			}
		}
	}
	if s.positions != nil {
		resp["open_positions"] = len(s.positions.Open())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := s.store.ListSignals(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == "open" && s.positions != nil {
		s.writeJSON(w, http.StatusOK, s.positions.Open())
		return
	}
	list, err := s.store.ListPositions(r.Context(), listLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func listLimit(r *http.Request) int {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 || limit > 1000 {
			limit = 100
		}
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
