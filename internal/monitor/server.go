package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/quantdesk/riskcore/internal/bridge"
	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// tickState is the last published evaluation pass
type tickState struct {
	Review    defense.PortfolioReview `json:"review"`
	Portfolio greeks.Portfolio        `json:"portfolio"`
	Integrity bridge.IntegrityReport  `json:"integrity"`
	UpdatedAt time.Time               `json:"updated_at"`
	published bool
}

// Server is the read-only monitoring surface. The engine publishes
// after each tick; handlers serve the last published state.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *Metrics
	logger  zerolog.Logger

	mu    sync.RWMutex
	state tickState
}

func NewServer(cfg ServerConfig, metrics *Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		metrics: metrics,
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/risk/portfolio", s.handlePortfolio).Methods("GET")
	s.router.HandleFunc("/risk/assessments", s.handleAssessments).Methods("GET")
	s.router.HandleFunc("/risk/integrity", s.handleIntegrity).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Publish stores the latest evaluation pass for the read handlers
func (s *Server) Publish(review defense.PortfolioReview, portfolio greeks.Portfolio, integrity bridge.IntegrityReport, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = tickState{
		Review:    review,
		Portfolio: portfolio,
		Integrity: integrity,
		UpdatedAt: at,
		published: true,
	}
}

func (s *Server) snapshot() (tickState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.state.published
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state, ok := s.snapshot()
	body := map[string]interface{}{"status": "ok"}
	if ok {
		body["last_tick"] = state.UpdatedAt
		body["portfolio_health"] = state.Review.Health.String()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	state, ok := s.snapshot()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no tick published yet"})
		return
	}
	writeJSON(w, http.StatusOK, state.Portfolio)
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	state, ok := s.snapshot()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no tick published yet"})
		return
	}

	review := state.Review
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := review
		filtered.Assessments = nil
		for _, a := range review.Assessments {
			if a.Status.String() == status {
				filtered.Assessments = append(filtered.Assessments, a)
			}
		}
		review = filtered
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, _ *http.Request) {
	state, ok := s.snapshot()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no tick published yet"})
		return
	}
	writeJSON(w, http.StatusOK, state.Integrity)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.New().String()[:8])
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Router exposes the handler tree for tests and embedding hosts
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving HTTP until shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("monitor server starting")
	return s.server.ListenAndServe()
}

// Shutdown drains the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("monitor server shutting down")
	return s.server.Shutdown(ctx)
}
