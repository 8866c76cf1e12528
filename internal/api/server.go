// Package api provides the HTTP surface of the scoring service: training,
// batch and single-point scoring, the event listener, twin queries, score
// history, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/app/scoring"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/health"
	"github.com/synapseshield/shield/internal/infra/eventstream"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

// History is the read side of the score history.
type History interface {
	DeviceScores(deviceID string, limit int) ([]domain.ScoreRecord, error)
	RecentAnomalies(limit int) ([]domain.ScoreRecord, error)
	ScoreStats() (total, anomalies int64, err error)
}

// Server is the HTTP API server.
type Server struct {
	svc      *scoring.Service
	listener *eventstream.Listener
	twins    domain.TwinQuerier
	history  History
	checker  *health.Checker
	log      *zap.SugaredLogger

	baseCtx        context.Context
	metricsEnabled bool
	corsEnabled    bool
	upgrader       websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(svc *scoring.Service, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		svc:         svc,
		log:         log,
		baseCtx:     context.Background(),
		corsEnabled: true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetCORS toggles the permissive CORS headers.
func (s *Server) SetCORS(on bool) { s.corsEnabled = on }

// SetListener sets the background event listener started by
// POST /api/listener/start.
func (s *Server) SetListener(l *eventstream.Listener) { s.listener = l }

// SetTwins sets the digital twin query client.
func (s *Server) SetTwins(q domain.TwinQuerier) { s.twins = q }

// SetHistory sets the score history reader.
func (s *Server) SetHistory(h History) { s.history = h }

// SetHealth sets the health checker behind /health.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// SetBaseContext sets the context background work started by a request
// inherits. Request contexts end with the response and cannot be used.
func (s *Server) SetBaseContext(ctx context.Context) { s.baseCtx = ctx }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.corsEnabled {
		r.Use(corsMiddleware)
	}

	r.Get("/health", s.handleHealth)

	// The stream handler holds its connection open, so it sits outside the
	// request timeout.
	r.Get("/api/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/train", s.handleTrain)
			r.Post("/predict", s.handlePredict)
			r.Post("/score", s.handleScore)

			r.Get("/listener", s.handleListenerStatus)
			r.Post("/listener/start", s.handleListenerStart)
			r.Post("/listener/stop", s.handleListenerStop)

			r.Get("/twins", s.handleTwins)

			r.Get("/devices/{id}/scores", s.handleDeviceScores)
			r.Get("/anomalies", s.handleAnomalies)
		})
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeErr maps a domain error onto an HTTP status.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrModelNotFound), errors.Is(err, domain.ErrScalerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMalformedTelemetry),
		errors.Is(err, domain.ErrFeatureMismatch),
		errors.Is(err, domain.ErrDimensionMismatch),
		errors.Is(err, domain.ErrEmptyDataset):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrListenerRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTwinNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
