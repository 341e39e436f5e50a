// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evworth/internal/common/logger"
	"evworth/internal/history"
	"evworth/internal/market"
	"evworth/internal/pricing"
	"evworth/internal/registry"
	"evworth/internal/soh"
)

// Pinger is anything with a health-checkable connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface around the core components.
type Server struct {
	router    *mux.Router
	registry  *registry.Registry
	predictor *pricing.Predictor
	estimator *soh.Estimator
	market    *market.Store
	indexer   *history.Indexer // nil when history indexing is disabled
	checks    map[string]Pinger
	logger    logger.Logger
}

func NewServer(reg *registry.Registry, predictor *pricing.Predictor, estimator *soh.Estimator, marketStore *market.Store, indexer *history.Indexer, checks map[string]Pinger, log logger.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		registry:  reg,
		predictor: predictor,
		estimator: estimator,
		market:    marketStore,
		indexer:   indexer,
		checks:    checks,
		logger:    log.WithFields(map[string]interface{}{"component": "api"}),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods("POST")
	api.HandleFunc("/model/info", s.handleModelInfo).Methods("GET")
	api.HandleFunc("/model/reload", s.handleModelReload).Methods("POST")
	api.HandleFunc("/market", s.handleMarketData).Methods("GET")
	api.HandleFunc("/soh/vehicle", s.handleVehicleSoh).Methods("GET")
	api.HandleFunc("/soh/fleet", s.handleFleetSoh).Methods("GET")

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	api.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request handled", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"duration":  time.Since(start).String(),
			"requestId": requestID(r),
		})
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleHealth reports service liveness plus per-dependency pings.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
		} else {
			checks[name] = "ok"
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
