package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"sleepdx/internal/adapters/config"
	"sleepdx/internal/api/health"
	"sleepdx/internal/api/prediction"
	"sleepdx/internal/metrics"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	HTTP        config.HTTPConfig
	ServiceName string
	Version     string
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, predictHandler *prediction.Handler, log *logger.Logger) *Server {
	port := 8080
	if cfg.HTTP.Port > 0 {
		port = cfg.HTTP.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      NewRouter(cfg, healthHandler, predictHandler, log),
			ReadTimeout:  orDefault(cfg.HTTP.ReadTimeout, 10*time.Second),
			WriteTimeout: orDefault(cfg.HTTP.WriteTimeout, 10*time.Second),
			IdleTimeout:  orDefault(cfg.HTTP.IdleTimeout, 60*time.Second),
		},
		log: log,
	}
}

// NewRouter builds the route table wrapped in the request middleware
func NewRouter(cfg ServerConfig, healthHandler *health.Handler, predictHandler *prediction.Handler, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes liveness and readiness)
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReadiness)
	mux.HandleFunc("GET /live", healthHandler.HandleLiveness)

	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", metrics.Handler())

	var predict http.Handler = http.HandlerFunc(predictHandler.HandlePredict)
	if cfg.HTTP.PredictRPS > 0 {
		burst := max(cfg.HTTP.PredictBurst, 1)
		predict = RateLimit(rate.NewLimiter(rate.Limit(cfg.HTTP.PredictRPS), burst))(predict)
	}
	mux.Handle("POST /predict", predict)
	mux.HandleFunc("GET /model", predictHandler.HandleModel)
	mux.HandleFunc("GET /model/metrics", predictHandler.HandleModelMetrics)

	if cfg.HTTP.AdminToken != "" {
		mux.Handle("POST /admin/reload", AdminAuth(cfg.HTTP.AdminToken)(http.HandlerFunc(predictHandler.HandleReload)))
		log.Info("✓ Admin reload registered at /admin/reload")
	} else {
		log.Warn("HTTP_ADMIN_TOKEN not set, /admin/reload disabled")
	}

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	return Chain(mux, RequestID, AccessLog(log), Recover(log))
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
