package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"sqljudge/internal/config"
	"sqljudge/internal/judge"
	"sqljudge/internal/monitor"
	"sqljudge/internal/queue"
	"sqljudge/internal/storage"
)

// Server is the HTTP front of the judge.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer wires routes and middleware. The queue handle is used for
// health reporting only; the judge owns the grading path.
func NewServer(cfg *config.Config, j *judge.Judge, q queue.Queue, db *storage.DB, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(j, db)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, all requests will be accepted")
	}

	// Grading API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /submissions", handlers.HandleSubmit)
	apiMux.HandleFunc("GET /submissions/{id}", handlers.HandlePoll)
	apiMux.HandleFunc("POST /test", handlers.HandleTest)
	apiMux.HandleFunc("GET /history", handlers.HandleListSubmissions)
	apiMux.HandleFunc("GET /history/{id}", handlers.HandleGetSubmission)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys)(apiMux)

	// Top-level mux: health and metrics bypass auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(q, db))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(q queue.Queue, db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueOK := true
		if q != nil {
			_, err := q.Depth(r.Context())
			queueOK = err == nil
		}
		dbOK := db == nil || db.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Queue:    queueOK,
			Database: dbOK,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}

		status := http.StatusOK
		if !queueOK || !dbOK {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
