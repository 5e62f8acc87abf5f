package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/backofficehq/meli-sync-worker/internal/service"
)

// Activity receives a signal when a caller manually triggers a pass, so the
// background scheduler can back off instead of immediately stacking its own.
type Activity interface {
	NoteInteraction()
}

// Server wraps an http.Server exposing the sync endpoints alongside health
// and metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	authToken  string
	activity   Activity
	cache      *service.CacheService
	sync       *service.SyncService
	drain      *service.DrainService
}

// New creates the HTTP server listening on addr. authToken is the shared
// bearer secret for the API routes; empty leaves them open (logged loudly).
// activity may be nil.
func New(addr, authToken string, logger *slog.Logger, cache *service.CacheService, syncSvc *service.SyncService, drain *service.DrainService, activity Activity) *Server {
	server := &Server{
		logger:    logger.With("component", "http"),
		authToken: authToken,
		activity:  activity,
		cache:     cache,
		sync:      syncSvc,
		drain:     drain,
	}
	if authToken == "" {
		server.logger.Warn("API_AUTH_TOKEN not set, API endpoints are unauthenticated")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/orders/unified", server.handleUnifiedOrders)
	mux.HandleFunc("/api/claims/unified", server.handleUnifiedClaims)
	mux.HandleFunc("/api/sync/orders", server.handleSyncOrders)
	mux.HandleFunc("/api/sync/claims", server.handleSyncClaims)
	mux.HandleFunc("/api/claims/queue/drain", server.handleQueueDrain)
	mux.HandleFunc("/api/claims/queue/reset-failed", server.handleResetFailed)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(server.authMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server
}

// Handler exposes the routed handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// authMiddleware requires the shared bearer token on API routes. Health and
// metrics stay open for liveness checks and scrapers; preflight requests carry no
// credentials and are answered by the CORS layer.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" || r.Method == http.MethodOptions ||
			r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid or missing bearer token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and tags every response, since
// the back-office UI calls these endpoints cross-origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
