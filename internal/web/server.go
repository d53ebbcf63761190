package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"

	"github.com/vbonduro/where2skate/internal/identity"
	"github.com/vbonduro/where2skate/internal/metrics"
	"github.com/vbonduro/where2skate/internal/repository"
)

// accountService is the part of identity.Provider the server uses.
type accountService interface {
	SignUp(ctx context.Context, email, password, displayName string) (*identity.Session, error)
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Verify(ctx context.Context, token string) (*identity.Session, error)
	Revoke(ctx context.Context, token string) error
	UpdateDisplayName(ctx context.Context, token, displayName string) (*identity.Session, error)
}

type Server struct {
	repo     *repository.SkateparkRepository
	accounts accountService
	metrics  *metrics.Manager
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer wires the JSON API. m may be nil, in which case /metrics is not
// served and requests are not measured.
func NewServer(repo *repository.SkateparkRepository, accounts accountService, m *metrics.Manager, logger *slog.Logger) *Server {
	s := &Server{
		repo:     repo,
		accounts: accounts,
		metrics:  m,
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "web"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.Handle("POST /auth/signup", gzip(s.handleSignUp))
	s.mux.Handle("POST /auth/login", gzip(s.handleLogin))
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.Handle("GET /auth/me", gzip(s.handleMe))
	s.mux.Handle("PATCH /auth/me", gzip(s.handleUpdateMe))

	s.mux.Handle("GET /skateparks", gzip(s.handleListSkateparks))
	s.mux.Handle("POST /skateparks", gzip(s.handleAddSkatepark))
	s.mux.Handle("GET /skateparks/{id}", gzip(s.handleGetSkatepark))
	s.mux.Handle("PUT /skateparks/{id}", gzip(s.handleUpdateSkatepark))
	s.mux.HandleFunc("DELETE /skateparks/{id}", s.handleDeleteSkatepark)

	s.mux.Handle("GET /skateparks/{id}/ratings", gzip(s.handleListRatings))
	s.mux.Handle("POST /skateparks/{id}/ratings", gzip(s.handleAddRating))
	s.mux.Handle("GET /skateparks/{id}/ratings/summary", gzip(s.handleRatingSummary))

	// Streams flush every event and are never compressed.
	s.mux.HandleFunc("GET /skateparks/stream", s.handleStreamSkateparks)
	s.mux.HandleFunc("GET /skateparks/{id}/stream", s.handleStreamSkatepark)
	s.mux.HandleFunc("GET /skateparks/{id}/ratings/stream", s.handleStreamRatings)
	s.mux.HandleFunc("GET /ws/skateparks", s.handleWebSocketSkateparks)
}

func gzip(fn http.HandlerFunc) http.Handler {
	return gzhttp.GzipHandler(fn)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// securityHeaders sets security-related headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
// It passes flushes and hijacks through for the stream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, m *metrics.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
		if m != nil {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(route, r.Method, rec.status, elapsed)
		}
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, s.metrics, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// Open streams end when their request contexts are cancelled by the shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
