// Package gateway serves the session-gateway HTTP API that server-verified
// clients talk to. It issues codes, hands them to a messaging channel, keeps
// only their hashes, and checks them once.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/whatsapplogin/wal/internal/channel"
	"github.com/whatsapplogin/wal/internal/httputil"
)

const (
	DefaultCodeLength      = 6
	DefaultCodeExpiry      = 300 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config controls a Server. Zero values fall back to the package defaults.
type Config struct {
	Host string
	Port int

	// AuthToken, when set, must be presented as a bearer token on every
	// verification request.
	AuthToken string
	// JWTSecret, when set, makes a successful check return a signed token.
	JWTSecret     string
	TokenDuration time.Duration
	// ExposeCode returns the issued code in the send response. Development
	// only.
	ExposeCode bool

	MessageTemplate   string
	DefaultCodeLength int
	DefaultCodeExpiry time.Duration

	PruneSchedule   string
	ShutdownTimeout time.Duration
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      Config
	router   *chi.Mux
	logger   *slog.Logger
	sender   channel.Sender
	store    *Store
	tokens   *TokenIssuer
	validate *validator.Validate
	now      func() time.Time

	http   *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// New creates a Server that delivers codes through sender.
func New(cfg Config, sender channel.Sender, logger *slog.Logger) (*Server, error) {
	if sender == nil {
		return nil, errors.New("gateway: a channel sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCodeLength <= 0 {
		cfg.DefaultCodeLength = DefaultCodeLength
	}
	if cfg.DefaultCodeExpiry <= 0 {
		cfg.DefaultCodeExpiry = DefaultCodeExpiry
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if _, err := NextPrune(cfg.PruneSchedule, time.Now()); err != nil {
		return nil, fmt.Errorf("gateway: prune schedule: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		sender:   sender,
		store:    NewStore(),
		validate: validator.New(),
		now:      time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.JWTSecret != "" {
		s.tokens = NewTokenIssuer(cfg.JWTSecret, cfg.TokenDuration)
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/sessions/{sessionId}/verify", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/send", s.handleSend)
		r.Post("/check", s.handleCheck)
	})

	return s, nil
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	return s.router
}

// Store exposes the code store.
func (s *Server) Store() *Store {
	return s.store
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	return s.StartWithReady(nil)
}

// StartWithReady begins listening. It closes ready (when non-nil) once the
// listener is bound, then blocks serving requests.
func (s *Server) StartWithReady(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	return s.Serve(ln)
}

// Serve serves on ln and runs the prune schedule until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.wg.Add(1)
	go s.pruneLoop(s.ctx)
	s.mu.Unlock()

	s.logger.Info("gateway starting", "address", ln.Addr().String(), "prune_schedule", s.cfg.PruneSchedule)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the prune schedule and drains in-flight requests within
// the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gateway", "timeout", s.cfg.ShutdownTimeout)
	s.cancel()
	s.mu.Lock()
	s.wg.Wait()
	s.mu.Unlock()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
