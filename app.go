// Package sgrbridge assembles the bridge server: an OpenAI-compatible
// chat-completions surface in front of the SGR deep-research agent API.
package sgrbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rosti35/sgr-agent-core/handlers"
	"github.com/Rosti35/sgr-agent-core/registry"
	"github.com/Rosti35/sgr-agent-core/session"
	"github.com/Rosti35/sgr-agent-core/upstream"
)

// Server is the bridge instance. Create one with New(), then call Start()
// to run the HTTP server.
type Server struct {
	host   string
	port   int
	cfg    *Config
	logger *slog.Logger

	client   *upstream.Client
	sessions *session.Store
	srv      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port (default 9000).
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithHost sets the listen host (default "0.0.0.0").
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithConfig sets the validated bridge configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a new Server with the given options.
func New(opts ...Option) *Server {
	s := &Server{
		host:   "0.0.0.0",
		port:   9000,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start wires the pipeline, builds routes, and runs the HTTP server. It
// blocks until the server is shut down via signal or Shutdown().
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s.client = upstream.NewClient(s.cfg.UpstreamURL, s.cfg.UpstreamKey)
	s.sessions = session.NewStore()
	reg := registry.New(s.client, s.cfg.RegistryTTL, s.logger)
	runner := session.NewRunner(s.client, s.cfg.Timeout, s.logger)

	deps := &handlers.Deps{
		Registry: reg,
		Runner:   runner,
		Sessions: s.sessions,
		Logger:   s.logger,
		Config: &handlers.Config{
			DefaultAgent:  s.cfg.DefaultAgent,
			ShowToolCalls: s.cfg.ShowToolCalls,
		},
	}

	mux := http.NewServeMux()

	// Liveness; also probes the upstream so availability can be gated on it.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		up := "ok"
		if err := s.client.Health(r.Context()); err != nil {
			up = "unreachable"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","upstream":%q,"sessions":%d}`+"\n", up, s.sessions.Len())
	})

	apiMux := http.NewServeMux()
	handlers.RegisterRoutes(apiMux, deps)
	mux.Handle("/v1/", authMiddleware(s.cfg.APIKey, apiMux))

	handler := corsMiddleware(mux)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for SSE
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on signal
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
	}()

	s.logger.Info("sgr-bridge starting",
		"addr", addr,
		"upstream", s.cfg.UpstreamURL,
		"default_agent", s.cfg.DefaultAgent,
		"auth", s.cfg.APIKey != "")

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
