package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"comicforge/internal/api"
	"comicforge/internal/auth"
	"comicforge/internal/config"
	"comicforge/internal/logging"
	"comicforge/internal/pipeline"
)

// Runner starts and aborts generation runs.
type Runner interface {
	Validate(req pipeline.StartRequest) error
	Start(ctx context.Context, req pipeline.StartRequest) (pipeline.Handle, error)
	Abort(ctx context.Context, projectID, reason string) error
}

// Projections serves the read-only views of projects.
type Projections interface {
	Progress(ctx context.Context, userID, projectID string) (api.GenerationProgress, error)
	Preview(ctx context.Context, userID, projectID string, maxPages int) (api.ProjectPreview, error)
	List(ctx context.Context, userID string) ([]api.ProjectSummary, error)
}

// StatusSource reports daemon runtime status.
type StatusSource interface {
	Status(ctx context.Context) api.DaemonStatus
}

// Options wires the collaborators of the HTTP server.
type Options struct {
	Bind           string
	SecondsPerPage int
	Identity       auth.IdentityProvider
	Owners         api.OwnershipChecker
	Runner         Runner
	Projections    Projections
	Status         StatusSource
	Logger         *slog.Logger
}

// DefaultSecondsPerPage is the per-page estimate returned by /generate.
const DefaultSecondsPerPage = 15

// Server is the HTTP front of the daemon.
type Server struct {
	bind           string
	secondsPerPage int
	identity       auth.IdentityProvider
	owners         api.OwnershipChecker
	runner         Runner
	projections    Projections
	status         StatusSource
	logger         *slog.Logger

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// OptionsFrom maps the [server] section onto Options; collaborators are left
// for the caller.
func OptionsFrom(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Bind:           cfg.Server.Bind,
		SecondsPerPage: cfg.Server.SecondsPerPage,
	}
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Identity == nil {
		return nil, errors.New("server: identity provider is required")
	}
	if opts.Owners == nil || opts.Runner == nil || opts.Projections == nil {
		return nil, errors.New("server: ownership checker, runner, and projections are required")
	}
	if opts.SecondsPerPage <= 0 {
		opts.SecondsPerPage = DefaultSecondsPerPage
	}
	s := &Server{
		bind:           strings.TrimSpace(opts.Bind),
		secondsPerPage: opts.SecondsPerPage,
		identity:       opts.Identity,
		owners:         opts.Owners,
		runner:         opts.Runner,
		projections:    opts.Projections,
		status:         opts.Status,
		logger:         logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", s.authenticated(s.handleGenerate))
	mux.HandleFunc("GET /progress/{projectId}", s.authenticated(s.handleProgress))
	mux.HandleFunc("GET /preview/{projectId}", s.authenticated(s.handlePreview))
	mux.HandleFunc("GET /projects", s.authenticated(s.handleProjects))
	mux.HandleFunc("POST /projects/{projectId}/abort", s.authenticated(s.handleAbort))
	mux.HandleFunc("GET /status", s.authenticated(s.handleStatus))
	s.handler = withRequestID(mux)

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound listener address once Start has run.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.bind == "" {
		return errors.New("server: bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
