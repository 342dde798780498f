// Package server assembles the HTTP service: repository manager, routes and
// middleware, and runs it until its context is canceled.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"

	"timeline/internal/api"
	"timeline/internal/config"
	"timeline/internal/logging"
	"timeline/internal/middleware"
	"timeline/internal/repository"

	"go.uber.org/zap"
)

type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	manager *repository.Manager
	handler http.Handler
}

func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	registry, err := repository.NewRegistry(
		repository.OptionsFromConfig(cfg),
		cfg.Storage.MaxOpenRepos,
		logger.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("creating repository registry: %w", err)
	}
	manager := repository.NewManager(registry, logger.Logger)

	mux := http.NewServeMux()
	api.NewHandler(manager, logger, cfg.Storage.IOTimeout).Routes(mux)

	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Metrics,
		middleware.Recover(logger),
	)

	return &Server{cfg: cfg, logger: logger, manager: manager, handler: handler}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on the configured address until ctx is canceled, then drains
// in-flight requests and closes every repository.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.manager.Close()
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  2 * s.cfg.Server.ReadTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			zap.String("address", ln.Addr().String()),
			zap.String("backend", s.cfg.Storage.Backend),
			zap.String("environment", s.cfg.Environment))
		errc <- srv.Serve(ln)
	}()

	var serveErr error
	var shutdownCtx context.Context
	var cancel context.CancelFunc
	select {
	case err := <-errc:
		if !stderrors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
		shutdownCtx, cancel = context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel = context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", zap.Error(err))
			serveErr = err
		}
	}
	defer cancel()

	if err := s.closeRepositories(shutdownCtx); err != nil {
		s.logger.Error("closing repositories", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}
	s.logger.Info("server stopped")
	return serveErr
}

// closeRepositories closes the manager, giving up when ctx expires. A store
// that never finishes closing is left to the process exit.
func (s *Server) closeRepositories(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.manager.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("closing repositories: %w", ctx.Err())
	}
}

// Close releases every open repository without serving. It is only needed
// when the handler is used without Run or Serve.
func (s *Server) Close() error {
	return s.manager.Close()
}
