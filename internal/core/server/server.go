// Package server provides HTTP and gRPC health server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/policydesk/internal/core/config"
)

// Server runs the HTTP API and, when a gRPC port is configured, the gRPC
// health service.
type Server struct {
	cfg    config.ServerConfig
	http   *http.Server
	health *HealthServer
	logger *zap.Logger
}

// New creates a server for handler.
func New(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.RequestTimeout,
		},
		health: NewHealthServer(logger),
		logger: logger,
	}, nil
}

// Run binds the configured addresses and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpAddr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", httpAddr, err)
	}

	var grpcLn net.Listener
	if s.cfg.GRPCPort > 0 {
		grpcAddr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.GRPCPort))
		grpcLn, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to bind %s: %w", grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on pre-bound listeners; grpcLn may be nil. When ctx is
// cancelled both servers are shut down within cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http listening", zap.String("addr", httpLn.Addr().String()))
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error { return s.health.Serve(grpcLn) })
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", zap.Duration("timeout", s.cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if grpcLn != nil {
			errs = append(errs, s.health.Shutdown(shutdownCtx))
		}
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.http.Close()
			errs = append(errs, fmt.Errorf("http graceful shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
