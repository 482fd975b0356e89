// Package api hosts the marketlens HTTP and gRPC listeners and manages their
// lifecycle.
package api

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

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketlens/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	mu    sync.Mutex
	addrs map[string]net.Addr
	ready chan struct{}
}

// NewServer creates a Server. register attaches gRPC services; it may be nil.
// A GRPCPort of zero or less disables the gRPC listener.
func NewServer(cfg config.Server, handler http.Handler, register func(*grpc.Server), log *slog.Logger) *Server {
	s := &Server{
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		log:      log,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addrs: make(map[string]net.Addr),
		ready: make(chan struct{}),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
		s.grpcServer = grpc.NewServer()
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		if register != nil {
			register(s.grpcServer)
		}
	}
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. Cancellation triggers a
// graceful shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLis net.Listener
	if s.grpcServer != nil {
		grpcLis, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}

	s.mu.Lock()
	s.addrs["http"] = httpLis.Addr()
	if grpcLis != nil {
		s.addrs["grpc"] = grpcLis.Addr()
	}
	s.mu.Unlock()
	close(s.ready)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			if err := s.grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Addr returns the bound address of the "http" or "grpc" listener, waiting
// until ListenAndServe has bound them or ctx ends.
func (s *Server) Addr(ctx context.Context, name string) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addrs[name]
	if !ok {
		return nil, fmt.Errorf("no %s listener", name)
	}
	return a, nil
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers. gRPC
// streams still open when ctx expires are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	if s.grpcServer != nil {
		s.health.Shutdown()
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
