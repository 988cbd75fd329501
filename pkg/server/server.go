// Package server exposes the subscription manager's health, state and
// metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitechdev/TopicSpec/pkg/config"
	"github.com/bitechdev/TopicSpec/pkg/logger"
)

// GracefulServer wraps http.Server, rejecting new requests once shutdown
// starts and draining the ones in flight
type GracefulServer struct {
	server           *http.Server
	shutdownTimeout  time.Duration
	drainTimeout     time.Duration
	inFlightRequests atomic.Int64
	isShuttingDown   atomic.Bool
	shutdownOnce     sync.Once
	shutdownComplete chan struct{}
	addr             atomic.Value
}

// NewGracefulServer creates a server for handler from cfg, filling in
// timeouts left at zero
func NewGracefulServer(cfg config.ServerConfig, handler http.Handler) *GracefulServer {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	gs := &GracefulServer{
		shutdownTimeout:  cfg.ShutdownTimeout,
		drainTimeout:     cfg.ShutdownTimeout * 4 / 5,
		shutdownComplete: make(chan struct{}),
	}
	gs.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      gs.TrackRequestsMiddleware(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return gs
}

// TrackRequestsMiddleware counts in-flight requests and answers 503 during
// shutdown
func (gs *GracefulServer) TrackRequestsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gs.isShuttingDown.Load() {
			http.Error(w, `{"error":"service_unavailable","message":"Server is shutting down"}`, http.StatusServiceUnavailable)
			return
		}

		gs.inFlightRequests.Add(1)
		defer gs.inFlightRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured address and serves in the background.
// Serve errors other than a regular shutdown are sent on the returned
// channel, which is closed when serving ends.
func (gs *GracefulServer) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", gs.server.Addr, err)
	}
	gs.addr.Store(ln.Addr().String())

	serverErr := make(chan error, 1)
	go func() {
		defer close(serverErr)
		logger.Info("[Server] Status server listening on %s", ln.Addr())
		if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	return serverErr, nil
}

// Addr returns the bound address once Start succeeded
func (gs *GracefulServer) Addr() string {
	if v, ok := gs.addr.Load().(string); ok {
		return v
	}
	return gs.server.Addr
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the
// server. Only the first call has an effect.
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	gs.shutdownOnce.Do(func() {
		logger.Info("[Server] Starting graceful shutdown")
		gs.isShuttingDown.Store(true)

		shutdownCtx, cancel := context.WithTimeout(ctx, gs.shutdownTimeout)
		defer cancel()

		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, gs.drainTimeout)
		defer drainCancel()

		shutdownErr = gs.drainRequests(drainCtx)
		if shutdownErr != nil {
			logger.Error("[Server] Error draining requests: %v", shutdownErr)
		}

		if err := gs.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("[Server] Error shutting down: %v", err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}

		logger.Info("[Server] Graceful shutdown complete")
		close(gs.shutdownComplete)
	})

	return shutdownErr
}

func (gs *GracefulServer) drainRequests(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		inFlight := gs.inFlightRequests.Load()
		if inFlight == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("drain timeout exceeded: %d requests still in flight", inFlight)
		case <-ticker.C:
			logger.Debug("[Server] Waiting for %d in-flight requests", inFlight)
		}
	}
}

// InFlightRequests returns the current number of in-flight requests
func (gs *GracefulServer) InFlightRequests() int64 {
	return gs.inFlightRequests.Load()
}

// IsShuttingDown reports whether Shutdown has started
func (gs *GracefulServer) IsShuttingDown() bool {
	return gs.isShuttingDown.Load()
}

// Wait blocks until shutdown is complete
func (gs *GracefulServer) Wait() {
	<-gs.shutdownComplete
}
