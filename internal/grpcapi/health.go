// Package grpcapi exposes the standard gRPC health service so a process
// supervisor can tell whether the reader is scanning.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/upic/reader/internal/upic/types"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "upic.reader.Scanner"

// Health reports SERVING while the camera is delivering frames and
// NOT_SERVING before the first frame and during recovery. It implements
// the controller's Presenter.
type Health struct {
	srv *health.Server

	mu      sync.Mutex
	serving bool
	known   bool
}

func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.set(false)
	return h
}

func (h *Health) Present(s types.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.known && h.serving == s.CameraOnline {
		return
	}
	h.setLocked(s.CameraOnline)
}

// Shutdown marks every service NOT_SERVING permanently.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

func (h *Health) set(serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLocked(serving)
}

func (h *Health) setLocked(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	h.serving = serving
	h.known = true
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *Health
	logger *slog.Logger
}

func NewServer(h *Health, logger *slog.Logger) *Server {
	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, h.srv)
	return &Server{grpc: g, health: h, logger: logger}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Start listens on addr and serves in the background. Serve errors are
// logged.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("grpc server error", "error", err)
		}
	}()
	return lis.Addr(), nil
}

// Stop marks the reader NOT_SERVING and drains in-flight calls until ctx
// expires, then forces the server closed.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
