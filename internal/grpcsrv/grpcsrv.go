// Package grpcsrv runs an optional grpc.health.v1 health server
// alongside the Execution API's HTTP listener (A6), for orchestrators
// that probe liveness over gRPC rather than HTTP. Grounded on the
// listener-setup/goroutine-Serve/GracefulStop shape of
// internal/grpc/server.go's Start/Stop (teacher) — the teacher's own
// RPC surface (Invoke/InvokeAsync/GetFunction/ProxyHTTP, all
// FaaS-platform operations over a generated novapb service) has no
// equivalent in spec scope, so only the server lifecycle idiom is
// kept; the RPC surface itself is the standard
// grpc_health_v1.HealthServer instead of a bespoke service.
package grpcsrv

import (
	"fmt"
	"net"
	"sync"

	"github.com/oriys/ces/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps a grpc.Server exposing only the standard health-check
// service, with a settable status so the daemon can flip it unhealthy
// during shutdown.
type Server struct {
	mu      sync.Mutex
	srv     *grpc.Server
	health  *health.Server
	service string
}

// New constructs a Server. service is the name registered with the
// health service (empty string means "overall server status").
func New(service string) *Server {
	return &Server{health: health.NewServer(), service: service}
}

// Start listens on addr and serves in the background. SetServing(true)
// is called once the listener is up.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpcsrv: listen: %w", err)
	}

	s.mu.Lock()
	s.srv = grpc.NewServer()
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.mu.Unlock()

	s.SetServing(true)
	logging.Op().Info("grpc health server started", "addr", addr)

	go func() {
		if err := s.srv.Serve(lis); err != nil {
			logging.Op().Error("grpc health server error", "error", err)
		}
	}()
	return nil
}

// SetServing flips the health status for the registered service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
}

// Stop gracefully stops the server, marking it not-serving first.
func (s *Server) Stop() {
	s.SetServing(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		s.srv.GracefulStop()
	}
}
