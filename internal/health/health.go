// Package health serves the gRPC health checking protocol for the process
// and for the capture pipeline.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CaptureService reports SERVING while the capture workers run.
const CaptureService = "sitewatch.Capture"

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	addr     string
	health   *grpchealth.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a health server for addr. Capture starts NOT_SERVING.
func New(addr string) *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CaptureService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{addr: addr, health: hs, server: srv}
}

// SetCapturing updates the capture service status.
func (s *Server) SetCapturing(capturing bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if capturing {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(CaptureService, status)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Error().Err(err).Msg("gRPC health server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	log.Info().Msg("gRPC health server stopped")
}
