// Package grpc serves the standard grpc.health.v1 service so that gRPC
// aware load balancers and orchestrators can health-check the gateway. The
// reported status mirrors the HTTP /health endpoint.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "pmp.graphql.Gateway"

const defaultPollInterval = 5 * time.Second

// Config configures the health listener
type Config struct {
	Address      string
	Reflection   bool
	PollInterval time.Duration

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// Check computes the status. Defaults to observability.CheckHealth.
	Check func(ctx context.Context) (observability.HealthStatus, []observability.HealthCheck)
}

// Server represents the gRPC health server
type Server struct {
	config       Config
	grpcServer   *grpc.Server
	healthServer *health.Server

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new gRPC health server
func NewServer(config Config) (*Server, error) {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.Check == nil {
		config.Check = observability.CheckHealth
	}

	var opts []grpc.ServerOption
	if config.CertFile != "" && config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		creds := credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
		})
		opts = append(opts, grpc.Creds(creds))
	}

	s := &Server{
		config:       config,
		grpcServer:   grpc.NewServer(opts...),
		healthServer: health.NewServer(),
		done:         make(chan struct{}),
	}

	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	if config.Reflection {
		reflection.Register(s.grpcServer)
	}

	s.Refresh(context.Background())
	return s, nil
}

// Refresh runs the health checks once and publishes the result
func (s *Server) Refresh(ctx context.Context) {
	status, checks := s.config.Check(ctx)

	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if status == observability.HealthStatusUnhealthy {
		serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		for _, check := range checks {
			if check.Status == observability.HealthStatusUnhealthy {
				observability.Debug("Health check failing",
					zap.String("check", check.Name),
					zap.String("message", check.Message))
			}
		}
	}

	s.healthServer.SetServingStatus("", serving)
	s.healthServer.SetServingStatus(ServiceName, serving)
}

// Start listens on the configured address and blocks until Stop
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener and blocks until Stop
func (s *Server) Serve(listener net.Listener) error {
	go s.poll()

	observability.Info("gRPC health server listening", zap.String("address", listener.Addr().String()))
	if err := s.grpcServer.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) poll() {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Refresh(context.Background())
		case <-s.done:
			return
		}
	}
}

// Stop marks every service as not serving and stops the server gracefully
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	})
}
