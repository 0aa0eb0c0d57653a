package api

import (
	"net"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reporting the engine
const ServiceName = "relay.Engine"

// GRPCServer serves the standard gRPC health protocol. The overall status
// and ServiceName follow the engine: SERVING while it runs.
type GRPCServer struct {
	engine   *multiplexing.Engine
	grpc     *grpc.Server
	health   *health.Server
	interval time.Duration
	logger   zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGRPCServer creates a gRPC server watching engine every interval
func NewGRPCServer(engine *multiplexing.Engine, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = time.Second
	}
	logger := log.WithComponent("grpc")

	s := &GRPCServer{
		engine:   engine,
		grpc:     grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(logger))),
		health:   health.NewServer(),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Start listens on addr and serves until Stop
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop
func (s *GRPCServer) Serve(lis net.Listener) error {
	go s.watch()
	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC health server listening")
	return s.grpc.Serve(lis)
}

// Sync publishes the current engine state to the health service
func (s *GRPCServer) Sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.engine != nil && s.engine.Running() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *GRPCServer) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sync()
		case <-s.stopCh:
			return
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (s *GRPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}
