// Package grpc serves the standard gRPC health service. The update subsystem
// reports SERVING while it is enabled.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"k8s.io/apimachinery/pkg/util/wait"

	grpcmw "github.com/autopeer-io/skypeer/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/skypeer/pkg/log"
	"github.com/autopeer-io/skypeer/pkg/options"
)

// ServiceName is the health service name of the update subsystem.
const ServiceName = "skypeer.update"

// pollInterval is how often the enable switch is mirrored into the health service.
const pollInterval = time.Second

// Readiness reports whether the update subsystem accepts requests.
type Readiness interface {
	Enabled() bool
}

type Server struct {
	server  *grpc.Server
	health  *health.Server
	ready   Readiness
	options *options.GrpcOptions
	logger  log.Logger
}

func NewServer(opts *options.GrpcOptions, ready Readiness) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmw.UnaryServerTimeoutInterceptor(opts.Timeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	srv := &Server{
		server:  s,
		health:  hs,
		ready:   ready,
		options: opts,
		logger:  log.WithName("grpc"),
	}
	srv.sync()
	return srv
}

// sync mirrors the enable switch into the health service.
func (s *Server) sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.ready.Enabled() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve runs the server on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("Starting gRPC Server", "addr", lis.Addr().String())

	go wait.UntilWithContext(ctx, func(context.Context) { s.sync() }, pollInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}
