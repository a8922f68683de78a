//go:build grpcserver

package grpcserver

import (
	"context"
	"net"

	adminv1 "pharmacyDispatch/api/admin/v1"
	dispatchv1 "pharmacyDispatch/api/dispatch/v1"
	providerv1 "pharmacyDispatch/api/provider/v1"
	"pharmacyDispatch/internal/auth"
	"pharmacyDispatch/internal/config"
	"pharmacyDispatch/internal/dispatch"
	"pharmacyDispatch/repository"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps bundles everything the three services need.
type Deps struct {
	Users         *repository.UserRepository
	Providers     *repository.ProviderRepository
	Orders        *repository.OrderRepository
	Broadcasts    *repository.BroadcastRepository
	Notifications *repository.NotificationRepository
	Assignments   *repository.AssignmentRepository
	Engine        *dispatch.Engine
	Arbiter       *dispatch.Arbiter
	Observer      *dispatch.Observer
}

// StartGRPC starts the gRPC server on the configured address and returns a
// shutdown function. All three services share the auth interceptors.
func StartGRPC(cfg *config.Config, deps Deps) (func(context.Context) error, error) {
	if cfg == nil {
		panic("config is required")
	}

	addr := cfg.GRPC.Address
	if addr == "" {
		addr = ":50051"
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// Allow plaintext for simplicity; in production, configure TLS.
	_ = insecure.NewCredentials

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.NewUnaryAuthInterceptor(cfg.Auth.JWTSecret, healthCheckMethod)),
		grpc.StreamInterceptor(auth.NewStreamAuthInterceptor(cfg.Auth.JWTSecret)),
	)

	dispatchv1.RegisterDispatchServiceServer(srv, &DispatchServer{Deps: deps})
	providerv1.RegisterProviderServiceServer(srv, &ProviderServer{Deps: deps})
	adminv1.RegisterAdminServiceServer(srv, &AdminServer{Deps: deps})

	go func() { _ = srv.Serve(lis) }()

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}, nil
}
