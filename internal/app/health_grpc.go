package app

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// newHealthGRPCServer builds a gRPC server exposing the standard
// grpc.health.v1 service, for orchestrators that probe over gRPC
// instead of HTTP.
func newHealthGRPCServer() (*grpc.Server, *health.Server) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}
