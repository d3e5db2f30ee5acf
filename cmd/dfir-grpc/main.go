package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/dfir-engine/internal/adapter/handler"
	"github.com/hive-corporation/dfir-engine/internal/app"
	"github.com/hive-corporation/dfir-engine/internal/config"
	"github.com/hive-corporation/dfir-engine/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New()
	defer logger.Close()

	components, err := app.Build(context.Background(), cfg, nil, logger.Logger)
	if err != nil {
		logger.Fatal("❌ Failed to initialize engine", "err", err)
	}
	defer components.Close()

	// GRPC_LISTEN_ADDR defaults to localhost only
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("❌ Failed to listen", "addr", cfg.GRPCAddr, "err", err)
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor(logger.Logger)))
	handler.RegisterEngineServer(s, handler.NewGrpcServer(components.Engine, logger.Logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.EngineServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)

	reflection.Register(s)

	go func() {
		logger.Info("🚀 DFIR gRPC API listening", "addr", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			logger.Fatal("❌ Failed to serve", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")
	healthServer.Shutdown()
	s.GracefulStop()
}
