package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/stsolovey/pipemonitor/internal/config"
	"github.com/stsolovey/pipemonitor/internal/logging"
	"github.com/stsolovey/pipemonitor/internal/monitor"
	"github.com/stsolovey/pipemonitor/internal/status"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

const (
	serviceName = "pipemonitor"

	serverReadHeaderTimeout = 5 * time.Second
	serverIdleTimeout       = 60 * time.Second
	shutdownTimeout         = 10 * time.Second
	maxConcurrentStreams    = 250
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pipemonitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := status.CodecByName(cfg.Report.Codec)
	if err != nil {
		return err
	}

	provider, err := transport.NewFactory(cfg, logger).
		Connect(ctx, cfg.Monitor.Address, serviceName, transport.RoleSubscriber)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Monitor.Address, err)
	}
	defer provider.Close()

	mon := monitor.New(provider,
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithCodec(codec),
		monitor.WithWorkers(cfg.Monitor.Workers),
		monitor.WithReceiveTimeout(cfg.Monitor.ReceiveTimeout),
	)

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	app := NewApp(mon, provider, logger.Named("http"))

	h2s := &http2.Server{
		MaxConcurrentStreams: maxConcurrentStreams,
		IdleTimeout:          serverIdleTimeout,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Monitor.HTTPPort,
		Handler:           h2c.NewHandler(app.Routes(), h2s),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	if err := http2.ConfigureServer(srv, h2s); err != nil {
		return fmt.Errorf("failed to configure HTTP/2 server: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.Monitor.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))

		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down pipemonitor")

		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)

		grpcServer.GracefulStop()

		return err
	})

	err = g.Wait()

	stop()
	mon.Wait()

	stats := mon.Stats()
	logger.Info("pipemonitor stopped",
		zap.Int64("received", stats.Received),
		zap.Int64("dropped", stats.Dropped),
	)

	return err
}
