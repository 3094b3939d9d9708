package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/stateful-consumer-probe/internal/api"
	"github.com/ismaiel54/stateful-consumer-probe/internal/chaos"
	"github.com/ismaiel54/stateful-consumer-probe/internal/config"
	"github.com/ismaiel54/stateful-consumer-probe/internal/consumer"
	"github.com/ismaiel54/stateful-consumer-probe/internal/journal"
	"github.com/ismaiel54/stateful-consumer-probe/internal/logging"
	"github.com/ismaiel54/stateful-consumer-probe/internal/metrics"
	"github.com/ismaiel54/stateful-consumer-probe/internal/msg"
	"github.com/ismaiel54/stateful-consumer-probe/internal/observability"
	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("probe-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting probe-server",
		zap.String("http_addr", cfg.HTTPAddr()),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("runtime", cfg.Runtime),
		zap.String("topic", cfg.Topic),
		zap.String("consumer_group", cfg.ConsumerGroupID()),
	)

	m := metrics.New()
	healthChecker := observability.NewHealthChecker(logger)

	// Chaos only wraps the upstream transport
	chaosCfg := chaos.LoadConfig()
	var transport http.RoundTripper
	if chaosCfg.Enabled {
		logger.Warn("chaos injection enabled",
			zap.String("profile", chaosCfg.Profile),
			zap.String("target_path", chaosCfg.TargetPath),
		)
		transport = chaos.New(chaosCfg, logger).Transport(nil)
	}

	client := txeventq.NewClient(txeventq.Options{
		Host:           cfg.OracleHost,
		Username:       cfg.OracleUsername,
		Password:       cfg.OraclePassword,
		DBName:         cfg.OracleDBName,
		Schema:         cfg.ORDSSchema,
		Module:         cfg.ORDSModule,
		Timeout:        cfg.RequestTimeout(),
		PublishTimeout: cfg.PublishTimeout(),
		Transport:      transport,
		Observer:       m,
	}, logger)

	session := consumer.NewSession(client, consumer.Config{
		GroupID:           cfg.ConsumerGroupID(),
		Topic:             cfg.Topic,
		MaxStoredMessages: cfg.MaxStoredMessages,
	}, logger)
	session.SetRecorder(m)

	deps := api.Deps{
		Config:   cfg,
		Session:  session,
		Upstream: client,
		Health:   healthChecker,
		Metrics:  m,
	}

	// Optional journal
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Fatal("failed to open journal", zap.String("path", cfg.JournalPath), zap.Error(err))
		}
		defer store.Close()
		deps.Journal = store
		logger.Info("journal enabled", zap.String("path", cfg.JournalPath))
	}

	// Optional native Kafka producer
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := msg.NewProducer(brokers, cfg.ServiceName, logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()
		deps.Producer = producer
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(deps, logger)

	// Optional gRPC health server
	var grpcServer *grpc.Server
	grpcErrCh := make(chan error, 1)
	if cfg.GRPCPort > 0 {
		grpcServer = grpc.NewServer()
		healthChecker.RegisterGRPC(grpcServer)

		grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
		if err != nil {
			logger.Fatal("failed to listen on gRPC port", zap.Error(err))
		}
		go func() {
			logger.Info("gRPC health server listening", zap.String("addr", cfg.GRPCAddr()))
			if err := grpcServer.Serve(grpcListener); err != nil {
				grpcErrCh <- err
			}
		}()
	}

	// Start HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.Serve(cfg.HTTPAddr(), router); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	// Release the upstream instance so the group does not keep a dead member
	status := session.Status()
	if status.Initialized && status.InstanceID != consumer.UnknownInstance {
		if err := client.DeleteConsumerInstance(shutdownCtx, status.ConsumerGroupID, status.InstanceID); err != nil {
			logger.Warn("failed to delete consumer instance", zap.String("instance_id", status.InstanceID), zap.Error(err))
		}
	}

	logger.Info("probe-server stopped")
}
