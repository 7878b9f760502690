package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/botship/botship/internal/pipeline"
	"github.com/botship/botship/internal/pipeline/trigger"
	"github.com/botship/botship/internal/shared/config"
	natsclient "github.com/botship/botship/internal/shared/nats"
	"github.com/botship/botship/internal/shared/zlog"
)

func main() {
	// Parse configuration from environment
	cfg, err := config.LoadDaemonConfig()
	if err != nil {
		zlog.New(zlog.Config{Service: "pipelined"}).Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := zlog.New(zlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.ServiceName,
	})

	logger.Info("pipelined starting",
		"registry", cfg.RegistryHost,
		"nats_urls", cfg.NATS.URLs,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create the pipeline service shared across triggered runs
	svc, err := pipeline.NewService(ctx, &cfg.PipelineConfig, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Connect to NATS and listen for build requests
	nc, err := natsclient.NewClient(&cfg.NATS)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	listener := trigger.NewListener(nc, svc, logger.With("component", "trigger"))
	if err := listener.Listen(ctx); err != nil {
		logger.Error("listener stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("pipelined stopped")
}
