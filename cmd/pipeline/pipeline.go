package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/botship/botship/internal/pipeline"
	"github.com/botship/botship/internal/pipeline/types"
	"github.com/botship/botship/internal/shared/config"
	"github.com/botship/botship/internal/shared/zlog"
)

func main() {
	// Parse configuration from environment
	cfg, err := config.LoadPipelineConfig()
	if err != nil {
		zlog.New(zlog.Config{Service: "pipeline"}).Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := zlog.New(zlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.ServiceName,
	})

	logger.Info("pipeline starting",
		"repository", cfg.Repository,
		"ref", cfg.Ref,
		"registry", cfg.RegistryHost,
	)

	// Cancel the run on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create service
	svc, err := pipeline.NewService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// One run, exactly one outcome notification
	result, err := svc.Run(ctx)
	if err != nil || result.Outcome != types.OutcomeSuccess {
		os.Exit(1)
	}
}
