package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"timeline/internal/config"
	"timeline/internal/logging"
	"timeline/internal/server"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	s, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		stop()
		logger.Sync()
		os.Exit(1)
	}
}
