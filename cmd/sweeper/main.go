package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"ai-talks/handler"
	"ai-talks/internal/app"
	"ai-talks/internal/config"
	"ai-talks/internal/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.New(logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		JSONFormat: true,
	})
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to wire application", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewSweepHandler(a.Sweeper, log)
	if err != nil {
		log.Error("failed to create sweep handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
