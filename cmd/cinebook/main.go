package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/kirinyoku/cinebook/docs"
	"github.com/kirinyoku/cinebook/internal/app"
	"github.com/kirinyoku/cinebook/internal/config"
)

// @title Cinebook API
// @version 1.0
// @description Ticket selection, seat picking and booking for cinema screenings.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
