package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"authservice/internal/config"
	"authservice/internal/database"
	"authservice/internal/pkg/logger"
	"authservice/internal/repository"
)

// auth_cleanup purges expired refresh tokens and revoked ones older than
// REVOKED_RETENTION. Meant to run from cron.
func main() {
	cfg, err := config.LoadAuthRuntimeConfig()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := repository.NewRefreshTokenRepository(db).DeleteStale(ctx, time.Now().UTC(), cfg.RevokedRetention)
	if err != nil {
		log.Error("cleanup refresh_tokens failed", "error", err)
		os.Exit(1)
	}

	log.Info("auth cleanup completed", "refresh_tokens", n)
}
