package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"authservice/internal/config"
	"authservice/internal/database"
	"authservice/internal/directory"
	"authservice/internal/metrics"
	"authservice/internal/modules/auth"
	jwtsvc "authservice/internal/pkg/jwt"
	"authservice/internal/pkg/logger"
	"authservice/internal/pkg/password"
	"authservice/internal/repository"
	"authservice/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("auth service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAuthRuntimeConfig()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	privateKey, publicKey, err := jwtsvc.LoadKeyPair(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
	if err != nil {
		return err
	}
	codec, err := jwtsvc.New(privateKey, publicKey, jwtsvc.WithKeyID(cfg.JWTKeyID))
	if err != nil {
		return err
	}

	hasher, err := password.NewHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}

	users, err := directory.Dial(cfg.UsersServiceAddr, cfg.DirectoryTimeout)
	if err != nil {
		return err
	}
	defer users.Close()

	m := metrics.New()

	authService := auth.NewService(
		users,
		repository.NewCredentialRepository(db),
		repository.NewRefreshTokenRepository(db),
		repository.NewTxManager(db),
		hasher,
		codec,
		auth.Config{
			AccessTokenTTL:         cfg.AccessTokenTTL,
			RefreshTokenTTL:        cfg.RefreshTokenTTL,
			MaxActiveRefreshTokens: cfg.MaxActiveRefreshTokens,
			HideIneligibleAccounts: cfg.HideIneligibleAccounts,
		},
		auth.WithLogger(log),
		auth.WithMetrics(m),
	)

	if config.IsProdLike(cfg.AppEnv) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := server.NewRouter(server.Deps{
		DB:          db,
		Auth:        authService,
		Metrics:     m,
		Log:         log,
		CORSOrigins: cfg.CORSAllowedOrigins,

		MetricsToken:      cfg.MetricsToken,
		MetricsAllowedIPs: cfg.MetricsAllowedIPs,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("auth service listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
