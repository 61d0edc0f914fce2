package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sumire/authgate/internal/config"
	"github.com/sumire/authgate/internal/handler"
	"github.com/sumire/authgate/internal/provider"
	"github.com/sumire/authgate/internal/repository"
	"github.com/sumire/authgate/internal/service"
	"github.com/sumire/authgate/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, "authgate", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	slog.Info("database connected", "driver", cfg.DatabaseDriver)

	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	userRepo := repository.NewUserRepository(db)
	linkRepo := repository.NewProviderLinkRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	auditor := service.NewAuditor(activityRepo, nil)
	sessions := service.NewSessionManager(sessionRepo, service.NewTokenCodec([]byte(cfg.JWTSecret), nil), auditor,
		service.SessionConfig{
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
		})
	authSvc := service.NewAuthService(userRepo, sessions, auditor, service.LogMailer{IncludeLinks: !cfg.IsProduction()},
		service.AuthConfig{
			ResetTokenTTL:    cfg.ResetTokenTTL,
			PasswordHashCost: cfg.PasswordHashCost,
		})
	oauthSvc := service.NewOAuthService(userRepo, linkRepo, sessions, auditor, nil)

	providers := provider.FromConfig(cfg)
	if len(providers.Names()) == 0 {
		slog.Warn("no oauth providers configured")
	} else {
		slog.Info("oauth providers enabled", "providers", providers.Names())
	}

	cookies := handler.NewCookieTransport(cfg)
	locales := handler.NewLocalizer(cfg.Locales)
	routerCfg := handler.RouterConfig{
		AllowedOrigins: []string{cfg.AppURL},
		AuthRateLimit:  cfg.AuthRateLimit,
	}

	e := handler.NewEcho(routerCfg)
	handler.RegisterRoutes(e, routerCfg,
		handler.NewAuthHandler(authSvc, sessions, cookies, locales, cfg.AppURL),
		handler.NewOAuthHandler(providers, oauthSvc, auditor, cookies, locales, handler.NewRedirector(cfg.AppURL, locales)),
		sessions, cookies)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Environment, "default_locale", cfg.DefaultLocale())
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
