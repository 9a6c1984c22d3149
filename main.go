package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stripe/stripe-go/v82"

	"kaiden.app/licensing/handlers"
	"kaiden.app/licensing/internal/config"
	"kaiden.app/licensing/internal/email"
	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/ratelimit"
	"kaiden.app/licensing/internal/version"
	"kaiden.app/licensing/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		logger.Error("Failed to load .env", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		logger.Error("Invalid configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	appVersion, err := version.Resolve("VERSION")
	if err != nil {
		logger.Warn("Falling back to build version", map[string]interface{}{"error": err.Error()})
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          appVersion,
		TracesSampleRate: 1.0,
	}); err != nil {
		logger.Error("sentry.Init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer sentry.Flush(2 * time.Second)

	stripe.Key = cfg.StripeSecretKey

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", map[string]interface{}{
			"error": err.Error(),
			"path":  cfg.DatabasePath,
		})
		os.Exit(1)
	}
	defer store.Close()

	var sender email.Sender
	if cfg.EmailEnabled() {
		sender = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
	} else {
		logger.Warn("SMTP not configured, license emails are disabled")
	}

	server := handlers.NewHttpServer(store, handlers.Options{
		Version:             appVersion,
		LicenseSecret:       cfg.LicenseSecret,
		ValidDays:           cfg.LicenseValidDays,
		DefaultTier:         cfg.DefaultTierValue(),
		AdminAPIKey:         cfg.AdminAPIKey,
		StripeSecretKey:     cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		TestMode:            cfg.TestMode,
		Email:               sender,
		RateLimit:           ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow),
		CORSOrigins:         cfg.CORSOriginList(),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Kaiden licensing API starting", map[string]interface{}{
			"version":   appVersion,
			"port":      cfg.Port,
			"test_mode": cfg.TestMode,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Server stopped")
}
