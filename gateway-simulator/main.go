package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"agm-payments/pkg/config"
)

func main() {
	cfg := config.Load()

	port := envOr("SIMULATOR_PORT", "9000")
	webhookURL := envOr("WEBHOOK_URL", "http://localhost:"+cfg.HTTPPort+"/api/v1/webhooks/monnify")
	delay, err := time.ParseDuration(envOr("SIMULATOR_DELAY", "2s"))
	if err != nil {
		slog.Error("Invalid SIMULATOR_DELAY", "error", err)
		os.Exit(1)
	}
	odds := Odds{
		Fail:      envInt("SIMULATOR_FAIL_PERCENT", 10),
		Expire:    envInt("SIMULATOR_EXPIRE_PERCENT", 5),
		Underpay:  envInt("SIMULATOR_UNDERPAY_PERCENT", 5),
		Duplicate: envInt("SIMULATOR_DUPLICATE_PERCENT", 30),
	}
	if cfg.Monnify.WebhookSecret == "" {
		slog.Warn("MONNIFY_WEBHOOK_SECRET is empty, webhooks will carry an unkeyed signature")
	}

	gateway := NewGateway(webhookURL, cfg.Monnify.WebhookSecret, delay, odds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           gateway.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Gateway Simulator starting", "port", port, "webhook_url", webhookURL, "delay", delay,
			"fail_percent", odds.Fail, "expire_percent", odds.Expire, "underpay_percent", odds.Underpay, "duplicate_percent", odds.Duplicate)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down Gateway Simulator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	gateway.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
