package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agm-payments/pkg/api"
	"agm-payments/pkg/config"
	"agm-payments/pkg/database"
	"agm-payments/pkg/events"
	"agm-payments/pkg/monnify"
	"agm-payments/pkg/reconcile"
	"agm-payments/pkg/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg := config.Load()

	db, err := database.Open(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.CreateTables(db); err != nil {
		slog.Error("Failed to create tables", "error", err)
		os.Exit(1)
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		slog.Error("Failed to initialize event broker", "broker", cfg.EventBroker, "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	var gateway reconcile.Gateway
	if cfg.Monnify.Enabled() {
		gateway = monnify.NewClient(cfg.Monnify)
	} else {
		slog.Warn("Monnify credentials not configured, checkout and payouts are disabled")
	}

	opts := reconcile.Options{
		PaymentTTL:        cfg.PaymentTTL,
		ReferenceAttempts: cfg.ReferenceAttempts,
		LookupRetries:     cfg.LookupRetries,
		LookupBackoff:     cfg.LookupBackoff,
		WriteRetries:      cfg.WriteRetries,
		Publisher:         publisher,
	}
	st := store.NewMySQL(db)
	payments := reconcile.New(st, gateway, opts)

	srv := &api.Server{
		Payments:      payments,
		Refunds:       reconcile.NewRefundTracker(st, gateway, opts),
		Disbursements: reconcile.NewDisbursementTracker(st, gateway, opts),
		BankAccounts:  reconcile.NewBankAccounts(st, gateway, opts),
		WebhookSecret: cfg.Monnify.WebhookSecret,
		Production:    cfg.IsProduction(),
	}

	slog.Info("Payment Service configuration",
		"env", cfg.Env,
		"event_broker", cfg.EventBroker,
		"gateway_enabled", gateway != nil,
		"payment_ttl", cfg.PaymentTTL,
		"sweep_interval", cfg.SweepInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go payments.RunSweeper(ctx, cfg.SweepInterval)

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		slog.Info("Payment Service starting", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down Payment Service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	slog.Info("Payment Service stopped")
}

func newPublisher(cfg config.Config) (events.Publisher, func(), error) {
	switch cfg.EventBroker {
	case "nats":
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil

	case "kafka":
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, err
		}
		k := events.NewKafka(producer, cfg.KafkaTopic)
		return k, func() {
			if err := k.Close(); err != nil {
				slog.Error("Failed to close Kafka producer", "error", err)
			}
		}, nil

	case "none", "":
		slog.Warn("Event publishing disabled")
		return events.Noop{}, func() {}, nil
	}
	return nil, nil, errors.New("unknown EVENT_BROKER " + cfg.EventBroker)
}
