package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agm-payments/pkg/config"
	"agm-payments/pkg/database"
	"agm-payments/pkg/events"
	"agm-payments/pkg/store"
	"agm-payments/pkg/timeline"

	natspkg "github.com/nats-io/nats.go"
)

var subjects = []string{"payment.>", "refund.>", "disbursement.>"}

const queueGroup = "order-events"

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

	recorder := timeline.NewRecorder(store.NewMySQL(db))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Order Events Service configuration", "event_broker", cfg.EventBroker)

	switch cfg.EventBroker {
	case "kafka":
		err = consumeKafka(ctx, cfg, recorder)
	default:
		err = consumeNATS(ctx, cfg, recorder)
	}
	if err != nil {
		slog.Error("Order Events Service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Order Events Service stopped")
}

func consumeNATS(ctx context.Context, cfg config.Config, recorder *timeline.Recorder) error {
	nc, err := events.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	for _, subject := range subjects {
		sub, err := nc.QueueSubscribe(subject, queueGroup, func(msg *natspkg.Msg) {
			if _, err := recorder.Record(ctx, msg.Data); err != nil {
				slog.Error("Failed to record event", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		slog.Info("Subscribed", "subject", subject, "queue", queueGroup)
	}

	<-ctx.Done()
	return nil
}

func consumeKafka(ctx context.Context, cfg config.Config, recorder *timeline.Recorder) error {
	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic)
	if err != nil {
		return err
	}
	defer consumer.Close()

	slog.Info("Consuming Kafka topic", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroup)
	return consumer.Consume(ctx, func(ctx context.Context, data []byte) error {
		_, err := recorder.Record(ctx, data)
		if err != nil && !store.IsTransient(err) {
			slog.Error("Dropping unrecordable event", "error", err)
			return nil
		}
		return err
	})
}
