package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/db"
	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/notify"
	"go.uber.org/zap"
)

// Notify Bridge: optional small service that subscribes to Redis events and
// forwards deal and payment notifications to an ops chat webhook.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	forwarder := notify.NewForwarder(cfg.NotifyWebhookURL, log)

	err = subscriber.Subscribe(ctx, func(event events.Event) {
		log.Info("forwarding event", zap.String("stream", event.Stream), zap.String("type", event.Type))
		forwarder.Forward(ctx, event)
	}, events.StreamDeal, events.StreamPayment)
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
