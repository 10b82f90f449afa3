package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/db"
	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/gateway"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/consulting-marketplace/backend/internal/services"
	"github.com/consulting-marketplace/backend/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PoolOptions("worker"), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	dealRepo := repositories.NewDealRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	webhookRepo := repositories.NewWebhookEventRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	referralRepo := repositories.NewReferralRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	rates := services.CommissionRates{Provider: cfg.ProviderPayoutRate, Referrer: cfg.ReferrerCommissionRate}
	gw := gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	ledgerService := services.NewLedgerService(dealRepo, offerRepo, ledgerRepo, auditRepo, rates, log)
	dealService := services.NewDealService(dealRepo, offerRepo, auditRepo, referralRepo, ledgerService, publisher, log)
	paymentService := services.NewPaymentService(dealService, offerRepo, paymentRepo, webhookRepo, ledgerService,
		referralRepo, gw, auditRepo, publisher, cfg.PublicBaseURL, log)

	manager, err := worker.NewManager(log)
	if err != nil {
		log.Fatal("failed to create scheduler", zap.Error(err))
	}
	err = manager.Register(ctx,
		worker.NewEarnDeliveredJob(ledgerService, cfg.EarnJobInterval, log),
		worker.NewExpireCheckoutsJob(paymentService, cfg.CheckoutStaleAfter, cfg.ExpireJobInterval, log),
	)
	if err != nil {
		log.Fatal("failed to register jobs", zap.Error(err))
	}
	manager.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()
	manager.Stop()
}
