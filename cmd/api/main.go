package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/db"
	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/gateway"
	apphttp "github.com/consulting-marketplace/backend/internal/http"
	"github.com/consulting-marketplace/backend/internal/http/handlers"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/consulting-marketplace/backend/internal/services"
	"github.com/consulting-marketplace/backend/migrations"
	"github.com/gofiber/fiber/v2"
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

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PoolOptions("api"), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	dealRepo := repositories.NewDealRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	webhookRepo := repositories.NewWebhookEventRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)
	accountRepo := repositories.NewPayoutAccountRepo(pool)
	referralRepo := repositories.NewReferralRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	rates := services.CommissionRates{Provider: cfg.ProviderPayoutRate, Referrer: cfg.ReferrerCommissionRate}
	gw := gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log)
	ledgerService := services.NewLedgerService(dealRepo, offerRepo, ledgerRepo, auditRepo, rates, log)
	dealService := services.NewDealService(dealRepo, offerRepo, auditRepo, referralRepo, ledgerService, publisher, log)
	paymentService := services.NewPaymentService(dealService, offerRepo, paymentRepo, webhookRepo, ledgerService,
		referralRepo, gw, auditRepo, publisher, cfg.PublicBaseURL, log)
	payoutService := services.NewPayoutService(ledgerRepo, payoutRepo, accountRepo, gw, auditRepo, log)
	reportService := services.NewReportService(dealRepo, rates, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Warn("websocket hub not subscribed to events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Meta:    handlers.NewMetaHandler(offerRepo, cfg.ProviderPayoutRate, cfg.ReferrerCommissionRate, log),
		Deal:    handlers.NewDealHandler(dealService, log),
		Payment: handlers.NewPaymentHandler(paymentService, log),
		Ledger:  handlers.NewLedgerHandler(ledgerService, payoutService, log),
		Report:  handlers.NewReportHandler(reportService, log),
		WSHub:   wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
