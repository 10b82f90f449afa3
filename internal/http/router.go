package http

import (
	"time"

	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/http/handlers"
	"github.com/consulting-marketplace/backend/internal/middleware"
	"github.com/consulting-marketplace/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Meta    *handlers.MetaHandler
	Deal    *handlers.DealHandler
	Payment *handlers.PaymentHandler
	Ledger  *handlers.LedgerHandler
	Report  *handlers.ReportHandler
	WSHub   *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Gateway callbacks authenticate by signature, not by token.
	app.Post("/webhooks/stripe", h.Payment.StripeWebhook)

	admin := app.Group("/api/v1/admin", middleware.AuthMiddleware(cfg, log))
	admin.Use(middleware.RateLimitMiddleware(rdb, "admin", cfg.RateLimitPerMinute, time.Minute, log))

	view := middleware.RequirePermission(rbac.PermViewDeals)
	manage := middleware.RequirePermission(rbac.PermManageDeals)

	// Meta
	admin.Get("/meta/deal-statuses", view, h.Meta.GetDealStatuses)
	admin.Get("/meta/ledger", view, h.Meta.GetLedgerVocabulary)
	admin.Get("/meta/commission", view, h.Meta.GetCommissionRates)
	admin.Get("/offers", view, h.Meta.GetOffers)

	// Deals
	admin.Post("/deals", manage, h.Deal.CreateDeal)
	admin.Get("/deals", view, h.Deal.ListDeals)
	admin.Get("/deals/:id", view, h.Deal.GetDeal)
	admin.Get("/deals/:id/history", view, h.Deal.GetHistory)
	admin.Get("/deals/:id/audit", view, h.Deal.GetAuditTrail)
	admin.Post("/deals/:id/assign", manage, h.Deal.AssignProvider)
	admin.Post("/deals/:id/approve", middleware.RequirePermission(rbac.PermApproveDeal), h.Deal.ApproveDeal)
	admin.Post("/deals/:id/transition", manage, h.Deal.Transition)

	// Payments
	payments := middleware.RequirePermission(rbac.PermManagePayments)
	admin.Get("/deals/:id/payments", payments, h.Payment.ListPayments)
	admin.Post("/deals/:id/checkout", payments, h.Payment.CreateCheckout)
	admin.Post("/deals/:id/refund", middleware.RequirePermission(rbac.PermRefund), h.Payment.Refund)

	// Ledger & payouts
	approveLedger := middleware.RequirePermission(rbac.PermApproveLedger)
	admin.Get("/ledger", middleware.RequirePermission(rbac.PermViewLedger), h.Ledger.ListEntries)
	admin.Post("/deals/:id/ledger/earn", approveLedger, h.Ledger.Earn)
	admin.Post("/ledger/approve", approveLedger, h.Ledger.Approve)
	admin.Post("/ledger/payouts", middleware.RequirePermission(rbac.PermExecutePayouts), h.Ledger.ExecutePayouts)
	admin.Put("/payout-accounts/:userId", middleware.RequirePermission(rbac.PermExecutePayouts), h.Ledger.SetPayoutAccount)

	// Reports
	admin.Get("/reports/referrer-commissions", middleware.RequirePermission(rbac.PermViewReports), h.Report.ReferrerCommissions)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WSHub.HandleWS))
}
