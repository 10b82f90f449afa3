package handlers

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/http/dto"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentOperations is the part of *services.PaymentService the handlers use.
type PaymentOperations interface {
	CreateCheckout(ctx context.Context, dealID uuid.UUID, actorID *uuid.UUID) (*models.DealPayment, error)
	RefundPayment(ctx context.Context, dealID uuid.UUID, reason string, confirm bool, actorID *uuid.UUID) (*services.RefundResult, error)
	ListPayments(ctx context.Context, dealID uuid.UUID) ([]models.DealPayment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*services.WebhookResult, error)
}

type PaymentHandler struct {
	paymentService PaymentOperations
	log            *zap.Logger
}

func NewPaymentHandler(paymentService PaymentOperations, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, log: log}
}

func (h *PaymentHandler) CreateCheckout(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	payment, err := h.paymentService.CreateCheckout(c.UserContext(), dealID, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: payment})
}

func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	// An empty body is a refund without confirm; the service rejects it.
	var req dto.RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}

	res, err := h.paymentService.RefundPayment(c.UserContext(), dealID, req.Reason, req.Confirm, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	payments, err := h.paymentService.ListPayments(c.UserContext(), dealID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: payments})
}

// StripeWebhook acknowledges processed and duplicate deliveries with 200.
// Anything else gets a non-2xx so the gateway redelivers.
func (h *PaymentHandler) StripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return badRequest(c, "missing Stripe-Signature header")
	}

	// fasthttp reuses the body buffer once the handler returns.
	payload := append([]byte(nil), c.Body()...)

	res, err := h.paymentService.HandleWebhook(c.UserContext(), payload, signature)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.WebhookAck{
		Received:  true,
		Processed: res.Processed,
		Duplicate: res.Duplicate,
		EventID:   res.EventID,
	})
}
