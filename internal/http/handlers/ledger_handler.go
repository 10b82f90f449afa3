package handlers

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/http/dto"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/repositories"
	"github.com/consulting-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LedgerOperations interface {
	EarnForDeliveredDeal(ctx context.Context, dealID uuid.UUID) (*services.EarnResult, error)
	ApproveEntries(ctx context.Context, ids []uuid.UUID, confirm bool, approverID *uuid.UUID) (int, error)
	ListEntries(ctx context.Context, f repositories.LedgerFilter) ([]models.LedgerEntry, error)
}

type PayoutOperations interface {
	ExecutePayouts(ctx context.Context, ids []uuid.UUID, confirm bool, actorID *uuid.UUID) (*services.PayoutResult, error)
	SetPayoutAccount(ctx context.Context, userID uuid.UUID, stripeAccountID string, actorID *uuid.UUID) (*models.PayoutAccount, error)
}

type LedgerHandler struct {
	ledgerService LedgerOperations
	payoutService PayoutOperations
	log           *zap.Logger
}

func NewLedgerHandler(ledgerService LedgerOperations, payoutService PayoutOperations, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService, payoutService: payoutService, log: log}
}

func (h *LedgerHandler) ListEntries(c *fiber.Ctx) error {
	filter := repositories.LedgerFilter{}
	filter.Limit, filter.Offset = paging(c)

	var err error
	if filter.DealID, err = parseOptionalUUID(c.Query("deal_id")); err != nil {
		return badRequest(c, "invalid deal_id")
	}
	if filter.BeneficiaryUserID, err = parseOptionalUUID(c.Query("beneficiary_user_id")); err != nil {
		return badRequest(c, "invalid beneficiary_user_id")
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	entries, err := h.ledgerService.ListEntries(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// Earn records the ledger split for a delivered deal. Repeating it returns
// the entries from the first call.
func (h *LedgerHandler) Earn(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	res, err := h.ledgerService.EarnForDeliveredDeal(c.UserContext(), dealID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *LedgerHandler) Approve(c *fiber.Ctx) error {
	req, ids, err := parseBatch(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	n, err := h.ledgerService.ApproveEntries(c.UserContext(), ids, req.Confirm, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CountResponse{Requested: len(ids), Updated: n}})
}

func (h *LedgerHandler) ExecutePayouts(c *fiber.Ctx) error {
	req, ids, err := parseBatch(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.payoutService.ExecutePayouts(c.UserContext(), ids, req.Confirm, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *LedgerHandler) SetPayoutAccount(c *fiber.Ctx) error {
	userID, ok := parseUUIDParam(c, "userId")
	if !ok {
		return badRequest(c, "invalid user id")
	}

	var req dto.PayoutAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	acct, err := h.payoutService.SetPayoutAccount(c.UserContext(), userID, req.StripeAccountID, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: acct})
}

func parseBatch(c *fiber.Ctx) (dto.LedgerBatchRequest, []uuid.UUID, error) {
	var req dto.LedgerBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return req, nil, errInvalidRequest
	}
	if len(req.EntryIDs) == 0 {
		return req, nil, errNoEntries
	}
	ids, err := parseUUIDs(req.EntryIDs)
	if err != nil {
		return req, nil, errBadEntryID
	}
	return req, ids, nil
}
