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

// DealOperations is the part of *services.DealService the handler uses.
type DealOperations interface {
	CreateDeal(ctx context.Context, in services.CreateDealInput, actorID *uuid.UUID) (*models.Deal, error)
	AssignProvider(ctx context.Context, dealID, providerID uuid.UUID, actorID *uuid.UUID) (*models.Deal, error)
	ApproveDeal(ctx context.Context, dealID, maestroID uuid.UUID, actorID *uuid.UUID) (*models.Deal, error)
	AdminTransition(ctx context.Context, dealID uuid.UUID, to, note string, actorID *uuid.UUID) (*models.Deal, error)
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	ListDeals(ctx context.Context, f repositories.DealFilter) ([]models.Deal, error)
	History(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusHistory, error)
	AuditTrail(ctx context.Context, dealID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type DealHandler struct {
	dealService DealOperations
	log         *zap.Logger
}

func NewDealHandler(dealService DealOperations, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	intakeID, err := uuid.Parse(req.IntakeID)
	if err != nil {
		return badRequest(c, "invalid intake_id")
	}
	if req.OfferSlug == "" {
		return badRequest(c, "offer_slug is required")
	}
	var requested *uuid.UUID
	if req.RequestedProviderUserID != nil {
		if requested, err = parseOptionalUUID(*req.RequestedProviderUserID); err != nil {
			return badRequest(c, "invalid requested_provider_user_id")
		}
	}

	deal, err := h.dealService.CreateDeal(c.UserContext(), services.CreateDealInput{
		IntakeID:                intakeID,
		OfferSlug:               req.OfferSlug,
		RequestedProviderUserID: requested,
		ReferralCode:            req.ReferralCode,
	}, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	deal, err := h.dealService.GetDeal(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	filter := repositories.DealFilter{}
	filter.Limit, filter.Offset = paging(c)

	if v := c.Query("status"); v != "" {
		if !models.IsValidDealStatus(v) {
			return badRequest(c, "invalid status")
		}
		filter.Status = &v
	}
	var err error
	if filter.ProviderUserID, err = parseOptionalUUID(c.Query("provider_user_id")); err != nil {
		return badRequest(c, "invalid provider_user_id")
	}
	if filter.ReferrerUserID, err = parseOptionalUUID(c.Query("referrer_user_id")); err != nil {
		return badRequest(c, "invalid referrer_user_id")
	}

	deals, err := h.dealService.ListDeals(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) AssignProvider(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.AssignProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	providerID, err := uuid.Parse(req.ProviderUserID)
	if err != nil {
		return badRequest(c, "invalid provider_user_id")
	}

	deal, err := h.dealService.AssignProvider(c.UserContext(), dealID, providerID, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ApproveDeal(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.ApproveDealRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}

	caller := actor(c)
	var maestroID uuid.UUID
	switch {
	case req.MaestroUserID != "":
		id, err := uuid.Parse(req.MaestroUserID)
		if err != nil {
			return badRequest(c, "invalid maestro_user_id")
		}
		maestroID = id
	case caller != nil:
		maestroID = *caller
	default:
		return badRequest(c, "maestro_user_id is required")
	}

	deal, err := h.dealService.ApproveDeal(c.UserContext(), dealID, maestroID, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Transition(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Status == "" {
		return badRequest(c, "status is required")
	}

	deal, err := h.dealService.AdminTransition(c.UserContext(), dealID, req.Status, req.Note, actor(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetHistory(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	history, err := h.dealService.History(c.UserContext(), dealID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}

func (h *DealHandler) GetAuditTrail(c *fiber.Ctx) error {
	dealID, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	limit, offset := paging(c)
	trail, err := h.dealService.AuditTrail(c.UserContext(), dealID, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: trail})
}
