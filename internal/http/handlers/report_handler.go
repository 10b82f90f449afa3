package handlers

import (
	"context"

	"github.com/consulting-marketplace/backend/internal/http/dto"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReportOperations interface {
	ReferrerCommissionReport(ctx context.Context, referrerID *uuid.UUID) ([]models.ReferrerCommissionRow, error)
}

type ReportHandler struct {
	reportService ReportOperations
	log           *zap.Logger
}

func NewReportHandler(reportService ReportOperations, log *zap.Logger) *ReportHandler {
	return &ReportHandler{reportService: reportService, log: log}
}

func (h *ReportHandler) ReferrerCommissions(c *fiber.Ctx) error {
	referrerID, err := parseOptionalUUID(c.Query("referrer_user_id"))
	if err != nil {
		return badRequest(c, "invalid referrer_user_id")
	}

	rows, err := h.reportService.ReferrerCommissionReport(c.UserContext(), referrerID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}
