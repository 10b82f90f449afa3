package handlers

import (
	"errors"
	"strconv"

	"github.com/consulting-marketplace/backend/internal/http/dto"
	"github.com/consulting-marketplace/backend/internal/middleware"
	"github.com/consulting-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errNoEntries      = errors.New("entry_ids is required")
	errBadEntryID     = errors.New("invalid entry id")
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindPrecondition:
		return fiber.StatusPreconditionFailed
	case services.KindConflict:
		return fiber.StatusConflict
	case services.KindInvalidTransition:
		return fiber.StatusUnprocessableEntity
	case services.KindNotFound:
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Errors that are not service
// errors are logged and reported as 500 without their text.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	requestID := middleware.GetRequestID(c)

	if se, ok := services.AsError(err); ok {
		return c.Status(statusFor(se.Kind)).JSON(dto.ErrorResponse{
			Error:     se.Error(),
			Reason:    string(se.Reason),
			RequestID: requestID,
		})
	}
	if errors.Is(err, services.ErrWebhookSignature) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: requestID})
	}

	log.Error("request failed",
		zap.String("path", c.Path()),
		zap.String("request_id", requestID),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: requestID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

// actor returns the authenticated caller as an optional actor id.
func actor(c *fiber.Ctx) *uuid.UUID {
	id := middleware.GetUserID(c)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

func parseOptionalUUID(v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// paging reads limit/offset query params, capping limit at 100.
func paging(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
