package handlers

import (
	"context"
	"sort"

	"github.com/consulting-marketplace/backend/internal/http/dto"
	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OfferLister interface {
	ListActive(ctx context.Context) ([]models.Offer, error)
}

// MetaHandler serves the reference data admin screens render: the deal
// state machine, ledger vocabularies, commission rates and the offer list.
type MetaHandler struct {
	offers       OfferLister
	providerRate decimal.Decimal
	referrerRate decimal.Decimal
	log          *zap.Logger
}

func NewMetaHandler(offers OfferLister, providerRate, referrerRate decimal.Decimal, log *zap.Logger) *MetaHandler {
	return &MetaHandler{offers: offers, providerRate: providerRate, referrerRate: referrerRate, log: log}
}

type MetaDealStatus struct {
	ID          string   `json:"id"`
	Terminal    bool     `json:"terminal"`
	SystemOnly  bool     `json:"system_only"`
	Transitions []string `json:"transitions"`
}

var dealStatusOrder = []string{
	models.DealStatusQueued,
	models.DealStatusAssigned,
	models.DealStatusMaestroApproved,
	models.DealStatusPaid,
	models.DealStatusInProgress,
	models.DealStatusDelivered,
	models.DealStatusClosed,
	models.DealStatusRefunded,
}

func (h *MetaHandler) GetDealStatuses(c *fiber.Ctx) error {
	out := make([]MetaDealStatus, 0, len(dealStatusOrder))
	for _, s := range dealStatusOrder {
		next := append([]string{}, models.ValidDealTransitions[s]...)
		sort.Strings(next)
		out = append(out, MetaDealStatus{
			ID:          s,
			Terminal:    models.IsTerminalDealStatus(s),
			SystemOnly:  models.IsSystemOnlyTarget(s),
			Transitions: next,
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *MetaHandler) GetLedgerVocabulary(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"entry_types": []string{models.EntryTypeProviderPayout, models.EntryTypeReferrerCommission, models.EntryTypePlatformRevenue},
		"statuses":    []string{models.LedgerStatusEarned, models.LedgerStatusApproved, models.LedgerStatusPaid, models.LedgerStatusVoid},
	}})
}

func (h *MetaHandler) GetCommissionRates(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"provider_payout_rate":     h.providerRate.String(),
		"referrer_commission_rate": h.referrerRate.String(),
	}})
}

func (h *MetaHandler) GetOffers(c *fiber.Ctx) error {
	offers, err := h.offers.ListActive(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: offers})
}
