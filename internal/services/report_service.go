package services

import (
	"context"
	"fmt"

	"github.com/consulting-marketplace/backend/internal/models"
	"github.com/consulting-marketplace/backend/internal/money"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReportService struct {
	deals DealStore
	rates CommissionRates
	log   *zap.Logger
}

func NewReportService(deals DealStore, rates CommissionRates, log *zap.Logger) *ReportService {
	return &ReportService{deals: deals, rates: rates, log: log}
}

// ReferrerCommissionReport recomputes commission owed per referred deal from
// the offer price, without reading ledger entries. It goes through
// money.MultiplyRate like the ledger split, so both agree to the cent.
func (s *ReportService) ReferrerCommissionReport(ctx context.Context, referrerID *uuid.UUID) ([]models.ReferrerCommissionRow, error) {
	deals, err := s.deals.ListReferredWithPrice(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referred deals: %w", err)
	}

	rows := make([]models.ReferrerCommissionRow, 0, len(deals))
	for _, d := range deals {
		if d.PriceCents == nil || d.Currency == nil || d.ReferrerUserID == nil {
			s.log.Warn("referred deal without price", zap.String("deal_id", d.ID.String()))
			continue
		}
		gross := money.New(*d.PriceCents, *d.Currency)
		commission := ReferrerCommission(gross, s.rates)
		rows = append(rows, models.ReferrerCommissionRow{
			DealID:          d.ID,
			OfferSlug:       d.OfferSlug,
			DealStatus:      d.Status,
			ReferrerUserID:  *d.ReferrerUserID,
			GrossCents:      gross.Amount,
			CommissionCents: commission.Amount,
			Currency:        gross.Currency,
		})
	}
	return rows, nil
}

// ReferrerCommission is the referrer's share of gross.
func ReferrerCommission(gross money.Money, rates CommissionRates) money.Money {
	return gross.MultiplyRate(rates.Referrer)
}
