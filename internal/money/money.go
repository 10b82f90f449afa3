// Package money holds the minor-unit currency value used for every price,
// split and payout amount.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is an amount in the smallest currency unit (cents for USD/EUR).
// Arithmetic is integer-only; rates go through decimal and are rounded once.
type Money struct {
	Amount   int64  `json:"amount_cents"`
	Currency string `json:"currency"` // ISO 4217, upper case
}

func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func Zero(currency string) Money { return New(0, currency) }

// MultiplyRate returns m × rate rounded half away from zero to a whole minor
// unit. Every derived share (ledger split, admin report) must use this.
func (m Money) MultiplyRate(rate decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(rate).Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Subtract fails instead of mixing currencies.
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// String formats two-decimal currencies only; that is all the platform bills in.
func (m Money) String() string {
	sign := ""
	abs := m.Amount
	if abs < 0 {
		sign = "-"
		abs = -abs
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, abs/100, abs%100, m.Currency)
}
