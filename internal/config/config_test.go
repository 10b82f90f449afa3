package config

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestValidateRates(t *testing.T) {
	tests := []struct {
		provider string
		referrer string
		wantErr  bool
	}{
		{"0.70", "0.20", false},
		{"0.80", "0.20", false},
		{"0", "0", false},
		{"0.90", "0.20", true},
		{"-0.1", "0.20", true},
		{"0.5", "1.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"+"+tt.referrer, func(t *testing.T) {
			err := ValidateRates(decimal.RequireFromString(tt.provider), decimal.RequireFromString(tt.referrer))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRates() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRatesFromEnv(t *testing.T) {
	t.Setenv("PROVIDER_PAYOUT_RATE", "0.65")
	t.Setenv("REFERRER_COMMISSION_RATE", "garbage")

	cfg := Load()
	if !cfg.ProviderPayoutRate.Equal(decimal.RequireFromString("0.65")) {
		t.Errorf("ProviderPayoutRate = %s", cfg.ProviderPayoutRate)
	}
	if !cfg.ReferrerCommissionRate.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("invalid value should fall back to default, got %s", cfg.ReferrerCommissionRate)
	}
}

func TestParseUUIDList(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids := parseUUIDList(a.String() + ", not-a-uuid ,," + b.String())
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Fatalf("parseUUIDList = %v", ids)
	}

	cfg := &Config{AdminUserIDs: ids}
	if !cfg.IsAdmin(b) || cfg.IsAdmin(uuid.New()) {
		t.Error("IsAdmin mismatch")
	}
}
