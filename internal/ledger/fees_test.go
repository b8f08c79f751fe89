package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefaultFeeSchedule(t *testing.T) {
	fees := DefaultFeeSchedule()

	cases := []struct {
		amount   string
		expected string
	}{
		{"100", "3.20"},  // 0.30 + 2.9
		{"40", "1.46"},   // 0.30 + 1.16
		{"10", "0.59"},   // 0.30 + 0.29
		{"0.10", "0.10"}, // capped at the amount
	}
	for _, tc := range cases {
		fee := fees.PaymentFee(decimal.RequireFromString(tc.amount), "USD")
		assert.True(t, fee.Equal(decimal.RequireFromString(tc.expected)),
			"PaymentFee(%s): expected %s, got %s", tc.amount, tc.expected, fee.String())
	}
}

func TestFeeSchedule_CurrencyOverride(t *testing.T) {
	fees := FeeSchedule{
		Default: FeeRule{
			Flat:    decimal.RequireFromString("0.30"),
			Percent: decimal.RequireFromString("2.9"),
		},
		Currencies: map[string]FeeRule{
			"EUR": {
				Flat:    decimal.RequireFromString("0.25"),
				Percent: decimal.RequireFromString("1.5"),
			},
		},
	}

	eur := fees.PaymentFee(decimal.RequireFromString("100"), "EUR")
	assert.True(t, eur.Equal(decimal.RequireFromString("1.75")), "EUR fee: got %s", eur.String())

	// Other currencies fall back to the default rule.
	gbp := fees.PaymentFee(decimal.RequireFromString("100"), "GBP")
	assert.True(t, gbp.Equal(decimal.RequireFromString("3.20")), "GBP fee: got %s", gbp.String())
}

func TestFeeSchedule_NeverNegative(t *testing.T) {
	fees := FeeSchedule{
		Default: FeeRule{
			Flat:    decimal.RequireFromString("-1"),
			Percent: decimal.Zero,
		},
	}
	fee := fees.PaymentFee(decimal.RequireFromString("10"), "USD")
	assert.True(t, fee.Equal(decimal.Zero), "Expected zero fee, got %s", fee.String())
}
