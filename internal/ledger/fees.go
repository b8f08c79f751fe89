/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ledger

import "github.com/shopspring/decimal"

// FeeRule computes a payment fee as flat + percent of the amount.
type FeeRule struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal // e.g. 2.9 for 2.9%
}

// FeeSchedule holds per-currency fee rules with a fallback default.
type FeeSchedule struct {
	Default    FeeRule
	Currencies map[string]FeeRule
}

// DefaultFeeSchedule returns the built-in schedule used when no fee file is
// configured: 0.30 flat plus 2.9%, all currencies.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Default: FeeRule{
			Flat:    decimal.RequireFromString("0.30"),
			Percent: decimal.RequireFromString("2.9"),
		},
	}
}

// PaymentFee returns the fee for a payment of the given amount and currency,
// rounded to two decimal places and never exceeding the amount itself.
func (s FeeSchedule) PaymentFee(amount decimal.Decimal, currency string) decimal.Decimal {
	rule := s.Default
	if r, ok := s.Currencies[currency]; ok {
		rule = r
	}

	fee := rule.Flat.Add(amount.Mul(rule.Percent).Div(decimal.NewFromInt(100))).Round(2)
	if fee.GreaterThan(amount) {
		return amount
	}
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee
}
