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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnerType identifies who holds a wallet.
type OwnerType string

const (
	OwnerTypeUser     OwnerType = "user"
	OwnerTypeMerchant OwnerType = "merchant"
)

// Wallet holds per-currency balances for a single owner.
// Wallets are never deleted, only deactivated.
type Wallet struct {
	Id        string                     `db:"id"`
	OwnerId   string                     `db:"owner_id"`
	OwnerType OwnerType                  `db:"owner_type"`
	Balances  map[string]decimal.Decimal `db:"-"`
	Active    bool                       `db:"active"`
	CreatedAt time.Time                  `db:"created_at"`
	UpdatedAt time.Time                  `db:"updated_at"`
}

// Balance returns the wallet's balance for a currency, zero if no entry exists.
func (w *Wallet) Balance(currency string) decimal.Decimal {
	if w.Balances == nil {
		return decimal.Zero
	}
	b, ok := w.Balances[currency]
	if !ok {
		return decimal.Zero
	}
	return b
}

// WalletBalance is the per-currency balance row (hot data).
// Version supports optimistic locking on balance updates.
type WalletBalance struct {
	Id        string          `db:"id"`
	WalletId  string          `db:"wallet_id"`
	Currency  string          `db:"currency"`
	Balance   decimal.Decimal `db:"balance"`
	Version   int64           `db:"version"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// TransactionType classifies a money movement.
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeChargeback TransactionType = "chargeback"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// TransactionStatus tracks a transaction through its state machine:
// pending -> processing -> completed | failed; completed -> refunded | disputed;
// pending/processing -> cancelled. Everything past processing is terminal.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
	TransactionStatusDisputed   TransactionStatus = "disputed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether no further status transitions are allowed.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusRefunded, TransactionStatusDisputed,
		TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction is the immutable audit record of a money movement.
// Amount, currency and parties are fixed at creation; only status,
// completed_at, failure_reason and refunded_amount may change afterwards.
type Transaction struct {
	Id                  string            `db:"id"`
	Type                TransactionType   `db:"type"`
	Status              TransactionStatus `db:"status"`
	Amount              decimal.Decimal   `db:"amount"`
	Currency            string            `db:"currency"`
	Fee                 decimal.Decimal   `db:"fee"`
	NetAmount           decimal.Decimal   `db:"net_amount"`
	RefundedAmount      decimal.Decimal   `db:"refunded_amount"`
	SourceWalletId      string            `db:"source_wallet_id"`      // empty for deposits
	DestinationWalletId string            `db:"destination_wallet_id"` // empty for payouts
	Reference           string            `db:"reference"`
	ExternalReference   string            `db:"external_reference"`
	FailureReason       string            `db:"failure_reason"`
	Metadata            map[string]string `db:"-"`
	CreatedAt           time.Time         `db:"created_at"`
	CompletedAt         time.Time         `db:"completed_at"`
}

// RemainingRefundable is the amount still eligible for refund.
func (t *Transaction) RemainingRefundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// WithdrawalStatus tracks a payout request through review.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

// WithdrawalRequest is a two-phase payout: created pending, reviewed to
// approved/rejected, and completed only via a successful ledger payout.
type WithdrawalRequest struct {
	Id                 string           `db:"id"`
	UserId             string           `db:"user_id"`
	Amount             decimal.Decimal  `db:"amount"`
	Currency           string           `db:"currency"`
	DestinationType    string           `db:"destination_type"`
	DestinationDetails string           `db:"destination_details"`
	Status             WithdrawalStatus `db:"status"`
	TransactionId      string           `db:"transaction_id"` // set on completion
	CreatedAt          time.Time        `db:"created_at"`
	ReviewedAt         time.Time        `db:"reviewed_at"`
	CompletedAt        time.Time        `db:"completed_at"`
}
