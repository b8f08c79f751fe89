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

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxConflictRetries bounds re-runs of the check-and-mutate sequence when an
// optimistic backend reports a version conflict. Business failures are never
// retried.
const maxConflictRetries = 3

// Engine owns transfer semantics: it validates inputs, computes fees,
// delegates the atomic balance mutation + transaction write to the store,
// and emits a domain event once the state change is durable. Callers are
// assumed to be authenticated and scope-checked upstream.
type Engine struct {
	store  store.LedgerStore
	fees   FeeSchedule
	events Publisher
}

func NewEngine(st store.LedgerStore, fees FeeSchedule, events Publisher) *Engine {
	return &Engine{store: st, fees: fees, events: events}
}

// CreateWallet provisions a wallet for an owner. Idempotent: a second call
// for the same (ownerId, ownerType) returns the existing wallet.
func (e *Engine) CreateWallet(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}
	if ownerType != models.OwnerTypeUser && ownerType != models.OwnerTypeMerchant {
		return nil, fmt.Errorf("unknown owner type %q", ownerType)
	}
	return e.store.CreateWallet(ctx, ownerId, ownerType)
}

func (e *Engine) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	return e.store.GetWallet(ctx, walletId)
}

func (e *Engine) GetWalletByOwner(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	return e.store.GetWalletByOwner(ctx, ownerId, ownerType)
}

func (e *Engine) DeactivateWallet(ctx context.Context, walletId string) error {
	return e.store.DeactivateWallet(ctx, walletId)
}

// DepositParams describes a credit from outside the platform.
type DepositParams struct {
	OwnerId           string
	OwnerType         models.OwnerType
	Amount            models.Money
	Reference         string
	ExternalReference string
	Metadata          map[string]string
}

// Deposit credits the owner's wallet, provisioning it on first deposit.
// The currency entry is created at zero if absent.
func (e *Engine) Deposit(ctx context.Context, params DepositParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() || params.Amount.Currency == "" {
		return nil, store.ErrInvalidAmount
	}

	wallet, err := e.store.CreateWallet(ctx, params.OwnerId, params.OwnerType)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination wallet: %w", err)
	}
	if !wallet.Active {
		return nil, store.ErrWalletInactive
	}

	var tx *models.Transaction
	err = e.withConflictRetry(func() error {
		var execErr error
		tx, execErr = e.store.ExecuteDeposit(ctx, store.DepositParams{
			TransactionId:       uuid.New().String(),
			DestinationWalletId: wallet.Id,
			Amount:              params.Amount.Amount,
			Currency:            params.Amount.Currency,
			Reference:           params.Reference,
			ExternalReference:   params.ExternalReference,
			Metadata:            params.Metadata,
		})
		return execErr
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Deposit completed",
		zap.String("transaction_id", tx.Id),
		zap.String("wallet_id", wallet.Id),
		zap.String("amount", params.Amount.String()))

	e.publish(ctx, models.EventTransactionCompleted, wallet.OwnerId, tx)
	return tx, nil
}

// PaymentParams describes a transfer between two owners' wallets.
type PaymentParams struct {
	Amount               models.Money
	SourceOwnerId        string
	SourceOwnerType      models.OwnerType
	DestinationOwnerId   string
	DestinationOwnerType models.OwnerType
	Reference            string
	ExternalReference    string
	Metadata             map[string]string
}

// ProcessPayment debits the source wallet and credits the destination wallet
// atomically. On insufficient funds the attempt is still recorded as a
// failed transaction for audit, and ErrInsufficientFunds is returned with
// the failed row. Events are emitted only after the outcome is durable.
func (e *Engine) ProcessPayment(ctx context.Context, params PaymentParams) (*models.Transaction, error) {
	if !params.Amount.IsPositive() || params.Amount.Currency == "" {
		return nil, store.ErrInvalidAmount
	}

	source, err := e.store.GetWalletByOwner(ctx, params.SourceOwnerId, params.SourceOwnerType)
	if err != nil {
		return nil, fmt.Errorf("source wallet: %w", err)
	}
	dest, err := e.store.GetWalletByOwner(ctx, params.DestinationOwnerId, params.DestinationOwnerType)
	if err != nil {
		return nil, fmt.Errorf("destination wallet: %w", err)
	}
	if source.Id == dest.Id {
		return nil, store.ErrSameWallet
	}
	if !source.Active || !dest.Active {
		return nil, store.ErrWalletInactive
	}

	fee := e.fees.PaymentFee(params.Amount.Amount, params.Amount.Currency)

	var tx *models.Transaction
	err = e.withConflictRetry(func() error {
		var execErr error
		tx, execErr = e.store.ExecuteTransfer(ctx, store.TransferParams{
			TransactionId:       uuid.New().String(),
			Type:                models.TransactionTypePayment,
			SourceWalletId:      source.Id,
			DestinationWalletId: dest.Id,
			Amount:              params.Amount.Amount,
			Currency:            params.Amount.Currency,
			Fee:                 fee,
			Reference:           params.Reference,
			ExternalReference:   params.ExternalReference,
			Metadata:            params.Metadata,
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			zap.L().Warn("Payment rejected: insufficient funds",
				zap.String("transaction_id", tx.Id),
				zap.String("source_wallet_id", source.Id),
				zap.String("amount", params.Amount.String()))
			e.publish(ctx, models.EventPaymentFailed, dest.OwnerId, tx)
			return tx, err
		}
		return nil, err
	}

	zap.L().Info("Payment completed",
		zap.String("transaction_id", tx.Id),
		zap.String("source_wallet_id", source.Id),
		zap.String("destination_wallet_id", dest.Id),
		zap.String("amount", params.Amount.String()),
		zap.String("fee", fee.String()))

	e.publish(ctx, models.EventPaymentSucceeded, dest.OwnerId, tx)
	e.publish(ctx, models.EventTransactionCompleted, dest.OwnerId, tx)
	return tx, nil
}

// RefundPayment reverses a completed payment, in part or in full. A zero
// amount means the full remaining refundable amount. Cumulative refunds are
// tracked on the original transaction; when they reach the original amount
// the original's status becomes refunded, and further refunds are rejected
// with ErrRefundNotAllowed.
func (e *Engine) RefundPayment(ctx context.Context, transactionId string, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.IsNegative() {
		return nil, store.ErrInvalidAmount
	}

	original, err := e.store.GetTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if original.Status != models.TransactionStatusCompleted {
		return nil, store.ErrRefundNotAllowed
	}
	// Deposits have no source wallet to credit back; they are not refundable.
	if original.SourceWalletId == "" {
		return nil, store.ErrRefundNotAllowed
	}

	if amount.IsZero() {
		amount = original.RemainingRefundable()
	}
	if !amount.IsPositive() || amount.GreaterThan(original.RemainingRefundable()) {
		return nil, store.ErrRefundNotAllowed
	}

	payeeOwner := e.ownerOf(ctx, original.DestinationWalletId)

	var tx *models.Transaction
	err = e.withConflictRetry(func() error {
		var execErr error
		tx, execErr = e.store.ExecuteRefund(ctx, store.RefundParams{
			TransactionId:         uuid.New().String(),
			OriginalTransactionId: original.Id,
			Amount:                amount,
			Reference:             fmt.Sprintf("refund of %s", original.Id),
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			zap.L().Warn("Refund rejected: payee has insufficient funds",
				zap.String("original_transaction_id", original.Id),
				zap.String("amount", amount.String()))
			e.publish(ctx, models.EventRefundFailed, payeeOwner, tx)
			return tx, err
		}
		return nil, err
	}

	zap.L().Info("Refund completed",
		zap.String("transaction_id", tx.Id),
		zap.String("original_transaction_id", original.Id),
		zap.String("amount", amount.String()),
		zap.String("currency", tx.Currency))

	e.publish(ctx, models.EventPaymentRefunded, payeeOwner, tx)
	e.publish(ctx, models.EventTransactionCompleted, payeeOwner, tx)
	return tx, nil
}

// CancelTransaction cancels a transaction that has not yet settled.
func (e *Engine) CancelTransaction(ctx context.Context, transactionId, reason string) (*models.Transaction, error) {
	return e.store.UpdateTransactionStatus(ctx, transactionId,
		[]models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusProcessing},
		models.TransactionStatusCancelled, reason)
}

// DisputeTransaction marks a completed transaction as disputed (chargeback
// filed). Balance adjustments for disputes are handled by a separate
// settlement process.
func (e *Engine) DisputeTransaction(ctx context.Context, transactionId, reason string) (*models.Transaction, error) {
	return e.store.UpdateTransactionStatus(ctx, transactionId,
		[]models.TransactionStatus{models.TransactionStatusCompleted},
		models.TransactionStatusDisputed, reason)
}

func (e *Engine) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

func (e *Engine) GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	return e.store.GetTransactionHistory(ctx, walletId, limit, offset)
}

func (e *Engine) ReconcileWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error) {
	return e.store.ReconcileWalletBalance(ctx, walletId, currency)
}

func (e *Engine) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		zap.L().Debug("Retrying after concurrent modification", zap.Int("attempt", attempt+1))
	}
	return err
}

// ownerOf resolves a wallet's owner id for event routing; best effort.
func (e *Engine) ownerOf(ctx context.Context, walletId string) string {
	if walletId == "" {
		return ""
	}
	w, err := e.store.GetWallet(ctx, walletId)
	if err != nil {
		return ""
	}
	return w.OwnerId
}

func (e *Engine) publish(ctx context.Context, eventType, businessId string, tx *models.Transaction) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, newTransactionEvent(eventType, businessId, tx))
}
