package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WithdrawalParams describes a payout request. Creation validates shape
// only; no balance is touched until the request is approved and processed.
type WithdrawalParams struct {
	UserId             string
	Amount             models.Money
	DestinationType    string
	DestinationDetails string
}

func (e *Engine) CreateWithdrawalRequest(ctx context.Context, params WithdrawalParams) (*models.WithdrawalRequest, error) {
	if !params.Amount.IsPositive() || params.Amount.Currency == "" {
		return nil, store.ErrInvalidAmount
	}
	if params.UserId == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	req := &models.WithdrawalRequest{
		Id:                 uuid.New().String(),
		UserId:             params.UserId,
		Amount:             params.Amount.Amount,
		Currency:           params.Amount.Currency,
		DestinationType:    params.DestinationType,
		DestinationDetails: params.DestinationDetails,
		Status:             models.WithdrawalStatusPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := e.store.CreateWithdrawalRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	zap.L().Info("Withdrawal request created",
		zap.String("request_id", req.Id),
		zap.String("user_id", req.UserId),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))

	return req, nil
}

// ReviewWithdrawalRequest transitions a pending request to approved or
// rejected. Reviewing a request in any other state fails with
// ErrInvalidRequestState.
func (e *Engine) ReviewWithdrawalRequest(ctx context.Context, requestId string, approve bool) (*models.WithdrawalRequest, error) {
	req, err := e.store.GetWithdrawalRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalStatusPending {
		return nil, store.ErrInvalidRequestState
	}

	if approve {
		req.Status = models.WithdrawalStatusApproved
	} else {
		req.Status = models.WithdrawalStatusRejected
	}
	req.ReviewedAt = time.Now().UTC()

	if err := e.store.UpdateWithdrawalRequest(ctx, req); err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal request reviewed",
		zap.String("request_id", req.Id),
		zap.Bool("approved", approve))

	return req, nil
}

// ProcessWithdrawal executes a previously approved request: a payout debit
// from the user's wallet to the external sink, then the request is marked
// completed. Processing an unapproved or already-completed request fails
// with ErrInvalidRequestState. On insufficient funds the request stays
// approved and the failed payout attempt remains on the audit trail.
func (e *Engine) ProcessWithdrawal(ctx context.Context, requestId string) (*models.Transaction, error) {
	req, err := e.store.GetWithdrawalRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalStatusApproved {
		return nil, store.ErrInvalidRequestState
	}

	wallet, err := e.store.GetWalletByOwner(ctx, req.UserId, models.OwnerTypeUser)
	if err != nil {
		return nil, fmt.Errorf("user wallet: %w", err)
	}
	if !wallet.Active {
		return nil, store.ErrWalletInactive
	}

	var tx *models.Transaction
	err = e.withConflictRetry(func() error {
		var execErr error
		tx, execErr = e.store.ExecutePayout(ctx, store.PayoutParams{
			TransactionId:  uuid.New().String(),
			SourceWalletId: wallet.Id,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Fee:            decimal.Zero,
			Reference:      fmt.Sprintf("withdrawal %s", req.Id),
			Metadata: map[string]string{
				"withdrawal_request_id": req.Id,
				"destination_type":      req.DestinationType,
			},
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			zap.L().Warn("Withdrawal payout rejected: insufficient funds",
				zap.String("request_id", req.Id),
				zap.String("wallet_id", wallet.Id),
				zap.String("amount", req.Amount.String()))
			return tx, err
		}
		return nil, err
	}

	now := time.Now().UTC()
	req.Status = models.WithdrawalStatusCompleted
	req.TransactionId = tx.Id
	req.CompletedAt = now
	if err := e.store.UpdateWithdrawalRequest(ctx, req); err != nil {
		// The payout is durable; surface the bookkeeping failure loudly.
		zap.L().Error("Payout succeeded but request update failed",
			zap.String("request_id", req.Id),
			zap.String("transaction_id", tx.Id),
			zap.Error(err))
		return tx, fmt.Errorf("payout committed but request update failed: %w", err)
	}

	zap.L().Info("Withdrawal completed",
		zap.String("request_id", req.Id),
		zap.String("transaction_id", tx.Id),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))

	e.publish(ctx, models.EventPayoutCompleted, req.UserId, tx)
	e.publish(ctx, models.EventTransactionCompleted, req.UserId, tx)
	return tx, nil
}

func (e *Engine) GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return e.store.GetWithdrawalRequest(ctx, id)
}

func (e *Engine) ListWithdrawalRequests(ctx context.Context, userId string) ([]models.WithdrawalRequest, error) {
	return e.store.ListWithdrawalRequests(ctx, userId)
}
