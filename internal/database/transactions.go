package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExecuteDeposit credits a destination wallet with external funds. The
// transaction row and balance update commit atomically.
func (s *Service) ExecuteDeposit(ctx context.Context, params store.DepositParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireWallet(ctx, tx, params.DestinationWalletId); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.Transaction{
		Id:                  params.TransactionId,
		Type:                models.TransactionTypePayment,
		Status:              models.TransactionStatusCompleted,
		Amount:              params.Amount,
		Currency:            params.Currency,
		Fee:                 decimal.Zero,
		NetAmount:           params.Amount,
		RefundedAmount:      decimal.Zero,
		DestinationWalletId: params.DestinationWalletId,
		Reference:           params.Reference,
		ExternalReference:   params.ExternalReference,
		Metadata:            params.Metadata,
		CreatedAt:           now,
		CompletedAt:         now,
	}

	if err := s.creditBalance(ctx, tx, params.DestinationWalletId, params.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := s.insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("wallet_id", params.DestinationWalletId),
		zap.String("currency", params.Currency),
		zap.String("amount", params.Amount.String()))

	return record, nil
}

// ExecuteTransfer atomically debits the source wallet and credits the
// destination. On insufficient funds the attempt is still recorded as a
// failed transaction with neither balance changed.
func (s *Service) ExecuteTransfer(ctx context.Context, params store.TransferParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireWallet(ctx, tx, params.SourceWalletId); err != nil {
		return nil, err
	}
	if err := s.requireWallet(ctx, tx, params.DestinationWalletId); err != nil {
		return nil, err
	}

	txType := params.Type
	if txType == "" {
		txType = models.TransactionTypePayment
	}
	now := time.Now().UTC()
	record := &models.Transaction{
		Id:                  params.TransactionId,
		Type:                txType,
		Status:              models.TransactionStatusCompleted,
		Amount:              params.Amount,
		Currency:            params.Currency,
		Fee:                 params.Fee,
		NetAmount:           params.Amount.Sub(params.Fee),
		RefundedAmount:      decimal.Zero,
		SourceWalletId:      params.SourceWalletId,
		DestinationWalletId: params.DestinationWalletId,
		Reference:           params.Reference,
		ExternalReference:   params.ExternalReference,
		Metadata:            params.Metadata,
		CreatedAt:           now,
		CompletedAt:         now,
	}

	debitErr := s.debitBalance(ctx, tx, params.SourceWalletId, params.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		zap.L().Warn("Transfer rejected for insufficient funds",
			zap.String("transaction_id", record.Id),
			zap.String("source_wallet_id", params.SourceWalletId),
			zap.String("amount", params.Amount.String()))
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := s.creditBalance(ctx, tx, params.DestinationWalletId, params.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := s.insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transfer processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("source_wallet_id", params.SourceWalletId),
		zap.String("destination_wallet_id", params.DestinationWalletId),
		zap.String("currency", params.Currency),
		zap.String("amount", params.Amount.String()),
		zap.String("fee", params.Fee.String()))

	return record, nil
}

// ExecuteRefund reverses part or all of a completed transfer: the original
// payee is debited and the payer credited. The original row's status and
// remaining refundable amount are validated and updated inside the same
// database transaction, so concurrent refunds cannot overdraw the original.
func (s *Service) ExecuteRefund(ctx context.Context, params store.RefundParams) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	original, err := s.scanTransaction(tx.QueryRowContext(ctx, queryGetTransaction, params.OriginalTransactionId))
	if err != nil {
		return nil, err
	}
	if original.Status != models.TransactionStatusCompleted ||
		params.Amount.GreaterThan(original.RemainingRefundable()) {
		return nil, store.ErrRefundNotAllowed
	}
	// A payment with no source wallet is a deposit; there is no wallet to
	// credit the refund back to.
	if original.SourceWalletId == "" {
		return nil, store.ErrRefundNotAllowed
	}

	now := time.Now().UTC()
	record := &models.Transaction{
		Id:                  params.TransactionId,
		Type:                models.TransactionTypeRefund,
		Status:              models.TransactionStatusCompleted,
		Amount:              params.Amount,
		Currency:            original.Currency,
		Fee:                 decimal.Zero,
		NetAmount:           params.Amount,
		RefundedAmount:      decimal.Zero,
		SourceWalletId:      original.DestinationWalletId,
		DestinationWalletId: original.SourceWalletId,
		Reference:           params.Reference,
		Metadata:            params.Metadata,
		CreatedAt:           now,
		CompletedAt:         now,
	}

	debitErr := s.debitBalance(ctx, tx, original.DestinationWalletId, original.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := s.creditBalance(ctx, tx, original.SourceWalletId, original.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := s.insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	newRefunded := original.RefundedAmount.Add(params.Amount)
	newStatus := original.Status
	if newRefunded.Equal(original.Amount) {
		newStatus = models.TransactionStatusRefunded
	}
	result, err := tx.ExecContext(ctx, queryUpdateRefundedAmount,
		newRefunded.String(), string(newStatus), original.Id, original.RefundedAmount.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update refunded amount: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("refund bookkeeping failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Refund processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("original_transaction_id", original.Id),
		zap.String("amount", params.Amount.String()),
		zap.String("refunded_total", newRefunded.String()))

	return record, nil
}

// ExecutePayout debits a source wallet with no destination; funds leave the
// platform.
func (s *Service) ExecutePayout(ctx context.Context, params store.PayoutParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireWallet(ctx, tx, params.SourceWalletId); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.Transaction{
		Id:                params.TransactionId,
		Type:              models.TransactionTypePayout,
		Status:            models.TransactionStatusCompleted,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Fee:               params.Fee,
		NetAmount:         params.Amount.Sub(params.Fee),
		RefundedAmount:    decimal.Zero,
		SourceWalletId:    params.SourceWalletId,
		Reference:         params.Reference,
		ExternalReference: params.ExternalReference,
		Metadata:          params.Metadata,
		CreatedAt:         now,
		CompletedAt:       now,
	}

	debitErr := s.debitBalance(ctx, tx, params.SourceWalletId, params.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := s.insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Payout processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("source_wallet_id", params.SourceWalletId),
		zap.String("currency", params.Currency),
		zap.String("amount", params.Amount.String()))

	return record, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx, queryGetTransaction, id))
}

// GetTransactionHistory returns paginated transactions touching the wallet,
// newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, walletId, walletId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		record, err := s.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return transactions, nil
}

// UpdateTransactionStatus moves a transaction to a new status. The current
// status must be one of allowedFrom; the guard is re-checked in the UPDATE so
// concurrent changes lose cleanly.
func (s *Service) UpdateTransactionStatus(ctx context.Context, id string, allowedFrom []models.TransactionStatus, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	permitted := false
	for _, from := range allowedFrom {
		if current.Status == from {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, store.ErrInvalidStatusChange
	}

	failureReason := current.FailureReason
	if reason != "" {
		failureReason = reason
	}
	completedAt := current.CompletedAt
	if to.Terminal() && completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, queryUpdateTransactionStatus,
		string(to), failureReason, nullableTime(completedAt), id, string(current.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("status update failed - %w", store.ErrConcurrentModification)
	}

	return s.GetTransaction(ctx, id)
}

// ReconcileWalletBalance recomputes the wallet's balance for a currency from
// its transaction rows and repairs the stored balance if they diverge.
func (s *Service) ReconcileWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error) {
	if _, err := s.scanWallet(s.db.QueryRowContext(ctx, queryGetWallet, walletId)); err != nil {
		return decimal.Zero, err
	}

	rows, err := s.db.QueryContext(ctx, queryReconcileWalletBalance, walletId, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query transactions for reconciliation: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	computed := decimal.Zero
	for rows.Next() {
		var amountStr, sourceId, destinationId string
		if err := rows.Scan(&amountStr, &sourceId, &destinationId); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan transaction amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if destinationId == walletId {
			computed = computed.Add(amount)
		}
		if sourceId == walletId {
			computed = computed.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, version, exists, err := s.getBalance(ctx, tx, walletId, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if exists && !stored.Equal(computed) {
		zap.L().Warn("Balance drift detected during reconciliation",
			zap.String("wallet_id", walletId),
			zap.String("currency", currency),
			zap.String("stored", stored.String()),
			zap.String("computed", computed.String()))
	}
	if err := s.setBalance(ctx, tx, walletId, currency, computed, version, exists); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return computed, nil
}

// --- internal helpers ---

func (s *Service) checkDuplicate(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return nil
	}
	var existingId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateTransaction, externalRef).Scan(&existingId)
	if err == nil {
		zap.L().Warn("Duplicate external reference detected, skipping",
			zap.String("external_reference", externalRef),
			zap.String("existing_transaction_id", existingId))
		return fmt.Errorf("%w: external_reference %s already exists", store.ErrDuplicateTransaction, externalRef)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}
	return nil
}

func (s *Service) requireWallet(ctx context.Context, tx *sql.Tx, walletId string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM wallets WHERE id = ?`, walletId).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrWalletNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up wallet: %w", err)
	}
	return nil
}

func (s *Service) getBalance(ctx context.Context, tx *sql.Tx, walletId, currency string) (decimal.Decimal, int64, bool, error) {
	var balanceId, balanceStr string
	var version int64
	err := tx.QueryRowContext(ctx, queryGetWalletBalance, walletId, currency).Scan(&balanceId, &balanceStr, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, 0, false, nil
	}
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, version, true, nil
}

// setBalance writes a balance row, using optimistic locking when the row
// already exists.
func (s *Service) setBalance(ctx context.Context, tx *sql.Tx, walletId, currency string, balance decimal.Decimal, version int64, exists bool) error {
	if !exists {
		_, err := tx.ExecContext(ctx, queryInsertWalletBalance,
			newBalanceId(), walletId, currency, balance.String())
		if err != nil {
			return fmt.Errorf("failed to create wallet balance: %w", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, queryUpdateWalletBalance,
		balance.String(), walletId, currency, version)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

func (s *Service) creditBalance(ctx context.Context, tx *sql.Tx, walletId, currency string, amount decimal.Decimal) error {
	balance, version, exists, err := s.getBalance(ctx, tx, walletId, currency)
	if err != nil {
		return err
	}
	return s.setBalance(ctx, tx, walletId, currency, balance.Add(amount), version, exists)
}

func (s *Service) debitBalance(ctx context.Context, tx *sql.Tx, walletId, currency string, amount decimal.Decimal) error {
	balance, version, exists, err := s.getBalance(ctx, tx, walletId, currency)
	if err != nil {
		return err
	}
	if !exists || balance.LessThan(amount) {
		return store.ErrInsufficientFunds
	}
	return s.setBalance(ctx, tx, walletId, currency, balance.Sub(amount), version, exists)
}

func (s *Service) insertTransaction(ctx context.Context, tx *sql.Tx, record *models.Transaction) error {
	metadata := ""
	if len(record.Metadata) > 0 {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode transaction metadata: %w", err)
		}
		metadata = string(encoded)
	}

	_, err := tx.ExecContext(ctx, queryInsertTransaction,
		record.Id, string(record.Type), string(record.Status),
		record.Amount.String(), record.Currency, record.Fee.String(),
		record.NetAmount.String(), record.RefundedAmount.String(),
		record.SourceWalletId, record.DestinationWalletId,
		record.Reference, record.ExternalReference, record.FailureReason,
		metadata, record.CreatedAt, nullableTime(record.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Service) scanTransaction(row rowScanner) (*models.Transaction, error) {
	var record models.Transaction
	var txType, status, amountStr, feeStr, netStr, refundedStr, metadata string
	var completedAt sql.NullTime

	err := row.Scan(&record.Id, &txType, &status, &amountStr, &record.Currency,
		&feeStr, &netStr, &refundedStr,
		&record.SourceWalletId, &record.DestinationWalletId,
		&record.Reference, &record.ExternalReference, &record.FailureReason,
		&metadata, &record.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	record.Type = models.TransactionType(txType)
	record.Status = models.TransactionStatus(status)
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time
	}

	if record.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if record.Fee, err = decimal.NewFromString(feeStr); err != nil {
		return nil, fmt.Errorf("failed to parse fee '%s': %w", feeStr, err)
	}
	if record.NetAmount, err = decimal.NewFromString(netStr); err != nil {
		return nil, fmt.Errorf("failed to parse net amount '%s': %w", netStr, err)
	}
	if record.RefundedAmount, err = decimal.NewFromString(refundedStr); err != nil {
		return nil, fmt.Errorf("failed to parse refunded amount '%s': %w", refundedStr, err)
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
	}
	return &record, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
