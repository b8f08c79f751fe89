package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const insertTransactionSQL = `
	INSERT INTO transactions (
		id, type, status, amount, currency, fee, net_amount, refunded_amount,
		source_wallet_id, destination_wallet_id, reference, external_reference,
		failure_reason, metadata, created_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const selectTransactionSQL = `
	SELECT id, type, status, amount, currency, fee, net_amount, refunded_amount,
	       source_wallet_id, destination_wallet_id, reference, external_reference,
	       failure_reason, metadata, created_at, completed_at
	FROM transactions`

func (s *Service) ExecuteDeposit(ctx context.Context, params store.DepositParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockWallets(ctx, tx, params.DestinationWalletId); err != nil {
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

	if err := creditBalance(ctx, tx, params.DestinationWalletId, params.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("wallet_id", params.DestinationWalletId),
		zap.String("amount", params.Amount.String()))
	return record, nil
}

func (s *Service) ExecuteTransfer(ctx context.Context, params store.TransferParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockWallets(ctx, tx, params.SourceWalletId, params.DestinationWalletId); err != nil {
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

	debitErr := debitBalance(ctx, tx, params.SourceWalletId, params.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := creditBalance(ctx, tx, params.DestinationWalletId, params.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transfer processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("source_wallet_id", params.SourceWalletId),
		zap.String("destination_wallet_id", params.DestinationWalletId),
		zap.String("amount", params.Amount.String()))
	return record, nil
}

func (s *Service) ExecuteRefund(ctx context.Context, params store.RefundParams) (*models.Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	original, err := scanTransaction(tx.QueryRow(ctx, selectTransactionSQL+` WHERE id = $1 FOR UPDATE`, params.OriginalTransactionId))
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

	if err := lockWallets(ctx, tx, original.SourceWalletId, original.DestinationWalletId); err != nil {
		return nil, err
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

	debitErr := debitBalance(ctx, tx, original.DestinationWalletId, original.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := creditBalance(ctx, tx, original.SourceWalletId, original.Currency, params.Amount); err != nil {
		return nil, err
	}
	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	newRefunded := original.RefundedAmount.Add(params.Amount)
	newStatus := original.Status
	if newRefunded.Equal(original.Amount) {
		newStatus = models.TransactionStatusRefunded
	}
	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET refunded_amount = $1, status = $2 WHERE id = $3
	`, newRefunded.String(), string(newStatus), original.Id); err != nil {
		return nil, fmt.Errorf("failed to update refunded amount: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Refund processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("original_transaction_id", original.Id),
		zap.String("amount", params.Amount.String()))
	return record, nil
}

func (s *Service) ExecutePayout(ctx context.Context, params store.PayoutParams) (*models.Transaction, error) {
	if err := s.checkDuplicate(ctx, params.ExternalReference); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockWallets(ctx, tx, params.SourceWalletId); err != nil {
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

	debitErr := debitBalance(ctx, tx, params.SourceWalletId, params.Currency, params.Amount)
	if errors.Is(debitErr, store.ErrInsufficientFunds) {
		record.Status = models.TransactionStatusFailed
		record.FailureReason = store.ErrInsufficientFunds.Error()
		if err := insertTransaction(ctx, tx, record); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return record, store.ErrInsufficientFunds
	}
	if debitErr != nil {
		return nil, debitErr
	}

	if err := insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Payout processed successfully",
		zap.String("transaction_id", record.Id),
		zap.String("source_wallet_id", params.SourceWalletId),
		zap.String("amount", params.Amount.String()))
	return record, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return scanTransaction(s.pool.QueryRow(ctx, selectTransactionSQL+` WHERE id = $1`, id))
}

func (s *Service) GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, selectTransactionSQL+`
		WHERE source_wallet_id = $1 OR destination_wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, walletId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET status = $1, failure_reason = $2, completed_at = $3
		WHERE id = $4 AND status = $5
	`, string(to), failureReason, nullableTime(completedAt), id, string(current.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("status update failed - %w", store.ErrConcurrentModification)
	}

	return s.GetTransaction(ctx, id)
}

func (s *Service) ReconcileWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := lockWallets(ctx, tx, walletId); err != nil {
		return decimal.Zero, err
	}

	rows, err := tx.Query(ctx, `
		SELECT amount, source_wallet_id, destination_wallet_id
		FROM transactions
		WHERE (source_wallet_id = $1 OR destination_wallet_id = $1)
		  AND currency = $2
		  AND status IN ('completed', 'refunded')
	`, walletId, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query transactions for reconciliation: %w", err)
	}

	computed := decimal.Zero
	for rows.Next() {
		var amountStr, sourceId, destinationId string
		if err := rows.Scan(&amountStr, &sourceId, &destinationId); err != nil {
			rows.Close()
			return decimal.Zero, fmt.Errorf("failed to scan transaction amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			rows.Close()
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if destinationId == walletId {
			computed = computed.Add(amount)
		}
		if sourceId == walletId {
			computed = computed.Sub(amount)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	if err := setBalance(ctx, tx, walletId, currency, computed); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
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
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM transactions WHERE external_reference = $1 LIMIT 1
	`, externalRef).Scan(&existingId)
	if err == nil {
		return fmt.Errorf("%w: external_reference %s already exists", store.ErrDuplicateTransaction, externalRef)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}
	return nil
}

func getBalance(ctx context.Context, tx pgx.Tx, walletId, currency string) (decimal.Decimal, bool, error) {
	var balanceStr string
	err := tx.QueryRow(ctx, `
		SELECT balance FROM wallet_balances WHERE wallet_id = $1 AND currency = $2
	`, walletId, currency).Scan(&balanceStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, true, nil
}

// setBalance upserts the balance row. Safe without a version check because
// every money operation locks the owning wallet row first.
func setBalance(ctx context.Context, tx pgx.Tx, walletId, currency string, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_balances (id, wallet_id, currency, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_id, currency) DO UPDATE
		SET balance = EXCLUDED.balance, version = wallet_balances.version + 1, updated_at = NOW()
	`, uuid.New().String(), walletId, currency, balance.String())
	if err != nil {
		return fmt.Errorf("failed to write wallet balance: %w", err)
	}
	return nil
}

func creditBalance(ctx context.Context, tx pgx.Tx, walletId, currency string, amount decimal.Decimal) error {
	balance, _, err := getBalance(ctx, tx, walletId, currency)
	if err != nil {
		return err
	}
	return setBalance(ctx, tx, walletId, currency, balance.Add(amount))
}

func debitBalance(ctx context.Context, tx pgx.Tx, walletId, currency string, amount decimal.Decimal) error {
	balance, exists, err := getBalance(ctx, tx, walletId, currency)
	if err != nil {
		return err
	}
	if !exists || balance.LessThan(amount) {
		return store.ErrInsufficientFunds
	}
	return setBalance(ctx, tx, walletId, currency, balance.Sub(amount))
}

func insertTransaction(ctx context.Context, tx pgx.Tx, record *models.Transaction) error {
	_, err := tx.Exec(ctx, insertTransactionSQL,
		record.Id, string(record.Type), string(record.Status),
		record.Amount.String(), record.Currency, record.Fee.String(),
		record.NetAmount.String(), record.RefundedAmount.String(),
		record.SourceWalletId, record.DestinationWalletId,
		record.Reference, record.ExternalReference, record.FailureReason,
		record.Metadata, record.CreatedAt, nullableTime(record.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var record models.Transaction
	var txType, status, amountStr, feeStr, netStr, refundedStr string
	var completedAt *time.Time

	err := row.Scan(&record.Id, &txType, &status, &amountStr, &record.Currency,
		&feeStr, &netStr, &refundedStr,
		&record.SourceWalletId, &record.DestinationWalletId,
		&record.Reference, &record.ExternalReference, &record.FailureReason,
		&record.Metadata, &record.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	record.Type = models.TransactionType(txType)
	record.Status = models.TransactionStatus(status)
	if completedAt != nil {
		record.CompletedAt = *completedAt
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
	return &record, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
