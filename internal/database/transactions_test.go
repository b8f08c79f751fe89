package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		service.Close()
	}
	return service, cleanup
}

func createFundedWallet(t *testing.T, service *Service, ownerId string, currency string, amount string) *models.Wallet {
	t.Helper()
	ctx := context.Background()

	wallet, err := service.CreateWallet(ctx, ownerId, models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	_, err = service.ExecuteDeposit(ctx, store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString(amount),
		Currency:            currency,
	})
	if err != nil {
		t.Fatalf("Funding deposit failed: %v", err)
	}
	return wallet
}

func TestExecuteDeposit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet, err := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	amount := decimal.RequireFromString("100.50")
	tx, err := service.ExecuteDeposit(ctx, store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              amount,
		Currency:            "USD",
		Reference:           "top-up",
	})
	if err != nil {
		t.Fatalf("ExecuteDeposit failed: %v", err)
	}

	if tx.Status != models.TransactionStatusCompleted {
		t.Errorf("Expected status completed, got %s", tx.Status)
	}
	if !tx.Amount.Equal(amount) {
		t.Errorf("Expected amount %s, got %s", amount.String(), tx.Amount.String())
	}

	reloaded, err := service.GetWallet(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !reloaded.Balance("USD").Equal(amount) {
		t.Errorf("Expected balance %s, got %s", amount.String(), reloaded.Balance("USD").String())
	}
}

func TestExecuteTransfer_MovesFullAmount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	source := createFundedWallet(t, service, "payer", "USD", "100")
	dest, err := service.CreateWallet(ctx, "payee", models.OwnerTypeMerchant)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	amount := decimal.RequireFromString("40")
	fee := decimal.RequireFromString("1.46")
	tx, err := service.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		Type:                models.TransactionTypePayment,
		SourceWalletId:      source.Id,
		DestinationWalletId: dest.Id,
		Amount:              amount,
		Currency:            "USD",
		Fee:                 fee,
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer failed: %v", err)
	}

	// The full amount moves; the fee is bookkeeping on the row only.
	if !tx.NetAmount.Equal(amount.Sub(fee)) {
		t.Errorf("Expected net amount %s, got %s", amount.Sub(fee).String(), tx.NetAmount.String())
	}

	sourceAfter, _ := service.GetWallet(ctx, source.Id)
	destAfter, _ := service.GetWallet(ctx, dest.Id)
	if !sourceAfter.Balance("USD").Equal(decimal.RequireFromString("60")) {
		t.Errorf("Expected source balance 60, got %s", sourceAfter.Balance("USD").String())
	}
	if !destAfter.Balance("USD").Equal(amount) {
		t.Errorf("Expected destination balance 40, got %s", destAfter.Balance("USD").String())
	}
}

func TestExecuteTransfer_InsufficientFunds(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	source := createFundedWallet(t, service, "payer", "USD", "10")
	dest := createFundedWallet(t, service, "payee", "USD", "5")

	tx, err := service.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		SourceWalletId:      source.Id,
		DestinationWalletId: dest.Id,
		Amount:              decimal.RequireFromString("50"),
		Currency:            "USD",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got: %v", err)
	}
	if tx == nil || tx.Status != models.TransactionStatusFailed {
		t.Fatalf("Expected a persisted failed transaction, got: %+v", tx)
	}

	// The failed attempt must be on the audit trail.
	persisted, err := service.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if persisted.Status != models.TransactionStatusFailed {
		t.Errorf("Expected persisted status failed, got %s", persisted.Status)
	}

	// Neither balance changed.
	sourceAfter, _ := service.GetWallet(ctx, source.Id)
	destAfter, _ := service.GetWallet(ctx, dest.Id)
	if !sourceAfter.Balance("USD").Equal(decimal.RequireFromString("10")) {
		t.Errorf("Expected source balance 10, got %s", sourceAfter.Balance("USD").String())
	}
	if !destAfter.Balance("USD").Equal(decimal.RequireFromString("5")) {
		t.Errorf("Expected destination balance 5, got %s", destAfter.Balance("USD").String())
	}
}

func TestExecuteRefund_PartialThenFull(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	source := createFundedWallet(t, service, "payer", "USD", "100")
	dest, _ := service.CreateWallet(ctx, "payee", models.OwnerTypeMerchant)

	payment, err := service.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		SourceWalletId:      source.Id,
		DestinationWalletId: dest.Id,
		Amount:              decimal.RequireFromString("60"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer failed: %v", err)
	}

	// Partial refund.
	_, err = service.ExecuteRefund(ctx, store.RefundParams{
		TransactionId:         uuid.New().String(),
		OriginalTransactionId: payment.Id,
		Amount:                decimal.RequireFromString("20"),
	})
	if err != nil {
		t.Fatalf("Partial refund failed: %v", err)
	}

	original, _ := service.GetTransaction(ctx, payment.Id)
	if !original.RefundedAmount.Equal(decimal.RequireFromString("20")) {
		t.Errorf("Expected refunded amount 20, got %s", original.RefundedAmount.String())
	}
	if original.Status != models.TransactionStatusCompleted {
		t.Errorf("Expected status completed after partial refund, got %s", original.Status)
	}

	// Refund the remainder; the original flips to refunded.
	_, err = service.ExecuteRefund(ctx, store.RefundParams{
		TransactionId:         uuid.New().String(),
		OriginalTransactionId: payment.Id,
		Amount:                decimal.RequireFromString("40"),
	})
	if err != nil {
		t.Fatalf("Full refund failed: %v", err)
	}

	original, _ = service.GetTransaction(ctx, payment.Id)
	if original.Status != models.TransactionStatusRefunded {
		t.Errorf("Expected status refunded, got %s", original.Status)
	}

	// Any further refund is rejected.
	_, err = service.ExecuteRefund(ctx, store.RefundParams{
		TransactionId:         uuid.New().String(),
		OriginalTransactionId: payment.Id,
		Amount:                decimal.RequireFromString("1"),
	})
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Errorf("Expected ErrRefundNotAllowed, got: %v", err)
	}

	// Payer is whole again.
	sourceAfter, _ := service.GetWallet(ctx, source.Id)
	if !sourceAfter.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected payer balance 100, got %s", sourceAfter.Balance("USD").String())
	}
}

func TestExecuteRefund_OverRemaining(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	source := createFundedWallet(t, service, "payer", "USD", "100")
	dest, _ := service.CreateWallet(ctx, "payee", models.OwnerTypeMerchant)

	payment, err := service.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		SourceWalletId:      source.Id,
		DestinationWalletId: dest.Id,
		Amount:              decimal.RequireFromString("30"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer failed: %v", err)
	}

	_, err = service.ExecuteRefund(ctx, store.RefundParams{
		TransactionId:         uuid.New().String(),
		OriginalTransactionId: payment.Id,
		Amount:                decimal.RequireFromString("31"),
	})
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Errorf("Expected ErrRefundNotAllowed, got: %v", err)
	}
}

func TestExecuteRefund_RejectsDeposit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet, _ := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)

	dep, err := service.ExecuteDeposit(ctx, store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString("100"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("ExecuteDeposit failed: %v", err)
	}

	// A deposit has no source wallet; refunding it must be rejected
	// rather than crediting an empty wallet id.
	_, err = service.ExecuteRefund(ctx, store.RefundParams{
		TransactionId:         uuid.New().String(),
		OriginalTransactionId: dep.Id,
		Amount:                decimal.RequireFromString("100"),
	})
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Fatalf("Expected ErrRefundNotAllowed, got: %v", err)
	}

	// No phantom balance row was written for the empty wallet id.
	var phantoms int
	if err := service.db.QueryRow(`SELECT COUNT(*) FROM wallet_balances WHERE wallet_id = ''`).Scan(&phantoms); err != nil {
		t.Fatalf("Counting balance rows failed: %v", err)
	}
	if phantoms != 0 {
		t.Errorf("Expected no balance rows for empty wallet id, got %d", phantoms)
	}

	reloaded, _ := service.GetWallet(ctx, wallet.Id)
	if !reloaded.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance unchanged at 100, got %s", reloaded.Balance("USD").String())
	}
}

func TestDuplicateExternalReference(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet, _ := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)

	params := store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString("10"),
		Currency:            "USD",
		ExternalReference:   "bank-ref-42",
	}
	if _, err := service.ExecuteDeposit(ctx, params); err != nil {
		t.Fatalf("First deposit failed: %v", err)
	}

	params.TransactionId = uuid.New().String()
	_, err := service.ExecuteDeposit(ctx, params)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected ErrDuplicateTransaction, got: %v", err)
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	source := createFundedWallet(t, service, "payer", "USD", "100")
	dest, _ := service.CreateWallet(ctx, "payee", models.OwnerTypeMerchant)

	payment, err := service.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		SourceWalletId:      source.Id,
		DestinationWalletId: dest.Id,
		Amount:              decimal.RequireFromString("10"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("ExecuteTransfer failed: %v", err)
	}

	// completed -> disputed is allowed.
	disputed, err := service.UpdateTransactionStatus(ctx, payment.Id,
		[]models.TransactionStatus{models.TransactionStatusCompleted},
		models.TransactionStatusDisputed, "chargeback filed")
	if err != nil {
		t.Fatalf("UpdateTransactionStatus failed: %v", err)
	}
	if disputed.Status != models.TransactionStatusDisputed {
		t.Errorf("Expected status disputed, got %s", disputed.Status)
	}
	if disputed.FailureReason != "chargeback filed" {
		t.Errorf("Expected reason to be recorded, got %q", disputed.FailureReason)
	}

	// disputed is terminal; cancelling it must fail.
	_, err = service.UpdateTransactionStatus(ctx, payment.Id,
		[]models.TransactionStatus{models.TransactionStatusPending, models.TransactionStatusProcessing},
		models.TransactionStatusCancelled, "")
	if !errors.Is(err, store.ErrInvalidStatusChange) {
		t.Errorf("Expected ErrInvalidStatusChange, got: %v", err)
	}
}

func TestGetTransactionHistory_Pagination(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet, _ := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)

	for i := 0; i < 5; i++ {
		_, err := service.ExecuteDeposit(ctx, store.DepositParams{
			TransactionId:       uuid.New().String(),
			DestinationWalletId: wallet.Id,
			Amount:              decimal.NewFromInt(int64(i + 1)),
			Currency:            "USD",
		})
		if err != nil {
			t.Fatalf("Deposit %d failed: %v", i, err)
		}
	}

	page, err := service.GetTransactionHistory(ctx, wallet.Id, 2, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(page))
	}

	rest, err := service.GetTransactionHistory(ctx, wallet.Id, 10, 2)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("Expected 3 transactions after offset 2, got %d", len(rest))
	}
}

func TestReconcileWalletBalance_RepairsDrift(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := createFundedWallet(t, service, "user1", "USD", "100")

	// Corrupt the stored balance directly.
	if _, err := service.db.Exec(`UPDATE wallet_balances SET balance = '999' WHERE wallet_id = ?`, wallet.Id); err != nil {
		t.Fatalf("Failed to corrupt balance: %v", err)
	}

	computed, err := service.ReconcileWalletBalance(ctx, wallet.Id, "USD")
	if err != nil {
		t.Fatalf("ReconcileWalletBalance failed: %v", err)
	}
	if !computed.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected computed balance 100, got %s", computed.String())
	}

	reloaded, _ := service.GetWallet(ctx, wallet.Id)
	if !reloaded.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected stored balance repaired to 100, got %s", reloaded.Balance("USD").String())
	}
}
