package memory

import (
	"context"
	"errors"
	"testing"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestExecuteTransfer_SameWallet(t *testing.T) {
	s := New()
	ctx := context.Background()

	wallet, err := s.CreateWallet(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	_, err = s.ExecuteDeposit(ctx, store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString("100"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("ExecuteDeposit failed: %v", err)
	}

	// Must return, not self-deadlock on the wallet lock.
	_, err = s.ExecuteTransfer(ctx, store.TransferParams{
		TransactionId:       uuid.New().String(),
		Type:                models.TransactionTypePayment,
		SourceWalletId:      wallet.Id,
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString("10"),
		Currency:            "USD",
	})
	if !errors.Is(err, store.ErrSameWallet) {
		t.Fatalf("Expected ErrSameWallet, got: %v", err)
	}

	// The wallet lock is released and the wallet still usable.
	_, err = s.ExecuteDeposit(ctx, store.DepositParams{
		TransactionId:       uuid.New().String(),
		DestinationWalletId: wallet.Id,
		Amount:              decimal.RequireFromString("1"),
		Currency:            "USD",
	})
	if err != nil {
		t.Fatalf("Deposit after rejected transfer failed: %v", err)
	}

	reloaded, err := s.GetWallet(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !reloaded.Balance("USD").Equal(decimal.RequireFromString("101")) {
		t.Errorf("Expected balance 101, got %s", reloaded.Balance("USD").String())
	}
}
