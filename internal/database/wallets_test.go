package database

import (
	"context"
	"errors"
	"testing"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"
)

func TestCreateWallet_Idempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	first, err := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("First CreateWallet failed: %v", err)
	}

	second, err := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("Second CreateWallet failed: %v", err)
	}
	if first.Id != second.Id {
		t.Errorf("Expected same wallet id, got %s and %s", first.Id, second.Id)
	}

	// Same owner id with a different owner type is a distinct wallet.
	merchant, err := service.CreateWallet(ctx, "user1", models.OwnerTypeMerchant)
	if err != nil {
		t.Fatalf("Merchant CreateWallet failed: %v", err)
	}
	if merchant.Id == first.Id {
		t.Errorf("Expected distinct wallet per owner type, got same id %s", first.Id)
	}
}

func TestGetWalletByOwner(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	created, err := service.CreateWallet(ctx, "merchant1", models.OwnerTypeMerchant)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	found, err := service.GetWalletByOwner(ctx, "merchant1", models.OwnerTypeMerchant)
	if err != nil {
		t.Fatalf("GetWalletByOwner failed: %v", err)
	}
	if found.Id != created.Id {
		t.Errorf("Expected wallet %s, got %s", created.Id, found.Id)
	}

	_, err = service.GetWalletByOwner(ctx, "nobody", models.OwnerTypeUser)
	if !errors.Is(err, store.ErrWalletNotFound) {
		t.Errorf("Expected ErrWalletNotFound, got: %v", err)
	}
}

func TestDeactivateWallet(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet, err := service.CreateWallet(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	if err := service.DeactivateWallet(ctx, wallet.Id); err != nil {
		t.Fatalf("DeactivateWallet failed: %v", err)
	}

	reloaded, err := service.GetWallet(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if reloaded.Active {
		t.Error("Expected wallet to be deactivated")
	}

	if err := service.DeactivateWallet(ctx, "missing"); !errors.Is(err, store.ErrWalletNotFound) {
		t.Errorf("Expected ErrWalletNotFound, got: %v", err)
	}
}
