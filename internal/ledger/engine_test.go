package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"
	"wallet-ledger-go/internal/store/memory"

	"github.com/shopspring/decimal"
)

// capturingPublisher records events synchronously for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []models.TransactionEvent
}

func (p *capturingPublisher) Publish(_ context.Context, event models.TransactionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *capturingPublisher) {
	t.Helper()
	st := memory.New()
	pub := &capturingPublisher{}
	return NewEngine(st, DefaultFeeSchedule(), pub), st, pub
}

func money(amount, currency string) models.Money {
	return models.NewMoney(decimal.RequireFromString(amount), currency)
}

func deposit(t *testing.T, engine *Engine, ownerId string, ownerType models.OwnerType, amount, currency string) *models.Transaction {
	t.Helper()
	tx, err := engine.Deposit(context.Background(), DepositParams{
		OwnerId:   ownerId,
		OwnerType: ownerType,
		Amount:    money(amount, currency),
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	return tx
}

func TestDeposit_ProvisionsWallet(t *testing.T) {
	engine, _, pub := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "user1", models.OwnerTypeUser, "100", "USD")

	wallet, err := engine.GetWalletByOwner(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("GetWalletByOwner failed: %v", err)
	}
	if !wallet.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100, got %s", wallet.Balance("USD").String())
	}

	events := pub.types()
	if len(events) != 1 || events[0] != models.EventTransactionCompleted {
		t.Errorf("Expected one transaction.completed event, got %v", events)
	}
}

func TestDeposit_RejectsInvalidAmount(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Deposit(ctx, DepositParams{
		OwnerId:   "user1",
		OwnerType: models.OwnerTypeUser,
		Amount:    money("-5", "USD"),
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got: %v", err)
	}

	_, err = engine.Deposit(ctx, DepositParams{
		OwnerId:   "user1",
		OwnerType: models.OwnerTypeUser,
		Amount:    money("5", ""),
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for missing currency, got: %v", err)
	}
}

func TestCreateWallet_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CreateWallet(ctx, "", models.OwnerTypeUser); err == nil {
		t.Error("Expected error for empty owner id")
	}
	if _, err := engine.CreateWallet(ctx, "u1", models.OwnerType("alien")); err == nil {
		t.Error("Expected error for unknown owner type")
	}

	first, err := engine.CreateWallet(ctx, "u1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	second, err := engine.CreateWallet(ctx, "u1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("Second CreateWallet failed: %v", err)
	}
	if first.Id != second.Id {
		t.Errorf("Expected idempotent wallet creation, got %s and %s", first.Id, second.Id)
	}
}

func TestProcessPayment_FeeAndBalances(t *testing.T) {
	engine, _, pub := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "100", "USD")
	deposit(t, engine, "shop", models.OwnerTypeMerchant, "0.01", "USD")

	amount := decimal.RequireFromString("40")
	tx, err := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("40", "USD"),
		SourceOwnerId:        "payer",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	// Default schedule: 0.30 + 2.9% of 40 = 1.46.
	expectedFee := decimal.RequireFromString("1.46")
	if !tx.Fee.Equal(expectedFee) {
		t.Errorf("Expected fee %s, got %s", expectedFee.String(), tx.Fee.String())
	}
	if !tx.NetAmount.Equal(amount.Sub(expectedFee)) {
		t.Errorf("Expected net amount %s, got %s", amount.Sub(expectedFee).String(), tx.NetAmount.String())
	}

	// The full amount moves between wallets regardless of the fee.
	payer, _ := engine.GetWalletByOwner(ctx, "payer", models.OwnerTypeUser)
	shop, _ := engine.GetWalletByOwner(ctx, "shop", models.OwnerTypeMerchant)
	if !payer.Balance("USD").Equal(decimal.RequireFromString("60")) {
		t.Errorf("Expected payer balance 60, got %s", payer.Balance("USD").String())
	}
	if !shop.Balance("USD").Equal(decimal.RequireFromString("40.01")) {
		t.Errorf("Expected shop balance 40.01, got %s", shop.Balance("USD").String())
	}

	events := pub.types()
	want := []string{
		models.EventTransactionCompleted, // payer deposit
		models.EventTransactionCompleted, // shop deposit
		models.EventPaymentSucceeded,
		models.EventTransactionCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), events)
	}
	for i, w := range want {
		if events[i] != w {
			t.Errorf("Event %d: expected %s, got %s", i, w, events[i])
		}
	}
}

func TestProcessPayment_InsufficientFunds(t *testing.T) {
	engine, _, pub := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "5", "USD")
	deposit(t, engine, "shop", models.OwnerTypeMerchant, "1", "USD")

	tx, err := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("50", "USD"),
		SourceOwnerId:        "payer",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got: %v", err)
	}
	if tx == nil || tx.Status != models.TransactionStatusFailed {
		t.Fatalf("Expected a failed transaction record, got: %+v", tx)
	}

	// The failed attempt is queryable.
	persisted, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if persisted.FailureReason == "" {
		t.Error("Expected a failure reason on the audit record")
	}

	events := pub.types()
	if events[len(events)-1] != models.EventPaymentFailed {
		t.Errorf("Expected payment.failed as last event, got %v", events)
	}
}

func TestProcessPayment_RejectsSameWallet(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "user1", models.OwnerTypeUser, "100", "USD")

	_, err := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("10", "USD"),
		SourceOwnerId:        "user1",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "user1",
		DestinationOwnerType: models.OwnerTypeUser,
	})
	if !errors.Is(err, store.ErrSameWallet) {
		t.Fatalf("Expected ErrSameWallet, got: %v", err)
	}

	// The wallet is untouched and still usable afterwards.
	wallet, err := engine.GetWalletByOwner(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("GetWalletByOwner failed: %v", err)
	}
	if !wallet.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100, got %s", wallet.Balance("USD").String())
	}
	deposit(t, engine, "user1", models.OwnerTypeUser, "1", "USD")
}

func TestRefundPayment_FullFlow(t *testing.T) {
	engine, _, pub := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "100", "USD")
	engine.CreateWallet(ctx, "shop", models.OwnerTypeMerchant)

	payment, err := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("60", "USD"),
		SourceOwnerId:        "payer",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	// Partial refund.
	refund, err := engine.RefundPayment(ctx, payment.Id, decimal.RequireFromString("20"))
	if err != nil {
		t.Fatalf("Partial RefundPayment failed: %v", err)
	}
	if refund.Type != models.TransactionTypeRefund {
		t.Errorf("Expected refund type, got %s", refund.Type)
	}

	// Zero amount refunds the remainder.
	if _, err := engine.RefundPayment(ctx, payment.Id, decimal.Zero); err != nil {
		t.Fatalf("Full RefundPayment failed: %v", err)
	}

	original, _ := engine.GetTransaction(ctx, payment.Id)
	if original.Status != models.TransactionStatusRefunded {
		t.Errorf("Expected original status refunded, got %s", original.Status)
	}

	// Over-refunding is rejected.
	_, err = engine.RefundPayment(ctx, payment.Id, decimal.RequireFromString("1"))
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Errorf("Expected ErrRefundNotAllowed, got: %v", err)
	}

	payer, _ := engine.GetWalletByOwner(ctx, "payer", models.OwnerTypeUser)
	if !payer.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected payer balance restored to 100, got %s", payer.Balance("USD").String())
	}

	events := pub.types()
	sawRefunded := false
	for _, e := range events {
		if e == models.EventPaymentRefunded {
			sawRefunded = true
		}
	}
	if !sawRefunded {
		t.Errorf("Expected a payment.refunded event, got %v", events)
	}
}

func TestRefundPayment_RejectsNonCompleted(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "5", "USD")
	deposit(t, engine, "shop", models.OwnerTypeMerchant, "1", "USD")

	failed, _ := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("50", "USD"),
		SourceOwnerId:        "payer",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})

	_, err := engine.RefundPayment(ctx, failed.Id, decimal.Zero)
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Errorf("Expected ErrRefundNotAllowed for failed original, got: %v", err)
	}
}

func TestRefundPayment_RejectsDeposit(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	dep := deposit(t, engine, "user1", models.OwnerTypeUser, "100", "USD")

	// A deposit has no source wallet to credit the money back to.
	_, err := engine.RefundPayment(ctx, dep.Id, decimal.Zero)
	if !errors.Is(err, store.ErrRefundNotAllowed) {
		t.Fatalf("Expected ErrRefundNotAllowed for deposit refund, got: %v", err)
	}

	wallet, _ := engine.GetWalletByOwner(ctx, "user1", models.OwnerTypeUser)
	if !wallet.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance unchanged at 100, got %s", wallet.Balance("USD").String())
	}
}

func TestDeactivatedWallet_RejectsOperations(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "user1", models.OwnerTypeUser, "100", "USD")
	deposit(t, engine, "shop", models.OwnerTypeMerchant, "1", "USD")

	wallet, err := engine.GetWalletByOwner(ctx, "user1", models.OwnerTypeUser)
	if err != nil {
		t.Fatalf("GetWalletByOwner failed: %v", err)
	}
	if err := engine.DeactivateWallet(ctx, wallet.Id); err != nil {
		t.Fatalf("DeactivateWallet failed: %v", err)
	}

	_, err = engine.Deposit(ctx, DepositParams{
		OwnerId:   "user1",
		OwnerType: models.OwnerTypeUser,
		Amount:    money("10", "USD"),
	})
	if !errors.Is(err, store.ErrWalletInactive) {
		t.Errorf("Expected ErrWalletInactive on deposit, got: %v", err)
	}

	_, err = engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("10", "USD"),
		SourceOwnerId:        "user1",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})
	if !errors.Is(err, store.ErrWalletInactive) {
		t.Errorf("Expected ErrWalletInactive on debit, got: %v", err)
	}

	_, err = engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("0.50", "USD"),
		SourceOwnerId:        "shop",
		SourceOwnerType:      models.OwnerTypeMerchant,
		DestinationOwnerId:   "user1",
		DestinationOwnerType: models.OwnerTypeUser,
	})
	if !errors.Is(err, store.ErrWalletInactive) {
		t.Errorf("Expected ErrWalletInactive on credit, got: %v", err)
	}
}

func TestConcurrentPayments_NoDoubleSpend(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "100", "USD")
	engine.CreateWallet(ctx, "shop", models.OwnerTypeMerchant)

	const workers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ProcessPayment(ctx, PaymentParams{
				Amount:               money("10", "USD"),
				SourceOwnerId:        "payer",
				SourceOwnerType:      models.OwnerTypeUser,
				DestinationOwnerId:   "shop",
				DestinationOwnerType: models.OwnerTypeMerchant,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Errorf("Unexpected payment error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Exactly 10 payments of 10 fit into a balance of 100.
	if succeeded != 10 {
		t.Errorf("Expected 10 successful payments, got %d", succeeded)
	}

	payer, _ := engine.GetWalletByOwner(ctx, "payer", models.OwnerTypeUser)
	shop, _ := engine.GetWalletByOwner(ctx, "shop", models.OwnerTypeMerchant)
	if !payer.Balance("USD").Equal(decimal.Zero) {
		t.Errorf("Expected payer balance 0, got %s", payer.Balance("USD").String())
	}
	if !shop.Balance("USD").Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected shop balance 100, got %s", shop.Balance("USD").String())
	}
}

func TestCancelAndDisputeTransitions(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "payer", models.OwnerTypeUser, "100", "USD")
	engine.CreateWallet(ctx, "shop", models.OwnerTypeMerchant)

	payment, err := engine.ProcessPayment(ctx, PaymentParams{
		Amount:               money("10", "USD"),
		SourceOwnerId:        "payer",
		SourceOwnerType:      models.OwnerTypeUser,
		DestinationOwnerId:   "shop",
		DestinationOwnerType: models.OwnerTypeMerchant,
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	// Completed transactions cannot be cancelled.
	_, err = engine.CancelTransaction(ctx, payment.Id, "changed my mind")
	if !errors.Is(err, store.ErrInvalidStatusChange) {
		t.Errorf("Expected ErrInvalidStatusChange, got: %v", err)
	}

	// But they can be disputed.
	disputed, err := engine.DisputeTransaction(ctx, payment.Id, "chargeback")
	if err != nil {
		t.Fatalf("DisputeTransaction failed: %v", err)
	}
	if disputed.Status != models.TransactionStatusDisputed {
		t.Errorf("Expected status disputed, got %s", disputed.Status)
	}

	// Disputed is terminal.
	_, err = engine.DisputeTransaction(ctx, payment.Id, "again")
	if !errors.Is(err, store.ErrInvalidStatusChange) {
		t.Errorf("Expected ErrInvalidStatusChange on second dispute, got: %v", err)
	}
}
