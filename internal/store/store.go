package store

import (
	"context"
	"errors"
	"time"

	"wallet-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrSameWallet             = errors.New("source and destination wallets must differ")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrWalletInactive         = errors.New("wallet is deactivated")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrRefundNotAllowed       = errors.New("refund not allowed")
	ErrInvalidRequestState    = errors.New("invalid withdrawal request state")
	ErrInvalidStatusChange    = errors.New("invalid transaction status change")
	ErrRequestNotFound        = errors.New("withdrawal request not found")
	ErrEndpointNotFound       = errors.New("webhook endpoint not found")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// TransferParams describes an atomic debit/credit between two wallets.
// The store persists the transaction row and mutates both balances as a
// single unit; on insufficient funds it persists the row as failed and
// returns ErrInsufficientFunds with neither balance changed.
type TransferParams struct {
	TransactionId       string
	Type                models.TransactionType
	SourceWalletId      string
	DestinationWalletId string
	Amount              decimal.Decimal
	Currency            string
	Fee                 decimal.Decimal
	Reference           string
	ExternalReference   string
	Metadata            map[string]string
}

// DepositParams describes a credit with no source wallet.
type DepositParams struct {
	TransactionId       string
	DestinationWalletId string
	Amount              decimal.Decimal
	Currency            string
	Reference           string
	ExternalReference   string
	Metadata            map[string]string
}

// RefundParams describes a refund reversing a prior transfer. The store
// validates the original's status and remaining refundable amount inside the
// same transaction that moves the balances, so concurrent refunds cannot
// overdraw the original.
type RefundParams struct {
	TransactionId         string
	OriginalTransactionId string
	Amount                decimal.Decimal
	Reference             string
	Metadata              map[string]string
}

// PayoutParams describes a debit to an external payout sink (no destination
// wallet).
type PayoutParams struct {
	TransactionId     string
	SourceWalletId    string
	Amount            decimal.Decimal
	Currency          string
	Fee               decimal.Decimal
	Reference         string
	ExternalReference string
	Metadata          map[string]string
}

// LedgerStore defines the contract that every backend (memory, SQLite,
// Postgres) must satisfy. All Execute* operations are atomic: transaction
// row and balance mutations commit together or not at all, and no two
// concurrent operations may act on the same stale balance.
type LedgerStore interface {
	// --- Wallets ---

	// CreateWallet provisions a wallet for (ownerId, ownerType). Idempotent:
	// a second call returns the existing wallet unchanged.
	CreateWallet(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	DeactivateWallet(ctx context.Context, walletId string) error

	// --- Atomic ledger operations ---
	ExecuteDeposit(ctx context.Context, params DepositParams) (*models.Transaction, error)
	ExecuteTransfer(ctx context.Context, params TransferParams) (*models.Transaction, error)
	ExecuteRefund(ctx context.Context, params RefundParams) (*models.Transaction, error)
	ExecutePayout(ctx context.Context, params PayoutParams) (*models.Transaction, error)

	// --- Transactions ---
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, walletId string, limit, offset int) ([]models.Transaction, error)

	// UpdateTransactionStatus moves a transaction between statuses; the
	// current status must be one of allowedFrom or ErrInvalidStatusChange is
	// returned.
	UpdateTransactionStatus(ctx context.Context, id string, allowedFrom []models.TransactionStatus, to models.TransactionStatus, reason string) (*models.Transaction, error)

	// ReconcileWalletBalance recomputes a wallet's balance for a currency
	// from its transaction rows and returns the computed value, repairing
	// the stored balance if they diverge.
	ReconcileWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error)

	// --- Withdrawal requests ---
	CreateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error
	ListWithdrawalRequests(ctx context.Context, userId string) ([]models.WithdrawalRequest, error)

	// --- Lifecycle ---
	Close()
}

// EndpointStore persists webhook endpoints. Read-mostly; implementations
// must be safe for concurrent reads with standard write serialization.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error)

	// ListEndpoints returns only active endpoints for the business.
	ListEndpoints(ctx context.Context, businessId string) ([]models.WebhookEndpoint, error)

	// ListEndpointsForEvent returns active endpoints for the business that
	// subscribe to the given event type.
	ListEndpointsForEvent(ctx context.Context, businessId, event string) ([]models.WebhookEndpoint, error)

	UpdateEndpointCounters(ctx context.Context, id string, failureCount, retryCount int, lastDeliveryAt *time.Time) error
	DeactivateEndpoint(ctx context.Context, id string) error
}
