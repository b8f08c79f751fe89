// Package memory provides an in-memory LedgerStore and EndpointStore.
// It is the reference backend for tests and development. Operations that
// touch two wallets take both wallet locks in lexicographic id order, so
// concurrent transfers over the same wallets serialize without deadlock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compile-time checks.
var (
	_ store.LedgerStore   = (*Store)(nil)
	_ store.EndpointStore = (*Store)(nil)
)

type walletEntry struct {
	mu     sync.Mutex
	wallet models.Wallet
}

type Store struct {
	mu sync.RWMutex

	wallets      map[string]*walletEntry // by wallet id
	walletsByKey map[ownerKey]string     // (ownerId, ownerType) -> wallet id

	txMu         sync.RWMutex
	transactions map[string]*models.Transaction
	txOrder      []string          // insertion order, for history
	externalRefs map[string]string // external reference -> transaction id

	wrMu        sync.RWMutex
	withdrawals map[string]*models.WithdrawalRequest

	epMu      sync.RWMutex
	endpoints map[string]*models.WebhookEndpoint
}

type ownerKey struct {
	OwnerId   string
	OwnerType models.OwnerType
}

func New() *Store {
	return &Store{
		wallets:      make(map[string]*walletEntry),
		walletsByKey: make(map[ownerKey]string),
		transactions: make(map[string]*models.Transaction),
		externalRefs: make(map[string]string),
		withdrawals:  make(map[string]*models.WithdrawalRequest),
		endpoints:    make(map[string]*models.WebhookEndpoint),
	}
}

// --- Wallets ---

func (s *Store) CreateWallet(_ context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey{OwnerId: ownerId, OwnerType: ownerType}
	if id, ok := s.walletsByKey[key]; ok {
		return copyWallet(&s.wallets[id].wallet), nil
	}

	now := time.Now().UTC()
	w := models.Wallet{
		Id:        uuid.New().String(),
		OwnerId:   ownerId,
		OwnerType: ownerType,
		Balances:  make(map[string]decimal.Decimal),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[w.Id] = &walletEntry{wallet: w}
	s.walletsByKey[key] = w.Id
	return copyWallet(&w), nil
}

func (s *Store) GetWallet(_ context.Context, walletId string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.wallets[walletId]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyWallet(&entry.wallet), nil
}

func (s *Store) GetWalletByOwner(ctx context.Context, ownerId string, ownerType models.OwnerType) (*models.Wallet, error) {
	s.mu.RLock()
	id, ok := s.walletsByKey[ownerKey{OwnerId: ownerId, OwnerType: ownerType}]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	return s.GetWallet(ctx, id)
}

func (s *Store) ListWallets(_ context.Context) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Wallet, 0, len(s.wallets))
	for _, entry := range s.wallets {
		entry.mu.Lock()
		out = append(out, *copyWallet(&entry.wallet))
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Store) DeactivateWallet(_ context.Context, walletId string) error {
	s.mu.RLock()
	entry, ok := s.wallets[walletId]
	s.mu.RUnlock()
	if !ok {
		return store.ErrWalletNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.wallet.Active = false
	entry.wallet.UpdatedAt = time.Now().UTC()
	return nil
}

// lockWallets acquires the entries for the given ids in lexicographic order.
// Duplicate ids are collapsed so the same mutex is never taken twice.
// Callers must unlock in the returned order via unlockWallets.
func (s *Store) lockWallets(ids ...string) ([]*walletEntry, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	deduped := sorted[:0]
	for i, id := range sorted {
		if i == 0 || id != sorted[i-1] {
			deduped = append(deduped, id)
		}
	}
	sorted = deduped

	s.mu.RLock()
	entries := make([]*walletEntry, 0, len(sorted))
	for _, id := range sorted {
		entry, ok := s.wallets[id]
		if !ok {
			s.mu.RUnlock()
			return nil, store.ErrWalletNotFound
		}
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
	}
	return entries, nil
}

func unlockWallets(entries []*walletEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}
}

// --- Atomic ledger operations ---

func (s *Store) ExecuteDeposit(_ context.Context, params store.DepositParams) (*models.Transaction, error) {
	if err := s.checkExternalRef(params.ExternalReference); err != nil {
		return nil, err
	}

	entries, err := s.lockWallets(params.DestinationWalletId)
	if err != nil {
		return nil, err
	}
	defer unlockWallets(entries)

	dest := entries[0]
	now := time.Now().UTC()
	tx := &models.Transaction{
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
		Metadata:            copyMetadata(params.Metadata),
		CreatedAt:           now,
		CompletedAt:         now,
	}

	dest.wallet.Balances[params.Currency] = dest.wallet.Balance(params.Currency).Add(params.Amount)
	dest.wallet.UpdatedAt = now
	s.recordTransaction(tx)
	return copyTransaction(tx), nil
}

func (s *Store) ExecuteTransfer(_ context.Context, params store.TransferParams) (*models.Transaction, error) {
	if params.SourceWalletId == params.DestinationWalletId {
		return nil, store.ErrSameWallet
	}
	if err := s.checkExternalRef(params.ExternalReference); err != nil {
		return nil, err
	}

	entries, err := s.lockWallets(params.SourceWalletId, params.DestinationWalletId)
	if err != nil {
		return nil, err
	}
	defer unlockWallets(entries)

	var source, dest *walletEntry
	for _, e := range entries {
		switch e.wallet.Id {
		case params.SourceWalletId:
			source = e
		case params.DestinationWalletId:
			dest = e
		}
	}

	now := time.Now().UTC()
	txType := params.Type
	if txType == "" {
		txType = models.TransactionTypePayment
	}
	tx := &models.Transaction{
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
		Metadata:            copyMetadata(params.Metadata),
		CreatedAt:           now,
		CompletedAt:         now,
	}

	if source.wallet.Balance(params.Currency).LessThan(params.Amount) {
		// Rejections are observable: the failed attempt is still recorded.
		tx.Status = models.TransactionStatusFailed
		tx.FailureReason = store.ErrInsufficientFunds.Error()
		s.recordTransaction(tx)
		return copyTransaction(tx), store.ErrInsufficientFunds
	}

	source.wallet.Balances[params.Currency] = source.wallet.Balance(params.Currency).Sub(params.Amount)
	dest.wallet.Balances[params.Currency] = dest.wallet.Balance(params.Currency).Add(params.Amount)
	source.wallet.UpdatedAt = now
	dest.wallet.UpdatedAt = now
	s.recordTransaction(tx)
	return copyTransaction(tx), nil
}

func (s *Store) ExecuteRefund(_ context.Context, params store.RefundParams) (*models.Transaction, error) {
	s.txMu.RLock()
	original, ok := s.transactions[params.OriginalTransactionId]
	if !ok {
		s.txMu.RUnlock()
		return nil, store.ErrTransactionNotFound
	}
	// Parties and currency are immutable once written.
	origSource := original.SourceWalletId
	origDest := original.DestinationWalletId
	currency := original.Currency
	s.txMu.RUnlock()

	// Refund reverses roles: debit the original payee, credit the payer.
	// Wallet locks come first so concurrent refunds of the same original
	// serialize; status and remaining amount are validated under them.
	entries, err := s.lockWallets(origDest, origSource)
	if err != nil {
		return nil, err
	}
	defer unlockWallets(entries)

	s.txMu.RLock()
	original = s.transactions[params.OriginalTransactionId]
	refundable := original.Status == models.TransactionStatusCompleted &&
		params.Amount.LessThanOrEqual(original.RemainingRefundable())
	s.txMu.RUnlock()
	if !refundable {
		return nil, store.ErrRefundNotAllowed
	}

	var payer, payee *walletEntry
	for _, e := range entries {
		switch e.wallet.Id {
		case origSource:
			payer = e
		case origDest:
			payee = e
		}
	}

	now := time.Now().UTC()
	tx := &models.Transaction{
		Id:                  params.TransactionId,
		Type:                models.TransactionTypeRefund,
		Status:              models.TransactionStatusCompleted,
		Amount:              params.Amount,
		Currency:            currency,
		Fee:                 decimal.Zero,
		NetAmount:           params.Amount,
		RefundedAmount:      decimal.Zero,
		SourceWalletId:      origDest,
		DestinationWalletId: origSource,
		Reference:           params.Reference,
		Metadata:            copyMetadata(params.Metadata),
		CreatedAt:           now,
		CompletedAt:         now,
	}

	if payee.wallet.Balance(currency).LessThan(params.Amount) {
		tx.Status = models.TransactionStatusFailed
		tx.FailureReason = store.ErrInsufficientFunds.Error()
		s.recordTransaction(tx)
		return copyTransaction(tx), store.ErrInsufficientFunds
	}

	payee.wallet.Balances[currency] = payee.wallet.Balance(currency).Sub(params.Amount)
	payer.wallet.Balances[currency] = payer.wallet.Balance(currency).Add(params.Amount)
	payee.wallet.UpdatedAt = now
	payer.wallet.UpdatedAt = now

	s.txMu.Lock()
	original.RefundedAmount = original.RefundedAmount.Add(params.Amount)
	if original.RefundedAmount.Equal(original.Amount) {
		original.Status = models.TransactionStatusRefunded
	}
	s.txMu.Unlock()

	s.recordTransaction(tx)
	return copyTransaction(tx), nil
}

func (s *Store) ExecutePayout(_ context.Context, params store.PayoutParams) (*models.Transaction, error) {
	if err := s.checkExternalRef(params.ExternalReference); err != nil {
		return nil, err
	}

	entries, err := s.lockWallets(params.SourceWalletId)
	if err != nil {
		return nil, err
	}
	defer unlockWallets(entries)

	source := entries[0]
	now := time.Now().UTC()
	tx := &models.Transaction{
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
		Metadata:          copyMetadata(params.Metadata),
		CreatedAt:         now,
		CompletedAt:       now,
	}

	if source.wallet.Balance(params.Currency).LessThan(params.Amount) {
		tx.Status = models.TransactionStatusFailed
		tx.FailureReason = store.ErrInsufficientFunds.Error()
		s.recordTransaction(tx)
		return copyTransaction(tx), store.ErrInsufficientFunds
	}

	source.wallet.Balances[params.Currency] = source.wallet.Balance(params.Currency).Sub(params.Amount)
	source.wallet.UpdatedAt = now
	s.recordTransaction(tx)
	return copyTransaction(tx), nil
}

// --- Transactions ---

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (s *Store) GetTransactionHistory(_ context.Context, walletId string, limit, offset int) ([]models.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var matched []models.Transaction
	// txOrder is insertion order; walk newest first.
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.txOrder[i]]
		if tx.SourceWalletId == walletId || tx.DestinationWalletId == walletId {
			matched = append(matched, *copyTransaction(tx))
		}
	}

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, allowedFrom []models.TransactionStatus, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	permitted := false
	for _, from := range allowedFrom {
		if tx.Status == from {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, store.ErrInvalidStatusChange
	}
	tx.Status = to
	if reason != "" {
		tx.FailureReason = reason
	}
	if to.Terminal() && tx.CompletedAt.IsZero() {
		tx.CompletedAt = time.Now().UTC()
	}
	return copyTransaction(tx), nil
}

func (s *Store) ReconcileWalletBalance(_ context.Context, walletId, currency string) (decimal.Decimal, error) {
	entries, err := s.lockWallets(walletId)
	if err != nil {
		return decimal.Zero, err
	}
	defer unlockWallets(entries)

	computed := decimal.Zero
	s.txMu.RLock()
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.Currency != currency {
			continue
		}
		if tx.Status != models.TransactionStatusCompleted && tx.Status != models.TransactionStatusRefunded {
			continue
		}
		if tx.DestinationWalletId == walletId {
			computed = computed.Add(tx.Amount)
		}
		if tx.SourceWalletId == walletId {
			computed = computed.Sub(tx.Amount)
		}
	}
	s.txMu.RUnlock()

	entries[0].wallet.Balances[currency] = computed
	return computed, nil
}

// --- Withdrawal requests ---

func (s *Store) CreateWithdrawalRequest(_ context.Context, req *models.WithdrawalRequest) error {
	s.wrMu.Lock()
	defer s.wrMu.Unlock()
	clone := *req
	s.withdrawals[req.Id] = &clone
	return nil
}

func (s *Store) GetWithdrawalRequest(_ context.Context, id string) (*models.WithdrawalRequest, error) {
	s.wrMu.RLock()
	defer s.wrMu.RUnlock()
	req, ok := s.withdrawals[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	clone := *req
	return &clone, nil
}

func (s *Store) UpdateWithdrawalRequest(_ context.Context, req *models.WithdrawalRequest) error {
	s.wrMu.Lock()
	defer s.wrMu.Unlock()
	if _, ok := s.withdrawals[req.Id]; !ok {
		return store.ErrRequestNotFound
	}
	clone := *req
	s.withdrawals[req.Id] = &clone
	return nil
}

func (s *Store) ListWithdrawalRequests(_ context.Context, userId string) ([]models.WithdrawalRequest, error) {
	s.wrMu.RLock()
	defer s.wrMu.RUnlock()

	var out []models.WithdrawalRequest
	for _, req := range s.withdrawals {
		if req.UserId == userId {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Endpoints ---

func (s *Store) CreateEndpoint(_ context.Context, endpoint *models.WebhookEndpoint) error {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	clone := copyEndpoint(endpoint)
	s.endpoints[endpoint.Id] = clone
	return nil
}

func (s *Store) GetEndpoint(_ context.Context, id string) (*models.WebhookEndpoint, error) {
	s.epMu.RLock()
	defer s.epMu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, store.ErrEndpointNotFound
	}
	return copyEndpoint(ep), nil
}

func (s *Store) ListEndpoints(_ context.Context, businessId string) ([]models.WebhookEndpoint, error) {
	s.epMu.RLock()
	defer s.epMu.RUnlock()

	var out []models.WebhookEndpoint
	for _, ep := range s.endpoints {
		if ep.BusinessId == businessId && ep.Active {
			out = append(out, *copyEndpoint(ep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListEndpointsForEvent(ctx context.Context, businessId, event string) ([]models.WebhookEndpoint, error) {
	all, err := s.ListEndpoints(ctx, businessId)
	if err != nil {
		return nil, err
	}
	var out []models.WebhookEndpoint
	for _, ep := range all {
		if ep.SubscribedTo(event) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *Store) UpdateEndpointCounters(_ context.Context, id string, failureCount, retryCount int, lastDeliveryAt *time.Time) error {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return store.ErrEndpointNotFound
	}
	ep.FailureCount = failureCount
	ep.RetryCount = retryCount
	if lastDeliveryAt != nil {
		t := *lastDeliveryAt
		ep.LastDeliveryAt = &t
	}
	return nil
}

func (s *Store) DeactivateEndpoint(_ context.Context, id string) error {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return store.ErrEndpointNotFound
	}
	ep.Active = false
	return nil
}

func (s *Store) Close() {}

// --- helpers ---

func (s *Store) checkExternalRef(ref string) error {
	if ref == "" {
		return nil
	}
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	if _, ok := s.externalRefs[ref]; ok {
		return store.ErrDuplicateTransaction
	}
	return nil
}

func (s *Store) recordTransaction(tx *models.Transaction) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	clone := copyTransaction(tx)
	s.transactions[tx.Id] = clone
	s.txOrder = append(s.txOrder, tx.Id)
	if tx.ExternalReference != "" {
		s.externalRefs[tx.ExternalReference] = tx.Id
	}
}

func copyWallet(w *models.Wallet) *models.Wallet {
	clone := *w
	clone.Balances = make(map[string]decimal.Decimal, len(w.Balances))
	for c, b := range w.Balances {
		clone.Balances[c] = b
	}
	return &clone
}

func copyTransaction(tx *models.Transaction) *models.Transaction {
	clone := *tx
	clone.Metadata = copyMetadata(tx.Metadata)
	return &clone
}

func copyEndpoint(ep *models.WebhookEndpoint) *models.WebhookEndpoint {
	clone := *ep
	clone.Events = append([]string(nil), ep.Events...)
	if ep.LastDeliveryAt != nil {
		t := *ep.LastDeliveryAt
		clone.LastDeliveryAt = &t
	}
	return &clone
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
