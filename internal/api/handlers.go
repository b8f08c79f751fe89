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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"
	"wallet-ledger-go/internal/webhook"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Registry *webhook.Registry
}

func NewHandler(engine *ledger.Engine, registry *webhook.Registry) *Handler {
	return &Handler{Engine: engine, Registry: registry}
}

// --- Wallets ---

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wallet, err := h.Engine.CreateWallet(r.Context(), req.OwnerId, models.OwnerType(req.OwnerType))
	if err != nil {
		writeLedgerError(w, "Failed to create wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletDTO(wallet))
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Engine.GetWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *Handler) DeactivateWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeactivateWallet(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLedgerError(w, "Failed to deactivate wallet", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	transactions, err := h.Engine.GetTransactionHistory(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeLedgerError(w, "Failed to get transaction history", err)
		return
	}

	records := make([]models.TransactionRecord, 0, len(transactions))
	for i := range transactions {
		records = append(records, toTransactionRecord(&transactions[i]))
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) ReconcileWallet(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Currency == "" {
		writeError(w, http.StatusBadRequest, "currency is required", nil)
		return
	}

	walletId := chi.URLParam(r, "id")
	balance, err := h.Engine.ReconcileWalletBalance(r.Context(), walletId, req.Currency)
	if err != nil {
		writeLedgerError(w, "Failed to reconcile wallet balance", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{
		WalletId: walletId,
		Currency: req.Currency,
		Balance:  balance.String(),
	})
}

// --- Payments ---

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Engine.Deposit(r.Context(), ledger.DepositParams{
		OwnerId:           req.OwnerId,
		OwnerType:         models.OwnerType(req.OwnerType),
		Amount:            amount,
		Reference:         req.Reference,
		ExternalReference: req.ExternalReference,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeLedgerError(w, "Failed to process deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionRecord(tx))
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Engine.ProcessPayment(r.Context(), ledger.PaymentParams{
		Amount:               amount,
		SourceOwnerId:        req.SourceOwnerId,
		SourceOwnerType:      models.OwnerType(req.SourceOwnerType),
		DestinationOwnerId:   req.DestinationOwnerId,
		DestinationOwnerType: models.OwnerType(req.DestinationOwnerType),
		Reference:            req.Reference,
		ExternalReference:    req.ExternalReference,
		Metadata:             req.Metadata,
	})
	if err != nil {
		// A failed payment still has an audit row worth returning.
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			writeJSON(w, http.StatusUnprocessableEntity, toTransactionRecord(tx))
			return
		}
		writeLedgerError(w, "Failed to process payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionRecord(tx))
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		amount = parsed
	}

	tx, err := h.Engine.RefundPayment(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			writeJSON(w, http.StatusUnprocessableEntity, toTransactionRecord(tx))
			return
		}
		writeLedgerError(w, "Failed to refund payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionRecord(tx))
}

// --- Transactions ---

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionRecord(tx))
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Engine.CancelTransaction(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeLedgerError(w, "Failed to cancel transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionRecord(tx))
}

func (h *Handler) DisputeTransaction(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := h.Engine.DisputeTransaction(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeLedgerError(w, "Failed to dispute transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionRecord(tx))
}

// --- Withdrawals ---

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	request, err := h.Engine.CreateWithdrawalRequest(r.Context(), ledger.WithdrawalParams{
		UserId:             req.UserId,
		Amount:             amount,
		DestinationType:    req.DestinationType,
		DestinationDetails: req.DestinationDetails,
	})
	if err != nil {
		writeLedgerError(w, "Failed to create withdrawal request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(request))
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	request, err := h.Engine.GetWithdrawalRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to get withdrawal request", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(request))
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Engine.ListWithdrawalRequests(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeLedgerError(w, "Failed to list withdrawal requests", err)
		return
	}

	dtos := make([]WithdrawalDTO, 0, len(requests))
	for i := range requests {
		dtos = append(dtos, toWithdrawalDTO(&requests[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ReviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.Engine.ReviewWithdrawalRequest(r.Context(), chi.URLParam(r, "id"), req.Approve)
	if err != nil {
		writeLedgerError(w, "Failed to review withdrawal request", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(request))
}

func (h *Handler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.ProcessWithdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && tx != nil {
			writeJSON(w, http.StatusUnprocessableEntity, toTransactionRecord(tx))
			return
		}
		writeLedgerError(w, "Failed to process withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionRecord(tx))
}

// --- Webhook endpoints ---

func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	endpoint, err := h.Registry.CreateEndpoint(r.Context(), req.BusinessId, req.Url, req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create webhook endpoint", err)
		return
	}
	// The secret appears in this response only; it cannot be retrieved later.
	writeJSON(w, http.StatusCreated, toEndpointDTO(endpoint, true))
}

func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	businessId := r.URL.Query().Get("business_id")
	if businessId == "" {
		writeError(w, http.StatusBadRequest, "business_id is required", nil)
		return
	}

	endpoints, err := h.Registry.GetEndpoints(r.Context(), businessId)
	if err != nil {
		writeLedgerError(w, "Failed to list webhook endpoints", err)
		return
	}

	dtos := make([]EndpointDTO, 0, len(endpoints))
	for i := range endpoints {
		dtos = append(dtos, toEndpointDTO(&endpoints[i], false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeactivateEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.DeactivateEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLedgerError(w, "Failed to deactivate webhook endpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps store sentinel errors to HTTP statuses.
func writeLedgerError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusForError(err), message, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrSameWallet):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrRequestNotFound),
		errors.Is(err, store.ErrEndpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrWalletInactive),
		errors.Is(err, store.ErrRefundNotAllowed),
		errors.Is(err, store.ErrInvalidRequestState),
		errors.Is(err, store.ErrInvalidStatusChange),
		errors.Is(err, store.ErrDuplicateTransaction),
		errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
