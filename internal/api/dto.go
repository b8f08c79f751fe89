package api

import (
	"time"

	"wallet-ledger-go/internal/models"
)

// Request bodies

type CreateWalletRequest struct {
	OwnerId   string `json:"owner_id"`
	OwnerType string `json:"owner_type"`
}

type DepositRequest struct {
	OwnerId           string            `json:"owner_id"`
	OwnerType         string            `json:"owner_type"`
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	Reference         string            `json:"reference,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type PaymentRequest struct {
	Amount               string            `json:"amount"`
	Currency             string            `json:"currency"`
	SourceOwnerId        string            `json:"source_owner_id"`
	SourceOwnerType      string            `json:"source_owner_type"`
	DestinationOwnerId   string            `json:"destination_owner_id"`
	DestinationOwnerType string            `json:"destination_owner_type"`
	Reference            string            `json:"reference,omitempty"`
	ExternalReference    string            `json:"external_reference,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type RefundRequest struct {
	// Amount is optional; empty means refund the full remaining amount.
	Amount string `json:"amount,omitempty"`
}

type StatusChangeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ReconcileRequest struct {
	Currency string `json:"currency"`
}

type WithdrawalRequestBody struct {
	UserId             string `json:"user_id"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	DestinationType    string `json:"destination_type"`
	DestinationDetails string `json:"destination_details,omitempty"`
}

type ReviewRequest struct {
	Approve bool `json:"approve"`
}

type CreateEndpointRequest struct {
	BusinessId string   `json:"business_id"`
	Url        string   `json:"url"`
	Events     []string `json:"events"`
}

// Response bodies

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type WalletDTO struct {
	Id        string                      `json:"id"`
	OwnerId   string                      `json:"owner_id"`
	OwnerType string                      `json:"owner_type"`
	Balances  []models.Money `json:"balances"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
}

type WithdrawalDTO struct {
	Id              string     `json:"id"`
	UserId          string     `json:"user_id"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	DestinationType string     `json:"destination_type"`
	Status          string     `json:"status"`
	TransactionId   string     `json:"transaction_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type EndpointDTO struct {
	Id         string   `json:"id"`
	BusinessId string   `json:"business_id"`
	Url        string   `json:"url"`
	Events     []string `json:"events"`
	// Secret is only populated on creation.
	Secret       string `json:"secret,omitempty"`
	Active       bool   `json:"active"`
	FailureCount int    `json:"failure_count"`
	RetryCount   int    `json:"retry_count"`
}

type ReconcileResponse struct {
	WalletId string `json:"wallet_id"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

func toWalletDTO(w *models.Wallet) WalletDTO {
	dto := WalletDTO{
		Id:        w.Id,
		OwnerId:   w.OwnerId,
		OwnerType: string(w.OwnerType),
		Balances:  []models.Money{},
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
	}
	for currency, balance := range w.Balances {
		dto.Balances = append(dto.Balances, models.NewMoney(balance, currency))
	}
	return dto
}

func toTransactionRecord(t *models.Transaction) models.TransactionRecord {
	record := models.TransactionRecord{
		Id:                  t.Id,
		Type:                string(t.Type),
		Status:              string(t.Status),
		Amount:              t.Amount,
		Currency:            t.Currency,
		Fee:                 t.Fee,
		NetAmount:           t.NetAmount,
		SourceWalletId:      t.SourceWalletId,
		DestinationWalletId: t.DestinationWalletId,
		Reference:           t.Reference,
		FailureReason:       t.FailureReason,
		CreatedAt:           t.CreatedAt,
	}
	if !t.CompletedAt.IsZero() {
		completedAt := t.CompletedAt
		record.CompletedAt = &completedAt
	}
	return record
}

func toWithdrawalDTO(req *models.WithdrawalRequest) WithdrawalDTO {
	dto := WithdrawalDTO{
		Id:              req.Id,
		UserId:          req.UserId,
		Amount:          req.Amount.String(),
		Currency:        req.Currency,
		DestinationType: req.DestinationType,
		Status:          string(req.Status),
		TransactionId:   req.TransactionId,
		CreatedAt:       req.CreatedAt,
	}
	if !req.ReviewedAt.IsZero() {
		reviewedAt := req.ReviewedAt
		dto.ReviewedAt = &reviewedAt
	}
	if !req.CompletedAt.IsZero() {
		completedAt := req.CompletedAt
		dto.CompletedAt = &completedAt
	}
	return dto
}

func toEndpointDTO(endpoint *models.WebhookEndpoint, includeSecret bool) EndpointDTO {
	dto := EndpointDTO{
		Id:           endpoint.Id,
		BusinessId:   endpoint.BusinessId,
		Url:          endpoint.Url,
		Events:       endpoint.Events,
		Active:       endpoint.Active,
		FailureCount: endpoint.FailureCount,
		RetryCount:   endpoint.RetryCount,
	}
	if includeSecret {
		dto.Secret = endpoint.Secret
	}
	return dto
}
