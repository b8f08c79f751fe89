package ledger

import (
	"context"
	"time"

	"wallet-ledger-go/internal/models"
)

// Publisher receives domain events after the originating state change is
// durable. Implementations must not block the caller: delivery and retry
// happen on their own workers, and a publisher failure never fails the
// ledger operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event models.TransactionEvent)
}

// MultiPublisher fans one event out to several publishers.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event models.TransactionEvent) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}

func newTransactionEvent(eventType, businessId string, tx *models.Transaction) models.TransactionEvent {
	payload := map[string]interface{}{
		"transaction_id": tx.Id,
		"type":           string(tx.Type),
		"status":         string(tx.Status),
		"amount":         tx.Amount.String(),
		"currency":       tx.Currency,
		"fee":            tx.Fee.String(),
		"net_amount":     tx.NetAmount.String(),
	}
	if tx.SourceWalletId != "" {
		payload["source_wallet_id"] = tx.SourceWalletId
	}
	if tx.DestinationWalletId != "" {
		payload["destination_wallet_id"] = tx.DestinationWalletId
	}
	if tx.Reference != "" {
		payload["reference"] = tx.Reference
	}
	if tx.FailureReason != "" {
		payload["failure_reason"] = tx.FailureReason
	}

	return models.TransactionEvent{
		EventType:     eventType,
		BusinessId:    businessId,
		TransactionId: tx.Id,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
