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

package models

import "time"

// Domain event types published by the ledger engine. Every transaction that
// reaches completed additionally emits EventTransactionCompleted so consumers
// can subscribe to all settlements without enumerating operation types.
const (
	EventTransactionCompleted = "transaction.completed"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
	EventPaymentRefunded      = "payment.refunded"
	EventRefundFailed         = "refund.failed"
	EventPayoutCompleted      = "payout.completed"
)

// WebhookEndpoint is a registered delivery target for domain events.
// The secret is generated once at registration and never rotated in place;
// failure_count accumulates across failed deliveries and resets to zero on
// the next success. Endpoints are deactivated by operators, never deleted.
type WebhookEndpoint struct {
	Id             string     `db:"id"`
	BusinessId     string     `db:"business_id"`
	Url            string     `db:"url"`
	Events         []string   `db:"-"`
	Secret         string     `db:"secret"`
	Active         bool       `db:"active"`
	FailureCount   int        `db:"failure_count"`
	RetryCount     int        `db:"retry_count"`
	LastDeliveryAt *time.Time `db:"last_delivery_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// SubscribedTo reports whether the endpoint subscribes to an event type.
func (e *WebhookEndpoint) SubscribedTo(event string) bool {
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// TransactionEvent is the ephemeral message handed from the ledger engine to
// event publishers after a state change is durable. It is not persisted as a
// first-class entity.
type TransactionEvent struct {
	EventType     string                 `json:"event_type"`
	BusinessId    string                 `json:"business_id"`
	TransactionId string                 `json:"transaction_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
}
