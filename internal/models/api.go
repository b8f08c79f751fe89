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

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord represents a transaction in history listings
type TransactionRecord struct {
	Id                  string          `json:"id"`
	Type                string          `json:"type"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Fee                 decimal.Decimal `json:"fee"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	SourceWalletId      string          `json:"source_wallet_id,omitempty"`
	DestinationWalletId string          `json:"destination_wallet_id,omitempty"`
	Reference           string          `json:"reference,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}
