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

package database

const (
	// Wallet queries
	queryInsertWallet = `
		INSERT OR IGNORE INTO wallets (id, owner_id, owner_type) VALUES (?, ?, ?)`

	queryGetWallet = `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets
		WHERE id = ?`

	queryGetWalletByOwner = `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets
		WHERE owner_id = ? AND owner_type = ?`

	queryListWallets = `
		SELECT id, owner_id, owner_type, active, created_at, updated_at
		FROM wallets
		ORDER BY created_at, id`

	queryDeactivateWallet = `
		UPDATE wallets
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	// Balance queries
	queryGetWalletBalances = `
		SELECT currency, balance
		FROM wallet_balances
		WHERE wallet_id = ?
		ORDER BY currency`

	queryGetWalletBalance = `
		SELECT id, balance, version
		FROM wallet_balances
		WHERE wallet_id = ? AND currency = ?`

	queryInsertWalletBalance = `
		INSERT INTO wallet_balances (id, wallet_id, currency, balance, version)
		VALUES (?, ?, ?, ?, 1)`

	queryUpdateWalletBalance = `
		UPDATE wallet_balances
		SET balance = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE wallet_id = ? AND currency = ? AND version = ?`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE external_reference = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, type, status, amount, currency, fee, net_amount, refunded_amount,
			source_wallet_id, destination_wallet_id, reference, external_reference,
			failure_reason, metadata, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransaction = `
		SELECT id, type, status, amount, currency, fee, net_amount, refunded_amount,
		       source_wallet_id, destination_wallet_id, reference, external_reference,
		       failure_reason, metadata, created_at, completed_at
		FROM transactions
		WHERE id = ?`

	queryGetTransactionHistory = `
		SELECT id, type, status, amount, currency, fee, net_amount, refunded_amount,
		       source_wallet_id, destination_wallet_id, reference, external_reference,
		       failure_reason, metadata, created_at, completed_at
		FROM transactions
		WHERE source_wallet_id = ? OR destination_wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryUpdateTransactionStatus = `
		UPDATE transactions
		SET status = ?, failure_reason = ?, completed_at = ?
		WHERE id = ? AND status = ?`

	queryUpdateRefundedAmount = `
		UPDATE transactions
		SET refunded_amount = ?, status = ?
		WHERE id = ? AND status = 'completed' AND refunded_amount = ?`

	// Amounts are summed in Go with decimals; SQLite REAL math would lose
	// precision.
	queryReconcileWalletBalance = `
		SELECT amount, source_wallet_id, destination_wallet_id
		FROM transactions
		WHERE (source_wallet_id = ?1 OR destination_wallet_id = ?1)
		  AND currency = ?2
		  AND status IN ('completed', 'refunded')`

	// Withdrawal request queries
	queryInsertWithdrawalRequest = `
		INSERT INTO withdrawal_requests (
			id, user_id, amount, currency, destination_type, destination_details,
			status, transaction_id, created_at, reviewed_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetWithdrawalRequest = `
		SELECT id, user_id, amount, currency, destination_type, destination_details,
		       status, transaction_id, created_at, reviewed_at, completed_at
		FROM withdrawal_requests
		WHERE id = ?`

	queryUpdateWithdrawalRequest = `
		UPDATE withdrawal_requests
		SET status = ?, transaction_id = ?, reviewed_at = ?, completed_at = ?
		WHERE id = ?`

	queryListWithdrawalRequests = `
		SELECT id, user_id, amount, currency, destination_type, destination_details,
		       status, transaction_id, created_at, reviewed_at, completed_at
		FROM withdrawal_requests
		WHERE user_id = ?
		ORDER BY created_at, id`

	// Webhook endpoint queries
	queryInsertEndpoint = `
		INSERT INTO webhook_endpoints (
			id, business_id, url, events, secret, active,
			failure_count, retry_count, last_delivery_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetEndpoint = `
		SELECT id, business_id, url, events, secret, active,
		       failure_count, retry_count, last_delivery_at, created_at
		FROM webhook_endpoints
		WHERE id = ?`

	queryListEndpoints = `
		SELECT id, business_id, url, events, secret, active,
		       failure_count, retry_count, last_delivery_at, created_at
		FROM webhook_endpoints
		WHERE business_id = ? AND active = 1
		ORDER BY created_at, id`

	queryUpdateEndpointCounters = `
		UPDATE webhook_endpoints
		SET failure_count = ?, retry_count = ?, last_delivery_at = COALESCE(?, last_delivery_at)
		WHERE id = ?`

	queryDeactivateEndpoint = `
		UPDATE webhook_endpoints
		SET active = 0
		WHERE id = ?`
)
