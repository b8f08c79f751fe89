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

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) CreateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error {
	_, err := s.db.ExecContext(ctx, queryInsertWithdrawalRequest,
		req.Id, req.UserId, req.Amount.String(), req.Currency,
		req.DestinationType, req.DestinationDetails, string(req.Status),
		req.TransactionId, req.CreatedAt,
		nullableTime(req.ReviewedAt), nullableTime(req.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	zap.L().Info("Withdrawal request created",
		zap.String("request_id", req.Id),
		zap.String("user_id", req.UserId),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))
	return nil
}

func (s *Service) GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return s.scanWithdrawalRequest(s.db.QueryRowContext(ctx, queryGetWithdrawalRequest, id))
}

func (s *Service) UpdateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error {
	result, err := s.db.ExecContext(ctx, queryUpdateWithdrawalRequest,
		string(req.Status), req.TransactionId,
		nullableTime(req.ReviewedAt), nullableTime(req.CompletedAt), req.Id)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrRequestNotFound
	}
	return nil
}

func (s *Service) ListWithdrawalRequests(ctx context.Context, userId string) ([]models.WithdrawalRequest, error) {
	rows, err := s.db.QueryContext(ctx, queryListWithdrawalRequests, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var requests []models.WithdrawalRequest
	for rows.Next() {
		req, err := s.scanWithdrawalRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal request rows: %w", err)
	}
	return requests, nil
}

func (s *Service) scanWithdrawalRequest(row rowScanner) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	var amountStr, status string
	var reviewedAt, completedAt sql.NullTime

	err := row.Scan(&req.Id, &req.UserId, &amountStr, &req.Currency,
		&req.DestinationType, &req.DestinationDetails, &status,
		&req.TransactionId, &req.CreatedAt, &reviewedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
	}

	req.Status = models.WithdrawalStatus(status)
	if req.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if reviewedAt.Valid {
		req.ReviewedAt = reviewedAt.Time
	}
	if completedAt.Valid {
		req.CompletedAt = completedAt.Time
	}
	return &req, nil
}
