package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Service) CreateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_requests (
			id, user_id, amount, currency, destination_type, destination_details,
			status, transaction_id, created_at, reviewed_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, req.Id, req.UserId, req.Amount.String(), req.Currency,
		req.DestinationType, req.DestinationDetails, string(req.Status),
		req.TransactionId, req.CreatedAt,
		nullableTime(req.ReviewedAt), nullableTime(req.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (s *Service) GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, amount, currency, destination_type, destination_details,
		       status, transaction_id, created_at, reviewed_at, completed_at
		FROM withdrawal_requests WHERE id = $1
	`, id)
	return scanWithdrawalRequest(row)
}

func (s *Service) UpdateWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = $1, transaction_id = $2, reviewed_at = $3, completed_at = $4
		WHERE id = $5
	`, string(req.Status), req.TransactionId,
		nullableTime(req.ReviewedAt), nullableTime(req.CompletedAt), req.Id)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRequestNotFound
	}
	return nil
}

func (s *Service) ListWithdrawalRequests(ctx context.Context, userId string) ([]models.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, currency, destination_type, destination_details,
		       status, transaction_id, created_at, reviewed_at, completed_at
		FROM withdrawal_requests WHERE user_id = $1 ORDER BY created_at, id
	`, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []models.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawalRequest(rows)
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

func scanWithdrawalRequest(row pgx.Row) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	var amountStr, status string
	var reviewedAt, completedAt *time.Time

	err := row.Scan(&req.Id, &req.UserId, &amountStr, &req.Currency,
		&req.DestinationType, &req.DestinationDetails, &status,
		&req.TransactionId, &req.CreatedAt, &reviewedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
	}

	req.Status = models.WithdrawalStatus(status)
	if req.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if reviewedAt != nil {
		req.ReviewedAt = *reviewedAt
	}
	if completedAt != nil {
		req.CompletedAt = *completedAt
	}
	return &req, nil
}
