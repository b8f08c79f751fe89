package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func (s *Service) CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (
			id, business_id, url, events, secret, active,
			failure_count, retry_count, last_delivery_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, endpoint.Id, endpoint.BusinessId, endpoint.Url, endpoint.Events,
		endpoint.Secret, endpoint.Active, endpoint.FailureCount,
		endpoint.RetryCount, endpoint.LastDeliveryAt, endpoint.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", err)
	}

	zap.L().Info("Webhook endpoint created",
		zap.String("endpoint_id", endpoint.Id),
		zap.String("business_id", endpoint.BusinessId))
	return nil
}

func (s *Service) GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, business_id, url, events, secret, active,
		       failure_count, retry_count, last_delivery_at, created_at
		FROM webhook_endpoints WHERE id = $1
	`, id)
	return scanEndpoint(row)
}

func (s *Service) ListEndpoints(ctx context.Context, businessId string) ([]models.WebhookEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, url, events, secret, active,
		       failure_count, retry_count, last_delivery_at, created_at
		FROM webhook_endpoints
		WHERE business_id = $1 AND active = TRUE
		ORDER BY created_at, id
	`, businessId)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.WebhookEndpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint rows: %w", err)
	}
	return endpoints, nil
}

func (s *Service) ListEndpointsForEvent(ctx context.Context, businessId, event string) ([]models.WebhookEndpoint, error) {
	endpoints, err := s.ListEndpoints(ctx, businessId)
	if err != nil {
		return nil, err
	}

	var matched []models.WebhookEndpoint
	for _, endpoint := range endpoints {
		if endpoint.SubscribedTo(event) {
			matched = append(matched, endpoint)
		}
	}
	return matched, nil
}

func (s *Service) UpdateEndpointCounters(ctx context.Context, id string, failureCount, retryCount int, lastDeliveryAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET failure_count = $1, retry_count = $2, last_delivery_at = COALESCE($3, last_delivery_at)
		WHERE id = $4
	`, failureCount, retryCount, lastDeliveryAt, id)
	if err != nil {
		return fmt.Errorf("failed to update endpoint counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEndpointNotFound
	}
	return nil
}

func (s *Service) DeactivateEndpoint(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_endpoints SET active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEndpointNotFound
	}

	zap.L().Info("Webhook endpoint deactivated", zap.String("endpoint_id", id))
	return nil
}

func scanEndpoint(row pgx.Row) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	var lastDeliveryAt *time.Time

	err := row.Scan(&endpoint.Id, &endpoint.BusinessId, &endpoint.Url, &endpoint.Events,
		&endpoint.Secret, &endpoint.Active, &endpoint.FailureCount,
		&endpoint.RetryCount, &lastDeliveryAt, &endpoint.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
	}

	endpoint.LastDeliveryAt = lastDeliveryAt
	return &endpoint, nil
}
