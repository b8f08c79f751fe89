package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	events, err := json.Marshal(endpoint.Events)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertEndpoint,
		endpoint.Id, endpoint.BusinessId, endpoint.Url, string(events),
		endpoint.Secret, endpoint.Active, endpoint.FailureCount,
		endpoint.RetryCount, nullableTimePtr(endpoint.LastDeliveryAt), endpoint.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", err)
	}

	zap.L().Info("Webhook endpoint created",
		zap.String("endpoint_id", endpoint.Id),
		zap.String("business_id", endpoint.BusinessId),
		zap.String("url", endpoint.Url))
	return nil
}

func (s *Service) GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	return s.scanEndpoint(s.db.QueryRowContext(ctx, queryGetEndpoint, id))
}

func (s *Service) ListEndpoints(ctx context.Context, businessId string) ([]models.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, queryListEndpoints, businessId)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var endpoints []models.WebhookEndpoint
	for rows.Next() {
		endpoint, err := s.scanEndpoint(rows)
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

// ListEndpointsForEvent filters the active endpoints down to those subscribed
// to the event. Subscription matching happens in Go; the events column is an
// opaque JSON array to SQLite.
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
	result, err := s.db.ExecContext(ctx, queryUpdateEndpointCounters,
		failureCount, retryCount, nullableTimePtr(lastDeliveryAt), id)
	if err != nil {
		return fmt.Errorf("failed to update endpoint counters: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrEndpointNotFound
	}
	return nil
}

func (s *Service) DeactivateEndpoint(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, queryDeactivateEndpoint, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrEndpointNotFound
	}

	zap.L().Info("Webhook endpoint deactivated", zap.String("endpoint_id", id))
	return nil
}

func (s *Service) scanEndpoint(row rowScanner) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	var events string
	var lastDeliveryAt sql.NullTime

	err := row.Scan(&endpoint.Id, &endpoint.BusinessId, &endpoint.Url, &events,
		&endpoint.Secret, &endpoint.Active, &endpoint.FailureCount,
		&endpoint.RetryCount, &lastDeliveryAt, &endpoint.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(events), &endpoint.Events); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint events: %w", err)
	}
	if lastDeliveryAt.Valid {
		t := lastDeliveryAt.Time
		endpoint.LastDeliveryAt = &t
	}
	return &endpoint, nil
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}
