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

package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/store"
)

const secretPrefix = "whsec_"

// Registry manages webhook endpoint registrations on top of an
// EndpointStore. Secrets are generated here and returned exactly once, on
// creation.
type Registry struct {
	store store.EndpointStore
}

func NewRegistry(endpointStore store.EndpointStore) *Registry {
	return &Registry{store: endpointStore}
}

// CreateEndpoint registers a new endpoint for a business and generates its
// signing secret. The caller must persist the returned secret on their side;
// it is stored but never rotated or re-derived.
func (r *Registry) CreateEndpoint(ctx context.Context, businessId, endpointUrl string, events []string) (*models.WebhookEndpoint, error) {
	if businessId == "" {
		return nil, fmt.Errorf("business id is required")
	}
	if err := validateEndpointUrl(endpointUrl); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}
	for _, event := range events {
		if event == "" {
			return nil, fmt.Errorf("event type cannot be empty")
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate endpoint secret: %w", err)
	}

	endpoint := &models.WebhookEndpoint{
		Id:         uuid.New().String(),
		BusinessId: businessId,
		Url:        endpointUrl,
		Events:     append([]string(nil), events...),
		Secret:     secret,
		Active:     true,
		CreatedAt:  time.Now(),
	}

	if err := r.store.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to persist webhook endpoint: %w", err)
	}

	return endpoint, nil
}

func (r *Registry) GetEndpoint(ctx context.Context, endpointId string) (*models.WebhookEndpoint, error) {
	return r.store.GetEndpoint(ctx, endpointId)
}

// GetEndpoints lists the active endpoints registered for a business.
func (r *Registry) GetEndpoints(ctx context.Context, businessId string) ([]models.WebhookEndpoint, error) {
	return r.store.ListEndpoints(ctx, businessId)
}

// DeactivateEndpoint disables an endpoint. Pending retries for it are
// dropped the next time they come up for delivery.
func (r *Registry) DeactivateEndpoint(ctx context.Context, endpointId string) error {
	return r.store.DeactivateEndpoint(ctx, endpointId)
}

func validateEndpointUrl(endpointUrl string) error {
	if endpointUrl == "" {
		return fmt.Errorf("endpoint url is required")
	}
	parsed, err := url.Parse(endpointUrl)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("endpoint url must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint url must include a host")
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}
