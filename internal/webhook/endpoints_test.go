package webhook

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger-go/internal/store/memory"
)

func TestRegistry_CreateEndpoint(t *testing.T) {
	registry := NewRegistry(memory.New())
	ctx := context.Background()

	endpoint, err := registry.CreateEndpoint(ctx, "biz1", "https://example.com/hooks", []string{"payment.succeeded"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(endpoint.Secret, "whsec_"))
	// 32 random bytes hex-encoded.
	assert.Len(t, endpoint.Secret, len("whsec_")+64)
	assert.True(t, endpoint.Active)

	// Secrets are unique per endpoint.
	other, err := registry.CreateEndpoint(ctx, "biz1", "https://example.com/hooks2", []string{"payment.succeeded"})
	require.NoError(t, err)
	assert.NotEqual(t, endpoint.Secret, other.Secret)
}

func TestRegistry_CreateEndpointValidation(t *testing.T) {
	registry := NewRegistry(memory.New())
	ctx := context.Background()

	cases := []struct {
		name       string
		businessId string
		url        string
		events     []string
	}{
		{"missing business", "", "https://example.com", []string{"payment.succeeded"}},
		{"missing url", "biz1", "", []string{"payment.succeeded"}},
		{"bad scheme", "biz1", "ftp://example.com", []string{"payment.succeeded"}},
		{"no host", "biz1", "https://", []string{"payment.succeeded"}},
		{"no events", "biz1", "https://example.com", nil},
		{"empty event", "biz1", "https://example.com", []string{""}},
	}
	for _, tc := range cases {
		_, err := registry.CreateEndpoint(ctx, tc.businessId, tc.url, tc.events)
		assert.Error(t, err, tc.name)
	}
}

func TestRegistry_DeactivateEndpoint(t *testing.T) {
	st := memory.New()
	registry := NewRegistry(st)
	ctx := context.Background()

	endpoint, err := registry.CreateEndpoint(ctx, "biz1", "https://example.com/hooks", []string{"payment.succeeded"})
	require.NoError(t, err)

	require.NoError(t, registry.DeactivateEndpoint(ctx, endpoint.Id))

	active, err := registry.GetEndpoints(ctx, "biz1")
	require.NoError(t, err)
	assert.Empty(t, active)

	// The endpoint itself still exists.
	loaded, err := registry.GetEndpoint(ctx, endpoint.Id)
	require.NoError(t, err)
	assert.False(t, loaded.Active)
}
