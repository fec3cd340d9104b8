package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saasops/backend/internal/domain/billing"
	"github.com/saasops/backend/internal/infrastructure/logger"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error)
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	data, resp, err := m.handler(method, path, key, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if resp != nil {
		v.SetLastResponse(resp)
	}
	return nil
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

// setupMockBackend sets up a mock Stripe backend for testing
func setupMockBackend(handler func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error)) func() {
	mock := &mockBackend{handler: handler}
	stripe.SetBackend(stripe.APIBackend, mock)
	return func() {
		// Reset to default backend after test
		stripe.SetBackend(stripe.APIBackend, nil)
	}
}

func testRequest() billing.PublishRequest {
	return billing.PublishRequest{
		SubscriptionItemID: "si_test123",
		Quantity:           30,
		Timestamp:          time.Date(2026, 3, 14, 10, 22, 0, 0, time.UTC),
		IdempotencyKey:     "0c9a66a5-57c4-4f55-8e6f-2d1b3c4d5e6f:product_requests",
	}
}

func TestPublish_Success(t *testing.T) {
	publisher := NewStripePublisher(zap.NewNop())
	req := testRequest()

	var gotKey string
	var gotIdempotency string
	cleanup := setupMockBackend(func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error) {
		if method != "POST" || path != "/v1/subscription_items/si_test123/usage_records" {
			return nil, nil, fmt.Errorf("unexpected call: %s %s", method, path)
		}
		gotKey = key
		gotIdempotency = *params.GetParams().IdempotencyKey
		data, err := json.Marshal(&stripe.UsageRecord{
			ID:               "mbur_test123",
			SubscriptionItem: "si_test123",
			Quantity:         30,
			Timestamp:        req.Timestamp.Unix(),
		})
		return data, nil, err
	})
	defer cleanup()

	result, err := publisher.Publish(context.Background(), "sk_test_cycle_key", req)

	require.NoError(t, err)
	assert.Equal(t, "mbur_test123", result.RecordID)
	assert.False(t, result.Replayed)
	assert.Equal(t, "sk_test_cycle_key", gotKey)
	assert.Equal(t, req.IdempotencyKey, gotIdempotency)
}

func TestPublish_ReplayedResponse(t *testing.T) {
	publisher := NewStripePublisher(zap.NewNop())
	req := testRequest()

	cleanup := setupMockBackend(func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error) {
		data, err := json.Marshal(&stripe.UsageRecord{
			ID:               "mbur_test123",
			SubscriptionItem: "si_test123",
			Quantity:         30,
		})
		resp := &stripe.APIResponse{
			Header: http.Header{"Idempotent-Replayed": []string{"true"}},
		}
		return data, resp, err
	})
	defer cleanup()

	result, err := publisher.Publish(context.Background(), "sk_test_cycle_key", req)

	require.NoError(t, err)
	assert.Equal(t, "mbur_test123", result.RecordID)
	assert.True(t, result.Replayed)
}

func TestPublish_APIError(t *testing.T) {
	publisher := NewStripePublisher(zap.NewNop())

	cleanup := setupMockBackend(func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error) {
		return nil, nil, &stripe.Error{
			Code: stripe.ErrorCodeRateLimit,
			Msg:  "Too many requests",
		}
	})
	defer cleanup()

	_, err := publisher.Publish(context.Background(), "sk_test_cycle_key", testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to submit usage record")
}

func TestPublish_ErrorLogCarriesTenantID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	publisher := NewStripePublisher(zap.New(core))

	cleanup := setupMockBackend(func(method, path, key string, params stripe.ParamsContainer) ([]byte, *stripe.APIResponse, error) {
		return nil, nil, &stripe.Error{
			Code: stripe.ErrorCodeRateLimit,
			Msg:  "Too many requests",
		}
	})
	defer cleanup()

	ctx, _ := logger.WithTenantID(context.Background(), zap.NewNop(), "T1")
	_, err := publisher.Publish(ctx, "sk_test_cycle_key", testRequest())

	require.Error(t, err)
	failed := logs.FilterMessage("Failed to submit usage record to Stripe").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "T1", failed[0].ContextMap()["tenant_id"])
}

func TestPublish_Validation(t *testing.T) {
	publisher := NewStripePublisher(zap.NewNop())

	tests := []struct {
		name    string
		mutate  func(req *billing.PublishRequest)
		wantErr string
	}{
		{
			name:    "missing subscription item",
			mutate:  func(req *billing.PublishRequest) { req.SubscriptionItemID = "" },
			wantErr: "subscription item ID is required",
		},
		{
			name:    "negative quantity",
			mutate:  func(req *billing.PublishRequest) { req.Quantity = -1 },
			wantErr: "quantity cannot be negative",
		},
		{
			name:    "missing idempotency key",
			mutate:  func(req *billing.PublishRequest) { req.IdempotencyKey = "" },
			wantErr: "idempotency key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.mutate(&req)

			_, err := publisher.Publish(context.Background(), "sk_test_cycle_key", req)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
