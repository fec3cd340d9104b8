package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/usagerecord"
	"go.uber.org/zap"

	"github.com/saasops/backend/internal/domain/billing"
	"github.com/saasops/backend/internal/infrastructure/logger"
)

// idempotentReplayedHeader is set by Stripe when a request was served from
// the idempotency cache instead of being processed again.
const idempotentReplayedHeader = "Idempotent-Replayed"

// StripePublisher submits metered usage records to Stripe. The API key is
// passed per call rather than held on the publisher, so a key rotation
// between cycles takes effect on the next cycle without a restart.
type StripePublisher struct {
	logger *zap.Logger
}

// NewStripePublisher creates a new Stripe usage publisher
func NewStripePublisher(logger *zap.Logger) *StripePublisher {
	return &StripePublisher{logger: logger}
}

// Publish creates one usage record against a subscription item. The request's
// idempotency key makes retries safe: Stripe replays the original response
// instead of recording the usage twice, and a replay is reported to the
// caller via PublishResult.Replayed.
func (p *StripePublisher) Publish(ctx context.Context, apiKey string, req billing.PublishRequest) (*billing.PublishResult, error) {
	if req.SubscriptionItemID == "" {
		return nil, fmt.Errorf("stripe: subscription item ID is required")
	}
	if req.Quantity < 0 {
		return nil, fmt.Errorf("stripe: quantity cannot be negative")
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("stripe: idempotency key is required")
	}

	log := p.logger
	if tenantID := logger.GetTenantID(ctx); tenantID != "" {
		log = log.With(zap.String("tenant_id", tenantID))
	}
	log.Debug("Submitting usage record to Stripe",
		zap.String("subscription_item_id", req.SubscriptionItemID),
		zap.Int64("quantity", req.Quantity),
		zap.String("idempotency_key", req.IdempotencyKey))

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(req.SubscriptionItemID),
		Quantity:         stripe.Int64(req.Quantity),
		Action:           stripe.String("increment"),
	}
	params.Context = ctx
	if !req.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(req.Timestamp.Unix())
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	client := usagerecord.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: apiKey,
	}

	record, err := client.New(params)
	if err != nil {
		log.Error("Failed to submit usage record to Stripe",
			zap.String("subscription_item_id", req.SubscriptionItemID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to submit usage record: %w", err)
	}

	replayed := record.LastResponse != nil &&
		record.LastResponse.Header.Get(idempotentReplayedHeader) == "true"

	return &billing.PublishResult{
		RecordID: record.ID,
		Replayed: replayed,
	}, nil
}
