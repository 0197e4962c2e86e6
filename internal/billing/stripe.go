// Package billing consumes payment-provider webhook events and keeps the
// subscriptions table in sync. The permissions engine never talks to the
// provider directly; it only reads what this package writes.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/publora/publora/internal/db/models"
	"github.com/publora/publora/internal/db/repositories"
)

// MaxWebhookBody bounds the webhook request body. Stripe events are small;
// anything larger is not a legitimate event.
const MaxWebhookBody = 65536

// orgMetadataKey is the subscription metadata key carrying our organization
// id, set when the checkout session is created.
const orgMetadataKey = "organization_id"

// StripeHandler verifies and applies Stripe subscription lifecycle events
type StripeHandler struct {
	subscriptions *repositories.SubscriptionRepository
	webhookSecret string
	// priceTiers maps Stripe price IDs to tier names ("STANDARD", "PRO")
	priceTiers map[string]string
}

// NewStripeHandler creates a webhook handler
func NewStripeHandler(subscriptions *repositories.SubscriptionRepository, webhookSecret string, priceTiers map[string]string) *StripeHandler {
	return &StripeHandler{
		subscriptions: subscriptions,
		webhookSecret: webhookSecret,
		priceTiers:    priceTiers,
	}
}

// HandleEvent verifies the signature and applies one webhook event. A nil
// error means the event was applied or deliberately ignored; the caller
// should acknowledge with 200 either way so Stripe stops redelivering.
func (h *StripeHandler) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, h.webhookSecret)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return h.applySubscription(ctx, event)
	case "customer.subscription.deleted":
		return h.removeSubscription(ctx, event)
	default:
		slog.Debug("ignoring billing event", "type", event.Type)
		return nil
	}
}

func (h *StripeHandler) applySubscription(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription event: %w", err)
	}

	orgID := sub.Metadata[orgMetadataKey]
	if orgID == "" {
		// subscription created outside our checkout flow; nothing to map it to
		slog.Warn("billing event without organization metadata", "subscription", sub.ID, "type", event.Type)
		return nil
	}

	// a subscription that ended on the provider side is a removal even when
	// it arrives as an update
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		slog.Info("subscription ended", "organization_id", orgID, "status", sub.Status)
		return h.subscriptions.Delete(ctx, orgID)
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return fmt.Errorf("subscription %s carries no price", sub.ID)
	}
	price := sub.Items.Data[0].Price

	tierName, ok := h.priceTiers[price.ID]
	if !ok {
		slog.Warn("billing event for unmapped price", "price_id", price.ID, "organization_id", orgID)
		return nil
	}

	period := models.PeriodMonthly
	if price.Recurring != nil && price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
		period = models.PeriodYearly
	}

	record := &models.Subscription{
		OrganizationID: orgID,
		Tier:           models.Tier(strings.ToUpper(tierName)),
		Period:         period,
		ProviderRef:    sub.ID,
	}
	if sub.CancelAt > 0 {
		at := time.Unix(sub.CancelAt, 0).UTC()
		record.CancelAt = &at
	}

	if err := h.subscriptions.Upsert(ctx, record); err != nil {
		return fmt.Errorf("store subscription: %w", err)
	}
	slog.Info("subscription applied",
		"organization_id", orgID, "tier", record.Tier, "period", record.Period, "provider_ref", sub.ID)
	return nil
}

func (h *StripeHandler) removeSubscription(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription event: %w", err)
	}
	orgID := sub.Metadata[orgMetadataKey]
	if orgID == "" {
		slog.Warn("billing deletion without organization metadata", "subscription", sub.ID)
		return nil
	}
	slog.Info("subscription deleted", "organization_id", orgID, "provider_ref", sub.ID)
	return h.subscriptions.Delete(ctx, orgID)
}
