package app

import (
	"context"
	"errors"
	"log/slog"

	"zettler/pkg/billing"
	"zettler/pkg/domain"
)

// Checkout opens a hosted subscription checkout for the caller.
func (a *App) Checkout(ctx context.Context, caller *Identity) (string, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return "", err
	}
	if a.billing == nil {
		return "", errUpstream("Billing is not configured", nil)
	}
	url, err := a.billing.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(domain.RoleMember),
	})
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return "", errUpstream("Billing is not configured", err)
		}
		return "", errUpstream("Payment provider unavailable", err)
	}
	return url, nil
}

// HandleWebhook authenticates a processor event and dispatches it. Nothing
// happens unless the signature verifies.
func (a *App) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if a.billing == nil {
		return errValidation("Webhook secret or signature missing")
	}
	if len(payload) == 0 {
		return errValidation("No body")
	}
	evt, err := a.billing.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return &Error{Kind: KindValidation, Message: "Webhook secret or signature missing", Err: err}
		}
		return &Error{Kind: KindValidation, Message: "Webhook Error: signature verification failed", Err: err}
	}
	logger := slog.With("event_id", evt.ID, "event_type", evt.Type, "object_id", evt.ObjectID)
	switch evt.Type {
	case "checkout.session.completed":
		// TODO: provision membership from the session's userId metadata once tiers exist.
		logger.InfoContext(ctx, "checkout completed")
	case "invoice.payment_succeeded":
		logger.InfoContext(ctx, "invoice paid")
	case "invoice.payment_failed":
		logger.WarnContext(ctx, "invoice payment failed")
	default:
		logger.InfoContext(ctx, "unhandled webhook event")
	}
	return nil
}
