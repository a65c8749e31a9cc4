// Package billing creates hosted checkout sessions and authenticates
// payment webhooks.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	// ErrNotConfigured means the processor keys are missing.
	ErrNotConfigured = errors.New("billing not configured")
	// ErrBadSignature covers a missing, malformed or mismatched signature.
	ErrBadSignature = errors.New("invalid webhook signature")
)

// CheckoutRequest identifies who is paying.
type CheckoutRequest struct {
	UserID string
	Email  string
	Role   string
}

// Event is the verified subset of a webhook payload we act on.
type Event struct {
	ID       string
	Type     string
	ObjectID string
}

// Config holds processor credentials and redirect targets.
type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
	// Tolerance bounds the age of a signed webhook. Zero means the library default.
	Tolerance time.Duration
}

// StripeClient talks to Stripe with an explicit API client (no global key).
type StripeClient struct {
	api *client.API
	cfg Config
}

func NewStripeClient(cfg Config) *StripeClient {
	c := &StripeClient{cfg: cfg}
	if strings.TrimSpace(cfg.SecretKey) != "" {
		c.api = client.New(cfg.SecretKey, nil)
	}
	return c
}

// CreateCheckoutSession opens a subscription checkout and returns its URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if c.api == nil || c.cfg.PriceID == "" {
		return "", ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(c.cfg.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("userId", req.UserID)
	if req.Role != "" {
		params.AddMetadata("role", req.Role)
	}
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifyWebhook authenticates payload against the Stripe-Signature header.
func (c *StripeClient) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if strings.TrimSpace(c.cfg.WebhookSecret) == "" {
		return Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return Event{}, ErrBadSignature
	}
	tolerance := c.cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data != nil {
		if id, ok := evt.Data.Object["id"].(string); ok {
			out.ObjectID = id
		}
	}
	return out, nil
}
