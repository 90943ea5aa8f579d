// Package payment wraps the Stripe checkout, refund and webhook APIs used to
// fund jobs and report venture revenue.
package payment

import (
	"context"
	"encoding/json"
	"strconv"

	"venturemarket/internal/apperr"
	"venturemarket/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Webhook event kinds the platform reacts to
const (
	EventCheckoutCompleted = "checkout_completed"
	EventChargeRefunded    = "charge_refunded"
	EventIgnored           = "ignored"
)

// CheckoutRequest describes a one-off payment
type CheckoutRequest struct {
	Title    string
	Amount   decimal.Decimal
	Metadata map[string]string
}

// Checkout is a created checkout session
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Refund is an issued refund
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// WebhookEvent is a verified, decoded gateway notification
type WebhookEvent struct {
	ID         string
	Kind       string
	SessionID  string
	PaymentRef string
	Amount     decimal.Decimal
	Metadata   map[string]string
}

// JobID returns the job_id metadata value, or 0.
func (e *WebhookEvent) JobID() uint {
	return metadataID(e.Metadata, "job_id")
}

// VentureID returns the venture_id metadata value, or 0.
func (e *WebhookEvent) VentureID() uint {
	return metadataID(e.Metadata, "venture_id")
}

// Stripe is the payment gateway backed by the Stripe API
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	log           *logrus.Entry
}

// NewStripe creates a Stripe gateway from config
func NewStripe(cfg config.StripeConfig) *Stripe {
	return &Stripe{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		log:           logrus.WithField("component", "stripe"),
	}
}

// CreateCheckout opens a hosted checkout session for amount.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	cents := req.Amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "checkout amount must be positive, got %s", req.Amount.String())
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
				UnitAmount: stripe.Int64(cents),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(uuid.NewString())

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExternalServiceUnavailable, err, "create checkout session")
	}
	s.log.WithField("session_id", sess.ID).Info("Checkout session created")
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// Refund refunds the full amount of a payment intent.
func (s *Stripe) Refund(ctx context.Context, paymentRef, reason string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("reason", reason)
	params.SetIdempotencyKey("refund-" + paymentRef)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExternalServiceUnavailable, err, "issue refund")
	}
	s.log.WithFields(logrus.Fields{"refund_id": r.ID, "payment_ref": paymentRef}).Info("Refund issued")
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the events
// the platform handles. Other event types come back as EventIgnored.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseWebhook(payload, signature, s.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNotAuthorized, err, "invalid webhook signature")
	}

	out := &WebhookEvent{ID: ev.ID, Kind: EventIgnored}
	switch ev.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidArgument, err, "decode checkout session")
		}
		out.Kind = EventCheckoutCompleted
		out.SessionID = sess.ID
		if sess.PaymentIntent != nil {
			out.PaymentRef = sess.PaymentIntent.ID
		}
		out.Amount = decimal.New(sess.AmountTotal, -2)
		out.Metadata = sess.Metadata
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidArgument, err, "decode charge")
		}
		out.Kind = EventChargeRefunded
		if ch.PaymentIntent != nil {
			out.PaymentRef = ch.PaymentIntent.ID
		}
		out.Amount = decimal.New(ch.AmountRefunded, -2)
		out.Metadata = ch.Metadata
	}
	return out, nil
}

func metadataID(meta map[string]string, key string) uint {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// FormatID renders an ID for checkout metadata.
func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
