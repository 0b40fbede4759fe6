// Package gateway defines the boundary to the external payment provider. The
// core calls the request-side methods and consumes verified webhook events to
// drive transaction completion.
package gateway

import (
	"context"
	"errors"

	"github.com/clearwave/clearwave/internal/ledger"
)

var (
	// ErrProviderUnavailable is an infrastructure failure (network, timeout).
	// Calls failing this way are safe to retry; no provider side effect is
	// guaranteed to have happened.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrInvalidSignature indicates a webhook payload whose signature does
	// not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPaymentMethodRejected indicates the provider refused the payment
	// method during tokenization or verification.
	ErrPaymentMethodRejected = errors.New("payment method rejected")
)

// EventType classifies webhook events.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.failed"
	EventPayoutPaid       EventType = "payout.paid"
	EventPayoutFailed     EventType = "payout.failed"
	EventRefundSucceeded  EventType = "refund.succeeded"
	EventRefundFailed     EventType = "refund.failed"
)

// WebhookEvent is a verified, parsed provider notification.
type WebhookEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	TransactionID string            `json:"transaction_id"`
	Reference     string            `json:"reference"`
	ProviderCode  string            `json:"provider_code"`
	Failure       map[string]string `json:"failure,omitempty"`
}

// IntentParams describes a payment intent to collect funds from the user's
// payment method into their account.
type IntentParams struct {
	TransactionID      ledger.TransactionID
	Amount             int64
	Currency           string
	PaymentMethodToken string
	Metadata           map[string]string
}

// Intent is the provider's view of a collection attempt.
type Intent struct {
	Reference ledger.ExternalReference
	Status    string
}

// PayoutParams describes a provider transfer pushing funds out.
type PayoutParams struct {
	TransactionID ledger.TransactionID
	Amount        int64
	Currency      string
	Destination   string
	Metadata      map[string]string
}

// Payout is the provider's view of an outbound transfer.
type Payout struct {
	Reference ledger.ExternalReference
	Status    string
}

// RefundParams describes a refund of a previously collected payment.
type RefundParams struct {
	TransactionID   ledger.TransactionID
	ParentReference ledger.ExternalReference
	Amount          int64
	Currency        string
}

// Refund is the provider's view of a refund.
type Refund struct {
	Reference ledger.ExternalReference
	Status    string
}

// PaymentMethodDetails carries raw payment instrument data for tokenization.
// The core never stores these fields; only the returned token is retained.
type PaymentMethodDetails struct {
	Kind   string
	Number string
	Expiry string
	Holder string
}

// Gateway is the payment provider contract the orchestrators depend on.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params IntentParams) (Intent, error)
	ConfirmPaymentIntent(ctx context.Context, ref ledger.ExternalReference) (Intent, error)
	CancelPaymentIntent(ctx context.Context, ref ledger.ExternalReference) error

	InitiateTransfer(ctx context.Context, params PayoutParams) (Payout, error)
	GetTransferStatus(ctx context.Context, ref ledger.ExternalReference) (Payout, error)
	CancelTransfer(ctx context.Context, ref ledger.ExternalReference) error

	TokenizePaymentMethod(ctx context.Context, details PaymentMethodDetails) (string, error)
	VerifyPaymentMethod(ctx context.Context, token string) error
	DeletePaymentMethod(ctx context.Context, token string) error

	CreateRefund(ctx context.Context, params RefundParams) (Refund, error)

	VerifyWebhookSignature(payload []byte, signature string) error
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}
