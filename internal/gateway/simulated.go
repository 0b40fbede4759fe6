package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clearwave/clearwave/internal/ledger"
)

// SimulatedProvider approves every request with synthetic references and
// verifies webhook payloads with an HMAC-SHA256 signature over the raw body.
// It stands in for a real acquirer in development and tests.
type SimulatedProvider struct {
	code   string
	secret []byte

	mu     sync.Mutex
	tokens map[string]bool
}

// NewSimulatedProvider builds a provider with the given code (reported on
// transactions) and webhook signing secret.
func NewSimulatedProvider(code, webhookSecret string) *SimulatedProvider {
	return &SimulatedProvider{
		code:   code,
		secret: []byte(webhookSecret),
		tokens: make(map[string]bool),
	}
}

// CreatePaymentIntent approves the collection with a synthetic reference.
func (p *SimulatedProvider) CreatePaymentIntent(_ context.Context, params IntentParams) (Intent, error) {
	if params.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", ErrPaymentMethodRejected)
	}
	return Intent{
		Reference: ledger.ExternalReference("pi_" + uuid.NewString()),
		Status:    "requires_capture",
	}, nil
}

// ConfirmPaymentIntent reports the intent as succeeded.
func (p *SimulatedProvider) ConfirmPaymentIntent(_ context.Context, ref ledger.ExternalReference) (Intent, error) {
	return Intent{Reference: ref, Status: "succeeded"}, nil
}

// CancelPaymentIntent accepts every cancellation.
func (p *SimulatedProvider) CancelPaymentIntent(_ context.Context, _ ledger.ExternalReference) error {
	return nil
}

// InitiateTransfer approves the payout with a synthetic reference.
func (p *SimulatedProvider) InitiateTransfer(_ context.Context, params PayoutParams) (Payout, error) {
	if params.Amount <= 0 {
		return Payout{}, fmt.Errorf("%w: amount must be positive", ErrPaymentMethodRejected)
	}
	return Payout{
		Reference: ledger.ExternalReference("po_" + uuid.NewString()),
		Status:    "in_transit",
	}, nil
}

// GetTransferStatus reports the payout as paid.
func (p *SimulatedProvider) GetTransferStatus(_ context.Context, ref ledger.ExternalReference) (Payout, error) {
	return Payout{Reference: ref, Status: "paid"}, nil
}

// CancelTransfer accepts every cancellation.
func (p *SimulatedProvider) CancelTransfer(_ context.Context, _ ledger.ExternalReference) error {
	return nil
}

// TokenizePaymentMethod swaps instrument details for an opaque token. Digits
// are minimally sanity-checked so tests can exercise the rejection path.
func (p *SimulatedProvider) TokenizePaymentMethod(_ context.Context, details PaymentMethodDetails) (string, error) {
	digits := strings.ReplaceAll(details.Number, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return "", fmt.Errorf("%w: number must be 12-19 digits", ErrPaymentMethodRejected)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: number must be numeric", ErrPaymentMethodRejected)
		}
	}
	token := "pm_" + uuid.NewString()
	p.mu.Lock()
	p.tokens[token] = true
	p.mu.Unlock()
	return token, nil
}

// VerifyPaymentMethod accepts tokens this provider issued.
func (p *SimulatedProvider) VerifyPaymentMethod(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tokens[token] {
		return fmt.Errorf("%w: unknown token", ErrPaymentMethodRejected)
	}
	return nil
}

// DeletePaymentMethod forgets a token.
func (p *SimulatedProvider) DeletePaymentMethod(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
	return nil
}

// CreateRefund approves the refund with a synthetic reference.
func (p *SimulatedProvider) CreateRefund(_ context.Context, params RefundParams) (Refund, error) {
	if params.Amount <= 0 {
		return Refund{}, fmt.Errorf("%w: amount must be positive", ErrPaymentMethodRejected)
	}
	return Refund{
		Reference: ledger.ExternalReference("re_" + uuid.NewString()),
		Status:    "pending",
	}, nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of the raw payload.
func (p *SimulatedProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	expected := p.Sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhookEvent decodes a JSON webhook payload.
func (p *SimulatedProvider) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("parse webhook event: %w", err)
	}
	if event.Type == "" {
		return WebhookEvent{}, fmt.Errorf("parse webhook event: missing type")
	}
	if event.ProviderCode == "" {
		event.ProviderCode = p.code
	}
	return event, nil
}

// Sign computes the signature the provider would attach to payload. Exposed
// for tests and the webhook simulator.
func (p *SimulatedProvider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
