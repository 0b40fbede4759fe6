package gateway

import (
	"context"
	"errors"
	"testing"
)

func TestTokenizeAndVerifyPaymentMethod(t *testing.T) {
	p := NewSimulatedProvider("simulated", "secret")
	ctx := context.Background()

	token, err := p.TokenizePaymentMethod(ctx, PaymentMethodDetails{Kind: "card", Number: "4242 4242 4242 4242"})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if err := p.VerifyPaymentMethod(ctx, token); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := p.DeletePaymentMethod(ctx, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.VerifyPaymentMethod(ctx, token); !errors.Is(err, ErrPaymentMethodRejected) {
		t.Fatalf("expected rejection after delete, got %v", err)
	}

	if _, err := p.TokenizePaymentMethod(ctx, PaymentMethodDetails{Kind: "card", Number: "not-a-card"}); !errors.Is(err, ErrPaymentMethodRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestWebhookSignatureRoundTrip(t *testing.T) {
	p := NewSimulatedProvider("simulated", "secret")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","transaction_id":"tx-1","reference":"pi_1"}`)

	if err := p.VerifyWebhookSignature(payload, p.Sign(payload)); err != nil {
		t.Fatalf("verify signature: %v", err)
	}
	if err := p.VerifyWebhookSignature(payload, "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	other := NewSimulatedProvider("simulated", "other-secret")
	if err := p.VerifyWebhookSignature(payload, other.Sign(payload)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected cross-secret rejection, got %v", err)
	}
}

func TestParseWebhookEvent(t *testing.T) {
	p := NewSimulatedProvider("simulated", "secret")

	event, err := p.ParseWebhookEvent([]byte(`{"id":"evt_1","type":"payout.failed","transaction_id":"tx-1","failure":{"code":"account_closed"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventPayoutFailed || event.Failure["code"] != "account_closed" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ProviderCode != "simulated" {
		t.Fatalf("expected provider code default, got %q", event.ProviderCode)
	}

	if _, err := p.ParseWebhookEvent([]byte(`{`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := p.ParseWebhookEvent([]byte(`{"id":"evt_2"}`)); err == nil {
		t.Fatalf("expected missing type error")
	}
}
