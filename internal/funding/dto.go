package funding

import (
	"time"

	"github.com/clearwave/clearwave/internal/ledger"
)

// DepositInput captures a request to collect funds into an account.
type DepositInput struct {
	AccountID          string
	Amount             int64
	Currency           string
	IdempotencyKey     string
	PaymentMethodToken string
	Provider           string
	Metadata           map[string]string
}

// WithdrawalInput captures a request to push funds out of an account.
type WithdrawalInput struct {
	AccountID      string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Destination    string
	Provider       string
	Metadata       map[string]string
}

// RefundInput captures a request to refund a completed deposit. A zero amount
// refunds the full original amount.
type RefundInput struct {
	ParentTransactionID string
	Amount              int64
	IdempotencyKey      string
}

// DepositRequest is the HTTP body for initiating a deposit.
type DepositRequest struct {
	Amount             int64             `json:"amount" validate:"required,gt=0"`
	Currency           string            `json:"currency" validate:"required,len=3"`
	PaymentMethodToken string            `json:"payment_method_token" validate:"required"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// WithdrawalRequest is the HTTP body for initiating a withdrawal.
type WithdrawalRequest struct {
	Amount      int64             `json:"amount" validate:"required,gt=0"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Destination string            `json:"destination" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RefundRequest is the HTTP body for refunding a completed deposit.
type RefundRequest struct {
	ParentTransactionID string `json:"parent_transaction_id" validate:"required,uuid4"`
	Amount              int64  `json:"amount" validate:"gte=0"`
}

// EntryResponse is one ledger line of a completed transaction.
type EntryResponse struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionResponse is the API view of a transaction.
type TransactionResponse struct {
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	Status               string            `json:"status"`
	SourceAccountID      string            `json:"source_account_id,omitempty"`
	DestinationAccountID string            `json:"destination_account_id,omitempty"`
	Amount               int64             `json:"amount"`
	Fee                  int64             `json:"fee"`
	Currency             string            `json:"currency"`
	ParentTransactionID  string            `json:"parent_transaction_id,omitempty"`
	ExternalReference    string            `json:"external_reference,omitempty"`
	ErrorDetails         map[string]string `json:"error_details,omitempty"`
	Entries              []EntryResponse   `json:"entries,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

// ToTransactionResponse maps the aggregate to its API representation.
func ToTransactionResponse(tx *ledger.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                   tx.ID.String(),
		Type:                 string(tx.Type),
		Status:               string(tx.Status),
		SourceAccountID:      tx.SourceAccountID.String(),
		DestinationAccountID: tx.DestinationAccountID.String(),
		Amount:               tx.Amount.Amount(),
		Fee:                  tx.Fee.Amount(),
		Currency:             tx.Amount.Currency().String(),
		ParentTransactionID:  tx.ParentTransactionID.String(),
		ExternalReference:    string(tx.ExternalReference),
		ErrorDetails:         tx.ErrorDetails,
		CreatedAt:            tx.CreatedAt,
	}
	if !tx.CompletedAt.IsZero() {
		completed := tx.CompletedAt
		resp.CompletedAt = &completed
	}
	for _, e := range tx.Entries() {
		resp.Entries = append(resp.Entries, EntryResponse{
			ID:        e.ID,
			AccountID: e.AccountID.String(),
			Type:      string(e.Type),
			Amount:    e.Amount.Amount(),
			Currency:  e.Amount.Currency().String(),
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}
