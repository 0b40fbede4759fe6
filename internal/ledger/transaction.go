package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/clearwave/clearwave/internal/money"
)

// TransactionType classifies the business operation behind a transaction.
type TransactionType string

const (
	TypeTransfer   TransactionType = "transfer"
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeRefund     TransactionType = "refund"
	TypeFee        TransactionType = "fee"
)

// TransactionStatus is one state of the transaction state machine.
type TransactionStatus string

const (
	StatusPending              TransactionStatus = "pending"
	StatusAwaitingConfirmation TransactionStatus = "awaiting_confirmation"
	StatusProcessing           TransactionStatus = "processing"
	StatusCompleted            TransactionStatus = "completed"
	StatusFailed               TransactionStatus = "failed"
	StatusCancelled            TransactionStatus = "cancelled"
	StatusReversed             TransactionStatus = "reversed"
)

// Terminal reports whether no further transition is permitted from s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return true
	case StatusPending, StatusAwaitingConfirmation, StatusProcessing:
		return false
	}
	return false
}

// Modifiable reports whether s still accepts transitions.
func (s TransactionStatus) Modifiable() bool {
	switch s {
	case StatusPending, StatusAwaitingConfirmation, StatusProcessing:
		return true
	case StatusCompleted, StatusFailed, StatusCancelled, StatusReversed:
		return false
	}
	return false
}

// Transaction is the aggregate root for one financial operation. It owns the
// state machine and the double-entry validation applied when it completes.
// Once a terminal status is reached the aggregate never changes again.
type Transaction struct {
	ID                    TransactionID
	IdempotencyKey        IdempotencyKey
	Type                  TransactionType
	Status                TransactionStatus
	SourceAccountID       AccountID // empty for deposits
	DestinationAccountID  AccountID // empty for withdrawals
	Amount                money.Money
	Fee                   money.Money
	ParentTransactionID   TransactionID // set on refunds
	ExternalReference     ExternalReference
	ProviderCode          string
	ErrorDetails          map[string]string
	Metadata              map[string]string
	ConfirmationExpiresAt time.Time // zero when no confirmation is required
	CreatedAt             time.Time
	CompletedAt           time.Time // zero until a terminal status is reached

	entries               []Entry
	confirmationTokenHash []byte
}

// NewDeposit creates a pending deposit into the destination account.
func NewDeposit(key IdempotencyKey, destination AccountID, amount money.Money, now time.Time) (*Transaction, error) {
	if err := validateNew(key, amount); err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: destination account is required", ErrValidation)
	}
	return &Transaction{
		ID:                   NewTransactionID(),
		IdempotencyKey:       key,
		Type:                 TypeDeposit,
		Status:               StatusPending,
		DestinationAccountID: destination,
		Amount:               amount,
		Fee:                  money.Zero(amount.Currency()),
		CreatedAt:            now.UTC(),
	}, nil
}

// NewWithdrawal creates a pending withdrawal from the source account.
func NewWithdrawal(key IdempotencyKey, source AccountID, amount money.Money, now time.Time) (*Transaction, error) {
	if err := validateNew(key, amount); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("%w: source account is required", ErrValidation)
	}
	return &Transaction{
		ID:              NewTransactionID(),
		IdempotencyKey:  key,
		Type:            TypeWithdrawal,
		Status:          StatusPending,
		SourceAccountID: source,
		Amount:          amount,
		Fee:             money.Zero(amount.Currency()),
		CreatedAt:       now.UTC(),
	}, nil
}

// NewTransfer creates a transfer that needs no recipient confirmation; it
// starts pending and can be settled immediately.
func NewTransfer(key IdempotencyKey, source, destination AccountID, amount, fee money.Money, now time.Time) (*Transaction, error) {
	t, err := newTransfer(key, source, destination, amount, fee, now)
	if err != nil {
		return nil, err
	}
	t.Status = StatusPending
	return t, nil
}

// NewConfirmableTransfer creates a transfer awaiting recipient confirmation.
// It returns the plaintext confirmation token exactly once; only a bcrypt
// hash of it is retained on the aggregate.
func NewConfirmableTransfer(key IdempotencyKey, source, destination AccountID, amount, fee money.Money, ttl time.Duration, now time.Time) (*Transaction, string, error) {
	t, err := newTransfer(key, source, destination, amount, fee, now)
	if err != nil {
		return nil, "", err
	}
	if ttl <= 0 {
		return nil, "", fmt.Errorf("%w: confirmation ttl must be positive", ErrValidation)
	}

	token, hash, err := newConfirmationToken()
	if err != nil {
		return nil, "", err
	}

	t.Status = StatusAwaitingConfirmation
	t.confirmationTokenHash = hash
	t.ConfirmationExpiresAt = now.UTC().Add(ttl)
	return t, token, nil
}

// NewRefund creates a pending refund of a completed deposit. Funds flow back
// out of the parent's destination account.
func NewRefund(key IdempotencyKey, parent *Transaction, amount money.Money, now time.Time) (*Transaction, error) {
	if err := validateNew(key, amount); err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent transaction is required", ErrValidation)
	}
	if parent.Type != TypeDeposit || parent.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: refunds require a completed deposit, parent is %s %s", ErrInvalidTransactionState, parent.Type, parent.Status)
	}
	greater, err := amount.GreaterThan(parent.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if greater {
		return nil, fmt.Errorf("%w: refund %s exceeds original %s", ErrValidation, amount, parent.Amount)
	}
	return &Transaction{
		ID:                  NewTransactionID(),
		IdempotencyKey:      key,
		Type:                TypeRefund,
		Status:              StatusPending,
		SourceAccountID:     parent.DestinationAccountID,
		Amount:              amount,
		Fee:                 money.Zero(amount.Currency()),
		ParentTransactionID: parent.ID,
		CreatedAt:           now.UTC(),
	}, nil
}

func newTransfer(key IdempotencyKey, source, destination AccountID, amount, fee money.Money, now time.Time) (*Transaction, error) {
	if err := validateNew(key, amount); err != nil {
		return nil, err
	}
	if source == "" || destination == "" {
		return nil, fmt.Errorf("%w: source and destination accounts are required", ErrValidation)
	}
	if source == destination {
		return nil, fmt.Errorf("%w: source and destination must differ", ErrValidation)
	}
	if fee.Currency() != amount.Currency() {
		return nil, fmt.Errorf("%w: fee currency %s does not match amount currency %s", ErrValidation, fee.Currency(), amount.Currency())
	}
	return &Transaction{
		ID:                   NewTransactionID(),
		IdempotencyKey:       key,
		Type:                 TypeTransfer,
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               amount,
		Fee:                  fee,
		CreatedAt:            now.UTC(),
	}, nil
}

func validateNew(key IdempotencyKey, amount money.Money) error {
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// Entries returns a copy of the transaction's ledger lines; they
// are set exactly once, when the transaction completes.
func (t *Transaction) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// RequiresConfirmation reports whether a confirmation token was issued.
func (t *Transaction) RequiresConfirmation() bool {
	return !t.ConfirmationExpiresAt.IsZero()
}

// MarkProcessing moves a modifiable transaction into processing.
func (t *Transaction) MarkProcessing() error {
	if !t.Status.Modifiable() {
		return t.stateError("mark processing")
	}
	t.Status = StatusProcessing
	return nil
}

// Confirm validates the single-use confirmation token and moves the transfer
// from awaiting_confirmation to processing. The token is cleared on success
// so it cannot be replayed; an expired token is rejected and the status is
// left untouched.
func (t *Transaction) Confirm(token string, now time.Time) error {
	if t.Status != StatusAwaitingConfirmation {
		return t.stateError("confirm")
	}
	if now.After(t.ConfirmationExpiresAt) {
		return fmt.Errorf("%w: token expired at %s", ErrInvalidConfirmationToken, t.ConfirmationExpiresAt.Format(time.RFC3339))
	}
	if len(t.confirmationTokenHash) == 0 {
		return fmt.Errorf("%w: token already used", ErrInvalidConfirmationToken)
	}
	if err := bcrypt.CompareHashAndPassword(t.confirmationTokenHash, []byte(token)); err != nil {
		return fmt.Errorf("%w: token does not match", ErrInvalidConfirmationToken)
	}
	t.confirmationTokenHash = nil
	t.Status = StatusProcessing
	return nil
}

// Cancel terminates a transfer that is still awaiting confirmation. The
// orchestrator is responsible for checking that the caller is the sender and
// for releasing the sender's hold.
func (t *Transaction) Cancel(now time.Time) error {
	if t.Status != StatusAwaitingConfirmation {
		return t.stateError("cancel")
	}
	t.confirmationTokenHash = nil
	t.Status = StatusCancelled
	t.CompletedAt = now.UTC()
	return nil
}

// Complete finalizes a modifiable transaction with its ledger entries. The
// entries must pass the type-specific shape check; afterwards the aggregate
// is immutable.
func (t *Transaction) Complete(entries []Entry, now time.Time) error {
	if !t.Status.Modifiable() {
		return t.stateError("complete")
	}
	if err := t.validateEntries(entries); err != nil {
		return err
	}
	t.entries = make([]Entry, len(entries))
	copy(t.entries, entries)
	t.Status = StatusCompleted
	t.CompletedAt = now.UTC()
	return nil
}

// Fail terminates a modifiable transaction, recording the business failure
// details (e.g. a provider decline) for audit.
func (t *Transaction) Fail(details map[string]string, now time.Time) error {
	if !t.Status.Modifiable() {
		return t.stateError("fail")
	}
	if len(details) > 0 {
		t.ErrorDetails = make(map[string]string, len(details))
		for k, v := range details {
			t.ErrorDetails[k] = v
		}
	}
	t.confirmationTokenHash = nil
	t.Status = StatusFailed
	t.CompletedAt = now.UTC()
	return nil
}

// Reverse marks a completed transaction as reversed. Only completed
// transactions can be reversed.
func (t *Transaction) Reverse(now time.Time) error {
	if t.Status != StatusCompleted {
		return t.stateError("reverse")
	}
	t.Status = StatusReversed
	t.CompletedAt = now.UTC()
	return nil
}

func (t *Transaction) validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: completion requires at least one entry", ErrValidation)
	}
	for _, e := range entries {
		if e.TransactionID != t.ID {
			return fmt.Errorf("%w: entry %s belongs to transaction %s", ErrValidation, e.ID, e.TransactionID)
		}
		if e.Amount.Currency() != t.Amount.Currency() {
			return fmt.Errorf("%w: entry currency %s does not match transaction currency %s", ErrValidation, e.Amount.Currency(), t.Amount.Currency())
		}
	}

	debits := sumByType(entries, Debit)
	credits := sumByType(entries, Credit)

	switch t.Type {
	case TypeDeposit:
		if debits != 0 {
			return fmt.Errorf("%w: deposits must be credit-only", ErrValidation)
		}
	case TypeWithdrawal, TypeRefund, TypeFee:
		if credits != 0 {
			return fmt.Errorf("%w: %s entries must be debit-only", ErrValidation, t.Type)
		}
	case TypeTransfer:
		if debits == 0 || credits == 0 {
			return fmt.Errorf("%w: transfers need both debit and credit entries", ErrUnbalancedEntries)
		}
		if debits != credits {
			return fmt.Errorf("%w: debits %d, credits %d", ErrUnbalancedEntries, debits, credits)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %s", ErrValidation, t.Type)
	}
	return nil
}

func (t *Transaction) stateError(op string) error {
	return fmt.Errorf("%w: cannot %s transaction %s in status %s", ErrInvalidTransactionState, op, t.ID, t.Status)
}

// Clone returns a deep copy, used by the in-memory store.
func (t *Transaction) Clone() *Transaction {
	copied := *t
	copied.entries = make([]Entry, len(t.entries))
	copy(copied.entries, t.entries)
	if t.confirmationTokenHash != nil {
		copied.confirmationTokenHash = append([]byte(nil), t.confirmationTokenHash...)
	}
	copied.ErrorDetails = copyMap(t.ErrorDetails)
	copied.Metadata = copyMap(t.Metadata)
	return &copied
}

// ConfirmationTokenHash exposes the stored hash for persistence.
func (t *Transaction) ConfirmationTokenHash() []byte {
	if t.confirmationTokenHash == nil {
		return nil
	}
	return append([]byte(nil), t.confirmationTokenHash...)
}

// Restore rebuilds aggregate internals from persisted state. For repository
// hydration only.
func (t *Transaction) Restore(entries []Entry, confirmationTokenHash []byte) {
	t.entries = make([]Entry, len(entries))
	copy(t.entries, entries)
	if len(confirmationTokenHash) > 0 {
		t.confirmationTokenHash = append([]byte(nil), confirmationTokenHash...)
	}
}

func newConfirmationToken() (string, []byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate confirmation token: %w", err)
	}
	token := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash confirmation token: %w", err)
	}
	return token, hash, nil
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
