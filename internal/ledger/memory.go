package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clearwave/clearwave/internal/money"
)

type memoryState struct {
	accounts     map[AccountID]*Account
	transactions map[TransactionID]*Transaction
	idempotency  map[string]TransactionID
	references   map[ExternalReference]TransactionID
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:     make(map[AccountID]*Account),
		transactions: make(map[TransactionID]*Transaction),
		idempotency:  make(map[string]TransactionID),
		references:   make(map[ExternalReference]TransactionID),
	}
}

func (st *memoryState) clone() *memoryState {
	copied := newMemoryState()
	for id, a := range st.accounts {
		copied.accounts[id] = a.Clone()
	}
	for id, t := range st.transactions {
		copied.transactions[id] = t.Clone()
	}
	for k, v := range st.idempotency {
		copied.idempotency[k] = v
	}
	for k, v := range st.references {
		copied.references[k] = v
	}
	return copied
}

func idemKey(txType TransactionType, key IdempotencyKey) string {
	return string(txType) + ":" + string(key)
}

// MemoryStore is a concurrency-safe in-memory Store used by unit tests and
// by the server when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// Atomic runs fn under the store lock against a snapshot-protected view; if
// fn fails, every write it made is rolled back.
func (s *MemoryStore) Atomic(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(&memoryTxStore{state: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createAccount(account)
}

func (s *MemoryStore) Account(_ context.Context, id AccountID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.account(id)
}

func (s *MemoryStore) AccountByOwner(_ context.Context, ownerID string, currency money.Currency) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.accountByOwner(ownerID, currency)
}

func (s *MemoryStore) UpdateAccount(_ context.Context, account *Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateAccount(account, expectedVersion)
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createTransaction(tx)
}

func (s *MemoryStore) Transaction(_ context.Context, id TransactionID) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.transaction(id)
}

func (s *MemoryStore) TransactionByIdempotencyKey(_ context.Context, txType TransactionType, key IdempotencyKey) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.transactionByIdempotencyKey(txType, key)
}

func (s *MemoryStore) TransactionByExternalReference(_ context.Context, ref ExternalReference) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.transactionByExternalReference(ref)
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateTransaction(tx)
}

func (s *MemoryStore) AwaitingConfirmationBefore(_ context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.awaitingConfirmationBefore(cutoff, limit)
}

func (s *MemoryStore) CountByAccountAndStatus(_ context.Context, id AccountID, status TransactionStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.countByAccountAndStatus(id, status)
}

// memoryTxStore is the view handed to Atomic callbacks. The outer store holds
// the lock for the duration, so these methods touch state directly.
type memoryTxStore struct {
	state *memoryState
}

func (s *memoryTxStore) Atomic(_ context.Context, fn func(Store) error) error {
	// Already inside the outer atomic scope.
	return fn(s)
}

func (s *memoryTxStore) CreateAccount(_ context.Context, account *Account) error {
	return s.state.createAccount(account)
}

func (s *memoryTxStore) Account(_ context.Context, id AccountID) (*Account, error) {
	return s.state.account(id)
}

func (s *memoryTxStore) AccountByOwner(_ context.Context, ownerID string, currency money.Currency) (*Account, error) {
	return s.state.accountByOwner(ownerID, currency)
}

func (s *memoryTxStore) UpdateAccount(_ context.Context, account *Account, expectedVersion int64) error {
	return s.state.updateAccount(account, expectedVersion)
}

func (s *memoryTxStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	return s.state.createTransaction(tx)
}

func (s *memoryTxStore) Transaction(_ context.Context, id TransactionID) (*Transaction, error) {
	return s.state.transaction(id)
}

func (s *memoryTxStore) TransactionByIdempotencyKey(_ context.Context, txType TransactionType, key IdempotencyKey) (*Transaction, error) {
	return s.state.transactionByIdempotencyKey(txType, key)
}

func (s *memoryTxStore) TransactionByExternalReference(_ context.Context, ref ExternalReference) (*Transaction, error) {
	return s.state.transactionByExternalReference(ref)
}

func (s *memoryTxStore) UpdateTransaction(_ context.Context, tx *Transaction) error {
	return s.state.updateTransaction(tx)
}

func (s *memoryTxStore) AwaitingConfirmationBefore(_ context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	return s.state.awaitingConfirmationBefore(cutoff, limit)
}

func (s *memoryTxStore) CountByAccountAndStatus(_ context.Context, id AccountID, status TransactionStatus) (int, error) {
	return s.state.countByAccountAndStatus(id, status)
}

func (st *memoryState) createAccount(account *Account) error {
	if _, exists := st.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", ErrValidation, account.ID)
	}
	for _, existing := range st.accounts {
		if existing.OwnerID == account.OwnerID && existing.Currency() == account.Currency() {
			return fmt.Errorf("%w: owner %s already has a %s account", ErrValidation, account.OwnerID, account.Currency())
		}
	}
	st.accounts[account.ID] = account.Clone()
	return nil
}

func (st *memoryState) account(id AccountID) (*Account, error) {
	account, ok := st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return account.Clone(), nil
}

func (st *memoryState) accountByOwner(ownerID string, currency money.Currency) (*Account, error) {
	for _, account := range st.accounts {
		if account.OwnerID == ownerID && account.Currency() == currency {
			return account.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: owner %s currency %s", ErrAccountNotFound, ownerID, currency)
}

func (st *memoryState) updateAccount(account *Account, expectedVersion int64) error {
	stored, ok := st.accounts[account.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: account %s stored version %d, expected %d", ErrOptimisticLock, account.ID, stored.Version, expectedVersion)
	}
	st.accounts[account.ID] = account.Clone()
	return nil
}

func (st *memoryState) createTransaction(tx *Transaction) error {
	if _, exists := st.transactions[tx.ID]; exists {
		return fmt.Errorf("%w: transaction %s already exists", ErrValidation, tx.ID)
	}
	key := idemKey(tx.Type, tx.IdempotencyKey)
	if _, exists := st.idempotency[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, tx.IdempotencyKey)
	}
	st.transactions[tx.ID] = tx.Clone()
	st.idempotency[key] = tx.ID
	if tx.ExternalReference != "" {
		st.references[tx.ExternalReference] = tx.ID
	}
	return nil
}

func (st *memoryState) transaction(id TransactionID) (*Transaction, error) {
	tx, ok := st.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx.Clone(), nil
}

func (st *memoryState) transactionByIdempotencyKey(txType TransactionType, key IdempotencyKey) (*Transaction, error) {
	id, ok := st.idempotency[idemKey(txType, key)]
	if !ok {
		return nil, fmt.Errorf("%w: key %s", ErrTransactionNotFound, key)
	}
	return st.transaction(id)
}

func (st *memoryState) transactionByExternalReference(ref ExternalReference) (*Transaction, error) {
	id, ok := st.references[ref]
	if !ok {
		return nil, fmt.Errorf("%w: reference %s", ErrTransactionNotFound, ref)
	}
	return st.transaction(id)
}

func (st *memoryState) updateTransaction(tx *Transaction) error {
	stored, ok := st.transactions[tx.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, tx.ID)
	}
	// Completed rows stay writable only so a reversal can land; the other
	// terminal statuses are immutable.
	if stored.Status.Terminal() && stored.Status != StatusCompleted {
		return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransactionState, tx.ID, stored.Status)
	}
	st.transactions[tx.ID] = tx.Clone()
	if tx.ExternalReference != "" {
		st.references[tx.ExternalReference] = tx.ID
	}
	return nil
}

func (st *memoryState) awaitingConfirmationBefore(cutoff time.Time, limit int) ([]*Transaction, error) {
	var out []*Transaction
	for _, tx := range st.transactions {
		if tx.Status == StatusAwaitingConfirmation && tx.ConfirmationExpiresAt.Before(cutoff) {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConfirmationExpiresAt.Before(out[j].ConfirmationExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *memoryState) countByAccountAndStatus(id AccountID, status TransactionStatus) (int, error) {
	count := 0
	for _, tx := range st.transactions {
		if tx.Status == status && (tx.SourceAccountID == id || tx.DestinationAccountID == id) {
			count++
		}
	}
	return count, nil
}
