package ledger

import "github.com/clearwave/clearwave/internal/money"

// SeedBalance is a test helper that sets an account's balance directly when
// using the in-memory store, bypassing the mutation and version rules.
func SeedBalance(s Store, id AccountID, amount money.Money) {
	mem, ok := s.(*MemoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if account, exists := mem.state.accounts[id]; exists {
		account.Balance = amount
	}
}
