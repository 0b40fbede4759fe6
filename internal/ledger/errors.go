package ledger

import "errors"

var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds occurs when an account's available balance cannot
	// cover a requested hold or debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotActive occurs when mutating a frozen or closed account.
	ErrAccountNotActive = errors.New("account not active")

	// ErrTransactionNotFound indicates the referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransactionState occurs on an illegal state-machine transition;
	// wrapped messages name the current status.
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrInvalidConfirmationToken occurs when a confirmation token is wrong,
	// already used, or expired.
	ErrInvalidConfirmationToken = errors.New("invalid confirmation token")

	// ErrOptimisticLock indicates the stored version no longer matches the
	// version read at the start of the operation.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrUnauthorized occurs when the caller is not the authorized party for
	// the operation (e.g. not the sender of the transfer being cancelled).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateIdempotencyKey occurs when inserting a transaction whose
	// (type, idempotency key) pair already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrUnbalancedEntries occurs when a transfer's ledger entries do not
	// have equal debit and credit totals.
	ErrUnbalancedEntries = errors.New("unbalanced ledger entries")
)
