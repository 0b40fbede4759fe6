package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearwave/clearwave/internal/money"
)

const pgUniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists accounts, transactions, and entries in PostgreSQL.
// Schema lives in migrations/001_init.sql. Version checks and the idempotency
// unique constraint are enforced by the database itself.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore builds a store backed by the connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Atomic runs fn inside a single database transaction. Nested calls reuse the
// surrounding transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	_, err := s.q.Exec(ctx, `INSERT INTO accounts (id, owner_id, currency, balance, held_amount, version, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID.String(), account.OwnerID, account.Currency().String(),
		account.Balance.Amount(), account.HeldAmount.Amount(),
		account.Version, string(account.Status), account.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: owner %s already has a %s account", ErrValidation, account.OwnerID, account.Currency())
	}
	return err
}

const accountColumns = `id, owner_id, currency, balance, held_amount, version, status, created_at`

// Account loads an account by id.
func (s *PostgresStore) Account(ctx context.Context, id AccountID) (*Account, error) {
	row := s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	return scanAccount(row)
}

// AccountByOwner loads the owner's account in the given currency.
func (s *PostgresStore) AccountByOwner(ctx context.Context, ownerID string, currency money.Currency) (*Account, error) {
	row := s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND currency = $2`, ownerID, currency.String())
	return scanAccount(row)
}

// UpdateAccount writes the aggregate guarded by the stored version.
func (s *PostgresStore) UpdateAccount(ctx context.Context, account *Account, expectedVersion int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts
        SET balance = $1, held_amount = $2, version = $3, status = $4
        WHERE id = $5 AND version = $6`,
		account.Balance.Amount(), account.HeldAmount.Amount(),
		account.Version, string(account.Status),
		account.ID.String(), expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, account.ID.String()).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
		}
		return fmt.Errorf("%w: account %s expected version %d", ErrOptimisticLock, account.ID, expectedVersion)
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		id, ownerID, currency, status string
		balance, held, version        int64
		createdAt                     time.Time
	)
	if err := row.Scan(&id, &ownerID, &currency, &balance, &held, &version, &status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	balanceMoney, err := money.New(balance, money.Currency(currency))
	if err != nil {
		return nil, fmt.Errorf("hydrate account %s: %w", id, err)
	}
	heldMoney, err := money.New(held, money.Currency(currency))
	if err != nil {
		return nil, fmt.Errorf("hydrate account %s: %w", id, err)
	}
	return &Account{
		ID:         AccountID(id),
		OwnerID:    ownerID,
		Balance:    balanceMoney,
		HeldAmount: heldMoney,
		Version:    version,
		Status:     AccountStatus(status),
		CreatedAt:  createdAt.UTC(),
	}, nil
}

// CreateTransaction inserts a transaction; the (type, idempotency_key) unique
// index turns duplicate commands into ErrDuplicateIdempotencyKey.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	errDetails, err := marshalMap(tx.ErrorDetails)
	if err != nil {
		return err
	}
	metadata, err := marshalMap(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `INSERT INTO transactions
        (id, idempotency_key, type, status, source_account_id, destination_account_id,
         amount, currency, fee, parent_transaction_id, external_reference, provider_code,
         error_details, metadata, confirmation_token_hash, confirmation_expires_at,
         created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		tx.ID.String(), tx.IdempotencyKey.String(), string(tx.Type), string(tx.Status),
		nullString(tx.SourceAccountID.String()), nullString(tx.DestinationAccountID.String()),
		tx.Amount.Amount(), tx.Amount.Currency().String(), tx.Fee.Amount(),
		nullString(tx.ParentTransactionID.String()), nullString(tx.ExternalReference.String()),
		nullString(tx.ProviderCode), errDetails, metadata,
		tx.ConfirmationTokenHash(), nullTime(tx.ConfirmationExpiresAt),
		tx.CreatedAt, nullTime(tx.CompletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %s", ErrDuplicateIdempotencyKey, tx.Type, tx.IdempotencyKey)
	}
	return err
}

const transactionColumns = `id, idempotency_key, type, status, source_account_id, destination_account_id,
    amount, currency, fee, parent_transaction_id, external_reference, provider_code,
    error_details, metadata, confirmation_token_hash, confirmation_expires_at, created_at, completed_at`

// Transaction loads a transaction with its entries.
func (s *PostgresStore) Transaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id.String())
	return s.scanTransaction(ctx, row)
}

// TransactionByIdempotencyKey resolves a key within its command-type namespace.
func (s *PostgresStore) TransactionByIdempotencyKey(ctx context.Context, txType TransactionType, key IdempotencyKey) (*Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE type = $1 AND idempotency_key = $2`,
		string(txType), key.String())
	return s.scanTransaction(ctx, row)
}

// TransactionByExternalReference resolves a provider reference.
func (s *PostgresStore) TransactionByExternalReference(ctx context.Context, ref ExternalReference) (*Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1`, ref.String())
	return s.scanTransaction(ctx, row)
}

// UpdateTransaction persists mutable fields and inserts entries once the
// transaction completed. The status guard in the WHERE clause keeps failed,
// cancelled, and reversed rows immutable at the SQL level; completed rows stay
// writable only so a reversal can land.
func (s *PostgresStore) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	errDetails, err := marshalMap(tx.ErrorDetails)
	if err != nil {
		return err
	}
	metadata, err := marshalMap(tx.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `UPDATE transactions
        SET status = $1, external_reference = $2, provider_code = $3, error_details = $4,
            metadata = $5, confirmation_token_hash = $6, completed_at = $7
        WHERE id = $8 AND status IN ('pending', 'awaiting_confirmation', 'processing', 'completed')`,
		string(tx.Status), nullString(tx.ExternalReference.String()), nullString(tx.ProviderCode),
		errDetails, metadata, tx.ConfirmationTokenHash(), nullTime(tx.CompletedAt), tx.ID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.q.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, tx.ID.String()).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, tx.ID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransactionState, tx.ID, status)
	}

	for _, entry := range tx.Entries() {
		if _, err := s.q.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, entry_type, amount, currency, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (id) DO NOTHING`,
			entry.ID, entry.TransactionID.String(), entry.AccountID.String(),
			string(entry.Type), entry.Amount.Amount(), entry.Amount.Currency().String(), entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// AwaitingConfirmationBefore lists expired unconfirmed transfers.
func (s *PostgresStore) AwaitingConfirmationBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE status = 'awaiting_confirmation' AND confirmation_expires_at < $1
        ORDER BY confirmation_expires_at
        LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := s.scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CountByAccountAndStatus counts transactions touching the account in the status.
func (s *PostgresStore) CountByAccountAndStatus(ctx context.Context, id AccountID, status TransactionStatus) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions
        WHERE status = $1 AND (source_account_id = $2 OR destination_account_id = $2)`,
		string(status), id.String()).Scan(&count)
	return count, err
}

func (s *PostgresStore) scanTransaction(ctx context.Context, row pgx.Row) (*Transaction, error) {
	tx, err := s.scanTransactionRow(row)
	if err != nil {
		return nil, err
	}
	entries, err := s.entriesFor(ctx, tx.ID, tx.Amount.Currency())
	if err != nil {
		return nil, err
	}
	tx.Restore(entries, tx.ConfirmationTokenHash())
	return tx, nil
}

func (s *PostgresStore) scanTransactionRow(row pgx.Row) (*Transaction, error) {
	var (
		id, key, txType, status         string
		source, destination             *string
		amount, fee                     int64
		currency                        string
		parent, externalRef, provider   *string
		errDetails, metadata, tokenHash []byte
		expiresAt, completedAt          *time.Time
		createdAt                       time.Time
	)
	if err := row.Scan(&id, &key, &txType, &status, &source, &destination,
		&amount, &currency, &fee, &parent, &externalRef, &provider,
		&errDetails, &metadata, &tokenHash, &expiresAt, &createdAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	amountMoney, err := money.New(amount, money.Currency(currency))
	if err != nil {
		return nil, fmt.Errorf("hydrate transaction %s: %w", id, err)
	}
	feeMoney, err := money.New(fee, money.Currency(currency))
	if err != nil {
		return nil, fmt.Errorf("hydrate transaction %s: %w", id, err)
	}

	tx := &Transaction{
		ID:             TransactionID(id),
		IdempotencyKey: IdempotencyKey(key),
		Type:           TransactionType(txType),
		Status:         TransactionStatus(status),
		Amount:         amountMoney,
		Fee:            feeMoney,
		CreatedAt:      createdAt.UTC(),
	}
	if source != nil {
		tx.SourceAccountID = AccountID(*source)
	}
	if destination != nil {
		tx.DestinationAccountID = AccountID(*destination)
	}
	if parent != nil {
		tx.ParentTransactionID = TransactionID(*parent)
	}
	if externalRef != nil {
		tx.ExternalReference = ExternalReference(*externalRef)
	}
	if provider != nil {
		tx.ProviderCode = *provider
	}
	if expiresAt != nil {
		tx.ConfirmationExpiresAt = expiresAt.UTC()
	}
	if completedAt != nil {
		tx.CompletedAt = completedAt.UTC()
	}
	if tx.ErrorDetails, err = unmarshalMap(errDetails); err != nil {
		return nil, fmt.Errorf("hydrate transaction %s: %w", id, err)
	}
	if tx.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, fmt.Errorf("hydrate transaction %s: %w", id, err)
	}
	tx.Restore(nil, tokenHash)
	return tx, nil
}

func (s *PostgresStore) entriesFor(ctx context.Context, txID TransactionID, currency money.Currency) ([]Entry, error) {
	rows, err := s.q.Query(ctx, `SELECT id, transaction_id, account_id, entry_type, amount, created_at
        FROM entries WHERE transaction_id = $1 ORDER BY created_at, id`, txID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id, tID, accountID, entryType string
			amount                        int64
			createdAt                     time.Time
		)
		if err := rows.Scan(&id, &tID, &accountID, &entryType, &amount, &createdAt); err != nil {
			return nil, err
		}
		amountMoney, err := money.New(amount, currency)
		if err != nil {
			return nil, fmt.Errorf("hydrate entry %s: %w", id, err)
		}
		entries = append(entries, Entry{
			ID:            id,
			TransactionID: TransactionID(tID),
			AccountID:     AccountID(accountID),
			Type:          EntryType(entryType),
			Amount:        amountMoney,
			CreatedAt:     createdAt.UTC(),
		})
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
