package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/wadash/backend/internal/models"
)

const transactionColumns = `id, transaction_id, user_id, kind, entry_type, amount, currency, reference,
	recipient, category, COALESCE(parent_transaction_id, ''), balance_after, suspense_balance_after, created_at`

// PostgresLedgerStore keeps the ledger in Postgres and relies on row locks
// (SELECT ... FOR UPDATE) for per-account serialization.
type PostgresLedgerStore struct {
	db               *sql.DB
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

func NewPostgresLedgerStore(db *sql.DB, lockTimeout, statementTimeout time.Duration) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db:               db,
		lockTimeout:      lockTimeout,
		statementTimeout: statementTimeout,
	}
}

func (s *PostgresLedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapPQError(fmt.Errorf("begin ledger transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('lock_timeout', $1, true), set_config('statement_timeout', $2, true)`,
		millis(s.lockTimeout), millis(s.statementTimeout)); err != nil {
		return mapPQError(fmt.Errorf("set ledger timeouts: %w", err))
	}

	if err := fn(ctx, &postgresLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(fmt.Errorf("commit ledger transaction: %w", err))
	}
	return nil
}

func (s *PostgresLedgerStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acct models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, available_balance, suspense_balance, currency, version, created_at, updated_at
		FROM wallet_accounts
		WHERE user_id = $1`, userID).
		Scan(&acct.UserID, &acct.AvailableBalance, &acct.SuspenseBalance, &acct.Currency,
			&acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapPQError(err)
	}
	return &acct, nil
}

func (s *PostgresLedgerStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, mapPQError(err)
	}
	return scanTransactions(rows)
}

func (s *PostgresLedgerStore) AllTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	return allTransactions(ctx, s.db, userID)
}

type postgresLedgerTx struct {
	tx *sql.Tx
}

func (t *postgresLedgerTx) LockAccount(ctx context.Context, userID, currency string) (*models.Account, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, currency); err != nil {
		return nil, mapPQError(fmt.Errorf("create account %s: %w", userID, err))
	}

	var acct models.Account
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, available_balance, suspense_balance, currency, version, created_at, updated_at
		FROM wallet_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&acct.UserID, &acct.AvailableBalance, &acct.SuspenseBalance, &acct.Currency,
			&acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, mapPQError(fmt.Errorf("lock account %s: %w", userID, err))
	}
	return &acct, nil
}

func (t *postgresLedgerTx) UpdateBalances(ctx context.Context, acct *models.Account) error {
	now := time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET available_balance = $1, suspense_balance = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND version = $5`,
		acct.AvailableBalance, acct.SuspenseBalance, now, acct.UserID, acct.Version)
	if err != nil {
		return mapPQError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", acct.UserID)
	}

	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (t *postgresLedgerTx) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	parent := sql.NullString{String: txn.ParentTransactionID, Valid: txn.ParentTransactionID != ""}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (transaction_id, user_id, kind, entry_type, amount, currency, reference,
			recipient, category, parent_transaction_id, balance_after, suspense_balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		txn.TransactionID, txn.UserID, string(txn.Kind), txn.EntryType, txn.Amount, txn.Currency, txn.Reference,
		txn.Recipient, txn.Category, parent, txn.BalanceAfter, txn.SuspenseBalanceAfter, txn.CreatedAt).
		Scan(&txn.ID)
	if err != nil {
		return mapPQError(fmt.Errorf("append %s: %w", txn.Kind, err))
	}
	return nil
}

func (t *postgresLedgerTx) FindByReference(ctx context.Context, userID string, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	return t.queryOne(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE user_id = $1 AND kind = $2 AND reference = $3
		ORDER BY id ASC
		LIMIT 1`, userID, string(kind), reference)
}

func (t *postgresLedgerTx) FindChargeByCorrelation(ctx context.Context, userID, correlationKey string) (*models.Transaction, error) {
	return t.queryOne(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE user_id = $1 AND kind = 'SUSPENSE_DEBIT'
			AND (reference = $2 OR transaction_id IN (
				SELECT transaction_id FROM wallet_charge_aliases
				WHERE user_id = $1 AND correlation_key = $2))
		ORDER BY id DESC
		LIMIT 1`, userID, correlationKey)
}

func (t *postgresLedgerTx) AllTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	return allTransactions(ctx, t.tx, userID)
}

func (t *postgresLedgerTx) FindTerminal(ctx context.Context, chargeID string) (*models.Transaction, error) {
	return t.queryOne(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE parent_transaction_id = $1 AND kind IN ('SUSPENSE_SETTLE', 'SUSPENSE_REFUND')
		LIMIT 1`, chargeID)
}

func (t *postgresLedgerTx) FindOpenChargesByRecipient(ctx context.Context, userID, recipient string, notAfter time.Time, limit int) ([]*models.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions d
		WHERE d.user_id = $1 AND d.kind = 'SUSPENSE_DEBIT' AND d.recipient = $2 AND d.created_at <= $3
			AND NOT EXISTS (SELECT 1 FROM wallet_transactions r WHERE r.parent_transaction_id = d.transaction_id)
		ORDER BY d.id DESC
		LIMIT $4`, userID, recipient, notAfter, limit)
	if err != nil {
		return nil, mapPQError(err)
	}
	return scanTransactions(rows)
}

func (t *postgresLedgerTx) AddAlias(ctx context.Context, userID, correlationKey, transactionID string) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_charge_aliases (user_id, correlation_key, transaction_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, correlation_key) DO NOTHING`,
		userID, correlationKey, transactionID, time.Now().UTC())
	if err != nil {
		return mapPQError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: alias %s", ErrDuplicate, correlationKey)
	}
	return nil
}

func (t *postgresLedgerTx) queryOne(ctx context.Context, query string, args ...any) (*models.Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapPQError(err)
	}
	return txn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	var kind string
	err := row.Scan(&txn.ID, &txn.TransactionID, &txn.UserID, &kind, &txn.EntryType, &txn.Amount, &txn.Currency,
		&txn.Reference, &txn.Recipient, &txn.Category, &txn.ParentTransactionID, &txn.BalanceAfter,
		&txn.SuspenseBalanceAfter, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	txn.Kind = models.TransactionKind(kind)
	return &txn, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func allTransactions(ctx context.Context, q queryer, userID string) ([]*models.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY id ASC`, userID)
	if err != nil {
		return nil, mapPQError(err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPQError(err)
	}
	return txs, nil
}

// mapPQError folds lock waits, statement timeouts and serialization failures
// into ErrLockTimeout and unique violations into ErrDuplicate.
func mapPQError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "57014", "40P01", "40001":
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
