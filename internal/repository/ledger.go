package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wadash/backend/internal/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrLockTimeout = errors.New("lock or statement timeout")
)

// LedgerStore persists wallet accounts and their append-only transaction log.
// Every mutation happens inside InTx; the callback's LedgerTx is only valid
// until the callback returns. Returning an error from the callback rolls back
// everything written through it.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error)
	// AllTransactions returns the full log in insertion order.
	AllTransactions(ctx context.Context, userID string) ([]*models.Transaction, error)
}

// LedgerTx is the unit of work handed to InTx callbacks.
type LedgerTx interface {
	// LockAccount creates the account if needed and holds its row lock until
	// the transaction ends.
	LockAccount(ctx context.Context, userID, currency string) (*models.Account, error)
	// UpdateBalances writes both balances guarded by acct.Version and bumps it.
	UpdateBalances(ctx context.Context, acct *models.Account) error
	// AppendTransaction inserts t and fills in its ID.
	AppendTransaction(ctx context.Context, t *models.Transaction) error

	// AllTransactions reads the full log in insertion order on the
	// transaction's own connection.
	AllTransactions(ctx context.Context, userID string) ([]*models.Transaction, error)

	FindByReference(ctx context.Context, userID string, kind models.TransactionKind, reference string) (*models.Transaction, error)
	// FindChargeByCorrelation matches a SUSPENSE_DEBIT by its reference or by
	// an alias recorded for it.
	FindChargeByCorrelation(ctx context.Context, userID, correlationKey string) (*models.Transaction, error)
	// FindTerminal returns the SETTLE or REFUND entry that resolved chargeID.
	FindTerminal(ctx context.Context, chargeID string) (*models.Transaction, error)
	// FindOpenChargesByRecipient returns unresolved SUSPENSE_DEBITs for
	// recipient created no later than notAfter, newest first. Charges already
	// linked to a provider id stay eligible.
	FindOpenChargesByRecipient(ctx context.Context, userID, recipient string, notAfter time.Time, limit int) ([]*models.Transaction, error)
	// AddAlias maps correlationKey to an existing charge. Returns ErrDuplicate
	// when the key is already mapped.
	AddAlias(ctx context.Context, userID, correlationKey, transactionID string) error
}
