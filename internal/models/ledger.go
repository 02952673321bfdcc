package models

import (
	"strings"
	"time"
)

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindRecharge       TransactionKind = "RECHARGE"
	KindAdjustment     TransactionKind = "ADJUSTMENT"
	KindSuspenseDebit  TransactionKind = "SUSPENSE_DEBIT"
	KindSuspenseSettle TransactionKind = "SUSPENSE_SETTLE"
	KindSuspenseRefund TransactionKind = "SUSPENSE_REFUND"
)

// IsTerminal reports whether the kind resolves a pending suspense debit.
func (k TransactionKind) IsTerminal() bool {
	return k == KindSuspenseSettle || k == KindSuspenseRefund
}

// Entry types describe how an entry moves the available balance.
const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
	EntryNone   = "NONE"
)

// Account is a user's wallet. Both balances are in minor currency units.
type Account struct {
	UserID           string    `json:"user_id" db:"user_id"`
	AvailableBalance int64     `json:"available_balance" db:"available_balance"`
	SuspenseBalance  int64     `json:"suspense_balance" db:"suspense_balance"`
	Currency         string    `json:"currency" db:"currency"`
	Version          int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID                   int64           `json:"-" db:"id"`
	TransactionID        string          `json:"transaction_id" db:"transaction_id"`
	UserID               string          `json:"user_id" db:"user_id"`
	Kind                 TransactionKind `json:"kind" db:"kind"`
	EntryType            string          `json:"entry_type" db:"entry_type"`
	Amount               int64           `json:"amount" db:"amount"` // in paise
	Currency             string          `json:"currency" db:"currency"`
	Reference            string          `json:"reference" db:"reference"`
	Recipient            string          `json:"recipient,omitempty" db:"recipient"`
	Category             string          `json:"category,omitempty" db:"category"`
	ParentTransactionID  string          `json:"parent_transaction_id,omitempty" db:"parent_transaction_id"`
	BalanceAfter         int64           `json:"balance_after" db:"balance_after"`
	SuspenseBalanceAfter int64           `json:"suspense_balance_after" db:"suspense_balance_after"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// AvailableDelta is the signed change this entry applies to the available balance.
func (t *Transaction) AvailableDelta() int64 {
	switch t.Kind {
	case KindRecharge, KindSuspenseRefund:
		return t.Amount
	case KindSuspenseDebit:
		return -t.Amount
	case KindAdjustment:
		if t.EntryType == EntryDebit {
			return -t.Amount
		}
		return t.Amount
	default:
		return 0
	}
}

// SuspenseDelta is the signed change this entry applies to the suspense balance.
func (t *Transaction) SuspenseDelta() int64 {
	switch t.Kind {
	case KindSuspenseDebit:
		return t.Amount
	case KindSuspenseRefund:
		return -t.Amount
	default:
		return 0
	}
}

// Balances is the result of folding a transaction log.
type Balances struct {
	Available int64 `json:"available"`
	Suspense  int64 `json:"suspense"`
}

// Replay folds the entries in insertion order.
func Replay(txs []*Transaction) Balances {
	var b Balances
	for _, t := range txs {
		b.Available += t.AvailableDelta()
		b.Suspense += t.SuspenseDelta()
	}
	return b
}

// NormalizeRecipient strips everything but digits so "+91 98765-43210" and
// "919876543210" compare equal.
func NormalizeRecipient(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
