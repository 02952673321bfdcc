package database

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	up   string
}

// Statements are idempotent; Migrate runs all of them on every start.
var migrations = []migration{
	{
		name: "create_wallet_accounts",
		up: `
CREATE TABLE IF NOT EXISTS wallet_accounts (
    user_id           TEXT PRIMARY KEY,
    available_balance BIGINT NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
    suspense_balance  BIGINT NOT NULL DEFAULT 0 CHECK (suspense_balance >= 0),
    currency          TEXT NOT NULL,
    version           INT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		name: "create_wallet_transactions",
		up: `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    id                     BIGSERIAL PRIMARY KEY,
    transaction_id         TEXT NOT NULL UNIQUE,
    user_id                TEXT NOT NULL REFERENCES wallet_accounts (user_id),
    kind                   TEXT NOT NULL,
    entry_type             TEXT NOT NULL,
    amount                 BIGINT NOT NULL CHECK (amount > 0),
    currency               TEXT NOT NULL,
    reference              TEXT NOT NULL DEFAULT '',
    recipient              TEXT NOT NULL DEFAULT '',
    category               TEXT NOT NULL DEFAULT '',
    parent_transaction_id  TEXT REFERENCES wallet_transactions (transaction_id),
    balance_after          BIGINT NOT NULL,
    suspense_balance_after BIGINT NOT NULL,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_wallet_tx_user_id ON wallet_transactions (user_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_wallet_tx_reference ON wallet_transactions (user_id, kind, reference);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_tx_one_terminal
    ON wallet_transactions (parent_transaction_id)
    WHERE kind IN ('SUSPENSE_SETTLE', 'SUSPENSE_REFUND');
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_tx_unique_debit
    ON wallet_transactions (user_id, reference)
    WHERE kind = 'SUSPENSE_DEBIT';
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_tx_unique_recharge
    ON wallet_transactions (user_id, reference)
    WHERE kind = 'RECHARGE';
CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_tx_unique_adjustment
    ON wallet_transactions (user_id, reference)
    WHERE kind = 'ADJUSTMENT';
CREATE INDEX IF NOT EXISTS idx_wallet_tx_open_by_recipient
    ON wallet_transactions (user_id, recipient, created_at)
    WHERE kind = 'SUSPENSE_DEBIT';`,
	},
	{
		name: "create_wallet_charge_aliases",
		up: `
CREATE TABLE IF NOT EXISTS wallet_charge_aliases (
    user_id         TEXT NOT NULL,
    correlation_key TEXT NOT NULL,
    transaction_id  TEXT NOT NULL REFERENCES wallet_transactions (transaction_id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, correlation_key)
);

CREATE INDEX IF NOT EXISTS idx_wallet_aliases_tx ON wallet_charge_aliases (transaction_id);`,
	},
	{
		name: "create_user_plans",
		up: `
CREATE TABLE IF NOT EXISTS user_plans (
    user_id    TEXT PRIMARY KEY,
    plan       TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
}

// Migrate creates the wallet schema inside a single transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return tx.Commit()
}
