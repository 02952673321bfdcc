package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wadash/backend/internal/models"
)

type aliasKey struct {
	userID string
	key    string
}

// MemoryLedgerStore is an in-process LedgerStore. A per-user lock stands in
// for the Postgres row lock and writes are staged until the callback returns.
type MemoryLedgerStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	txs      []*models.Transaction
	aliases  map[aliasKey]string
	nextID   int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[string]*models.Account),
		aliases:  make(map[aliasKey]string),
		locks:    make(map[string]chan struct{}),
	}
}

func (s *MemoryLedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx := &memoryLedgerTx{
		s:        s,
		held:     make(map[string]struct{}),
		accounts: make(map[string]*models.Account),
		aliases:  make(map[aliasKey]string),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acct := range tx.accounts {
		s.accounts[id] = acct
	}
	s.txs = append(s.txs, tx.txs...)
	for k, v := range tx.aliases {
		s.aliases[k] = v
	}
	return nil
}

func (s *MemoryLedgerStore) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryLedgerStore) ListTransactions(_ context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transaction
	skipped := 0
	for i := len(s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txs[i].UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *s.txs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryLedgerStore) AllTransactions(_ context.Context, userID string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transaction
	for _, t := range s.txs {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryLedgerStore) acquire(ctx context.Context, userID string) error {
	s.locksMu.Lock()
	ch, ok := s.locks[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[userID] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for account %s: %w", ErrLockTimeout, userID, ctx.Err())
	}
}

func (s *MemoryLedgerStore) releaseLock(userID string) {
	s.locksMu.Lock()
	ch := s.locks[userID]
	s.locksMu.Unlock()
	<-ch
}

type memoryLedgerTx struct {
	s        *MemoryLedgerStore
	held     map[string]struct{}
	accounts map[string]*models.Account
	txs      []*models.Transaction
	aliases  map[aliasKey]string
}

func (t *memoryLedgerTx) release() {
	for userID := range t.held {
		t.s.releaseLock(userID)
	}
}

func (t *memoryLedgerTx) LockAccount(ctx context.Context, userID, currency string) (*models.Account, error) {
	if _, ok := t.held[userID]; !ok {
		if err := t.s.acquire(ctx, userID); err != nil {
			return nil, err
		}
		t.held[userID] = struct{}{}
	}

	if staged, ok := t.accounts[userID]; ok {
		cp := *staged
		return &cp, nil
	}

	t.s.mu.RLock()
	committed, ok := t.s.accounts[userID]
	t.s.mu.RUnlock()

	var acct models.Account
	if ok {
		acct = *committed
	} else {
		now := time.Now().UTC()
		acct = models.Account{UserID: userID, Currency: currency, Version: 1, CreatedAt: now, UpdatedAt: now}
	}
	staged := acct
	t.accounts[userID] = &staged
	return &acct, nil
}

func (t *memoryLedgerTx) UpdateBalances(_ context.Context, acct *models.Account) error {
	staged, ok := t.accounts[acct.UserID]
	if !ok {
		return fmt.Errorf("account %s is not locked", acct.UserID)
	}
	if staged.Version != acct.Version {
		return fmt.Errorf("optimistic lock failed for account %s", acct.UserID)
	}
	if acct.AvailableBalance < 0 || acct.SuspenseBalance < 0 {
		return fmt.Errorf("negative balance for account %s", acct.UserID)
	}

	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	cp := *acct
	t.accounts[acct.UserID] = &cp
	return nil
}

func (t *memoryLedgerTx) AppendTransaction(_ context.Context, txn *models.Transaction) error {
	if _, ok := t.held[txn.UserID]; !ok {
		return fmt.Errorf("account %s is not locked", txn.UserID)
	}

	for _, existing := range t.view(txn.UserID) {
		if existing.TransactionID == txn.TransactionID {
			return fmt.Errorf("%w: transaction %s", ErrDuplicate, txn.TransactionID)
		}
		if txn.Kind.IsTerminal() && existing.Kind.IsTerminal() && existing.ParentTransactionID == txn.ParentTransactionID {
			return fmt.Errorf("%w: charge %s already resolved", ErrDuplicate, txn.ParentTransactionID)
		}
		if idempotentKind(txn.Kind) && txn.Reference != "" &&
			existing.Kind == txn.Kind && existing.Reference == txn.Reference {
			return fmt.Errorf("%w: %s reference %s", ErrDuplicate, txn.Kind, txn.Reference)
		}
	}

	t.s.mu.Lock()
	t.s.nextID++
	txn.ID = t.s.nextID
	t.s.mu.Unlock()

	cp := *txn
	t.txs = append(t.txs, &cp)
	return nil
}

func (t *memoryLedgerTx) FindByReference(_ context.Context, userID string, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	for _, txn := range t.view(userID) {
		if txn.Kind == kind && txn.Reference == reference {
			return txn, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryLedgerTx) FindChargeByCorrelation(_ context.Context, userID, correlationKey string) (*models.Transaction, error) {
	aliased := t.alias(userID, correlationKey)
	txs := t.view(userID)
	for i := len(txs) - 1; i >= 0; i-- {
		txn := txs[i]
		if txn.Kind != models.KindSuspenseDebit {
			continue
		}
		if txn.Reference == correlationKey || (aliased != "" && txn.TransactionID == aliased) {
			return txn, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryLedgerTx) AllTransactions(_ context.Context, userID string) ([]*models.Transaction, error) {
	return t.view(userID), nil
}

func (t *memoryLedgerTx) FindTerminal(_ context.Context, chargeID string) (*models.Transaction, error) {
	for _, txn := range t.all() {
		if txn.Kind.IsTerminal() && txn.ParentTransactionID == chargeID {
			return txn, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryLedgerTx) FindOpenChargesByRecipient(_ context.Context, userID, recipient string, notAfter time.Time, limit int) ([]*models.Transaction, error) {
	txs := t.view(userID)

	resolved := make(map[string]struct{})
	for _, txn := range txs {
		if txn.Kind.IsTerminal() {
			resolved[txn.ParentTransactionID] = struct{}{}
		}
	}

	var out []*models.Transaction
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		txn := txs[i]
		if txn.Kind != models.KindSuspenseDebit || txn.Recipient != recipient || txn.CreatedAt.After(notAfter) {
			continue
		}
		if _, ok := resolved[txn.TransactionID]; ok {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (t *memoryLedgerTx) AddAlias(_ context.Context, userID, correlationKey, transactionID string) error {
	if t.alias(userID, correlationKey) != "" {
		return fmt.Errorf("%w: alias %s", ErrDuplicate, correlationKey)
	}
	t.aliases[aliasKey{userID: userID, key: correlationKey}] = transactionID
	return nil
}

// view returns committed and staged entries for userID in insertion order.
func (t *memoryLedgerTx) view(userID string) []*models.Transaction {
	t.s.mu.RLock()
	var out []*models.Transaction
	for _, txn := range t.s.txs {
		if txn.UserID == userID {
			cp := *txn
			out = append(out, &cp)
		}
	}
	t.s.mu.RUnlock()

	for _, txn := range t.txs {
		if txn.UserID == userID {
			cp := *txn
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memoryLedgerTx) all() []*models.Transaction {
	t.s.mu.RLock()
	out := make([]*models.Transaction, 0, len(t.s.txs)+len(t.txs))
	out = append(out, t.s.txs...)
	t.s.mu.RUnlock()
	return append(out, t.txs...)
}

func (t *memoryLedgerTx) alias(userID, key string) string {
	k := aliasKey{userID: userID, key: key}
	if id, ok := t.aliases[k]; ok {
		return id
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.aliases[k]
}

func idempotentKind(kind models.TransactionKind) bool {
	switch kind {
	case models.KindRecharge, models.KindSuspenseDebit, models.KindAdjustment:
		return true
	}
	return false
}
