package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wadash/backend/internal/audit"
	"github.com/wadash/backend/internal/constants"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/models"
	"github.com/wadash/backend/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type WalletOptions struct {
	Currency string
	// OperationTimeout bounds a whole ledger operation including lock waits.
	// Operations are detached from the caller's cancellation.
	OperationTimeout time.Duration
}

// WalletService owns every balance mutation. Each public mutation is a single
// ledger transaction that holds the account row lock from start to commit.
type WalletService struct {
	store      repository.LedgerStore
	reconciler *Reconciler
	audit      *audit.Logger
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       WalletOptions
	now        func() time.Time
}

func NewWalletService(store repository.LedgerStore, reconciler *Reconciler, auditLogger *audit.Logger, m *metrics.Metrics, logger *zap.Logger, opts WalletOptions) *WalletService {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 10 * time.Second
	}
	return &WalletService{
		store:      store,
		reconciler: reconciler,
		audit:      auditLogger,
		metrics:    m,
		logger:     logger,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type DebitCommand struct {
	UserID         string
	Amount         int64
	Category       models.MessageCategory
	CorrelationKey string
	Recipient      string
}

type SettleCommand struct {
	UserID         string
	CorrelationKey string
	Recipient      string
	Delivered      bool
	OccurredAt     time.Time
}

type SettlementResult struct {
	Charge *models.Transaction `json:"charge"`
	// Entry is the SETTLE or REFUND; on a repeat call it is the entry written
	// by the first one.
	Entry           *models.Transaction `json:"entry"`
	AlreadyResolved bool                `json:"already_resolved"`
	Rekeyed         bool                `json:"rekeyed"`
}

type RechargeCommand struct {
	UserID    string
	Amount    int64
	Reference string
	// Currency of the payment. Empty means the wallet's own currency.
	Currency string
}

type AdjustCommand struct {
	UserID string
	// Amount is signed: positive credits, negative debits.
	Amount    int64
	Reference string
}

type AuditReport struct {
	UserID        string          `json:"user_id"`
	Stored        models.Balances `json:"stored"`
	Replayed      models.Balances `json:"replayed"`
	OpenCharges   int             `json:"open_charges"`
	OpenExposure  int64           `json:"open_exposure"`
	SettledTotal  int64           `json:"settled_total"`
	RefundedTotal int64           `json:"refunded_total"`
	Entries       int             `json:"entries"`
	Consistent    bool            `json:"consistent"`
}

// DebitToSuspense moves amount from available into suspense and records a
// SUSPENSE_DEBIT keyed by the correlation key. Repeating a debit with the same
// key returns the original entry without touching balances.
func (s *WalletService) DebitToSuspense(ctx context.Context, cmd DebitCommand) (*models.Transaction, error) {
	if cmd.UserID == "" || cmd.CorrelationKey == "" {
		return nil, invalidInput("user id and correlation key are required")
	}
	if cmd.Amount <= 0 {
		return nil, NewServiceError(constants.ErrCodeInvalidInput, ErrInvalidAmount)
	}

	var charge *models.Transaction
	replayed := false
	err := s.runTx(ctx, "debit", func(ctx context.Context, tx repository.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, cmd.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		existing, err := tx.FindByReference(ctx, cmd.UserID, models.KindSuspenseDebit, cmd.CorrelationKey)
		if err == nil {
			charge, replayed = existing, true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		// A key already linked to another charge would shadow that link.
		_, err = tx.FindChargeByCorrelation(ctx, cmd.UserID, cmd.CorrelationKey)
		if err == nil {
			return invalidInput("correlation key is already linked to another charge")
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if acct.AvailableBalance < cmd.Amount {
			return NewServiceError(constants.ErrCodeInsufficientBalance,
				fmt.Errorf("%w: available %d, requested %d", ErrInsufficientBalance, acct.AvailableBalance, cmd.Amount))
		}

		acct.AvailableBalance -= cmd.Amount
		acct.SuspenseBalance += cmd.Amount
		if err := tx.UpdateBalances(ctx, acct); err != nil {
			return err
		}

		charge = s.newEntry(acct, models.KindSuspenseDebit, models.EntryDebit, cmd.Amount, cmd.CorrelationKey)
		charge.Recipient = models.NormalizeRecipient(cmd.Recipient)
		charge.Category = string(cmd.Category)
		return tx.AppendTransaction(ctx, charge)
	})
	if err != nil {
		s.audit.LogError(string(models.KindSuspenseDebit), cmd.UserID, cmd.CorrelationKey, err)
		return nil, err
	}

	if replayed {
		s.logger.Info("debit already recorded",
			zap.String("user_id", cmd.UserID),
			zap.String("correlation_id", cmd.CorrelationKey),
			zap.String("transaction_id", charge.TransactionID))
		return charge, nil
	}
	s.recorded(charge)
	return charge, nil
}

// Settle resolves the charge behind a delivery event. Delivered charges get a
// SUSPENSE_SETTLE and keep their funds in suspense; failed ones are refunded to
// available. Resolving an already resolved charge succeeds without writing.
func (s *WalletService) Settle(ctx context.Context, cmd SettleCommand) (*SettlementResult, error) {
	return s.resolve(ctx, "settle", LocateQuery{
		UserID:         cmd.UserID,
		CorrelationKey: cmd.CorrelationKey,
		Recipient:      cmd.Recipient,
		OccurredAt:     cmd.OccurredAt,
	}, cmd.Delivered)
}

// RefundCharge is the compensating refund for a send that never reached the
// provider. It only matches the exact correlation key.
func (s *WalletService) RefundCharge(ctx context.Context, userID, correlationKey string) (*SettlementResult, error) {
	return s.resolve(ctx, "refund", LocateQuery{
		UserID:         userID,
		CorrelationKey: correlationKey,
		ExactOnly:      true,
	}, false)
}

func (s *WalletService) resolve(ctx context.Context, op string, q LocateQuery, delivered bool) (*SettlementResult, error) {
	if q.UserID == "" || q.CorrelationKey == "" {
		return nil, invalidInput("user id and correlation key are required")
	}

	var result SettlementResult
	err := s.runTx(ctx, op, func(ctx context.Context, tx repository.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, q.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		match, err := s.reconciler.Locate(ctx, tx, q)
		if err != nil {
			return err
		}
		charge := match.Charge
		result.Charge, result.Rekeyed = charge, match.Rekeyed

		terminal, err := tx.FindTerminal(ctx, charge.TransactionID)
		if err == nil {
			result.Entry, result.AlreadyResolved = terminal, true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		kind, entryType := models.KindSuspenseSettle, models.EntryNone
		if !delivered {
			if acct.SuspenseBalance < charge.Amount {
				return NewServiceError(constants.ErrCodeLedgerInvariant,
					fmt.Errorf("%w: suspense %d below charge %d", ErrLedgerInvariant, acct.SuspenseBalance, charge.Amount))
			}
			acct.SuspenseBalance -= charge.Amount
			acct.AvailableBalance += charge.Amount
			if err := tx.UpdateBalances(ctx, acct); err != nil {
				return err
			}
			kind, entryType = models.KindSuspenseRefund, models.EntryCredit
		}

		entry := s.newEntry(acct, kind, entryType, charge.Amount, q.CorrelationKey)
		entry.ParentTransactionID = charge.TransactionID
		entry.Recipient = charge.Recipient
		entry.Category = charge.Category
		if err := tx.AppendTransaction(ctx, entry); err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrPendingChargeNotFound) {
			s.audit.LogError(op, q.UserID, q.CorrelationKey, err)
		}
		return nil, err
	}

	if result.AlreadyResolved {
		s.logger.Info("charge already resolved",
			zap.String("user_id", q.UserID),
			zap.String("correlation_id", q.CorrelationKey),
			zap.String("resolution", string(result.Entry.Kind)))
		return &result, nil
	}
	s.recorded(result.Entry)
	return &result, nil
}

// LinkCorrelation records providerID as another key for the charge created
// under correlationKey, so delivery events carrying the provider's message id
// match it exactly.
func (s *WalletService) LinkCorrelation(ctx context.Context, userID, correlationKey, providerID string) (*models.Transaction, error) {
	if userID == "" || correlationKey == "" || providerID == "" {
		return nil, invalidInput("user id, correlation key and provider id are required")
	}

	var charge *models.Transaction
	err := s.runTx(ctx, "link", func(ctx context.Context, tx repository.LedgerTx) error {
		if _, err := tx.LockAccount(ctx, userID, s.opts.Currency); err != nil {
			return err
		}

		found, err := tx.FindChargeByCorrelation(ctx, userID, correlationKey)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(correlationKey)
		}
		if err != nil {
			return err
		}
		charge = found

		if providerID == correlationKey {
			return nil
		}
		linked, err := tx.FindChargeByCorrelation(ctx, userID, providerID)
		if err == nil {
			if linked.TransactionID == found.TransactionID {
				return nil
			}
			return invalidInput("provider id is already linked to another charge")
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return tx.AddAlias(ctx, userID, providerID, found.TransactionID)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("LINK", userID, correlationKey, "provider_id="+providerID)
	return charge, nil
}

// Recharge credits a top-up. The payment reference makes it idempotent.
func (s *WalletService) Recharge(ctx context.Context, cmd RechargeCommand) (*models.Transaction, error) {
	if cmd.UserID == "" || cmd.Reference == "" {
		return nil, invalidInput("user id and payment reference are required")
	}
	if cmd.Amount <= 0 {
		return nil, NewServiceError(constants.ErrCodeInvalidInput, ErrInvalidAmount)
	}

	var entry *models.Transaction
	replayed := false
	err := s.runTx(ctx, "recharge", func(ctx context.Context, tx repository.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, cmd.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		existing, err := tx.FindByReference(ctx, cmd.UserID, models.KindRecharge, cmd.Reference)
		if err == nil {
			entry, replayed = existing, true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if cmd.Currency != "" && !strings.EqualFold(cmd.Currency, acct.Currency) {
			return NewServiceError(constants.ErrCodeCurrencyMismatch,
				fmt.Errorf("%w: payment in %s, wallet in %s", ErrCurrencyMismatch, cmd.Currency, acct.Currency))
		}

		acct.AvailableBalance += cmd.Amount
		if err := tx.UpdateBalances(ctx, acct); err != nil {
			return err
		}
		entry = s.newEntry(acct, models.KindRecharge, models.EntryCredit, cmd.Amount, cmd.Reference)
		return tx.AppendTransaction(ctx, entry)
	})
	if err != nil {
		s.audit.LogError(string(models.KindRecharge), cmd.UserID, cmd.Reference, err)
		return nil, err
	}

	if !replayed {
		s.recorded(entry)
	}
	return entry, nil
}

// Adjust applies a manual correction to the available balance. Debiting
// adjustments cannot overdraw. The reference makes it idempotent; reusing one
// with a different amount is rejected.
func (s *WalletService) Adjust(ctx context.Context, cmd AdjustCommand) (*models.Transaction, error) {
	if cmd.UserID == "" || cmd.Reference == "" {
		return nil, invalidInput("user id and reference are required")
	}
	if cmd.Amount == 0 {
		return nil, invalidInput("adjustment amount must be non-zero")
	}

	var entry *models.Transaction
	replayed := false
	err := s.runTx(ctx, "adjust", func(ctx context.Context, tx repository.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, cmd.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		existing, err := tx.FindByReference(ctx, cmd.UserID, models.KindAdjustment, cmd.Reference)
		if err == nil {
			if existing.AvailableDelta() != cmd.Amount {
				return invalidInput("reference was already used for a different adjustment")
			}
			entry, replayed = existing, true
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		amount, entryType := cmd.Amount, models.EntryCredit
		if cmd.Amount < 0 {
			amount, entryType = -cmd.Amount, models.EntryDebit
			if acct.AvailableBalance < amount {
				return NewServiceError(constants.ErrCodeInsufficientBalance,
					fmt.Errorf("%w: available %d, adjustment %d", ErrInsufficientBalance, acct.AvailableBalance, amount))
			}
		}

		acct.AvailableBalance += cmd.Amount
		if err := tx.UpdateBalances(ctx, acct); err != nil {
			return err
		}
		entry = s.newEntry(acct, models.KindAdjustment, entryType, amount, cmd.Reference)
		return tx.AppendTransaction(ctx, entry)
	})
	if err != nil {
		s.audit.LogError(string(models.KindAdjustment), cmd.UserID, cmd.Reference, err)
		return nil, err
	}

	if !replayed {
		s.recorded(entry)
	}
	return entry, nil
}

func (s *WalletService) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewServiceError(constants.ErrCodeAccountNotFound, fmt.Errorf("%w: %s", ErrAccountNotFound, userID))
	}
	if err != nil {
		return nil, NewServiceError(constants.ErrCodeOperationFailed, err)
	}
	return acct, nil
}

// ListTransactions pages through the log newest first.
func (s *WalletService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := s.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, NewServiceError(constants.ErrCodeOperationFailed, err)
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	return txs, nil
}

// AuditAccount replays the full log under the account lock and compares it
// with the stored balances.
func (s *WalletService) AuditAccount(ctx context.Context, userID string) (*AuditReport, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	report := &AuditReport{UserID: userID}
	err := s.runTx(ctx, "audit", func(ctx context.Context, tx repository.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, userID, s.opts.Currency)
		if err != nil {
			return err
		}
		txs, err := tx.AllTransactions(ctx, userID)
		if err != nil {
			return err
		}

		report.Stored = models.Balances{Available: acct.AvailableBalance, Suspense: acct.SuspenseBalance}
		report.Replayed = models.Replay(txs)
		report.Entries = len(txs)

		resolved := make(map[string]struct{})
		for _, t := range txs {
			switch t.Kind {
			case models.KindSuspenseSettle:
				report.SettledTotal += t.Amount
				resolved[t.ParentTransactionID] = struct{}{}
			case models.KindSuspenseRefund:
				report.RefundedTotal += t.Amount
				resolved[t.ParentTransactionID] = struct{}{}
			}
		}
		for _, t := range txs {
			if t.Kind != models.KindSuspenseDebit {
				continue
			}
			if _, ok := resolved[t.TransactionID]; !ok {
				report.OpenCharges++
				report.OpenExposure += t.Amount
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Consistent = report.Stored == report.Replayed &&
		report.OpenExposure == report.Stored.Suspense-report.SettledTotal
	if !report.Consistent {
		s.logger.Error("ledger replay mismatch",
			zap.String("user_id", userID),
			zap.Int64("stored_available", report.Stored.Available),
			zap.Int64("replayed_available", report.Replayed.Available),
			zap.Int64("stored_suspense", report.Stored.Suspense),
			zap.Int64("replayed_suspense", report.Replayed.Suspense))
	}
	return report, nil
}

func (s *WalletService) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := translateStoreError(s.store.InTx(ctx, fn))
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	s.metrics.RecordLedgerOp(op, outcome, time.Since(start))
	return err
}

func (s *WalletService) newEntry(acct *models.Account, kind models.TransactionKind, entryType string, amount int64, reference string) *models.Transaction {
	return &models.Transaction{
		TransactionID:        uuid.NewString(),
		UserID:               acct.UserID,
		Kind:                 kind,
		EntryType:            entryType,
		Amount:               amount,
		Currency:             acct.Currency,
		Reference:            reference,
		BalanceAfter:         acct.AvailableBalance,
		SuspenseBalanceAfter: acct.SuspenseBalance,
		CreatedAt:            s.now(),
	}
}

func (s *WalletService) recorded(txn *models.Transaction) {
	s.audit.LogEntry(txn)
	s.metrics.RecordLedgerAmount(string(txn.Kind), txn.Amount)
}

func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, repository.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return NewServiceError(constants.ErrCodeAccountLockTimeout, fmt.Errorf("%w: %w", ErrAccountLockTimeout, err))
	}
	return NewServiceError(constants.ErrCodeOperationFailed, err)
}

func invalidInput(msg string) error {
	return NewServiceError(constants.ErrCodeInvalidInput, fmt.Errorf("%w: %s", ErrInvalidInput, msg))
}
