package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/wadash/backend/internal/audit"
	"github.com/wadash/backend/internal/metrics"
	"github.com/wadash/backend/internal/repository"
	"go.uber.org/zap"
)

type MockPlanLookup struct {
	mock.Mock
}

func (m *MockPlanLookup) PlanFor(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

type walletFixture struct {
	wallet  *WalletService
	store   *repository.MemoryLedgerStore
	metrics *metrics.Metrics
}

func newWalletFixture(t *testing.T, policy FallbackPolicy, opTimeout time.Duration) *walletFixture {
	t.Helper()
	store := repository.NewMemoryLedgerStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()
	reconciler := NewReconciler(policy, time.Minute, m, logger)
	wallet := NewWalletService(store, reconciler, audit.NewLogger(logger), m, logger, WalletOptions{
		Currency:         "INR",
		OperationTimeout: opTimeout,
	})
	return &walletFixture{wallet: wallet, store: store, metrics: m}
}

func (f *walletFixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.wallet.Recharge(context.Background(), RechargeCommand{UserID: userID, Amount: amount, Reference: "pay_" + userID})
	if err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

// holdAccountLock keeps userID's account locked until the returned func runs.
func holdAccountLock(t *testing.T, f *walletFixture, userID string) func() {
	t.Helper()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.store.InTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
			_, err := tx.LockAccount(ctx, userID, "INR")
			close(held)
			<-release
			return err
		})
	}()
	<-held
	return func() { close(release) }
}
