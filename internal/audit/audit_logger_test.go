package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wadash/backend/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewLogger(zap.New(core))

	t.Run("ledger entry", func(t *testing.T) {
		a.LogEntry(&models.Transaction{
			TransactionID: "tx-1",
			UserID:        "user-1",
			Kind:          models.KindSuspenseRefund,
			EntryType:     models.EntryCredit,
			Amount:        2500,
			Reference:     "msg-2",
			CreatedAt:     time.Now(),
		})

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, "audit", entries[0].LoggerName)
		fields := entries[0].ContextMap()
		assert.Equal(t, "SUSPENSE_REFUND", fields["event_type"])
		assert.Equal(t, int64(2500), fields["amount"])
		assert.Equal(t, "SUCCESS", fields["status"])
	})

	t.Run("failure", func(t *testing.T) {
		a.LogError("SETTLE", "user-1", "msg-9", errors.New("not found"))

		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "FAILED", fields["status"])
		assert.Equal(t, "msg-9", fields["reference"])
	})
}
