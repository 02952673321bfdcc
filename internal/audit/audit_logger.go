package audit

import (
	"time"

	"github.com/wadash/backend/internal/models"
	"go.uber.org/zap"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Reference     string    `json:"reference"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

// Logger writes one structured record per ledger mutation to the "audit"
// logger so it can be routed separately from application logs.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("audit")}
}

func (a *Logger) LogEntry(txn *models.Transaction) {
	event := Event{
		Timestamp:     txn.CreatedAt,
		EventType:     string(txn.Kind),
		TransactionID: txn.TransactionID,
		UserID:        txn.UserID,
		Reference:     txn.Reference,
		Amount:        txn.Amount,
		Status:        "SUCCESS",
		Details: map[string]any{
			"entry_type":             txn.EntryType,
			"balance_after":          txn.BalanceAfter,
			"suspense_balance_after": txn.SuspenseBalanceAfter,
			"parent_transaction_id":  txn.ParentTransactionID,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(operation, userID, reference string, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		UserID:    userID,
		Reference: reference,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(operation, userID, reference, details string) {
	event := Event{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		UserID:    userID,
		Reference: reference,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	a.logger.Info("ledger audit",
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", event.TransactionID),
		zap.String("user_id", event.UserID),
		zap.String("reference", event.Reference),
		zap.Int64("amount", event.Amount),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	)
}
