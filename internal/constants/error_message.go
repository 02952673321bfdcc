package constants

import "net/http"

const (
	ErrCodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	ErrCodePendingChargeNotFound = "PENDING_CHARGE_NOT_FOUND"
	ErrCodeAccountLockTimeout    = "ACCOUNT_LOCK_TIMEOUT"
	ErrCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnknownCategory       = "UNKNOWN_CATEGORY"
	ErrCodeUnknownPlan           = "UNKNOWN_PLAN"
	ErrCodeCurrencyMismatch      = "CURRENCY_MISMATCH"
	ErrCodeLedgerInvariant       = "LEDGER_INVARIANT_VIOLATED"
	ErrCodeOperationFailed       = "OPERATION_FAILED"
)

const (
	ErrMsgInsufficientBalance   = "insufficient balance"
	ErrMsgPendingChargeNotFound = "no pending charge matches this correlation id"
	ErrMsgAccountLockTimeout    = "wallet is busy, retry later"
	ErrMsgAccountNotFound       = "wallet not found"
	ErrMsgInvalidInput          = "invalid input"
	ErrMsgUnknownCategory       = "unknown message category"
	ErrMsgUnknownPlan           = "unknown pricing plan"
	ErrMsgCurrencyMismatch      = "payment currency does not match the wallet"
	ErrMsgLedgerInvariant       = "ledger invariant violated"
	ErrMsgOperationFailed       = "operation failed"
)

var errorMessages = map[string]string{
	ErrCodeInsufficientBalance:   ErrMsgInsufficientBalance,
	ErrCodePendingChargeNotFound: ErrMsgPendingChargeNotFound,
	ErrCodeAccountLockTimeout:    ErrMsgAccountLockTimeout,
	ErrCodeAccountNotFound:       ErrMsgAccountNotFound,
	ErrCodeInvalidInput:          ErrMsgInvalidInput,
	ErrCodeUnknownCategory:       ErrMsgUnknownCategory,
	ErrCodeUnknownPlan:           ErrMsgUnknownPlan,
	ErrCodeCurrencyMismatch:      ErrMsgCurrencyMismatch,
	ErrCodeLedgerInvariant:       ErrMsgLedgerInvariant,
	ErrCodeOperationFailed:       ErrMsgOperationFailed,
}

var httpStatuses = map[string]int{
	ErrCodeInsufficientBalance:   http.StatusConflict,
	ErrCodePendingChargeNotFound: http.StatusNotFound,
	ErrCodeAccountLockTimeout:    http.StatusServiceUnavailable,
	ErrCodeAccountNotFound:       http.StatusNotFound,
	ErrCodeInvalidInput:          http.StatusBadRequest,
	ErrCodeUnknownCategory:       http.StatusBadRequest,
	ErrCodeUnknownPlan:           http.StatusUnprocessableEntity,
	ErrCodeCurrencyMismatch:      http.StatusUnprocessableEntity,
}

func GetErrorMessage(code string) string {
	msg, exists := errorMessages[code]
	if !exists {
		return ErrMsgOperationFailed
	}
	return msg
}

// GetHTTPStatus defaults to 500 for codes without a mapping.
func GetHTTPStatus(code string) int {
	status, exists := httpStatuses[code]
	if !exists {
		return http.StatusInternalServerError
	}
	return status
}
