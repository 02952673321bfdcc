package services

import (
	"errors"

	"github.com/wadash/backend/internal/constants"
)

var (
	ErrInsufficientBalance   = errors.New(constants.ErrMsgInsufficientBalance)
	ErrPendingChargeNotFound = errors.New(constants.ErrMsgPendingChargeNotFound)
	ErrAccountLockTimeout    = errors.New(constants.ErrMsgAccountLockTimeout)
	ErrAccountNotFound       = errors.New(constants.ErrMsgAccountNotFound)
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidInput          = errors.New(constants.ErrMsgInvalidInput)
	ErrUnknownCategory       = errors.New(constants.ErrMsgUnknownCategory)
	ErrUnknownPlan           = errors.New(constants.ErrMsgUnknownPlan)
	ErrCurrencyMismatch      = errors.New(constants.ErrMsgCurrencyMismatch)
	ErrLedgerInvariant       = errors.New(constants.ErrMsgLedgerInvariant)
)

// Error tags a failure with a stable code for the transport layer.
type Error struct {
	Code  string
	Cause error
}

func NewServiceError(code string, cause error) error {
	return Error{
		Code:  code,
		Cause: cause,
	}
}

func (e Error) Error() string {
	return e.Cause.Error()
}

func (e Error) Unwrap() error {
	return e.Cause
}

// ErrorCode extracts the code of a service error, or OPERATION_FAILED.
func ErrorCode(err error) string {
	var svcErr Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return constants.ErrCodeOperationFailed
}

// IsRetryable reports whether the caller should retry the same request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAccountLockTimeout)
}
