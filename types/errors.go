package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure into the SDK's error taxonomy. Adapters
// classify backend-specific failures into these codes before they cross the
// adapter boundary; nothing downstream re-classifies.
type ErrorCode string

const (
	// ErrNotAvailable: the wallet backend is not installed or reachable.
	// Messages carry the wallet's home page as remediation.
	ErrNotAvailable ErrorCode = "WALLET_NOT_AVAILABLE"

	// ErrNotConnected: an operation requiring a connection ran with none.
	ErrNotConnected ErrorCode = "WALLET_NOT_CONNECTED"

	// ErrUserRejected: the user declined the handshake or transfer in the
	// backend's own UI. An expected outcome, logged at info severity.
	ErrUserRejected ErrorCode = "USER_REJECTED"

	// ErrTimeout: the backend did not answer within its own bound.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrInsufficientFunds: detected by the advisory balance check or
	// reported by the ledger transfer itself (bad-fee and
	// temporarily-unavailable ledger variants map here too).
	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// ErrInvalidResponse: the backend returned a malformed or zero receipt
	// where a real one was expected.
	ErrInvalidResponse ErrorCode = "INVALID_RESPONSE"

	// ErrRemoteService: the payment-processing service returned an explicit
	// failure; the message is passed through from the service.
	ErrRemoteService ErrorCode = "REMOTE_SERVICE_ERROR"

	// ErrWalletFailure: a backend failure with no more specific class.
	ErrWalletFailure ErrorCode = "WALLET_FAILURE"

	// ErrConfig: the SDK was configured or called with invalid inputs.
	ErrConfig ErrorCode = "CONFIG_ERROR"
)

// PaymentError is the error type everything in this SDK returns. Wallet is
// set when the failure is attributable to one adapter.
type PaymentError struct {
	Code    ErrorCode  `json:"code"`
	Wallet  WalletType `json:"wallet,omitempty"`
	Message string     `json:"message"`
	Cause   error      `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// NewPaymentError builds an error with a code and message.
func NewPaymentError(code ErrorCode, format string, args ...interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapPaymentError builds an error that preserves the underlying cause for
// errors.Is/As chains.
func WrapPaymentError(code ErrorCode, cause error, format string, args ...interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// CodeOf extracts the taxonomy code from err, ErrWalletFailure when err is
// not a PaymentError.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrWalletFailure
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func IsNotConnected(err error) bool      { return IsCode(err, ErrNotConnected) }
func IsNotAvailable(err error) bool      { return IsCode(err, ErrNotAvailable) }
func IsUserRejected(err error) bool      { return IsCode(err, ErrUserRejected) }
func IsInsufficientFunds(err error) bool { return IsCode(err, ErrInsufficientFunds) }
func IsTimeout(err error) bool           { return IsCode(err, ErrTimeout) }
