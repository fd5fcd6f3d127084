package wallets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Yogabuild/pybara-ic-protocol/types"
)

// Failure phrasings seen across wallet providers and the ledger. BadFee and
// TemporarilyUnavailable land in the same bucket as InsufficientFunds: the
// caller's remedy is the same.
var (
	rejectPhrases = []string{"rejected", "denied", "declined", "cancelled", "canceled"}

	timeoutPhrases = []string{"timeout", "timed out", "deadline"}

	fundsPhrases = []string{
		"insufficientfunds", "insufficient funds",
		"badfee", "bad fee",
		"temporarilyunavailable", "temporarily unavailable",
	}
)

// classify maps a raw backend or ledger failure onto the SDK taxonomy.
// Classification happens exactly once, here, before an error leaves the
// adapter; the orchestrator and agent re-emit without re-classifying.
func classify(wallet types.WalletType, action string, err error) *types.PaymentError {
	var pe *types.PaymentError
	if errors.As(err, &pe) {
		if pe.Wallet == "" {
			pe.Wallet = wallet
		}
		return pe
	}

	code := types.ErrWalletFailure
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = types.ErrTimeout
	case errors.Is(err, context.Canceled):
		// The embedder tore the approval flow down; treat like a decline.
		code = types.ErrUserRejected
	default:
		code = codeForMessage(err.Error())
	}

	return &types.PaymentError{
		Code:    code,
		Wallet:  wallet,
		Message: action + " failed",
		Cause:   err,
	}
}

func codeForMessage(msg string) types.ErrorCode {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, rejectPhrases):
		return types.ErrUserRejected
	case containsAny(m, timeoutPhrases):
		return types.ErrTimeout
	case containsAny(m, fundsPhrases):
		return types.ErrInsufficientFunds
	}
	return types.ErrWalletFailure
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// notConnected is the uniform fail-fast error for operations that require
// a live connection.
func notConnected(wallet types.WalletType) *types.PaymentError {
	return &types.PaymentError{
		Code:    types.ErrNotConnected,
		Wallet:  wallet,
		Message: "wallet not connected",
	}
}

// notAvailable names the backend and carries its home page as remediation.
func notAvailable(wallet types.WalletType, name, website string) *types.PaymentError {
	return &types.PaymentError{
		Code:    types.ErrNotAvailable,
		Wallet:  wallet,
		Message: fmt.Sprintf("%s is not installed. Get it at %s", name, website),
	}
}

// invalidReceipt flags a zero or malformed block index. A zero receipt is
// never success.
func invalidReceipt(wallet types.WalletType, detail string) *types.PaymentError {
	return &types.PaymentError{
		Code:    types.ErrInvalidResponse,
		Wallet:  wallet,
		Message: "transfer returned no usable block index: " + detail,
	}
}
