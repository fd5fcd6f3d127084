package types

import (
	"fmt"
	"regexp"
	"time"
)

// NativeToken is the symbol of the network's native token. One wallet
// backend's high-level transfer primitive only understands this token;
// everything else goes through a direct ledger call.
const NativeToken = "ICP"

// TransferRequest describes one ledger transfer. Amounts are unsigned
// integers in the token's smallest unit, never floating point. A request is
// built fresh per transfer and never reused; replay protection belongs to
// the ledger protocol, not to this layer.
type TransferRequest struct {
	// To is the destination identity on the ledger.
	To string `json:"to"`

	// Amount in the token's smallest unit.
	Amount uint64 `json:"amount"`

	// Token symbol (e.g. "ICP", "ckBTC").
	Token string `json:"token"`

	// LedgerID is the resolved ledger identifier for the token.
	LedgerID string `json:"ledgerId"`
}

// Validate checks that the TransferRequest contains all required fields.
func (r *TransferRequest) Validate() error {
	if r.To == "" {
		return fmt.Errorf("transfer.to is required")
	}

	if !ValidIdentity(r.To) {
		return fmt.Errorf("transfer.to is not a valid identity: %s", r.To)
	}

	if r.Amount == 0 {
		return fmt.Errorf("transfer.amount must be greater than 0")
	}

	if r.Token == "" {
		return fmt.Errorf("transfer.token is required")
	}

	if r.LedgerID == "" {
		return fmt.Errorf("transfer.ledgerId is required")
	}

	return nil
}

// Quote is the remote service's answer to a payment-amount calculation.
type Quote struct {
	// TokenAmount in the token's smallest unit.
	TokenAmount uint64 `json:"token_amount"`

	// PriceUsed is the USD price per whole token the service quoted at.
	PriceUsed float64 `json:"price_used"`

	Token string `json:"token"`
}

// TokenPrice is one entry of the remote service's price listing.
type TokenPrice struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
}

// TokenConfig is the remote service's token table: which tokens it accepts
// and their ledger parameters. Amount maps are in smallest units.
type TokenConfig struct {
	SupportedTokens []string          `json:"supported_tokens"`
	Decimals        map[string]int    `json:"decimals"`
	Minimums        map[string]uint64 `json:"minimums"`
	TransferFees    map[string]uint64 `json:"transfer_fees,omitempty"`
}

// DecimalsFor returns the decimal precision for a token, falling back to 8
// when the token is not listed.
func (c *TokenConfig) DecimalsFor(token string) int {
	if c != nil {
		if d, ok := c.Decimals[token]; ok {
			return d
		}
	}
	return 8
}

// MinimumFor returns the minimum accepted amount for a token in smallest
// units, zero when none is configured.
func (c *TokenConfig) MinimumFor(token string) uint64 {
	if c == nil {
		return 0
	}
	return c.Minimums[token]
}

// FeeFor returns the ledger transfer fee for a token in smallest units,
// zero when none is configured.
func (c *TokenConfig) FeeFor(token string) uint64 {
	if c == nil {
		return 0
	}
	return c.TransferFees[token]
}

// Supports reports whether the service accepts the token.
func (c *TokenConfig) Supports(token string) bool {
	if c == nil {
		return false
	}
	for _, t := range c.SupportedTokens {
		if t == token {
			return true
		}
	}
	return false
}

// PaymentStatus is the lifecycle state of a payment record. The record is
// owned by the remote service; this layer only reads it back.
type PaymentStatus string

const (
	// StatusPending: record created, amount quoted, no funds verified yet.
	StatusPending PaymentStatus = "pending"

	// StatusRecorded: funds verified on the ledger, payout triggered.
	StatusRecorded PaymentStatus = "recorded"

	// StatusConfirmed: payout to recipient and platform has completed.
	StatusConfirmed PaymentStatus = "confirmed"
)

// PaymentRecord is the remote service's durable view of one payment
// attempt.
type PaymentRecord struct {
	PaymentID      uint64        `json:"payment_id"`
	OrderID        uint64        `json:"order_id"`
	SiteURL        string        `json:"site_url"`
	Status         PaymentStatus `json:"status"`
	Token          string        `json:"token"`
	UsdAmount      float64       `json:"usd_amount"`
	ExpectedAmount uint64        `json:"expected_amount"`
	ReceivedAmount uint64        `json:"received_amount,omitempty"`
	Recipient      string        `json:"recipient"`
	Sender         string        `json:"sender,omitempty"`
	BlockIndex     uint64        `json:"block_index,omitempty"`
	TxID           uint64        `json:"tx_id,omitempty"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
}

// RecordCreated is the normalized result of record creation, after the
// legacy response shape has been collapsed into the current one.
type RecordCreated struct {
	PaymentID      uint64  `json:"payment_id"`
	ExpectedAmount uint64  `json:"expected_amount"`
	PriceUsd       float64 `json:"price_usd"`
	Recipient      string  `json:"recipient"`
}

// VerifyResult is the remote service's answer to payment verification.
// Payout to the recipient and the platform share is a service-side effect
// of Verified being true; no separate payout call exists.
type VerifyResult struct {
	TxID      uint64 `json:"tx_id"`
	Verified  bool   `json:"verified"`
	PaymentID uint64 `json:"payment_id,omitempty"`
}

// PaymentResult bundles the outputs of one complete payment run:
// quote, ledger receipt, record creation and verification.
type PaymentResult struct {
	Quote      *Quote         `json:"quote"`
	BlockIndex uint64         `json:"blockIndex"`
	Record     *RecordCreated `json:"record"`
	Verify     *VerifyResult  `json:"verify"`
}

// Identity text shapes accepted on the ledger network: a principal
// (dash-separated base32 groups) or a 64-character hex account identifier.
var (
	principalRe = regexp.MustCompile(`^[a-z0-9]{1,5}(-[a-z0-9]{1,5})+$`)
	accountRe   = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// ValidIdentity reports whether s looks like a ledger identity. It is a
// shape check only; ownership is never provable from the text form.
func ValidIdentity(s string) bool {
	if s == "" {
		return false
	}
	if len(s) <= 63 && principalRe.MatchString(s) {
		return true
	}
	return accountRe.MatchString(s)
}
