package wallets

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

const (
	extensionName    = "Plug"
	extensionWebsite = "https://plugwallet.ooo"
	extensionIcon    = "plug.svg"
)

// ExtensionTransferResult is the provider's answer to its high-level
// transfer primitive. The height arrives nested one level down and as a
// JSON number of unspecified width; Transfer normalizes it to uint64.
type ExtensionTransferResult struct {
	TransactionID struct {
		Height json.Number `json:"height"`
	} `json:"transactionId"`
}

// ExtensionBridge is the narrow surface this adapter needs from the
// extension-injected provider object.
type ExtensionBridge interface {
	// Detect reports whether the provider object exists in the host
	// environment. Cheap, synchronous, no side effects.
	Detect() bool

	// RequestConnect runs the whitelist handshake against the given host
	// and returns the wallet's principal text.
	RequestConnect(ctx context.Context, host string, whitelist []string, timeout time.Duration) (string, error)

	// RequestTransfer drives the provider's high-level transfer primitive.
	// It understands only the network's native token.
	RequestTransfer(ctx context.Context, to string, amount uint64) (*ExtensionTransferResult, error)

	// LedgerTransfer issues a token transfer directly against a ledger
	// through the low-level agent the provider grants once connected.
	LedgerTransfer(ctx context.Context, ledgerID, to string, amount uint64) (uint64, error)

	// LedgerBalance reads an account balance the same way.
	LedgerBalance(ctx context.Context, ledgerID, owner string) (uint64, error)

	// Disconnect tears the provider session down.
	Disconnect(ctx context.Context) error
}

// ExtensionWallet adapts the extension-injected backend.
//
// Two provider quirks are load-bearing. The high-level transfer primitive
// only supports the native token, so every other token bypasses it and
// goes straight to that token's ledger over the provider's low-level
// agent. And the provider's own connection probe dials a local replica
// address, which fails on public networks, so IsConnected never consults
// it and trusts only the locally cached flag.
type ExtensionWallet struct {
	bridge    ExtensionBridge
	icon      string
	host      string
	whitelist []string
	timeout   time.Duration
	log       logger.Logger

	principal string
	connected bool
}

var _ Adapter = (*ExtensionWallet)(nil)

func NewExtensionWallet(bridge ExtensionBridge, opts Options) *ExtensionWallet {
	opts.withDefaults()
	icon := opts.Icon
	if icon == "" {
		icon = extensionIcon
	}

	return &ExtensionWallet{
		bridge:    bridge,
		icon:      icon,
		host:      opts.Host,
		whitelist: opts.Whitelist,
		timeout:   opts.ApprovalTimeout,
		log:       opts.Logger,
	}
}

func (w *ExtensionWallet) Type() types.WalletType { return types.WalletExtension }

func (w *ExtensionWallet) Descriptor() types.WalletDescriptor {
	return types.WalletDescriptor{
		Type:      types.WalletExtension,
		Name:      extensionName,
		Icon:      w.icon,
		Website:   extensionWebsite,
		Available: w.IsAvailable(),
		Connected: w.connected,
	}
}

func (w *ExtensionWallet) IsAvailable() bool {
	return w.bridge != nil && w.bridge.Detect()
}

func (w *ExtensionWallet) Connect(ctx context.Context) (string, error) {
	if w.connected {
		return w.principal, nil
	}

	if !w.IsAvailable() {
		return "", notAvailable(types.WalletExtension, extensionName, extensionWebsite)
	}

	principal, err := w.bridge.RequestConnect(ctx, w.host, w.whitelist, w.timeout)
	if err != nil {
		w.principal = ""
		w.connected = false
		return "", classify(types.WalletExtension, "connect", err)
	}

	if principal == "" {
		return "", &types.PaymentError{
			Code:    types.ErrInvalidResponse,
			Wallet:  types.WalletExtension,
			Message: "handshake returned an empty principal",
		}
	}

	w.principal = principal
	w.connected = true
	w.log.Debug("extension wallet connected", logger.Fields{
		"principal": principal,
		"whitelist": len(w.whitelist),
	})

	return principal, nil
}

func (w *ExtensionWallet) Disconnect(ctx context.Context) {
	if w.bridge != nil {
		if err := w.bridge.Disconnect(ctx); err != nil {
			w.log.Warn("extension disconnect failed, clearing local state anyway",
				logger.Fields{"error": err.Error()})
		}
	}

	w.principal = ""
	w.connected = false
}

func (w *ExtensionWallet) Transfer(ctx context.Context, req types.TransferRequest) (uint64, error) {
	if !w.connected {
		return 0, notConnected(types.WalletExtension)
	}

	if req.Token == types.NativeToken {
		return w.nativeTransfer(ctx, req)
	}

	// The high-level primitive cannot express this transfer; issue the
	// ledger call directly over the provider's low-level agent.
	height, err := w.bridge.LedgerTransfer(ctx, req.LedgerID, req.To, req.Amount)
	if err != nil {
		return 0, classify(types.WalletExtension, "transfer", err)
	}
	if height == 0 {
		return 0, invalidReceipt(types.WalletExtension, "ledger call returned height 0")
	}

	return height, nil
}

func (w *ExtensionWallet) nativeTransfer(ctx context.Context, req types.TransferRequest) (uint64, error) {
	res, err := w.bridge.RequestTransfer(ctx, req.To, req.Amount)
	if err != nil {
		return 0, classify(types.WalletExtension, "transfer", err)
	}
	if res == nil {
		return 0, invalidReceipt(types.WalletExtension, "empty response")
	}

	raw := res.TransactionID.Height.String()
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || height == 0 {
		return 0, invalidReceipt(types.WalletExtension, fmt.Sprintf("height %q", raw))
	}

	return height, nil
}

func (w *ExtensionWallet) Balance(ctx context.Context, ledgerID, token string) uint64 {
	if !w.connected {
		return 0
	}

	bal, err := w.bridge.LedgerBalance(ctx, ledgerID, w.principal)
	if err != nil {
		// Advisory only; the remote service verifies authoritatively.
		w.log.Debug("balance query failed", logger.Fields{
			"token": token,
			"error": err.Error(),
		})
		return 0
	}

	return bal
}

func (w *ExtensionWallet) Principal() string { return w.principal }

// IsConnected reflects only the cached flag. The provider's own probe is
// unreliable off local networks and is never consulted.
func (w *ExtensionWallet) IsConnected() bool { return w.connected }
