package wallets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

const (
	signerName    = "Stoic"
	signerWebsite = "https://www.stoicwallet.com"
	signerIcon    = "stoic.png"
)

// SignerBridge is the surface of the popup-signer provider. The provider
// is web-hosted, so availability only requires an endpoint.
type SignerBridge interface {
	Endpoint() string

	// Open runs the signing handshake through the provider popup and
	// returns a live session.
	Open(ctx context.Context, host string, timeout time.Duration) (SignerSession, error)
}

// SignerSession is one signing session with the provider popup. The
// provider drops sessions between operations as a matter of course; the
// adapter re-opens as needed.
type SignerSession interface {
	Principal() string

	// Alive reports whether the popup session can still sign.
	Alive() bool

	// Transfer signs and submits a ledger transfer, returning the block
	// height as the decimal string the provider reports it in.
	Transfer(ctx context.Context, ledgerID, to string, amount uint64) (string, error)

	Balance(ctx context.Context, ledgerID string) (uint64, error)

	Close(ctx context.Context) error
}

// SignerWallet adapts the popup-signer backend. Connect establishes the
// first session; each later operation re-opens the popup when the previous
// session has gone stale.
type SignerWallet struct {
	bridge  SignerBridge
	icon    string
	host    string
	timeout time.Duration
	log     logger.Logger

	session   SignerSession
	principal string
	connected bool
}

var _ Adapter = (*SignerWallet)(nil)

func NewSignerWallet(bridge SignerBridge, opts Options) *SignerWallet {
	opts.withDefaults()
	icon := opts.Icon
	if icon == "" {
		icon = signerIcon
	}

	return &SignerWallet{
		bridge:  bridge,
		icon:    icon,
		host:    opts.Host,
		timeout: opts.ApprovalTimeout,
		log:     opts.Logger,
	}
}

func (w *SignerWallet) Type() types.WalletType { return types.WalletSigner }

func (w *SignerWallet) Descriptor() types.WalletDescriptor {
	return types.WalletDescriptor{
		Type:      types.WalletSigner,
		Name:      signerName,
		Icon:      w.icon,
		Website:   signerWebsite,
		Available: w.IsAvailable(),
		Connected: w.connected,
	}
}

func (w *SignerWallet) IsAvailable() bool {
	return w.bridge != nil && w.bridge.Endpoint() != ""
}

func (w *SignerWallet) Connect(ctx context.Context) (string, error) {
	if w.connected {
		return w.principal, nil
	}

	if !w.IsAvailable() {
		return "", notAvailable(types.WalletSigner, signerName, signerWebsite)
	}

	session, err := w.bridge.Open(ctx, w.host, w.timeout)
	if err != nil {
		w.session = nil
		w.principal = ""
		w.connected = false
		return "", classify(types.WalletSigner, "connect", err)
	}

	principal := session.Principal()
	if principal == "" {
		return "", &types.PaymentError{
			Code:    types.ErrInvalidResponse,
			Wallet:  types.WalletSigner,
			Message: "signer session carries no principal",
		}
	}

	w.session = session
	w.principal = principal
	w.connected = true
	w.log.Debug("signer wallet connected", logger.Fields{"principal": principal})

	return principal, nil
}

func (w *SignerWallet) Disconnect(ctx context.Context) {
	if w.session != nil {
		if err := w.session.Close(ctx); err != nil {
			w.log.Warn("signer session close failed, clearing local state anyway",
				logger.Fields{"error": err.Error()})
		}
	}

	w.session = nil
	w.principal = ""
	w.connected = false
}

func (w *SignerWallet) Transfer(ctx context.Context, req types.TransferRequest) (uint64, error) {
	if !w.connected {
		return 0, notConnected(types.WalletSigner)
	}

	session, err := w.ensureSession(ctx)
	if err != nil {
		return 0, err
	}

	raw, err := session.Transfer(ctx, req.LedgerID, req.To, req.Amount)
	if err != nil {
		return 0, classify(types.WalletSigner, "transfer", err)
	}

	height, perr := strconv.ParseUint(raw, 10, 64)
	if perr != nil || height == 0 {
		return 0, invalidReceipt(types.WalletSigner, fmt.Sprintf("height %q", raw))
	}

	// The provider's flow reads the balance back after a transfer. There
	// is no pre-transfer snapshot to compare against, so the read proves
	// nothing; it is logged and nothing more.
	if bal, berr := session.Balance(ctx, req.LedgerID); berr == nil {
		w.log.Debug("post-transfer balance", logger.Fields{
			"token":   req.Token,
			"balance": bal,
			"height":  height,
		})
	}

	return height, nil
}

func (w *SignerWallet) Balance(ctx context.Context, ledgerID, token string) uint64 {
	if !w.connected {
		return 0
	}

	session, err := w.ensureSession(ctx)
	if err != nil {
		w.log.Debug("balance query failed", logger.Fields{"token": token, "error": err.Error()})
		return 0
	}

	bal, err := session.Balance(ctx, ledgerID)
	if err != nil {
		w.log.Debug("balance query failed", logger.Fields{"token": token, "error": err.Error()})
		return 0
	}

	return bal
}

func (w *SignerWallet) Principal() string { return w.principal }

func (w *SignerWallet) IsConnected() bool { return w.connected }

// ensureSession re-opens the popup when the previous session has gone
// stale. Runs before every operation that signs.
func (w *SignerWallet) ensureSession(ctx context.Context) (SignerSession, error) {
	if w.session != nil && w.session.Alive() {
		return w.session, nil
	}

	w.log.Debug("signer session stale, reopening", nil)
	session, err := w.bridge.Open(ctx, w.host, w.timeout)
	if err != nil {
		return nil, classify(types.WalletSigner, "reconnect", err)
	}

	w.session = session
	w.principal = session.Principal()
	return session, nil
}
