package wallets

import (
	"context"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

const (
	sessionName        = "Internet Identity"
	sessionWebsite     = "https://identity.ic0.app"
	sessionIcon        = "identity.svg"
	defaultProviderURL = "https://identity.ic0.app"
)

// IdentityBroker performs the delegated-identity login.
type IdentityBroker interface {
	// Reachable reports whether the identity provider can be dialed.
	Reachable() bool

	// Login runs the delegated-identity handshake and returns a session
	// backed by a delegation chain with a fixed expiry.
	Login(ctx context.Context, providerURL string, timeout time.Duration) (IdentitySession, error)
}

// IdentitySession is a long-lived delegated session. Once the delegation
// chain lapses the session cannot sign anymore; the adapter treats that as
// connection loss rather than an operation failure.
type IdentitySession interface {
	Principal() string

	// Expired reports whether the delegation chain has lapsed.
	Expired() bool

	Transfer(ctx context.Context, ledgerID, to string, amount uint64) (uint64, error)

	Balance(ctx context.Context, ledgerID string) (uint64, error)

	Logout(ctx context.Context) error
}

// SessionWallet adapts the delegated-identity backend.
type SessionWallet struct {
	broker      IdentityBroker
	icon        string
	providerURL string
	timeout     time.Duration
	log         logger.Logger

	session   IdentitySession
	principal string
	connected bool
}

var _ Adapter = (*SessionWallet)(nil)

func NewSessionWallet(broker IdentityBroker, opts Options) *SessionWallet {
	opts.withDefaults()
	icon := opts.Icon
	if icon == "" {
		icon = sessionIcon
	}
	providerURL := opts.ProviderURL
	if providerURL == "" {
		providerURL = defaultProviderURL
	}

	return &SessionWallet{
		broker:      broker,
		icon:        icon,
		providerURL: providerURL,
		timeout:     opts.ApprovalTimeout,
		log:         opts.Logger,
	}
}

func (w *SessionWallet) Type() types.WalletType { return types.WalletSession }

func (w *SessionWallet) Descriptor() types.WalletDescriptor {
	return types.WalletDescriptor{
		Type:      types.WalletSession,
		Name:      sessionName,
		Icon:      w.icon,
		Website:   sessionWebsite,
		Available: w.IsAvailable(),
		Connected: w.connected,
	}
}

func (w *SessionWallet) IsAvailable() bool {
	return w.broker != nil && w.broker.Reachable()
}

func (w *SessionWallet) Connect(ctx context.Context) (string, error) {
	if w.connected {
		return w.principal, nil
	}

	if !w.IsAvailable() {
		return "", notAvailable(types.WalletSession, sessionName, sessionWebsite)
	}

	session, err := w.broker.Login(ctx, w.providerURL, w.timeout)
	if err != nil {
		w.session = nil
		w.principal = ""
		w.connected = false
		return "", classify(types.WalletSession, "login", err)
	}

	principal := session.Principal()
	if principal == "" {
		return "", &types.PaymentError{
			Code:    types.ErrInvalidResponse,
			Wallet:  types.WalletSession,
			Message: "login returned no principal",
		}
	}

	w.session = session
	w.principal = principal
	w.connected = true
	w.log.Debug("identity session established", logger.Fields{"principal": principal})

	return principal, nil
}

func (w *SessionWallet) Disconnect(ctx context.Context) {
	if w.session != nil {
		if err := w.session.Logout(ctx); err != nil {
			w.log.Warn("identity logout failed, clearing local state anyway",
				logger.Fields{"error": err.Error()})
		}
	}

	w.session = nil
	w.principal = ""
	w.connected = false
}

func (w *SessionWallet) Transfer(ctx context.Context, req types.TransferRequest) (uint64, error) {
	if !w.connected || w.session == nil {
		return 0, notConnected(types.WalletSession)
	}

	if w.session.Expired() {
		w.dropSession("transfer")
		return 0, &types.PaymentError{
			Code:    types.ErrNotConnected,
			Wallet:  types.WalletSession,
			Message: "delegated session expired, reconnect the wallet",
		}
	}

	height, err := w.session.Transfer(ctx, req.LedgerID, req.To, req.Amount)
	if err != nil {
		return 0, classify(types.WalletSession, "transfer", err)
	}
	if height == 0 {
		return 0, invalidReceipt(types.WalletSession, "height 0")
	}

	return height, nil
}

func (w *SessionWallet) Balance(ctx context.Context, ledgerID, token string) uint64 {
	if !w.connected || w.session == nil {
		return 0
	}

	if w.session.Expired() {
		w.dropSession("balance")
		return 0
	}

	bal, err := w.session.Balance(ctx, ledgerID)
	if err != nil {
		w.log.Debug("balance query failed", logger.Fields{"token": token, "error": err.Error()})
		return 0
	}

	return bal
}

func (w *SessionWallet) Principal() string { return w.principal }

func (w *SessionWallet) IsConnected() bool { return w.connected }

// dropSession clears connection state after the delegation chain lapsed.
func (w *SessionWallet) dropSession(during string) {
	w.log.Info("delegated session expired", logger.Fields{"during": during})
	w.session = nil
	w.principal = ""
	w.connected = false
}
