// Package wallets implements the wallet capability contract and one
// adapter per supported wallet backend. The three backends have
// incompatible connection models (an extension-injected provider with a
// whitelist handshake, a popup signer that re-opens a session per
// operation, and a delegated-identity login with a long-lived session);
// each adapter owns its backend's quirks internally so that callers never
// branch on wallet type.
//
// Adapters assume a single logical caller. Connection state is plain
// fields; the orchestrator documents that concurrent connects on one
// agent instance are a caller error.
package wallets

import (
	"context"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

// Adapter is the contract every wallet backend satisfies.
//
// Connect returns the wallet's principal and leaves the adapter
// not-connected on any failure. Calling it while already connected
// short-circuits with the existing principal. Disconnect always clears
// local state; backend errors during teardown are swallowed. Transfer
// requires a prior successful Connect and fails fast without touching the
// backend otherwise; receipts are normalized to a uint64 block index and
// a zero or missing index is failure, never success. Balance is advisory
// and returns 0 instead of erroring. IsAvailable and IsConnected are
// synchronous, side-effect free and never panic; IsConnected reflects
// only the adapter's own cached flag, never a live backend probe.
type Adapter interface {
	Type() types.WalletType
	Descriptor() types.WalletDescriptor
	IsAvailable() bool
	Connect(ctx context.Context) (string, error)
	Disconnect(ctx context.Context)
	Transfer(ctx context.Context, req types.TransferRequest) (uint64, error)
	Balance(ctx context.Context, ledgerID, token string) uint64
	Principal() string
	IsConnected() bool
}

// Options carries the construction parameters shared by the adapters.
// Bridges are injected separately per adapter so tests can fake the
// backend without a host environment.
type Options struct {
	// Icon overrides the adapter's built-in icon reference.
	Icon string

	// Host is the network host URL the backend should talk to.
	Host string

	// ProviderURL points the session backend at its identity provider.
	// Ignored by the other adapters.
	ProviderURL string

	// Whitelist is the set of ledger identifiers announced in the
	// extension handshake. Ignored by the other adapters.
	Whitelist []string

	// ApprovalTimeout is handed to the backend as the user-approval bound.
	// This layer does not enforce it; a backend that ignores it hangs the
	// call until its own bound fires.
	ApprovalTimeout time.Duration

	Logger logger.Logger
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = logger.NoopLogger{}
	}
	if o.ApprovalTimeout <= 0 {
		o.ApprovalTimeout = 2 * time.Minute
	}
}
