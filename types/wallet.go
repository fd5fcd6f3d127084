package types

// WalletType is the unique tag identifying one wallet backend integration.
type WalletType string

const (
	// WalletExtension is the extension-injected backend: a provider object
	// the extension plants in the host environment, connected through a
	// whitelist handshake.
	WalletExtension WalletType = "extension"

	// WalletSigner is the popup-signer backend: a web-hosted provider that
	// opens a signing session per operation.
	WalletSigner WalletType = "signer"

	// WalletSession is the delegated-identity backend: an identity provider
	// that issues a long-lived delegated session after login.
	WalletSession WalletType = "session"
)

func (t WalletType) String() string {
	return string(t)
}

// WalletDescriptor is the static metadata of one adapter plus its live
// availability and connection flags. Everything except Icon, Available and
// Connected is fixed at construction.
type WalletDescriptor struct {
	Type      WalletType `json:"type"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon,omitempty"`
	Website   string     `json:"website,omitempty"`
	Available bool       `json:"available"`
	Connected bool       `json:"connected"`
}

// EventName keys the orchestrator's listener registry.
type EventName string

const (
	EventConnected    EventName = "connected"
	EventDisconnected EventName = "disconnected"
	EventTransfer     EventName = "transfer"
	EventError        EventName = "error"
)

// Event carries the payload of one orchestrator notification. Fields are
// populated per event kind: Principal on connected, BlockIndex and Request
// on transfer, Action and Err on error.
type Event struct {
	Name       EventName        `json:"name"`
	Wallet     WalletType       `json:"wallet"`
	Principal  string           `json:"principal,omitempty"`
	BlockIndex uint64           `json:"blockIndex,omitempty"`
	Request    *TransferRequest `json:"request,omitempty"`
	Action     string           `json:"action,omitempty"`
	Err        error            `json:"-"`
}

// Listener receives orchestrator events. Listeners run synchronously in
// registration order; a panic in one is recovered and logged so the rest
// still run.
type Listener func(Event)
