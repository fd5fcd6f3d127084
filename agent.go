// Package pybara is a payment-gateway client SDK for accepting token
// payments on the Internet Computer ledger network. It unifies three
// wallet backends behind one adapter contract, keeps at most one wallet
// connected per agent, and drives the payment lifecycle against a remote
// payment-processing service: quote, transfer, record, verify. Payout to
// the merchant is a service-side effect of verification.
package pybara

import (
	"context"
	"net/http"
	"sync"

	"github.com/Yogabuild/pybara-ic-protocol/ledger"
	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/manager"
	"github.com/Yogabuild/pybara-ic-protocol/metrics"
	"github.com/Yogabuild/pybara-ic-protocol/prices"
	"github.com/Yogabuild/pybara-ic-protocol/processing"
	"github.com/Yogabuild/pybara-ic-protocol/types"
	"github.com/Yogabuild/pybara-ic-protocol/wallets"
)

// Bridges injects the native wallet backends. A nil bridge disables the
// matching built-in wallet; tests inject fakes here.
type Bridges struct {
	Extension wallets.ExtensionBridge
	Signer    wallets.SignerBridge
	Identity  wallets.IdentityBroker
}

// Agent is the SDK facade: wallet orchestration on one side, the
// payment-processing service on the other.
type Agent struct {
	cfg     *Config
	log     logger.Logger
	rec     metrics.Recorder
	http    *http.Client
	manager *manager.WalletManager
	service *processing.Client
	prices  *prices.Cache

	tokenMu  sync.Mutex
	tokenCfg *types.TokenConfig

	extraWallets []wallets.Adapter
}

// Order identifies one merchant order to collect payment for.
type Order struct {
	OrderID   uint64  `json:"order_id"`
	UsdAmount float64 `json:"usd_amount"`
	Token     string  `json:"token"`
}

// New builds an Agent from an explicit configuration. Zero-valued
// optional fields are filled from DefaultConfig; no state is shared
// between agents.
func New(cfg *Config, br Bridges, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, types.NewPaymentError(types.ErrConfig, "configuration is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.log == nil {
		if cfg.Verbose {
			a.log = logger.NewZapLogger("debug")
		} else {
			a.log = logger.NoopLogger{}
		}
	}
	if a.rec == nil {
		a.rec = metrics.NoopRecorder{}
	}
	if a.http == nil && cfg.ConfirmationTimeout > 0 {
		a.http = &http.Client{Timeout: cfg.ConfirmationTimeout}
	}

	clientOpts := []processing.ClientOption{
		processing.WithMainnet(cfg.Mainnet),
		processing.WithRetry(cfg.RetryCount),
		processing.WithClientLogger(a.log),
		processing.WithClientMetrics(a.rec),
	}
	if a.http != nil {
		clientOpts = append(clientOpts, processing.WithHTTPClient(a.http))
	}
	a.service = processing.NewClient(cfg.Host, cfg.ServiceID, clientOpts...)

	a.manager = manager.NewWalletManager(a.log, a.rec)
	for _, t := range cfg.enabledWallets(a.log) {
		ad := a.buildAdapter(t, br)
		if ad == nil {
			a.log.Debug("wallet backend not wired, skipping", logger.Fields{"wallet": t.String()})
			continue
		}
		if err := a.manager.Register(ad); err != nil {
			return nil, err
		}
	}
	for _, ad := range a.extraWallets {
		if err := a.manager.Register(ad); err != nil {
			return nil, err
		}
	}

	a.prices = prices.NewCache(a.service, cfg.PriceRefresh, a.log)
	if cfg.PriceRefresh > 0 {
		a.prices.Start(context.Background())
	}

	return a, nil
}

func (a *Agent) buildAdapter(t types.WalletType, br Bridges) wallets.Adapter {
	opts := wallets.Options{
		Icon:            a.cfg.WalletIcons[t],
		Host:            a.cfg.Host,
		ProviderURL:     a.cfg.IdentityProvider,
		Whitelist:       a.cfg.whitelist(),
		ApprovalTimeout: a.cfg.ApprovalTimeout,
		Logger:          a.log,
	}

	switch t {
	case types.WalletExtension:
		if br.Extension == nil {
			return nil
		}
		return wallets.NewExtensionWallet(br.Extension, opts)
	case types.WalletSigner:
		if br.Signer == nil {
			return nil
		}
		return wallets.NewSignerWallet(br.Signer, opts)
	case types.WalletSession:
		if br.Identity == nil {
			return nil
		}
		return wallets.NewSessionWallet(br.Identity, opts)
	}
	return nil
}

// Close stops the background price refresh. The active wallet, if any,
// stays connected; call DisconnectWallet first when a clean logout
// matters.
func (a *Agent) Close() {
	a.prices.Stop()
}

// ConnectWallet connects the given wallet type and makes it the active
// wallet. On success the connected event has already fired when this
// returns.
func (a *Agent) ConnectWallet(ctx context.Context, walletType types.WalletType) (string, error) {
	return a.manager.Connect(ctx, walletType)
}

// DisconnectWallet disconnects the active wallet. Backend logout failures
// are swallowed; local state is always cleared.
func (a *Agent) DisconnectWallet(ctx context.Context) {
	a.manager.Disconnect(ctx)
}

// Wallets lists the registered wallets with live availability and
// connection flags, in registration order.
func (a *Agent) Wallets() []types.WalletDescriptor {
	return a.manager.Descriptors()
}

// ConnectedPrincipal returns the active wallet's identity, empty when no
// wallet is connected.
func (a *Agent) ConnectedPrincipal() string {
	return a.manager.Principal()
}

// ActiveWalletType returns the active wallet's tag, empty when no wallet
// is connected.
func (a *Agent) ActiveWalletType() types.WalletType {
	return a.manager.ActiveWalletType()
}

// On registers a listener for the named wallet event and returns a
// subscription id for Off.
func (a *Agent) On(name types.EventName, fn types.Listener) int {
	return a.manager.On(name, fn)
}

// Off removes a listener by subscription id.
func (a *Agent) Off(name types.EventName, id int) {
	a.manager.Off(name, id)
}

// CalculatePaymentAmount asks the service to quote usd in token at its
// current price. The quote is authoritative for the payment lifecycle;
// EstimateAmount is the local approximation for display.
func (a *Agent) CalculatePaymentAmount(ctx context.Context, usd float64, token string) (*types.Quote, error) {
	return a.service.CalculatePaymentAmount(ctx, usd, token)
}

// Transfer moves amount of token, in smallest units, from the active
// wallet to the given identity and returns the ledger block index.
//
// A balance pre-check runs first, advisory only: the transfer is blocked
// when the wallet reports a positive balance below the requested amount.
// A zero reading is ambiguous, adapters report zero on a failed read, so
// zero never blocks; the ledger stays the authority on spendable funds.
func (a *Agent) Transfer(ctx context.Context, to string, amount uint64, token string) (uint64, error) {
	ledgerID, err := a.ledgerFor(token)
	if err != nil {
		return 0, err
	}

	if a.manager.IsConnected() {
		if bal := a.manager.Balance(ctx, ledgerID, token); bal > 0 && bal < amount {
			return 0, types.NewPaymentError(types.ErrInsufficientFunds,
				"balance %d below required %d for %s", bal, amount, token)
		}
	}

	return a.manager.Transfer(ctx, types.TransferRequest{
		To:       to,
		Amount:   amount,
		Token:    token,
		LedgerID: ledgerID,
	})
}

// CreatePaymentRecord opens a pending record for the order with the
// service, against this site and the configured recipient. The sender and
// wallet name of the active wallet are attached when one is connected.
func (a *Agent) CreatePaymentRecord(ctx context.Context, order Order) (*types.RecordCreated, error) {
	return a.service.CreatePaymentRecord(ctx, processing.CreateRecordParams{
		OrderID:    order.OrderID,
		SiteURL:    a.cfg.SiteURL,
		SiteName:   a.cfg.SiteName,
		Platform:   a.cfg.Platform,
		UsdAmount:  order.UsdAmount,
		Token:      order.Token,
		Recipient:  a.cfg.Recipient,
		Sender:     a.manager.Principal(),
		WalletName: a.walletName(),
	})
}

// VerifyAndRecordPayment submits a ledger receipt for verification. Pass
// paymentID zero when it is not known; the service then resolves the
// record by order, site and recipient. The service pays out the merchant
// and the platform share as a side effect of success.
func (a *Agent) VerifyAndRecordPayment(ctx context.Context, paymentID, orderID, blockIndex, receivedAmount uint64) (*types.VerifyResult, error) {
	return a.service.VerifyAndRecordPayment(ctx, processing.VerifyParams{
		PaymentID:      paymentID,
		OrderID:        orderID,
		SiteURL:        a.cfg.SiteURL,
		Recipient:      a.cfg.Recipient,
		BlockIndex:     blockIndex,
		ReceivedAmount: receivedAmount,
	})
}

// ProcessPayment runs the full lifecycle for an order: quote the USD
// amount in the order's token, transfer the quoted amount from the active
// wallet to the configured recipient, open the payment record, and submit
// the ledger receipt for verification. Each step consumes the previous
// step's authoritative output, so the steps run strictly in order and the
// first failure stops the run.
//
// If the transfer succeeds and a later step fails, funds have moved with
// no client-side record. Recovery is the service's job: the record is
// reachable later through GetPaymentByOrder.
func (a *Agent) ProcessPayment(ctx context.Context, order Order) (*types.PaymentResult, error) {
	quote, err := a.CalculatePaymentAmount(ctx, order.UsdAmount, order.Token)
	if err != nil {
		return nil, err
	}

	blockIndex, err := a.Transfer(ctx, a.cfg.Recipient, quote.TokenAmount, order.Token)
	if err != nil {
		return nil, err
	}

	record, err := a.CreatePaymentRecord(ctx, order)
	if err != nil {
		a.log.Error("record creation failed after funds moved", logger.Fields{
			"order_id":    order.OrderID,
			"block_index": blockIndex,
			"error":       err.Error(),
		})
		return nil, err
	}

	verify, err := a.VerifyAndRecordPayment(ctx, record.PaymentID, order.OrderID, blockIndex, quote.TokenAmount)
	if err != nil {
		a.log.Error("verification failed after funds moved", logger.Fields{
			"order_id":    order.OrderID,
			"payment_id":  record.PaymentID,
			"block_index": blockIndex,
			"error":       err.Error(),
		})
		return nil, err
	}

	return &types.PaymentResult{
		Quote:      quote,
		BlockIndex: blockIndex,
		Record:     record,
		Verify:     verify,
	}, nil
}

// SendPayout does nothing and returns nil.
//
// Deprecated: payout became a service-side effect of successful
// verification; there is nothing left for the client to trigger. The
// method is kept so existing integrations keep compiling.
func (a *Agent) SendPayout(ctx context.Context, paymentID uint64) error {
	a.log.Warn("SendPayout is deprecated and does nothing", logger.Fields{"payment_id": paymentID})
	return nil
}

// GetPayment fetches a payment record by id, nil when the service has
// none.
func (a *Agent) GetPayment(ctx context.Context, paymentID uint64) (*types.PaymentRecord, error) {
	return a.service.GetPayment(ctx, paymentID)
}

// GetPaymentByOrder fetches a payment record by order id against this
// site and recipient, nil when the service has none. This is the recovery
// path when a payment run died between transfer and verification.
func (a *Agent) GetPaymentByOrder(ctx context.Context, orderID uint64) (*types.PaymentRecord, error) {
	return a.service.GetPaymentByOrder(ctx, orderID, a.cfg.SiteURL, a.cfg.Recipient)
}

// TokenPrices returns the current USD price per supported token from the
// cached snapshot, refreshing it on demand when empty.
func (a *Agent) TokenPrices(ctx context.Context) ([]types.TokenPrice, error) {
	if cached := a.prices.All(); len(cached) > 0 {
		return cached, nil
	}
	if err := a.prices.Refresh(ctx); err != nil {
		return nil, err
	}
	return a.prices.All(), nil
}

// TokenConfig returns the service's token table, fetched once and cached
// for the agent's lifetime.
func (a *Agent) TokenConfig(ctx context.Context) (*types.TokenConfig, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.tokenCfg != nil {
		return a.tokenCfg, nil
	}

	cfg, err := a.service.TokenConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.tokenCfg = cfg
	return cfg, nil
}

// MinimumAmount returns the smallest accepted payment for token in
// smallest units, zero when the service sets none.
func (a *Agent) MinimumAmount(ctx context.Context, token string) (uint64, error) {
	cfg, err := a.TokenConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.MinimumFor(token), nil
}

// TransferFee returns the ledger fee for token in smallest units, zero
// when the service reports none.
func (a *Agent) TransferFee(ctx context.Context, token string) (uint64, error) {
	cfg, err := a.TokenConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.FeeFor(token), nil
}

// Balance reads the active wallet's balance for token in smallest units.
// Zero means empty or unknown; adapters cannot distinguish a failed read.
func (a *Agent) Balance(ctx context.Context, token string) (uint64, error) {
	ledgerID, err := a.ledgerFor(token)
	if err != nil {
		return 0, err
	}
	return a.manager.Balance(ctx, ledgerID, token), nil
}

// EstimateAmount converts a USD amount into token smallest units with the
// cached price, rounding up so the estimate never undershoots what the
// service will quote. Display use only; the lifecycle uses
// CalculatePaymentAmount.
func (a *Agent) EstimateAmount(ctx context.Context, usd float64, token string) (uint64, error) {
	price, ok := a.prices.Price(token)
	if !ok {
		if err := a.prices.Refresh(ctx); err != nil {
			return 0, err
		}
		if price, ok = a.prices.Price(token); !ok {
			return 0, types.NewPaymentError(types.ErrRemoteService, "no price available for %s", token)
		}
	}
	return ledger.QuoteSmallest(usd, price, a.decimalsFor(token))
}

// FormatAmount renders smallest units of token as a decimal string.
func (a *Agent) FormatAmount(units uint64, token string) string {
	return ledger.FromSmallest(units, a.decimalsFor(token))
}

// ParseAmount converts a decimal token amount string into smallest units.
func (a *Agent) ParseAmount(amount, token string) (uint64, error) {
	return ledger.ToSmallest(amount, a.decimalsFor(token))
}

// ledgerFor resolves a token symbol to its configured ledger identifier.
func (a *Agent) ledgerFor(token string) (string, error) {
	if id, ok := a.cfg.Tokens[token]; ok {
		return id, nil
	}
	return "", types.NewPaymentError(types.ErrConfig, "no ledger configured for token %s", token)
}

// decimalsFor resolves token precision: the fetched token table wins,
// then the built-in defaults, then 8.
func (a *Agent) decimalsFor(token string) int {
	a.tokenMu.Lock()
	cfg := a.tokenCfg
	a.tokenMu.Unlock()

	if cfg != nil {
		if d, ok := cfg.Decimals[token]; ok {
			return d
		}
	}
	if d, ok := defaultDecimals[token]; ok {
		return d
	}
	return 8
}

func (a *Agent) walletName() string {
	t := a.manager.ActiveWalletType()
	if t == "" {
		return ""
	}
	for _, d := range a.manager.Descriptors() {
		if d.Type == t {
			return d.Name
		}
	}
	return t.String()
}
