package pybara

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return types.ValidIdentity(fl.Field().String())
	})
}

// Mainnet ledger identifiers for the tokens supported out of the box.
const (
	LedgerICP    = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	LedgerCkBTC  = "mxzaz-hqaaa-aaaar-qaada-cai"
	LedgerCkETH  = "ss2fx-dyaaa-aaaar-qacoq-cai"
	LedgerCkUSDC = "xevnm-gaaaa-aaaar-qafnq-cai"
)

// defaultWallets is the set of wallet integrations this build ships. The
// enabled set is always the intersection of the configured allow-list and
// this one.
var defaultWallets = []types.WalletType{
	types.WalletExtension,
	types.WalletSigner,
	types.WalletSession,
}

// defaultDecimals seeds per-token precision until the service's token
// table has been fetched.
var defaultDecimals = map[string]int{
	"ICP":    8,
	"ckBTC":  8,
	"ckETH":  18,
	"ckUSDC": 6,
}

// Config is the full configuration surface of an Agent. Callers usually
// start from DefaultConfig and fill in the site-specific fields.
type Config struct {
	// ServiceID identifies the payment-processing service instance.
	ServiceID string `json:"service_id" validate:"required"`

	// Host is the network gateway URL.
	Host string `json:"host" validate:"required,url"`

	// Mainnet targets the production network. The zero value targets a
	// local replica and triggers a root-key fetch before the first call.
	Mainnet bool `json:"mainnet"`

	// SiteURL and SiteName identify the merchant site on payment records.
	SiteURL  string `json:"site_url" validate:"required,url"`
	SiteName string `json:"site_name" validate:"required"`

	// Platform names the e-commerce platform embedding the SDK.
	Platform string `json:"platform"`

	// Recipient is the merchant identity paid at checkout.
	Recipient string `json:"recipient" validate:"required,identity"`

	// EnabledWallets restricts which wallet integrations are offered.
	// Tags outside the built-in set are dropped with a warning. Empty
	// means all built-ins.
	EnabledWallets []types.WalletType `json:"enabled_wallets,omitempty"`

	// WalletIcons overrides the built-in icon reference per wallet type.
	WalletIcons map[types.WalletType]string `json:"wallet_icons,omitempty"`

	// Tokens maps accepted token symbols to their ledger identifiers.
	Tokens map[string]string `json:"tokens,omitempty"`

	// IdentityProvider overrides the delegated-identity login URL.
	IdentityProvider string `json:"identity_provider,omitempty" validate:"omitempty,url"`

	// ApprovalTimeout is handed to wallet backends as the user-approval
	// bound. The backends enforce it, not this layer.
	ApprovalTimeout time.Duration `json:"approval_timeout,omitempty"`

	// ConfirmationTimeout bounds each payment-service HTTP call.
	ConfirmationTimeout time.Duration `json:"confirmation_timeout,omitempty"`

	// RetryCount is how many times an idempotent service read is re-sent
	// after a transport failure. Mutating calls are never retried.
	RetryCount int `json:"retry_count,omitempty" validate:"gte=0"`

	// PriceRefresh is the background price-cache interval. Zero disables
	// the refresh loop; prices are then fetched on demand.
	PriceRefresh time.Duration `json:"price_refresh,omitempty"`

	// Verbose switches the default logger from silent to debug.
	Verbose bool `json:"verbose"`
}

// DefaultConfig returns the configuration defaults. It is a pure
// function; every call returns a fresh value and no package state is
// shared between agents.
func DefaultConfig() *Config {
	return &Config{
		Host:           "https://icp0.io",
		Mainnet:        true,
		Platform:       "woocommerce",
		EnabledWallets: slices.Clone(defaultWallets),
		Tokens: map[string]string{
			"ICP":    LedgerICP,
			"ckBTC":  LedgerCkBTC,
			"ckETH":  LedgerCkETH,
			"ckUSDC": LedgerCkUSDC,
		},
		ApprovalTimeout:     2 * time.Minute,
		ConfirmationTimeout: 60 * time.Second,
		RetryCount:          1,
		PriceRefresh:        5 * time.Minute,
	}
}

// Validate checks the configuration, including the identity shape of the
// recipient and every configured ledger id.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return types.WrapPaymentError(types.ErrConfig, err, "invalid configuration")
	}

	for token, ledgerID := range c.Tokens {
		if !types.ValidIdentity(ledgerID) {
			return types.NewPaymentError(types.ErrConfig, "token %s has invalid ledger id %q", token, ledgerID)
		}
	}

	return nil
}

// ParseConfig unmarshals a JSON configuration over the defaults and
// validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, types.WrapPaymentError(types.ErrConfig, err, "parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefaults returns a copy of c with zero-valued optional fields
// filled from DefaultConfig. The receiver is not mutated.
func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()

	if out.Host == "" {
		out.Host = def.Host
	}
	if out.Platform == "" {
		out.Platform = def.Platform
	}
	if len(out.EnabledWallets) == 0 {
		out.EnabledWallets = def.EnabledWallets
	}
	if len(out.Tokens) == 0 {
		out.Tokens = def.Tokens
	}
	if out.ApprovalTimeout <= 0 {
		out.ApprovalTimeout = def.ApprovalTimeout
	}
	if out.ConfirmationTimeout <= 0 {
		out.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if out.RetryCount < 0 {
		out.RetryCount = 0
	}
	if out.PriceRefresh < 0 {
		out.PriceRefresh = 0
	}

	return &out
}

// enabledWallets intersects the configured allow-list with the built-in
// set. Unknown tags are logged and dropped, never an error.
func (c *Config) enabledWallets(log logger.Logger) []types.WalletType {
	out := make([]types.WalletType, 0, len(defaultWallets))
	for _, t := range c.EnabledWallets {
		if !slices.Contains(defaultWallets, t) {
			log.Warn("unknown wallet tag in enabled_wallets, dropping", logger.Fields{"wallet": t.String()})
			continue
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// whitelist is the set of ledger and service identifiers announced in the
// extension handshake, sorted so the approval prompt is stable across
// connects.
func (c *Config) whitelist() []string {
	ids := make([]string, 0, len(c.Tokens)+1)
	ids = append(ids, c.ServiceID)
	for _, ledgerID := range c.Tokens {
		ids = append(ids, ledgerID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
