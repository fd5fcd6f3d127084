package pybara

import (
	"net/http"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/metrics"
	"github.com/Yogabuild/pybara-ic-protocol/wallets"
)

type Option func(*Agent)

func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		a.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *Agent) {
		a.rec = r
	}
}

// WithHTTPClient replaces the HTTP client used for payment-service calls.
// Its timeout then wins over Config.ConfirmationTimeout.
func WithHTTPClient(h *http.Client) Option {
	return func(a *Agent) {
		a.http = h
	}
}

// WithWallets registers additional adapters beyond the built-in set.
// Custom adapters bypass the enabled-wallet allow-list; their tags only
// need to be unique.
func WithWallets(adapters ...wallets.Adapter) Option {
	return func(a *Agent) {
		a.extraWallets = append(a.extraWallets, adapters...)
	}
}
