// Package processing implements the client for the remote
// payment-processing service. Calls are a JSON method envelope POSTed to
// the service's call endpoint; method payloads come back inside a
// Result union whose err arm carries the service's failure message.
package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/metrics"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

const defaultTimeout = 60 * time.Second

const (
	methodCalculate   = "calculate_payment_amount"
	methodCreate      = "create_payment_record"
	methodVerify      = "verify_and_record_customer_payment"
	methodGetPayment  = "get_payment"
	methodGetByOrder  = "get_payment_by_order"
	methodPrices      = "get_token_prices"
	methodTokenConfig = "get_token_config"
)

// Client talks to one payment-processing service instance.
type Client struct {
	http    *http.Client
	host    string
	service string
	mainnet bool
	retries int
	log     logger.Logger
	rec     metrics.Recorder

	rootOnce sync.Once
	rootKey  []byte
	rootErr  error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMainnet switches between the production network and a local replica.
// Off mainnet the client fetches the network's root key before its first
// call.
func WithMainnet(mainnet bool) ClientOption {
	return func(c *Client) { c.mainnet = mainnet }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClientMetrics sets the client's metrics recorder.
func WithClientMetrics(r metrics.Recorder) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithRetry re-sends idempotent reads up to n extra times after a
// transport failure. Mutating calls are never retried; a lost response to
// one cannot be told apart from a lost request, and re-sending could
// duplicate the mutation.
func WithRetry(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// NewClient builds a client for the service identified by service, hosted
// behind host. The default configuration targets mainnet with a 60 second
// call timeout.
func NewClient(host, service string, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		host:    strings.TrimRight(host, "/"),
		service: service,
		mainnet: true,
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) callURL() string {
	return c.host + "/api/v2/canister/" + c.service + "/call"
}

// idempotent reports whether a method can be re-sent safely.
func idempotent(method string) bool {
	switch method {
	case methodCalculate, methodGetPayment, methodGetByOrder, methodPrices, methodTokenConfig:
		return true
	}
	return false
}

// ensureRootKey fetches the development root key once before the first
// call on a local network. Mainnet's key ships with clients, so nothing is
// fetched there.
func (c *Client) ensureRootKey(ctx context.Context) error {
	if c.mainnet {
		return nil
	}
	c.rootOnce.Do(func() {
		c.rootErr = c.fetchRootKey(ctx)
	})
	return c.rootErr
}

func (c *Client) fetchRootKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/v2/status", nil)
	if err != nil {
		return types.WrapPaymentError(types.ErrRemoteService, err, "build status request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapPaymentError(types.ErrRemoteService, err, "fetch root key")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.WrapPaymentError(types.ErrRemoteService, err, "read status response")
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewPaymentError(types.ErrRemoteService, "status endpoint answered HTTP %d", resp.StatusCode)
	}

	var status struct {
		RootKey string `json:"root_key"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed status response")
	}
	if status.RootKey == "" {
		return types.NewPaymentError(types.ErrInvalidResponse, "status response carries no root key")
	}

	key, err := base64.StdEncoding.DecodeString(status.RootKey)
	if err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "root key is not base64")
	}

	c.rootKey = key
	c.log.Debug("fetched development root key", logger.Fields{"bytes": len(key)})
	return nil
}

// RootKey returns the development root key fetched from a local network,
// nil on mainnet or before the first call.
func (c *Client) RootKey() []byte {
	return c.rootKey
}

// call POSTs one method envelope and unmarshals the result payload into
// out. Service-reported dispatch failures surface as RemoteServiceError
// with the service's message.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.ensureRootKey(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: uuid.NewString()})
	if err != nil {
		return types.WrapPaymentError(types.ErrConfig, err, "encode %s request", method)
	}

	c.log.Debug("calling payment service", logger.Fields{"method": method})

	attempts := 1
	if c.retries > 0 && idempotent(method) {
		attempts += c.retries
	}

	start := time.Now()

	var resp *http.Response
	for i := 0; i < attempts; i++ {
		req, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, c.callURL(), bytes.NewReader(body))
		if buildErr != nil {
			return types.WrapPaymentError(types.ErrRemoteService, buildErr, "build %s request", method)
		}
		req.Header.Set("Content-Type", "application/json")

		var doErr error
		resp, doErr = c.http.Do(req)
		if doErr == nil {
			break
		}

		c.rec.IncCounter("rpc_failure", map[string]string{"method": method})
		if i == attempts-1 || ctx.Err() != nil {
			return types.WrapPaymentError(types.ErrRemoteService, doErr, "%s call failed", method)
		}
		c.log.Warn("retrying service call", logger.Fields{
			"method":  method,
			"attempt": i + 1,
			"error":   doErr.Error(),
		})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.WrapPaymentError(types.ErrRemoteService, err, "read %s response", method)
	}
	c.rec.ObserveLatency("rpc_call", time.Since(start), map[string]string{"method": method})

	if resp.StatusCode != http.StatusOK {
		c.rec.IncCounter("rpc_failure", map[string]string{"method": method})
		return types.NewPaymentError(types.ErrRemoteService, "%s answered HTTP %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed %s response", method)
	}
	if envelope.Error != nil {
		c.rec.IncCounter("rpc_failure", map[string]string{"method": method})
		return types.NewPaymentError(types.ErrRemoteService, "%s", envelope.Error.Message)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		// Custom unmarshalers classify their own failures. Keep those.
		var pe *types.PaymentError
		if errors.As(err, &pe) {
			return pe
		}
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed %s result", method)
	}
	return nil
}

// callResult runs a method whose payload is a Result<T, string> and
// unwraps the ok arm into out.
func (c *Client) callResult(ctx context.Context, method string, params interface{}, out interface{}) error {
	var raw json.RawMessage
	if err := c.call(ctx, method, params, &raw); err != nil {
		return err
	}
	return unwrapResult(raw, out)
}

// CalculatePaymentAmount quotes usd in token's smallest units at the
// service's current price.
func (c *Client) CalculatePaymentAmount(ctx context.Context, usd float64, token string) (*types.Quote, error) {
	params := map[string]interface{}{
		"usd_amount": usd,
		"token":      token,
	}

	var quote types.Quote
	if err := c.callResult(ctx, methodCalculate, params, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// CreateRecordParams names the fields of create_payment_record.
type CreateRecordParams struct {
	OrderID    uint64  `json:"order_id"`
	SiteURL    string  `json:"site_url"`
	SiteName   string  `json:"site_name"`
	Platform   string  `json:"platform"`
	UsdAmount  float64 `json:"usd_amount"`
	Token      string  `json:"token"`
	Recipient  string  `json:"recipient"`
	Sender     string  `json:"sender,omitempty"`
	WalletName string  `json:"wallet_name,omitempty"`
}

// CreatePaymentRecord opens a pending record for an order. Both response
// generations are accepted and normalized before return; a payment id is
// synthesized from the order id when the legacy shape carries none.
func (c *Client) CreatePaymentRecord(ctx context.Context, p CreateRecordParams) (*types.RecordCreated, error) {
	var outcome RecordOutcome
	if err := c.call(ctx, methodCreate, p, &outcome); err != nil {
		return nil, err
	}
	return outcome.Normalize(p.OrderID)
}

// VerifyParams names the fields of verify_and_record_customer_payment.
// PaymentID zero means not known; the service then resolves the record by
// the order, site and recipient tuple.
type VerifyParams struct {
	PaymentID      uint64 `json:"payment_id,omitempty"`
	OrderID        uint64 `json:"order_id"`
	SiteURL        string `json:"site_url"`
	Recipient      string `json:"recipient"`
	BlockIndex     uint64 `json:"block_index"`
	ReceivedAmount uint64 `json:"received_amount"`
}

// VerifyAndRecordPayment submits a ledger receipt for verification.
// Payout to the store owner is a service-side effect of success; there is
// no separate payout call in the current protocol.
func (c *Client) VerifyAndRecordPayment(ctx context.Context, p VerifyParams) (*types.VerifyResult, error) {
	var res types.VerifyResult
	if err := c.callResult(ctx, methodVerify, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPayment fetches a record by payment id. A service answer of null
// becomes (nil, nil).
func (c *Client) GetPayment(ctx context.Context, paymentID uint64) (*types.PaymentRecord, error) {
	params := map[string]interface{}{"payment_id": paymentID}

	var rec *types.PaymentRecord
	if err := c.call(ctx, methodGetPayment, params, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetPaymentByOrder fetches a record by its order, site and recipient
// tuple. A service answer of null becomes (nil, nil).
func (c *Client) GetPaymentByOrder(ctx context.Context, orderID uint64, siteURL, recipient string) (*types.PaymentRecord, error) {
	params := map[string]interface{}{
		"order_id":  orderID,
		"site_url":  siteURL,
		"recipient": recipient,
	}

	var rec *types.PaymentRecord
	if err := c.call(ctx, methodGetByOrder, params, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// TokenPrices fetches the service's current USD price per supported token.
func (c *Client) TokenPrices(ctx context.Context) ([]types.TokenPrice, error) {
	var prices []types.TokenPrice
	if err := c.call(ctx, methodPrices, nil, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// TokenConfig fetches the service's token table: supported symbols,
// decimals, minimum amounts and transfer fees.
func (c *Client) TokenConfig(ctx context.Context) (*types.TokenConfig, error) {
	var cfg types.TokenConfig
	if err := c.call(ctx, methodTokenConfig, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
