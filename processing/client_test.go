package processing_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yogabuild/pybara-ic-protocol/processing"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

type rpcEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// newService runs a scripted payment service. statusHits counts root-key
// fetches so tests can assert when the fetch runs.
func newService(t *testing.T, statusHits *atomic.Int64, handle func(env rpcEnvelope) any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/status", func(w http.ResponseWriter, r *http.Request) {
		if statusHits != nil {
			statusHits.Add(1)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"root_key": base64.StdEncoding.EncodeToString([]byte("local-root-key")),
		})
	})
	mux.HandleFunc("POST /api/v2/canister/svc-1/call", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var env rpcEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		require.NotEmpty(t, env.ID, "every call needs a request id")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": handle(env),
			"id":     env.ID,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func Test_CalculatePaymentAmount(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "calculate_payment_amount", env.Method)

		var params struct {
			UsdAmount float64 `json:"usd_amount"`
			Token     string  `json:"token"`
		}
		require.NoError(t, json.Unmarshal(env.Params, &params))
		require.Equal(t, 49.99, params.UsdAmount)
		require.Equal(t, "ICP", params.Token)

		return map[string]any{"ok": map[string]any{
			"token_amount": 399_920_000,
			"price_used":   12.5,
			"token":        "ICP",
		}}
	})

	c := processing.NewClient(srv.URL, "svc-1")
	quote, err := c.CalculatePaymentAmount(t.Context(), 49.99, "ICP")
	require.NoError(t, err)
	require.Equal(t, uint64(399_920_000), quote.TokenAmount)
	require.Equal(t, 12.5, quote.PriceUsed)
}

func Test_ErrArmBecomesRemoteServiceError(t *testing.T) {
	srv := newService(t, nil, func(rpcEnvelope) any {
		return map[string]any{"err": "price feed stale"}
	})

	c := processing.NewClient(srv.URL, "svc-1")
	_, err := c.CalculatePaymentAmount(t.Context(), 10, "ICP")
	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Contains(t, err.Error(), "price feed stale")
}

func Test_DispatchErrorPassesMessageThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/canister/svc-1/call", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := processing.NewClient(srv.URL, "svc-1")
	_, err := c.TokenPrices(t.Context())
	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Contains(t, err.Error(), "method not found")
}

func Test_HTTPFailureStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/canister/svc-1/call", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := processing.NewClient(srv.URL, "svc-1")
	_, err := c.TokenPrices(t.Context())
	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Contains(t, err.Error(), "502")
}

func Test_GetPayment_NullMeansNotFound(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "get_payment", env.Method)
		return nil
	})

	c := processing.NewClient(srv.URL, "svc-1")
	rec, err := c.GetPayment(t.Context(), 999)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func Test_GetPaymentByOrder(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "get_payment_by_order", env.Method)

		var params struct {
			OrderID   uint64 `json:"order_id"`
			SiteURL   string `json:"site_url"`
			Recipient string `json:"recipient"`
		}
		require.NoError(t, json.Unmarshal(env.Params, &params))
		require.Equal(t, uint64(1001), params.OrderID)
		require.Equal(t, "https://shop.example.com", params.SiteURL)
		require.Equal(t, testRecipient, params.Recipient)

		return map[string]any{
			"payment_id": 555,
			"order_id":   1001,
			"site_url":   params.SiteURL,
			"status":     "recorded",
			"token":      "ICP",
		}
	})

	c := processing.NewClient(srv.URL, "svc-1")
	rec, err := c.GetPaymentByOrder(t.Context(), 1001, "https://shop.example.com", testRecipient)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, uint64(555), rec.PaymentID)
	require.Equal(t, types.StatusRecorded, rec.Status)
}

func Test_CreatePaymentRecord_AcceptsLegacyShape(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "create_payment_record", env.Method)
		return []any{"success", 399_920_000, 12.5, testRecipient}
	})

	c := processing.NewClient(srv.URL, "svc-1")
	rec, err := c.CreatePaymentRecord(t.Context(), processing.CreateRecordParams{
		OrderID:   1001,
		SiteURL:   "https://shop.example.com",
		SiteName:  "Example Shop",
		Platform:  "woocommerce",
		UsdAmount: 49.99,
		Token:     "ICP",
		Recipient: testRecipient,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1001), rec.PaymentID)
	require.Equal(t, uint64(399_920_000), rec.ExpectedAmount)
}

func Test_VerifyAndRecordPayment(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "verify_and_record_customer_payment", env.Method)

		var params struct {
			PaymentID      uint64 `json:"payment_id"`
			BlockIndex     uint64 `json:"block_index"`
			ReceivedAmount uint64 `json:"received_amount"`
		}
		require.NoError(t, json.Unmarshal(env.Params, &params))
		require.Equal(t, uint64(555), params.PaymentID)
		require.Equal(t, uint64(4211001), params.BlockIndex)
		require.Equal(t, uint64(399_920_000), params.ReceivedAmount)

		return map[string]any{"ok": map[string]any{
			"tx_id":      888,
			"verified":   true,
			"payment_id": 555,
		}}
	})

	c := processing.NewClient(srv.URL, "svc-1")
	res, err := c.VerifyAndRecordPayment(t.Context(), processing.VerifyParams{
		PaymentID:      555,
		OrderID:        1001,
		SiteURL:        "https://shop.example.com",
		Recipient:      testRecipient,
		BlockIndex:     4211001,
		ReceivedAmount: 399_920_000,
	})
	require.NoError(t, err)
	require.True(t, res.Verified)
	require.Equal(t, uint64(888), res.TxID)
}

func Test_RootKeyFetchedOnceOffMainnet(t *testing.T) {
	var statusHits atomic.Int64
	srv := newService(t, &statusHits, func(rpcEnvelope) any {
		return []any{}
	})

	c := processing.NewClient(srv.URL, "svc-1", processing.WithMainnet(false))

	_, err := c.TokenPrices(t.Context())
	require.NoError(t, err)
	_, err = c.TokenPrices(t.Context())
	require.NoError(t, err)

	require.Equal(t, int64(1), statusHits.Load(), "root key is fetched once per client")
	require.Equal(t, []byte("local-root-key"), c.RootKey())
}

func Test_MainnetNeverFetchesRootKey(t *testing.T) {
	var statusHits atomic.Int64
	srv := newService(t, &statusHits, func(rpcEnvelope) any {
		return []any{}
	})

	c := processing.NewClient(srv.URL, "svc-1")

	_, err := c.TokenPrices(t.Context())
	require.NoError(t, err)

	require.Zero(t, statusHits.Load())
	require.Nil(t, c.RootKey())
}

// flakyTransport fails the first n round trips at the transport level and
// then delegates.
type flakyTransport struct {
	failures int
	calls    atomic.Int64
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= int64(f.failures) {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func Test_Retry_IdempotentReadSurvivesTransportFailure(t *testing.T) {
	srv := newService(t, nil, func(env rpcEnvelope) any {
		require.Equal(t, "get_token_prices", env.Method)
		return []any{map[string]any{"token": "ICP", "price": 12.5}}
	})

	flaky := &flakyTransport{failures: 1, next: http.DefaultTransport}
	c := processing.NewClient(srv.URL, "svc-1",
		processing.WithRetry(2),
		processing.WithHTTPClient(&http.Client{Transport: flaky}),
	)

	prices, err := c.TokenPrices(t.Context())
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, int64(2), flaky.calls.Load())
}

func Test_Retry_NeverResendsMutations(t *testing.T) {
	srv := newService(t, nil, func(rpcEnvelope) any {
		t.Fatal("request must not reach the service")
		return nil
	})

	flaky := &flakyTransport{failures: 10, next: http.DefaultTransport}
	c := processing.NewClient(srv.URL, "svc-1",
		processing.WithRetry(3),
		processing.WithHTTPClient(&http.Client{Transport: flaky}),
	)

	_, err := c.CreatePaymentRecord(t.Context(), processing.CreateRecordParams{OrderID: 1})
	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Equal(t, int64(1), flaky.calls.Load(), "a mutation gets exactly one attempt")
}
