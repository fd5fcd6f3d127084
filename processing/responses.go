package processing

import (
	"encoding/json"
	"fmt"

	"github.com/Yogabuild/pybara-ic-protocol/types"
)

// rpcRequest is the wire envelope for one service call.
type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
	ID     string      `json:"id"`
}

// rpcResponse is the service's answer. Error is set when dispatch failed;
// Result carries the method payload otherwise.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
	ID     string          `json:"id"`
}

// RPCError is a service-side dispatch failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// resultEnvelope is the service's Result<T, string>: exactly one of ok and
// err is present.
type resultEnvelope struct {
	OK  json.RawMessage `json:"ok,omitempty"`
	Err *string         `json:"err,omitempty"`
}

// unwrapResult unpacks a Result<T, string> payload into out. An err arm
// becomes a RemoteServiceError with the service's message passed through
// unchanged.
func unwrapResult(raw json.RawMessage, out interface{}) error {
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed result envelope")
	}

	if env.Err != nil {
		return types.NewPaymentError(types.ErrRemoteService, "%s", *env.Err)
	}

	if env.OK == nil {
		return types.NewPaymentError(types.ErrInvalidResponse, "result carries neither ok nor err")
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(env.OK, out); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed ok payload")
	}

	return nil
}

// RecordOutcome is the union of the two shapes the service answers
// create_payment_record with: the current Result envelope, and the
// positional success array older service deployments still emit. Exactly
// one arm is set after a successful unmarshal; a service-reported failure
// in either generation surfaces as an error from UnmarshalJSON itself.
type RecordOutcome struct {
	Modern *types.RecordCreated
	Legacy *LegacyRecord
}

// LegacyRecord is the positional success shape,
// ["success", expected_amount, price_usd, recipient]. It carries no
// payment id.
type LegacyRecord struct {
	ExpectedAmount uint64
	PriceUsd       float64
	Recipient      string
}

func (o *RecordOutcome) UnmarshalJSON(data []byte) error {
	o.Modern = nil
	o.Legacy = nil

	switch firstToken(data) {
	case '[':
		return o.unmarshalLegacy(data)
	case '{':
		var rec types.RecordCreated
		if err := unwrapResult(data, &rec); err != nil {
			return err
		}
		o.Modern = &rec
		return nil
	default:
		return types.NewPaymentError(types.ErrInvalidResponse, "unrecognized record response shape")
	}
}

func (o *RecordOutcome) unmarshalLegacy(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "malformed legacy record response")
	}

	if len(arr) == 0 {
		return types.NewPaymentError(types.ErrInvalidResponse, "empty legacy record response")
	}

	var status string
	if err := json.Unmarshal(arr[0], &status); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "legacy record status is not a string")
	}
	if status != "success" {
		return types.NewPaymentError(types.ErrRemoteService, "%s", status)
	}
	if len(arr) < 4 {
		return types.NewPaymentError(types.ErrInvalidResponse, "legacy record response has %d fields, want 4", len(arr))
	}

	var legacy LegacyRecord
	if err := json.Unmarshal(arr[1], &legacy.ExpectedAmount); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "legacy expected_amount")
	}
	if err := json.Unmarshal(arr[2], &legacy.PriceUsd); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "legacy price_usd")
	}
	if err := json.Unmarshal(arr[3], &legacy.Recipient); err != nil {
		return types.WrapPaymentError(types.ErrInvalidResponse, err, "legacy recipient")
	}

	o.Legacy = &legacy
	return nil
}

// Normalize collapses the union into the current shape. The legacy arm
// carries no payment id, so one is synthesized from the order id; order
// ids share the per-site scope the order-based lookup resolves in.
func (o *RecordOutcome) Normalize(orderID uint64) (*types.RecordCreated, error) {
	switch {
	case o.Modern != nil:
		return o.Modern, nil
	case o.Legacy != nil:
		return &types.RecordCreated{
			PaymentID:      orderID,
			ExpectedAmount: o.Legacy.ExpectedAmount,
			PriceUsd:       o.Legacy.PriceUsd,
			Recipient:      o.Legacy.Recipient,
		}, nil
	default:
		return nil, types.NewPaymentError(types.ErrInvalidResponse, "record outcome is empty")
	}
}

// firstToken returns the first non-whitespace byte of a JSON document.
func firstToken(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}
