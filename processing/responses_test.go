package processing_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yogabuild/pybara-ic-protocol/processing"
	"github.com/Yogabuild/pybara-ic-protocol/types"
)

const testRecipient = "o2ivq-5dsz3-nba5d-pwbk2-hdd3i-vybeq-qfz35-rqg27-lyesf-xghzc-3ae"

func Test_RecordOutcome_ModernOk(t *testing.T) {
	raw := `{"ok":{"payment_id":555,"expected_amount":399920000,"price_usd":12.5,"recipient":"` + testRecipient + `"}}`

	var out processing.RecordOutcome
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.NotNil(t, out.Modern)
	require.Nil(t, out.Legacy)

	rec, err := out.Normalize(1001)
	require.NoError(t, err)
	require.Equal(t, uint64(555), rec.PaymentID)
	require.Equal(t, uint64(399_920_000), rec.ExpectedAmount)
	require.Equal(t, 12.5, rec.PriceUsd)
	require.Equal(t, testRecipient, rec.Recipient)
}

func Test_RecordOutcome_ModernErrSurfacesServiceMessage(t *testing.T) {
	var out processing.RecordOutcome
	err := json.Unmarshal([]byte(`{"err":"order already paid"}`), &out)

	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Contains(t, err.Error(), "order already paid")
}

func Test_RecordOutcome_LegacySuccessSynthesizesPaymentID(t *testing.T) {
	raw := `["success", 399920000, 12.5, "` + testRecipient + `"]`

	var out processing.RecordOutcome
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.Nil(t, out.Modern)
	require.NotNil(t, out.Legacy)

	rec, err := out.Normalize(1001)
	require.NoError(t, err)
	require.Equal(t, uint64(1001), rec.PaymentID, "legacy shape carries no id, the order id stands in")
	require.Equal(t, uint64(399_920_000), rec.ExpectedAmount)
	require.Equal(t, 12.5, rec.PriceUsd)
	require.Equal(t, testRecipient, rec.Recipient)
}

func Test_RecordOutcome_LegacyFailureStatus(t *testing.T) {
	var out processing.RecordOutcome
	err := json.Unmarshal([]byte(`["error: site not registered"]`), &out)

	require.True(t, types.IsCode(err, types.ErrRemoteService))
	require.Contains(t, err.Error(), "site not registered")
}

func Test_RecordOutcome_MalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"number", `42`},
		{"bare string", `"success"`},
		{"empty array", `[]`},
		{"short success array", `["success", 399920000]`},
		{"non-string status", `[42, 1, 2, "x"]`},
		{"result with neither arm", `{"something":"else"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out processing.RecordOutcome
			err := json.Unmarshal([]byte(tc.raw), &out)
			require.Error(t, err)
			require.True(t, types.IsCode(err, types.ErrInvalidResponse), "got %v", err)
		})
	}
}

func Test_RecordOutcome_EmptyNormalize(t *testing.T) {
	var out processing.RecordOutcome
	_, err := out.Normalize(1)
	require.True(t, types.IsCode(err, types.ErrInvalidResponse))
}
