package ledger_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Yogabuild/pybara-ic-protocol/ledger"
)

func Test_ToSmallest(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		decimals int
		want     uint64
	}{
		{"whole tokens", "5", 8, 500_000_000},
		{"fractional", "1.5", 8, 150_000_000},
		{"single smallest unit", "0.00000001", 8, 1},
		{"eighteen decimals", "0.000000000000000001", 18, 1},
		{"six decimals", "12.25", 6, 12_250_000},
		{"zero", "0", 8, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ledger.ToSmallest(tc.amount, tc.decimals)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func Test_ToSmallest_Rejects(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		decimals int
	}{
		{"empty", "", 8},
		{"not a number", "five", 8},
		{"negative", "-1", 8},
		{"too many fractional digits", "0.000000001", 8},
		{"beyond uint64", "990000000000", 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.ToSmallest(tc.amount, tc.decimals)
			require.Error(t, err)
		})
	}
}

func Test_FromSmallest(t *testing.T) {
	require.Equal(t, "1.5", ledger.FromSmallest(150_000_000, 8))
	require.Equal(t, "0.00000001", ledger.FromSmallest(1, 8))
	require.Equal(t, "0", ledger.FromSmallest(0, 8))
	require.Equal(t, "12.25", ledger.FromSmallest(12_250_000, 6))
	require.Equal(t, "1", ledger.FromSmallest(1_000_000_000_000_000_000, 18))
}

func Test_AmountRoundTrip(t *testing.T) {
	units := []uint64{1, 99, 100_000_000, 123_456_789, math.MaxUint64}

	for _, u := range units {
		s := ledger.FromSmallest(u, 8)
		back, err := ledger.ToSmallest(s, 8)
		require.NoError(t, err)
		require.Equal(t, u, back, "round trip through %q", s)
	}
}

func Test_QuoteSmallest_ExactQuotient(t *testing.T) {
	// $49.99 at $12.50 per token is exactly 3.9992 tokens.
	got, err := ledger.QuoteSmallest(49.99, 12.50, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(399_920_000), got)
}

func Test_QuoteSmallest_RoundsUp(t *testing.T) {
	// $10 at $3 per token repeats forever; the charge must round up so it
	// never undershoots the quoted value.
	got, err := ledger.QuoteSmallest(10, 3, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(333_333_334), got)
}

func Test_QuoteSmallest_Rejects(t *testing.T) {
	_, err := ledger.QuoteSmallest(10, 0, 8)
	require.Error(t, err)

	_, err = ledger.QuoteSmallest(0, 12.50, 8)
	require.Error(t, err)

	_, err = ledger.QuoteSmallest(-5, 12.50, 8)
	require.Error(t, err)
}

func Test_USDValue(t *testing.T) {
	require.InDelta(t, 49.99, ledger.USDValue(399_920_000, 8, 12.50), 1e-9)
	require.InDelta(t, 0, ledger.USDValue(0, 8, 12.50), 1e-9)
}
