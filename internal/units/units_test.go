package units

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

func TestValidateAddress(t *testing.T) {
	addr, err := ValidateAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	require.NoError(t, err)
	assert.Equal(t, "0x8ba1f109551bD432803012645Ac136ddd64DBA72", addr.Hex())

	for _, bad := range []string{"", "0x123", "not-an-address", "0xZZa1f109551bd432803012645ac136ddd64dba72"} {
		_, err := ValidateAddress(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, bad)
	}
}

func TestParseAmount_Strings(t *testing.T) {
	tests := []struct {
		in        string
		allowZero bool
		want      string
		ok        bool
	}{
		{"100", false, "100", true},
		{"+7", false, "7", true},
		{"0", false, "", false},
		{"0", true, "0", true},
		{"+0", true, "0", true},
		{"-5", false, "", false},
		{"-5", true, "", false},
		{"1.5", false, "", false},
		{"abc", true, "", false},
		{"", true, "", false},
		{"01", false, "", false},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.allowZero)
		if !tt.ok {
			assert.ErrorIs(t, err, domain.ErrInvalidArgument, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got.String())
	}
}

func TestParseAmount_Numbers(t *testing.T) {
	got, err := ParseAmount(json.Number("2.5"), false)
	require.NoError(t, err)
	assert.Equal(t, "2.5", got.String())

	_, err = ParseAmount(json.Number("0"), false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, err = ParseAmount(json.Number("0"), true)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseAmount(math.NaN(), true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseAmount(-1.0, true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, err = ParseAmount(42, false)
	require.NoError(t, err)
	assert.Equal(t, "42", got.String())

	_, err = ParseAmount(nil, true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseAmount([]int{1}, true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAmountPrecision(t *testing.T) {
	_, err := ParseAmount(json.Number("1e-19"), false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseAmount(json.Number("1.0000000000000000001"), true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.ErrorIs(t, RequirePositive(decimal.RequireFromString("0.0000000000000000001")), domain.ErrInvalidArgument)
	assert.ErrorIs(t, RequireNonNegative(decimal.RequireFromString("0.0000000000000000005")), domain.ErrInvalidArgument)

	assert.NoError(t, RequirePositive(decimal.RequireFromString("0.000000000000000001")))
	assert.NoError(t, RequirePositive(decimal.RequireFromString("2.5000000000000000000")), "trailing zeros are exact")

	got, err := ParseAmount(json.Number("1e-18"), false)
	require.NoError(t, err)
	assert.Equal(t, "1", EtherToWei(got).String())
}

func TestEtherWeiConversion(t *testing.T) {
	wei := EtherToWei(decimal.NewFromInt(1))
	assert.Equal(t, "1000000000000000000", wei.String())

	wei = EtherToWei(decimal.RequireFromString("0.000000000000000001"))
	assert.Equal(t, "1", wei.String())

	wei = EtherToWei(decimal.RequireFromString("0.0000000000000000019"))
	assert.Equal(t, "1", wei.String(), "sub-wei digits are truncated")

	back := WeiToEther(EtherToWei(decimal.RequireFromString("123.456")))
	assert.True(t, back.Equal(decimal.RequireFromString("123.456")))

	assert.True(t, WeiToEther(nil).IsZero())
	assert.True(t, WeiToEther(big.NewInt(0)).IsZero())
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2030-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = ParseDate("2030-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1906502400), got.Unix())

	got, err = ParseDate("1906502400")
	require.NoError(t, err)
	assert.Equal(t, "2030-06-01T00:00:00Z", got.Format(time.RFC3339))

	for _, bad := range []string{"", "tomorrow", "2030-13-01", "0", "-10"} {
		_, err := ParseDate(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, bad)
	}
}

func TestDateSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2031, 3, 4, 5, 6, 7, 890, time.UTC)
	secs := DateToSeconds(ts)
	assert.Equal(t, ts.Unix(), secs.Int64())
	assert.Equal(t, ts.Truncate(time.Second), SecondsToDate(secs.Int64()))
}
