// Package units validates caller input and converts between the ether
// amounts and dates used at the API surface and the wei integers and unix
// seconds stored on the ledger.
package units

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// EtherDecimals is the number of decimal places between ether and wei.
const EtherDecimals = 18

var (
	positiveDigits    = regexp.MustCompile(`^\+?[1-9]\d*$`)
	nonNegativeDigits = regexp.MustCompile(`^\+?[0-9]\d*$`)
)

// ValidateAddress checks that s is a 20-byte hex ledger address and returns
// it in checksummed form.
func ValidateAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a valid address", domain.ErrInvalidArgument, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount accepts a JSON number, a Go numeric value, a decimal or a
// string of decimal digits with an optional leading '+'. Numbers must be
// finite and positive; zero is also accepted when allowZero is set.
// Digit strings are integral by construction.
func ParseAmount(v any, allowZero bool) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch a := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("%w: amount is required", domain.ErrInvalidArgument)
	case string:
		pattern := positiveDigits
		if allowZero {
			pattern = nonNegativeDigits
		}
		if !pattern.MatchString(a) {
			return decimal.Zero, fmt.Errorf("%w: amount %q is not a valid number", domain.ErrInvalidArgument, a)
		}
		parsed, err := decimal.NewFromString(strings.TrimPrefix(a, "+"))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount %q: %v", domain.ErrInvalidArgument, a, err)
		}
		return parsed, nil
	case json.Number:
		parsed, err := decimal.NewFromString(a.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount %q is not a valid number", domain.ErrInvalidArgument, a.String())
		}
		d = parsed
	case decimal.Decimal:
		d = a
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return decimal.Zero, fmt.Errorf("%w: amount must be a finite number", domain.ErrInvalidArgument)
		}
		d = decimal.NewFromFloat(a)
	case float32:
		return ParseAmount(float64(a), allowZero)
	case int:
		d = decimal.NewFromInt(int64(a))
	case int64:
		d = decimal.NewFromInt(a)
	case uint64:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(a), 0)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported amount type %T", domain.ErrInvalidArgument, v)
	}
	if err := checkSign(d, allowZero); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// RequirePositive rejects zero and negative amounts.
func RequirePositive(d decimal.Decimal) error {
	return checkSign(d, false)
}

// RequireNonNegative rejects negative amounts.
func RequireNonNegative(d decimal.Decimal) error {
	return checkSign(d, true)
}

func checkSign(d decimal.Decimal, allowZero bool) error {
	if d.IsNegative() || (!allowZero && d.IsZero()) {
		bound := "greater than 0"
		if allowZero {
			bound = "0 or greater"
		}
		return fmt.Errorf("%w: amount %s must be %s", domain.ErrInvalidArgument, d.String(), bound)
	}
	if !d.Shift(EtherDecimals).IsInteger() {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", domain.ErrInvalidArgument, d.String(), EtherDecimals)
	}
	return nil
}

// EtherToWei scales an ether amount to wei. Digits beyond 18 decimal places
// are truncated; amounts that passed ParseAmount or RequirePositive have none.
func EtherToWei(d decimal.Decimal) *big.Int {
	return d.Shift(EtherDecimals).Truncate(0).BigInt()
}

// WeiToEther scales a wei integer to ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts RFC 3339 timestamps, plain calendar dates and unix
// seconds. Dates at or before the unix epoch are rejected.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", domain.ErrInvalidArgument)
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return validDate(SecondsToDate(secs), s)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return validDate(t.UTC(), s)
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a valid date", domain.ErrInvalidArgument, s)
}

func validDate(t time.Time, raw string) (time.Time, error) {
	if t.Unix() <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q is not a valid date", domain.ErrInvalidArgument, raw)
	}
	return t, nil
}

// DateToSeconds truncates t to whole unix seconds.
func DateToSeconds(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}

// SecondsToDate converts unix seconds to a UTC time.
func SecondsToDate(secs int64) time.Time {
	return time.Unix(secs, 0).UTC()
}
