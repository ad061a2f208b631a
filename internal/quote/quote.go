// Package quote converts a token amount into the native-currency cost of
// buying it from the sale contract.
//
// Direction is fixed: the user enters tokens, the rate is tokens per one
// native unit (tradingRate()), so native = tokens / rate and fiat = native * price.
package quote

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Display precision.
const (
	TokenPlaces  = 2
	NativePlaces = 6
	FiatPlaces   = 2

	// divPrecision is how many fractional digits native amounts carry internally.
	divPrecision = 18

	// лимиты на ввод: целая часть и длина строки
	maxIntDigits = 36
	maxInputLen  = 128
)

var (
	ErrInvalidAmount = errors.New("amount must be a positive number")
	ErrTooPrecise    = errors.New("amount has more fractional digits than the currency supports")
	ErrNoRate        = errors.New("exchange rate not loaded")
)

// Quote is the result of one recalculation. Zero value means "no quote".
type Quote struct {
	Tokens decimal.Decimal
	Native decimal.Decimal
	Fiat   decimal.Decimal

	OK     bool // rate was known
	FiatOK bool // external price was known
}

func (q Quote) TokensText() string { return q.Tokens.StringFixed(TokenPlaces) }
func (q Quote) NativeText() string { return q.Native.StringFixed(NativePlaces) }
func (q Quote) FiatText() string   { return q.Fiat.StringFixed(FiatPlaces) }

// ParseAmount is the lenient parser used while the user types: anything that
// is not a non-negative plain decimal within range is treated as zero.
func ParseAmount(s string) decimal.Decimal {
	d, ok := parseBounded(s)
	if !ok || d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}

// ParseStrict is used before a purchase. Non-positive, unparsable or
// out-of-range input (exponent notation, more than 36 integer digits) is
// ErrInvalidAmount; more than `decimals` fractional digits is ErrTooPrecise.
func ParseStrict(s string, decimals int32) (decimal.Decimal, error) {
	d, ok := parseBounded(s)
	if !ok || d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.Shift(decimals).IsInteger() {
		return decimal.Zero, ErrTooPrecise
	}
	return d, nil
}

// parseBounded accepts plain decimal notation only. Exponents and oversized
// inputs are refused: every later step expands the value into a big.Int.
func parseBounded(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxInputLen || strings.ContainsAny(s, "eE") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if len(d.Abs().Truncate(0).String()) > maxIntDigits {
		return decimal.Zero, false
	}
	return d, true
}

// Calculate returns the native cost of `tokens` at `rate`, plus a fiat
// estimate when price > 0. With rate <= 0 it returns the "no quote" value.
func Calculate(tokens, rate, price decimal.Decimal) Quote {
	if rate.Sign() <= 0 {
		return Quote{}
	}
	if tokens.Sign() < 0 {
		tokens = decimal.Zero
	}
	q := Quote{
		Tokens: tokens,
		Native: tokens.DivRound(rate, divPrecision),
		OK:     true,
	}
	if price.Sign() > 0 {
		q.Fiat = q.Native.Mul(price)
		q.FiatOK = true
	}
	return q
}

// ToMinorUnits returns the payment, in minor units of a currency with
// `decimals` fractional digits, needed to buy `tokens` at `rate`.
// The division rounds up so the payment never buys less than requested.
func ToMinorUnits(tokens, rate decimal.Decimal, decimals int32) (*big.Int, error) {
	if rate.Sign() <= 0 {
		return nil, ErrNoRate
	}
	if tokens.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	scaled := tokens.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, ErrTooPrecise
	}

	r := new(big.Rat).SetInt(scaled.BigInt())
	r.Quo(r, rate.Rat())

	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// FormatMinor renders a minor-unit integer exactly, e.g. 5e16 wei -> "0.05".
func FormatMinor(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// FromMinor converts an on-chain integer into a decimal (used for the rate).
func FromMinor(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
