package domain

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"
)

// All monetary magnitudes are fixed-point integers scaled by 1e6. Fees and
// price bands are expressed in basis points.
const (
	PriceScale uint64 = 1_000_000
	BpsDenom   uint64 = 10_000
)

var ErrMathOverflow = errors.New("math overflow")

// MulDivFloor returns floor(a*b/denom) with a full 128-bit intermediate
// product, failing only when the quotient does not fit in 64 bits.
func MulDivFloor(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, errors.Wrap(ErrMathOverflow, "zero denominator")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= denom {
		return 0, errors.Wrap(ErrMathOverflow, "quotient exceeds 64 bits")
	}
	quo, _ := bits.Div64(hi, lo, denom)
	return quo, nil
}

// BpsOf returns floor(x*bps/10000). With bps bounded by BpsDenom the result
// always fits in 64 bits.
func BpsOf(x uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(x, uint64(bps))
	quo, _ := bits.Div64(hi, lo, BpsDenom)
	return quo
}

// Uint128 is an unsigned 128-bit accumulator for notional and fee aggregates,
// which can exceed 64 bits under realistic volumes.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

var MaxUint128 = Uint128{Hi: math.MaxUint64, Lo: math.MaxUint64}

func U128From64(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// MulToU128 returns the full 128-bit product a*b.
func MulToU128(a, b uint64) Uint128 {
	hi, lo := bits.Mul64(a, b)
	return Uint128{Hi: hi, Lo: lo}
}

// NotionalQuoteFP returns floor(amountBaseFP*limitPriceFP/1e6) without
// truncating the intermediate product.
func NotionalQuoteFP(amountBaseFP, limitPriceFP uint64) Uint128 {
	hi, lo := bits.Mul64(amountBaseFP, limitPriceFP)
	quoHi := hi / PriceScale
	rem := hi % PriceScale
	quoLo, _ := bits.Div64(rem, lo, PriceScale)
	return Uint128{Hi: quoHi, Lo: quoLo}
}

func (u Uint128) Add(v Uint128) (Uint128, error) {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, carry := bits.Add64(u.Hi, v.Hi, carry)
	if carry != 0 {
		return Uint128{}, errors.Wrap(ErrMathOverflow, "uint128 add overflow")
	}
	return Uint128{Hi: hi, Lo: lo}, nil
}

func (u Uint128) Sub(v Uint128) (Uint128, error) {
	lo, borrow := bits.Sub64(u.Lo, v.Lo, 0)
	hi, borrow := bits.Sub64(u.Hi, v.Hi, borrow)
	if borrow != 0 {
		return Uint128{}, errors.Wrap(ErrMathOverflow, "uint128 sub underflow")
	}
	return Uint128{Hi: hi, Lo: lo}, nil
}

func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi != v.Hi:
		if u.Hi < v.Hi {
			return -1
		}
		return 1
	case u.Lo != v.Lo:
		if u.Lo < v.Lo {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// Uint64 narrows to 64 bits, failing when the value does not fit.
func (u Uint128) Uint64() (uint64, error) {
	if u.Hi != 0 {
		return 0, errors.Wrap(ErrMathOverflow, "uint128 exceeds 64 bits")
	}
	return u.Lo, nil
}
