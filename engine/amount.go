package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// AmountDecimals is the fixed precision of every Amount.
const AmountDecimals = 18

var (
	// ErrArithmetic is returned when a checked operation overflows or underflows.
	ErrArithmetic = errors.New("arithmetic overflow or underflow")

	attosPerToken = uint256.NewInt(1_000_000_000_000_000_000)
	maxAmount     = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

// Amount is a non-negative token quantity with 18 decimals, bounded to 128 bits.
// The zero value is a valid zero amount.
type Amount struct {
	attos uint256.Int
}

// AmountFromAttos builds an Amount from its smallest unit.
func AmountFromAttos(attos uint64) Amount {
	var a Amount
	a.attos.SetUint64(attos)
	return a
}

// AmountFromTokens builds an Amount from a whole number of tokens.
func AmountFromTokens(tokens uint64) Amount {
	var a Amount
	a.attos.Mul(uint256.NewInt(tokens), attosPerToken)
	return a
}

// AmountFromUint256 converts a raw atto count, rejecting values above 128 bits.
func AmountFromUint256(v *uint256.Int) (Amount, error) {
	var a Amount
	if v == nil {
		return a, nil
	}
	if v.Gt(maxAmount) {
		return a, fmt.Errorf("%w: %s exceeds 128 bits", ErrArithmetic, v.Dec())
	}
	a.attos.Set(v)
	return a, nil
}

// ParseAmount parses a decimal token quantity such as "12.5".
func ParseAmount(s string) (Amount, error) {
	var a Amount
	s = strings.TrimSpace(s)
	if s == "" {
		return a, errors.New("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > AmountDecimals {
		return a, fmt.Errorf("amount %q has more than %d decimals", s, AmountDecimals)
	}
	if whole == "" {
		whole = "0"
	}
	var w, f uint256.Int
	if err := w.SetFromDecimal(whole); err != nil {
		return a, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if frac != "" {
		if err := f.SetFromDecimal(frac + strings.Repeat("0", AmountDecimals-len(frac))); err != nil {
			return a, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	if _, overflow := w.MulOverflow(&w, attosPerToken); overflow {
		return a, fmt.Errorf("%w: %s", ErrArithmetic, s)
	}
	w.Add(&w, &f)
	return AmountFromUint256(&w)
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Uint256 returns a copy of the atto count.
func (a Amount) Uint256() *uint256.Int { return new(uint256.Int).Set(&a.attos) }

func (a Amount) IsZero() bool { return a.attos.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.attos.Cmp(&b.attos) }

func (a Amount) Lt(b Amount) bool { return a.attos.Lt(&b.attos) }

func (a Amount) Gt(b Amount) bool { return a.attos.Gt(&b.attos) }

func (a Amount) Eq(b Amount) bool { return a.attos.Eq(&b.attos) }

// Add returns a+b or ErrArithmetic when the sum leaves the 128-bit range.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	out.attos.Add(&a.attos, &b.attos)
	if out.attos.Gt(maxAmount) {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrArithmetic, a, b)
	}
	return out, nil
}

// Sub returns a-b or ErrArithmetic when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.attos.Lt(&b.attos) {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrArithmetic, a, b)
	}
	var out Amount
	out.attos.Sub(&a.attos, &b.attos)
	return out, nil
}

// MulDiv returns floor(a*num/den) computed at 256-bit precision.
func (a Amount) MulDiv(num, den Amount) (Amount, error) {
	if den.IsZero() {
		return Amount{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	var p uint256.Int
	if _, overflow := p.MulOverflow(&a.attos, &num.attos); overflow {
		return Amount{}, fmt.Errorf("%w: %s * %s", ErrArithmetic, a, num)
	}
	p.Div(&p, &den.attos)
	return AmountFromUint256(&p)
}

// SaturatingAdd clamps at the maximum amount. Only for accumulators that carry no value.
func (a Amount) SaturatingAdd(b Amount) Amount {
	out, err := a.Add(b)
	if err != nil {
		var m Amount
		m.attos.Set(maxAmount)
		return m
	}
	return out
}

// SaturatingSub clamps at zero.
func (a Amount) SaturatingSub(b Amount) Amount {
	out, err := a.Sub(b)
	if err != nil {
		return Amount{}
	}
	return out
}

func MinAmount(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// String renders the amount as a decimal token quantity without trailing zeros.
func (a Amount) String() string {
	var whole, frac uint256.Int
	whole.DivMod(&a.attos, attosPerToken, &frac)
	if frac.IsZero() {
		return whole.Dec()
	}
	fs := frac.Dec()
	fs = strings.Repeat("0", AmountDecimals-len(fs)) + fs
	return whole.Dec() + "." + strings.TrimRight(fs, "0")
}

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(input []byte) error {
	parsed, err := ParseAmount(string(input))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
