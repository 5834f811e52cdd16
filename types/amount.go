package types

import (
	"fmt"
	"math/big"
)

// Amount is an arbitrary-precision non-negative integer. It crosses every
// interface boundary as a decimal string. The zero value is 0.
type Amount struct {
	v big.Int
}

// NewAmount returns an Amount holding x.
func NewAmount(x uint64) Amount {
	var a Amount
	a.v.SetUint64(x)
	return a
}

// AmountFromString parses a decimal string into an Amount. Negative values
// are rejected.
func AmountFromString(s string) (Amount, error) {
	var a Amount
	if _, ok := a.v.SetString(s, 10); !ok {
		return Amount{}, fmt.Errorf("amount: invalid decimal %q", s)
	}
	if a.v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount: negative value %q", s)
	}
	return a, nil
}

// String renders the amount as a decimal string.
func (a Amount) String() string {
	return a.v.String()
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Sign returns 0 for zero amounts and +1 otherwise.
func (a Amount) Sign() int {
	return a.v.Sign()
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// Sub returns a - b. The caller must have checked a >= b; balances never
// go negative.
func (a Amount) Sub(b Amount) Amount {
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := AmountFromString(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
