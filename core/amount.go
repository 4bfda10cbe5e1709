package core

import (
	"fmt"
	"math/big"
)

// TokenAmount is a resource amount in indivisible subunits. The zero value is
// a valid amount of zero.
type TokenAmount struct {
	i big.Int
}

func TokenAmountFromSubunits(v int64) TokenAmount {
	var a TokenAmount
	a.i.SetInt64(v)

	return a
}

func TokenAmountFromString(s string) (TokenAmount, error) {
	var a TokenAmount
	if _, ok := a.i.SetString(s, 10); !ok {
		return TokenAmount{}, fmt.Errorf("invalid token amount %q", s)
	}

	return a, nil
}

// BigInt returns a copy safe for the caller to mutate.
func (a TokenAmount) BigInt() *big.Int {
	return new(big.Int).Set(&a.i)
}

func (a TokenAmount) String() string {
	return a.i.String()
}

func (a TokenAmount) IsZero() bool {
	return a.i.Sign() == 0
}

func (a TokenAmount) Equal(b TokenAmount) bool {
	return a.i.Cmp(&b.i) == 0
}
