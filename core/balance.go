package core

import (
	"fmt"
	"math/big"
)

// parseBalance parses a decimal balance string into an exact rational.
// Balances are non-negative rationals per spec; callers that receive a
// malformed value should treat the owning block as unparseable (store
// fault), not panic.
func parseBalance(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("negative balance %q", s)
	}
	return r, nil
}

func formatBalance(r *big.Rat) string {
	return r.RatString()
}

// balanceDelta returns a-b.
func balanceDelta(a, b *big.Rat) *big.Rat {
	return new(big.Rat).Sub(a, b)
}
