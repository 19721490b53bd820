package postgres

import (
	"fmt"
	"math/big"
)

// parseBig converts a NUMERIC column fetched as ::text into a big.Int.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

// bigOrZero renders a possibly-nil big.Int for insertion.
func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
