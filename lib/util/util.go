// Package util contains helper functions used around the code.
package util

import (
	"math/big"
	"strings"
)

// ToDecimal converts a raw big.Int amount into a decimal string scaled down by the given number of decimals
// (ie. wei to ether with decimals=18). Trailing zeros in the fraction are trimmed.
func ToDecimal(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}

	f := new(big.Float).SetInt(raw)
	div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, div)

	s := f.Text('f', int(decimals))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}

	return s
}
