package util

import (
	"math/big"
	"testing"
)

func TestToDecimal(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		exp      string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1615796230433485760", 18, "1.61579623043348576"},
		{"1500000", 6, "1.5"},
		{"1", 6, "0.000001"},
		{"0", 18, "0"},
		{"42", 0, "42"},
	}

	for _, c := range cases {
		raw, _ := new(big.Int).SetString(c.raw, 10)
		if got := ToDecimal(raw, c.decimals); got != c.exp {
			t.Errorf("ToDecimal(%s, %d) = %s, expected %s", c.raw, c.decimals, got, c.exp)
		}
	}

	if got := ToDecimal(nil, 18); got != "0" {
		t.Errorf("ToDecimal(nil) = %s, expected 0", got)
	}
}
