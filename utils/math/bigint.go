package math

import (
	"math/big"
	"strings"
)

var (
	zero = big.NewInt(0)
	ten  = big.NewInt(10)
)

// IsPositive reports whether x is strictly greater than zero.
// A nil value is treated as zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// IsArbitrageProfitable reports whether a net profit (gas already deducted)
// is strictly positive and at least minProfit. A nil minProfit means zero.
func IsArbitrageProfitable(net, minProfit *big.Int) bool {
	if !IsPositive(net) {
		return false
	}
	return minProfit == nil || net.Cmp(minProfit) >= 0
}

// MulDiv returns x * y / d truncated toward zero. Division by zero yields zero.
func MulDiv(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	n := new(big.Int).Mul(x, y)
	return n.Quo(n, d)
}

// Pow10 returns 10^n
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Rescale converts an amount between two decimal precisions, truncating
// when precision is lost
func Rescale(x *big.Int, from, to uint8) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(x)
	case to > from:
		return new(big.Int).Mul(x, Pow10(to-from))
	default:
		return new(big.Int).Quo(x, Pow10(from-to))
	}
}

// ToDecimal renders a minor-unit amount as a whole-unit decimal string,
// e.g. ToDecimal(1500000000000000000, 18) == "1.5". Display only.
func ToDecimal(x *big.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	if decimals == 0 {
		return x.String()
	}

	s := new(big.Rat).SetFrac(x, Pow10(decimals)).FloatString(int(decimals))
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" || s == "-0" {
		return "0"
	}
	return s
}

// ToFloat converts x to a float64 for metrics. Never use the result for
// arithmetic that feeds a decision.
func ToFloat(x *big.Int, decimals uint8) float64 {
	if x == nil || x.Cmp(zero) == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(x, Pow10(decimals)).Float64()
	return f
}
