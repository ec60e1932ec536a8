// internal/math/fixedpoint.go
package math

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// AssetConfig defines the fixed-point precision of an asset.
type AssetConfig struct {
	Symbol   string
	Decimals int32
}

var (
	// Standard configs
	SettlementConfig = AssetConfig{Symbol: "USDC", Decimals: 6}  // 0.000001 USDC
	StakeConfig      = AssetConfig{Symbol: "NEXO", Decimals: 18} // 1e-18 NEXO
)

// Unit returns 10^Decimals as a fresh big.Int.
func (c AssetConfig) Unit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.Decimals)), nil)
}

// Units converts a whole-token count into base units (Units(5) on USDC = 5_000_000).
func (c AssetConfig) Units(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), c.Unit())
}

// Format renders base units as a decimal token amount ("1.5" for 1_500_000 USDC).
func (c AssetConfig) Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -c.Decimals).String()
}

// Parse converts a decimal token amount into base units. Amounts with more
// fractional digits than the asset carries are rejected rather than rounded.
func (c AssetConfig) Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s amount %q: %w", c.Symbol, s, err)
	}
	scaled := d.Shift(c.Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("parse %s amount %q: more than %d decimals", c.Symbol, s, c.Decimals)
	}
	return scaled.BigInt(), nil
}

// scratch is a pooled big.Int for intermediate products
var scratchPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getScratch() *big.Int {
	return scratchPool.Get().(*big.Int)
}

func putScratch(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	scratchPool.Put(v)
}

// MulDiv returns floor(a * b / d) as a fresh big.Int. All inputs are
// non-negative in this codebase; d must be non-zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		panic("math: MulDiv by zero")
	}
	prod := getScratch()
	prod.Mul(a, b)
	out := new(big.Int).Quo(prod, d)
	putScratch(prod)
	return out
}

// MulDivOrZero is MulDiv that yields 0 when d is zero. Used for share
// valuations over an empty pool.
func MulDivOrZero(a, b, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		return new(big.Int)
	}
	return MulDiv(a, b, d)
}

// CeilDiv returns ceil(n / d) for non-negative n and positive d.
func CeilDiv(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Clamp returns v bounded to [lo, hi] (not copied). lo must not exceed hi.
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return lo
	}
	if v.Cmp(hi) > 0 {
		return hi
	}
	return v
}

// ScaleBps returns floor(v * bps / 10000).
func ScaleBps(v *big.Int, bps int64) *big.Int {
	return MulDiv(v, big.NewInt(bps), big.NewInt(10_000))
}

// Zero returns a fresh zero.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone copies v; nil clones to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Add returns a + b as a fresh big.Int.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a - b as a fresh big.Int.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Min returns the smaller of a and b (not copied).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// SaturatingSub returns max(a - b, 0).
func SaturatingSub(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}

// IsPositive reports v > 0, treating nil as zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// MustParseInt parses a base-10 integer, panicking on bad input.
// For constants in tests and defaults only.
func MustParseInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("math: invalid integer %q", s))
	}
	return v
}
