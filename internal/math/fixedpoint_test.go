package math_test

import (
	"math/big"
	"testing"

	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

func TestMulDiv_Floors(t *testing.T) {
	got := nmath.MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3))
	if got.Int64() != 33 {
		t.Errorf("got %s, want 33", got)
	}
}

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		n, d, want int64
	}{
		{0, 7, 0},
		{14, 7, 2},
		{15, 7, 3},
		{1, 1_000_000, 1},
	}
	for _, tt := range tests {
		if got := nmath.CeilDiv(big.NewInt(tt.n), big.NewInt(tt.d)); got.Int64() != tt.want {
			t.Errorf("CeilDiv(%d, %d): got %s, want %d", tt.n, tt.d, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	lo, hi := big.NewInt(-2), big.NewInt(5)
	for _, tt := range []struct{ v, want int64 }{{-9, -2}, {3, 3}, {9, 5}} {
		if got := nmath.Clamp(big.NewInt(tt.v), lo, hi); got.Int64() != tt.want {
			t.Errorf("Clamp(%d): got %s, want %d", tt.v, got, tt.want)
		}
	}
}

func TestMulDiv_LargeOperands(t *testing.T) {
	// stake balance (18 decimals) times reserve (6 decimals) overflows int64
	bal := nmath.MustParseInt("1000000000000000000000000")
	reserve := nmath.MustParseInt("10100000000000")
	total := nmath.MustParseInt("101000000000000000000000000")

	got := nmath.MulDiv(bal, reserve, total)
	if got.String() != "100000000000" {
		t.Errorf("got %s, want 100000000000", got)
	}
}

func TestMulDivOrZero_EmptyPool(t *testing.T) {
	got := nmath.MulDivOrZero(big.NewInt(5), big.NewInt(5), big.NewInt(0))
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestSaturatingSub(t *testing.T) {
	if got := nmath.SaturatingSub(big.NewInt(3), big.NewInt(5)); got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
	if got := nmath.SaturatingSub(big.NewInt(5), big.NewInt(3)); got.Int64() != 2 {
		t.Errorf("got %s, want 2", got)
	}
}

func TestScaleBps(t *testing.T) {
	if got := nmath.ScaleBps(big.NewInt(110_000), 8_000); got.Int64() != 88_000 {
		t.Errorf("got %s, want 88000", got)
	}
}

// ============================================================================
// Unit conversion
// ============================================================================

func TestAssetConfig_ParseFormat(t *testing.T) {
	tests := []struct {
		cfg  nmath.AssetConfig
		in   string
		want string
	}{
		{nmath.SettlementConfig, "1.5", "1500000"},
		{nmath.SettlementConfig, "100000", "100000000000"},
		{nmath.StakeConfig, "0.000000000000000001", "1"},
		{nmath.StakeConfig, "495098", "495098000000000000000000"},
	}

	for _, tt := range tests {
		got, err := tt.cfg.Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("Parse(%q): got %s, want %s", tt.in, got, tt.want)
		}
		if back := tt.cfg.Format(got); back != tt.in {
			t.Errorf("Format(%s): got %q, want %q", got, back, tt.in)
		}
	}
}

func TestAssetConfig_ParseRejectsExcessPrecision(t *testing.T) {
	if _, err := nmath.SettlementConfig.Parse("0.0000001"); err == nil {
		t.Error("7 decimals on a 6-decimal asset should fail")
	}
	if _, err := nmath.SettlementConfig.Parse("abc"); err == nil {
		t.Error("garbage should fail")
	}
}

func TestAssetConfig_Units(t *testing.T) {
	if got := nmath.SettlementConfig.Units(100_000); got.String() != "100000000000" {
		t.Errorf("got %s", got)
	}
}
