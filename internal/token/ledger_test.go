package token_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
)

func newUSDC(t *testing.T) *token.MemoryLedger {
	t.Helper()
	l := token.NewMemoryLedger(nmath.SettlementConfig)
	if err := l.Mint("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return l
}

func TestTransfer_MovesBalance(t *testing.T) {
	l := newUSDC(t)

	if err := l.Transfer("alice", "bob", big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.BalanceOf("alice").Int64(); got != 600 {
		t.Errorf("alice: got %d, want 600", got)
	}
	if got := l.BalanceOf("bob").Int64(); got != 400 {
		t.Errorf("bob: got %d, want 400", got)
	}
	if got := l.TotalSupply().Int64(); got != 1_000 {
		t.Errorf("supply: got %d, want 1000", got)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	l := newUSDC(t)

	err := l.Transfer("alice", "bob", big.NewInt(1_001))
	if !errors.Is(err, fault.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := l.BalanceOf("alice").Int64(); got != 1_000 {
		t.Errorf("failed transfer must not move funds, alice has %d", got)
	}
}

func TestTransfer_ZeroRecipient(t *testing.T) {
	l := newUSDC(t)
	if err := l.Transfer("alice", access.ZeroAddress, big.NewInt(1)); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	l := newUSDC(t)
	if err := l.Approve("alice", "treasury", big.NewInt(300)); err != nil {
		t.Fatal(err)
	}

	if err := l.TransferFrom("treasury", "alice", "treasury", big.NewInt(200)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := l.Allowance("alice", "treasury").Int64(); got != 100 {
		t.Errorf("allowance: got %d, want 100", got)
	}

	err := l.TransferFrom("treasury", "alice", "treasury", big.NewInt(101))
	if !errors.Is(err, fault.ErrInsufficientFunds) {
		t.Errorf("expected allowance failure, got %v", err)
	}
}

func TestHook_ErrorUndoesMovement(t *testing.T) {
	l := newUSDC(t)
	l.DrainMovements()
	boom := errors.New("recipient rejected")
	l.OnTransfer(func(m token.Movement) error {
		if m.To == "mallory" {
			return boom
		}
		return nil
	})

	if err := l.Transfer("alice", "mallory", big.NewInt(10)); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if got := l.BalanceOf("alice").Int64(); got != 1_000 {
		t.Errorf("alice: got %d, want 1000", got)
	}
	if got := l.BalanceOf("mallory").Sign(); got != 0 {
		t.Error("mallory should have nothing")
	}
	if n := len(l.DrainMovements()); n != 0 {
		t.Errorf("log: got %d entries, want 0", n)
	}
}

func TestCheckpoint_Restore(t *testing.T) {
	l := newUSDC(t)
	l.DrainMovements()
	_ = l.Approve("alice", "vault", big.NewInt(50))

	cp := l.Checkpoint()
	_ = l.Transfer("alice", "bob", big.NewInt(500))
	_ = l.Mint("bob", big.NewInt(7))
	_ = l.TransferFrom("vault", "alice", "vault", big.NewInt(50))

	l.Restore(cp)

	if got := l.BalanceOf("alice").Int64(); got != 1_000 {
		t.Errorf("alice: got %d, want 1000", got)
	}
	if got := l.BalanceOf("bob").Sign(); got != 0 {
		t.Errorf("bob should be empty after restore")
	}
	if got := l.Allowance("alice", "vault").Int64(); got != 50 {
		t.Errorf("allowance: got %d, want 50", got)
	}
	if got := l.TotalSupply().Int64(); got != 1_000 {
		t.Errorf("supply: got %d, want 1000", got)
	}
	if n := len(l.DrainMovements()); n != 0 {
		t.Errorf("log should be truncated, has %d", n)
	}
}

func TestExportImport(t *testing.T) {
	l := newUSDC(t)
	_ = l.Approve("alice", "vault", big.NewInt(5))

	other := token.NewMemoryLedger(nmath.SettlementConfig)
	if err := other.Import(l.Export()); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := other.BalanceOf("alice").Int64(); got != 1_000 {
		t.Errorf("alice: got %d, want 1000", got)
	}
	if got := other.Allowance("alice", "vault").Int64(); got != 5 {
		t.Errorf("allowance: got %d, want 5", got)
	}

	stake := token.NewMemoryLedger(nmath.StakeConfig)
	if err := stake.Import(l.Export()); err == nil {
		t.Error("importing USDC state into NEXO ledger should fail")
	}
}
