package treasury_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/testutil"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
)

var (
	usdc = testutil.USDC
	nexo = testutil.NEXO
)

const day = 24 * time.Hour

// newProtocol seeds the vault with 90,000,000 NEXO over 900,000 USDC and the
// treasury with 100,000 USDC, and funds the strategy for premiums.
func newProtocol(t *testing.T, mutate func(*treasury.Config)) *testutil.Protocol {
	t.Helper()
	cfg := treasury.DefaultConfig(testutil.Treasury)
	if mutate != nil {
		mutate(&cfg)
	}
	p := testutil.NewProtocol(t, cfg)
	p.SeedVault(t, nexo(90_000_000), usdc(900_000))
	p.SeedTreasury(t, usdc(100_000))
	p.Fund(t, testutil.Strategy, usdc(1_000_000), big.NewInt(0))
	return p
}

// openLock deposits premium and locks amount for the strategy, expiring in a day.
func openLock(t *testing.T, p *testutil.Protocol, premium, amount *big.Int) uint64 {
	t.Helper()
	call := p.Call(testutil.Strategy)
	if err := p.Treasury.DepositPremium(call, premium); err != nil {
		t.Fatalf("depositPremium: %v", err)
	}
	id, err := p.Treasury.LockLiquidityFor(call, testutil.Strategy, amount, p.Now.Add(day))
	if err != nil {
		t.Fatalf("lockLiquidityFor: %v", err)
	}
	return id
}

type poolState struct {
	total, lockedPremium, totalLocked, real *big.Int
}

func stateOf(p *testutil.Protocol) poolState {
	return poolState{
		total:         p.Treasury.TotalBalance(),
		lockedPremium: p.Treasury.LockedPremium(),
		totalLocked:   p.Treasury.TotalLocked(),
		real:          p.Treasury.RealBalance(),
	}
}

func assertState(t *testing.T, p *testutil.Protocol, total, lockedPremium, totalLocked, real *big.Int) {
	t.Helper()
	got := stateOf(p)
	if got.total.Cmp(total) != 0 {
		t.Errorf("totalBalance: got %s, want %s", got.total, total)
	}
	if got.lockedPremium.Cmp(lockedPremium) != 0 {
		t.Errorf("lockedPremium: got %s, want %s", got.lockedPremium, lockedPremium)
	}
	if got.totalLocked.Cmp(totalLocked) != 0 {
		t.Errorf("totalLocked: got %s, want %s", got.totalLocked, totalLocked)
	}
	if got.real.Cmp(real) != 0 {
		t.Errorf("realBalance: got %s, want %s", got.real, real)
	}
	if err := p.Treasury.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func assertKind(t *testing.T, err error, want *fault.Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s error, got %v", want.Kind, err)
	}
}

// ============================================================================
// Scenarios
// ============================================================================

func TestScenario_PayOffThenReplenishAfterTopUp(t *testing.T) {
	p := newProtocol(t, nil)

	id := openLock(t, p, usdc(10_000), usdc(10_000))
	if id != 0 {
		t.Errorf("first lock id: got %d, want 0", id)
	}
	assertState(t, p, usdc(110_000), usdc(10_000), usdc(10_000), usdc(110_000))

	res, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(70_000), testutil.Strategy)
	if err != nil {
		t.Fatalf("payOff: %v", err)
	}
	if res.Drawn.Sign() != 0 {
		t.Errorf("no draw expected without a minimum, drew %s", res.Drawn)
	}
	assertState(t, p, usdc(40_000), big.NewInt(0), big.NewInt(0), usdc(40_000))

	if err := p.USDC.Mint(testutil.Treasury, usdc(60_000)); err != nil {
		t.Fatal(err)
	}
	rep, err := p.Treasury.Replenish(p.Call(testutil.Strategy))
	if err != nil {
		t.Fatalf("replenish: %v", err)
	}
	if rep.Recognized.Cmp(usdc(60_000)) != 0 {
		t.Errorf("recognized: got %s, want %s", rep.Recognized, usdc(60_000))
	}
	assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_000))
}

func TestScenario_ReplenishDrawsToBenchmark(t *testing.T) {
	p := newProtocol(t, func(c *treasury.Config) { c.Benchmark = usdc(100_000) })

	id := openLock(t, p, usdc(10_000), usdc(10_000))
	if _, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(70_000), testutil.Strategy); err != nil {
		t.Fatalf("payOff: %v", err)
	}
	assertState(t, p, usdc(40_000), big.NewInt(0), big.NewInt(0), usdc(40_000))

	rep, err := p.Treasury.Replenish(p.Call(testutil.Strategy))
	if err != nil {
		t.Fatalf("replenish: %v", err)
	}
	if rep.Drawn.Cmp(usdc(60_000)) != 0 {
		t.Errorf("drawn: got %s, want %s", rep.Drawn, usdc(60_000))
	}
	assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_000))

	if got := p.Vault.Reserve(); got.Cmp(usdc(840_000)) != 0 {
		t.Errorf("vault reserve: got %s, want %s", got, usdc(840_000))
	}
}

func TestScenario_InsuranceCoversUncoveredPayout(t *testing.T) {
	p := newProtocol(t, func(c *treasury.Config) { c.Benchmark = usdc(100_000) })

	id := openLock(t, p, usdc(35_000), usdc(70_000))
	assertState(t, p, usdc(135_000), usdc(35_000), usdc(70_000), usdc(135_000))

	res, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(170_000), testutil.Strategy)
	if err != nil {
		t.Fatalf("payOff: %v", err)
	}
	if res.Drawn.Cmp(usdc(135_000)) != 0 {
		t.Errorf("drawn: got %s, want %s", res.Drawn, usdc(135_000))
	}
	assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_000))

	// 900,000 reserve less the 135,000 draw
	if got := p.Vault.Reserve(); got.Cmp(usdc(765_000)) != 0 {
		t.Errorf("vault reserve: got %s, want %s", got, usdc(765_000))
	}
}

func TestPayOff_ShortfallDrawsExactDeficit(t *testing.T) {
	p := newProtocol(t, func(c *treasury.Config) { c.MinimumBalance = usdc(50_000) })
	reserveBefore := p.Vault.Reserve()

	id := openLock(t, p, usdc(10_000), usdc(10_000))
	res, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(70_000), testutil.Strategy)
	if err != nil {
		t.Fatalf("payOff: %v", err)
	}

	// post-payoff balance 40,000, threshold 50,000
	if res.Drawn.Cmp(usdc(10_000)) != 0 {
		t.Errorf("drawn: got %s, want %s", res.Drawn, usdc(10_000))
	}
	assertState(t, p, usdc(50_000), big.NewInt(0), big.NewInt(0), usdc(50_000))

	delta := new(big.Int).Sub(reserveBefore, p.Vault.Reserve())
	if delta.Cmp(usdc(10_000)) != 0 {
		t.Errorf("vault reserve decrease: got %s, want %s", delta, usdc(10_000))
	}
}

func TestPayOff_InsufficientVaultLeavesStateUntouched(t *testing.T) {
	cfg := treasury.DefaultConfig(testutil.Treasury)
	cfg.MinimumBalance = usdc(100_000)
	p := testutil.NewProtocol(t, cfg)
	p.SeedVault(t, nexo(1_000), usdc(5))
	p.SeedTreasury(t, usdc(100_000))
	p.Fund(t, testutil.Strategy, usdc(1_000), big.NewInt(0))

	id := openLock(t, p, usdc(100), usdc(1_000))
	before := stateOf(p)

	_, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(1_000), testutil.Strategy)
	assertKind(t, err, fault.ErrInsufficientFunds)

	assertState(t, p, before.total, before.lockedPremium, before.totalLocked, before.real)
	if l, _ := p.Treasury.Lock(id); l.State != treasury.LockActive {
		t.Errorf("lock should still be active, is %s", l.State)
	}
}

func TestPayOff_KeepsActivePremiumBacked(t *testing.T) {
	p := newProtocol(t, nil)

	first := openLock(t, p, usdc(10_000), usdc(10_000))
	openLock(t, p, usdc(20_000), usdc(10_000))

	// 130,000 - 125,000 = 5,000 would leave the second lock's 20,000 premium unbacked
	res, err := p.Treasury.PayOff(p.Call(testutil.Strategy), first, usdc(125_000), testutil.Strategy)
	if err != nil {
		t.Fatalf("payOff: %v", err)
	}
	if res.Drawn.Cmp(usdc(15_000)) != 0 {
		t.Errorf("drawn: got %s, want %s", res.Drawn, usdc(15_000))
	}
	assertState(t, p, usdc(20_000), usdc(20_000), usdc(10_000), usdc(20_000))
}

// ============================================================================
// lockLiquidityFor
// ============================================================================

func TestLockLiquidityFor_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller access.Address
		amount *big.Int
		expiry time.Duration
		want   *fault.Error
	}{
		{"not a strategy", testutil.Alice, usdc(1_000), day, fault.ErrAuthorization},
		{"zero amount", testutil.Strategy, big.NewInt(0), day, fault.ErrInvalidArgument},
		{"expired already", testutil.Strategy, usdc(1_000), 0, fault.ErrTemporalViolation},
		{"beyond max period", testutil.Strategy, usdc(1_000), 46 * day, fault.ErrPolicyViolation},
		{"above exposure ceiling", testutil.Strategy, usdc(100_001), day, fault.ErrPolicyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProtocol(t, nil)
			_, err := p.Treasury.LockLiquidityFor(p.Call(tt.caller), tt.caller, tt.amount, p.Now.Add(tt.expiry))
			assertKind(t, err, tt.want)
			assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_000))
		})
	}
}

func TestLockLiquidityFor_UtilizationCeiling(t *testing.T) {
	p := newProtocol(t, func(c *treasury.Config) { c.MaxUtilizationBps = 5_000 })

	// premium counts toward the base: (100,000 + 10,000) * 50% = 55,000
	if err := p.Treasury.DepositPremium(p.Call(testutil.Strategy), usdc(10_000)); err != nil {
		t.Fatal(err)
	}
	_, err := p.Treasury.LockLiquidityFor(p.Call(testutil.Strategy), testutil.Strategy, usdc(55_001), p.Now.Add(day))
	assertKind(t, err, fault.ErrPolicyViolation)

	if _, err := p.Treasury.LockLiquidityFor(p.Call(testutil.Strategy), testutil.Strategy, usdc(55_000), p.Now.Add(day)); err != nil {
		t.Fatalf("lock at the ceiling should pass: %v", err)
	}
}

func TestLockLiquidityFor_ConsumesOnlyCallersPremium(t *testing.T) {
	p := newProtocol(t, nil)
	other := access.Address("put-strategy")
	p.Perms.Grant(access.RoleStrategy, other)
	p.Fund(t, other, usdc(1_000), big.NewInt(0))

	if err := p.Treasury.DepositPremium(p.Call(other), usdc(300)); err != nil {
		t.Fatal(err)
	}
	id := openLock(t, p, usdc(100), usdc(1_000))

	l, _ := p.Treasury.Lock(id)
	if l.Premium.Cmp(usdc(100)) != 0 {
		t.Errorf("premium: got %s, want %s", l.Premium, usdc(100))
	}
	if got := p.Treasury.PendingPremium(other); got.Cmp(usdc(300)) != 0 {
		t.Errorf("other strategy's pending premium: got %s, want %s", got, usdc(300))
	}
	if err := p.Treasury.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestLockIDsAreMonotonic(t *testing.T) {
	p := newProtocol(t, nil)
	for want := uint64(0); want < 5; want++ {
		if id := openLock(t, p, usdc(1), usdc(100)); id != want {
			t.Fatalf("got id %d, want %d", id, want)
		}
	}
	if got := len(p.Treasury.Locks(testutil.Strategy)); got != 5 {
		t.Errorf("locks for holder: got %d, want 5", got)
	}
}

// ============================================================================
// unlock / payOff state machine
// ============================================================================

func TestUnlock_Lifecycle(t *testing.T) {
	p := newProtocol(t, nil)
	id := openLock(t, p, usdc(100), usdc(1_000))

	assertKind(t, p.Treasury.Unlock(p.Call(testutil.Alice), id), fault.ErrTemporalViolation)

	p.Advance(day)
	// expiration == now is still not unlockable
	assertKind(t, p.Treasury.Unlock(p.Call(testutil.Alice), id), fault.ErrTemporalViolation)

	p.Advance(time.Second)
	if err := p.Treasury.Unlock(p.Call(testutil.Alice), id); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	assertState(t, p, usdc(100_100), big.NewInt(0), big.NewInt(0), usdc(100_100))

	assertKind(t, p.Treasury.Unlock(p.Call(testutil.Alice), id), fault.ErrInvalidState)
	_, err := p.Treasury.PayOff(p.Call(testutil.Strategy), id, usdc(1), testutil.Strategy)
	assertKind(t, err, fault.ErrInvalidState)
	assertKind(t, p.Treasury.Unlock(p.Call(testutil.Alice), 42), fault.ErrInvalidState)

	l, _ := p.Treasury.Lock(id)
	if l.Resolution != treasury.ResolutionUnlocked {
		t.Errorf("resolution: got %s, want unlocked", l.Resolution)
	}
}

func TestPayOff_RequiresLockHolder(t *testing.T) {
	p := newProtocol(t, nil)
	id := openLock(t, p, usdc(100), usdc(1_000))

	other := access.Address("put-strategy")
	p.Perms.Grant(access.RoleStrategy, other)

	_, err := p.Treasury.PayOff(p.Call(other), id, usdc(1), other)
	assertKind(t, err, fault.ErrAuthorization)

	_, err = p.Treasury.PayOff(p.Call(testutil.Alice), id, usdc(1), testutil.Alice)
	assertKind(t, err, fault.ErrAuthorization)
}

func TestPayOff_RejectsReentrantCall(t *testing.T) {
	p := newProtocol(t, nil)
	first := openLock(t, p, usdc(100), usdc(1_000))
	second := openLock(t, p, usdc(100), usdc(1_000))

	var reentryErr error
	p.USDC.OnTransfer(func(m token.Movement) error {
		if m.To != testutil.Mallory {
			return nil
		}
		_, reentryErr = p.Treasury.PayOff(p.Call(testutil.Strategy), second, usdc(50), testutil.Mallory)
		return nil
	})

	if _, err := p.Treasury.PayOff(p.Call(testutil.Strategy), first, usdc(50), testutil.Mallory); err != nil {
		t.Fatalf("payOff: %v", err)
	}
	assertKind(t, reentryErr, fault.ErrInvalidState)

	if l, _ := p.Treasury.Lock(second); l.State != treasury.LockActive {
		t.Error("re-entrant payoff must not settle the second lock")
	}
	if err := p.Treasury.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

// ============================================================================
// reconciliation and withdraw
// ============================================================================

func TestAddTokens_Idempotent(t *testing.T) {
	p := newProtocol(t, nil)
	if err := p.USDC.Mint(testutil.Treasury, usdc(5)); err != nil {
		t.Fatal(err)
	}

	first, _ := p.Treasury.AddTokens(p.Call(testutil.Alice))
	second, _ := p.Treasury.AddTokens(p.Call(testutil.Alice))

	if first.Cmp(usdc(5)) != 0 {
		t.Errorf("first: got %s, want %s", first, usdc(5))
	}
	if second.Sign() != 0 {
		t.Errorf("second call should recognize nothing, got %s", second)
	}
	assertState(t, p, usdc(100_005), big.NewInt(0), big.NewInt(0), usdc(100_005))
}

func TestAddTokens_SkipsPendingPremium(t *testing.T) {
	p := newProtocol(t, nil)
	if err := p.Treasury.DepositPremium(p.Call(testutil.Strategy), usdc(500)); err != nil {
		t.Fatal(err)
	}

	got, _ := p.Treasury.AddTokens(p.Call(testutil.Alice))
	if got.Sign() != 0 {
		t.Errorf("pending premium must not be recognized, got %s", got)
	}
	assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_500))
}

func TestReplenish_RequiresStrategy(t *testing.T) {
	p := newProtocol(t, nil)
	_, err := p.Treasury.Replenish(p.Call(testutil.Alice))
	assertKind(t, err, fault.ErrAuthorization)
}

func TestWithdraw_AfterUnlockReturnsToStart(t *testing.T) {
	p := newProtocol(t, nil)
	id := openLock(t, p, usdc(10_000), usdc(10_000))

	// the 10,000 premium backs the active lock
	err := p.Treasury.Withdraw(p.Call(testutil.Owner), testutil.Vault, usdc(100_001))
	assertKind(t, err, fault.ErrInsufficientFunds)

	p.Advance(day + time.Second)
	if err := p.Treasury.Unlock(p.Call(testutil.Owner), id); err != nil {
		t.Fatal(err)
	}
	if err := p.Treasury.Withdraw(p.Call(testutil.Owner), testutil.Vault, usdc(10_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertState(t, p, usdc(100_000), big.NewInt(0), big.NewInt(0), usdc(100_000))
}

func TestWithdraw_RequiresAdmin(t *testing.T) {
	p := newProtocol(t, nil)
	err := p.Treasury.Withdraw(p.Call(testutil.Strategy), testutil.Strategy, usdc(1))
	assertKind(t, err, fault.ErrAuthorization)
}

func TestDepositPremium_WithoutAllowance(t *testing.T) {
	p := newProtocol(t, nil)
	p.Perms.Grant(access.RoleStrategy, testutil.Alice)

	err := p.Treasury.DepositPremium(p.Call(testutil.Alice), usdc(10))
	assertKind(t, err, fault.ErrInsufficientFunds)
	if got := p.Treasury.PendingPremium(testutil.Alice); got.Sign() != 0 {
		t.Errorf("failed deposit left pending premium %s", got)
	}
}

// ============================================================================
// invariants under a mixed sequence
// ============================================================================

func TestInvariants_HoldAcrossMixedSequence(t *testing.T) {
	p := newProtocol(t, func(c *treasury.Config) { c.MinimumBalance = usdc(20_000) })
	call := func() access.Call { return p.Call(testutil.Strategy) }

	var ids []uint64
	for i := int64(1); i <= 6; i++ {
		ids = append(ids, openLock(t, p, usdc(i*500), usdc(i*3_000)))
		if err := p.Treasury.CheckInvariants(); err != nil {
			t.Fatalf("after lock %d: %v", i, err)
		}
	}

	for i, id := range ids {
		if i%2 == 0 {
			if _, err := p.Treasury.PayOff(call(), id, usdc(int64(i+1)*9_000), testutil.Alice); err != nil {
				t.Fatalf("payOff %d: %v", id, err)
			}
		}
		if err := p.Treasury.CheckInvariants(); err != nil {
			t.Fatalf("after settling %d: %v", id, err)
		}
	}

	p.Advance(2 * day)
	for i, id := range ids {
		if i%2 == 1 {
			if err := p.Treasury.Unlock(call(), id); err != nil {
				t.Fatalf("unlock %d: %v", id, err)
			}
		}
	}
	assertState(t, p, p.Treasury.TotalBalance(), big.NewInt(0), big.NewInt(0), p.Treasury.RealBalance())

	changed := p.Treasury.DrainChanges()
	if len(changed) != len(ids) {
		t.Errorf("drained changes: got %d, want %d", len(changed), len(ids))
	}
	if again := p.Treasury.DrainChanges(); len(again) != 0 {
		t.Errorf("second drain: got %d", len(again))
	}
}
