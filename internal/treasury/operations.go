package treasury

import (
	"math/big"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// AddTokens recognizes held settlement asset beyond totalBalance (and
// beyond pending premium deposits). Open to anyone. Returns the amount
// recognized, zero when there was nothing to absorb.
func (t *Treasury) AddTokens(call access.Call) (*big.Int, error) {
	if err := t.enter("treasury.addTokens"); err != nil {
		return nil, err
	}
	defer t.leave()
	return t.reconcile(), nil
}

func (t *Treasury) reconcile() *big.Int {
	delta := t.Unrecognized()
	if delta.Sign() > 0 {
		t.totalBalance.Add(t.totalBalance, delta)
	}
	return delta
}

// DepositPremium pulls amount from the caller (who must have approved the
// treasury) and parks it as the caller's pending premium. The next
// LockLiquidityFor by the same caller consumes it.
func (t *Treasury) DepositPremium(call access.Call, amount *big.Int) error {
	const op = "treasury.depositPremium"
	if err := call.Require(op, access.RoleStrategy); err != nil {
		return err
	}
	if !nmath.IsPositive(amount) {
		return fault.InvalidArgument(op, "premium must be positive")
	}
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.leave()

	cp := t.Checkpoint()
	p, ok := t.pending[call.Caller]
	if !ok {
		p = new(big.Int)
		t.pending[call.Caller] = p
	}
	p.Add(p, amount)
	t.pendingTotal.Add(t.pendingTotal, amount)

	if err := t.asset.TransferFrom(t.cfg.Address, call.Caller, t.cfg.Address, amount); err != nil {
		t.Restore(cp)
		return err
	}
	return nil
}

// LockLiquidityFor opens a lock of amount for holder, consuming the
// caller's pending premium. Returns the new lock id.
func (t *Treasury) LockLiquidityFor(call access.Call, holder access.Address, amount *big.Int, expiration time.Time) (uint64, error) {
	const op = "treasury.lockLiquidityFor"
	if err := call.Require(op, access.RoleStrategy); err != nil {
		return 0, err
	}
	if holder.IsZero() {
		return 0, fault.InvalidArgument(op, "holder is the zero address")
	}
	if !nmath.IsPositive(amount) {
		return 0, fault.InvalidArgument(op, "lock amount must be positive")
	}
	if !expiration.After(call.Now) {
		return 0, fault.Temporal(op, "expiration %s is not after %s",
			expiration.UTC().Format(time.RFC3339), call.Now.UTC().Format(time.RFC3339))
	}
	if limit := t.cfg.MaxLockPeriod; limit > 0 && expiration.Sub(call.Now) > limit {
		return 0, fault.Policy(op, "expiration is more than %s away", limit)
	}
	if err := t.enter(op); err != nil {
		return 0, err
	}
	defer t.leave()

	premium := nmath.Clone(t.pending[call.Caller])
	newTotal := nmath.Add(t.totalBalance, premium)
	ceiling := nmath.ScaleBps(newTotal, t.cfg.MaxUtilizationBps)
	exposure := nmath.Add(t.totalLocked, amount)
	if exposure.Cmp(ceiling) > 0 {
		return 0, fault.Policy(op, "exposure %s would exceed ceiling %s", exposure, ceiling)
	}

	id := t.nextID
	t.nextID++
	t.locks[id] = &Lock{
		ID:         id,
		Holder:     holder,
		Amount:     nmath.Clone(amount),
		Premium:    premium,
		Expiration: expiration,
		State:      LockActive,
		Payout:     new(big.Int),
		CreatedAt:  call.Now,
	}
	t.totalBalance = newTotal
	t.lockedPremium.Add(t.lockedPremium, premium)
	t.totalLocked = exposure
	delete(t.pending, call.Caller)
	t.pendingTotal.Sub(t.pendingTotal, premium)
	t.markDirty(id)
	return id, nil
}

// Unlock releases an expired, unexercised lock. Open to anyone.
// totalBalance is unchanged: the premium was recognized at lock time.
func (t *Treasury) Unlock(call access.Call, id uint64) error {
	const op = "treasury.unlock"
	l, err := t.activeLock(op, id)
	if err != nil {
		return err
	}
	if !l.IsExpired(call.Now) {
		return fault.Temporal(op, "lock %d expires at %s", id, l.Expiration.UTC().Format(time.RFC3339))
	}
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.leave()

	t.settle(l, ResolutionUnlocked, new(big.Int), call.Now)
	return nil
}

// PayOffResult reports what a payoff moved.
type PayOffResult struct {
	Paid  *big.Int
	Drawn *big.Int
}

// PayOff settles an exercised lock, paying payout to to. If the payout
// leaves totalBalance below the shortfall threshold the deficit is drawn
// from the vault within the same operation.
func (t *Treasury) PayOff(call access.Call, id uint64, payout *big.Int, to access.Address) (PayOffResult, error) {
	const op = "treasury.payOff"
	if err := call.Require(op, access.RoleStrategy); err != nil {
		return PayOffResult{}, err
	}
	if to.IsZero() {
		return PayOffResult{}, fault.InvalidArgument(op, "recipient is the zero address")
	}
	if payout == nil || payout.Sign() < 0 {
		return PayOffResult{}, fault.InvalidArgument(op, "negative payout")
	}
	l, err := t.activeLock(op, id)
	if err != nil {
		return PayOffResult{}, err
	}
	if l.Holder != call.Caller {
		return PayOffResult{}, fault.Authorization(op, "lock %d is held by %s", id, l.Holder)
	}
	if err := t.enter(op); err != nil {
		return PayOffResult{}, err
	}
	defer t.leave()

	// Checks
	post := nmath.Sub(t.totalBalance, payout)
	premiumAfter := nmath.Sub(t.lockedPremium, l.Premium)
	draw := t.shortfall(post, premiumAfter)
	if draw.Sign() > 0 {
		if err := t.checkBackstop(op, draw); err != nil {
			return PayOffResult{}, err
		}
	}

	// Effects
	cp := t.Checkpoint()
	t.settle(l, ResolutionPaidOff, payout, call.Now)
	t.totalBalance = post.Add(post, draw)

	// Interactions
	if draw.Sign() > 0 {
		t.logger.Warn().
			Uint64("lock_id", id).
			Str("payout", payout.String()).
			Str("draw", draw.String()).
			Msg("shortfall draw from vault")
		if err := t.backstop.Transfer(call.As(t.cfg.Address), t.cfg.Address, draw); err != nil {
			t.Restore(cp)
			return PayOffResult{}, err
		}
	}
	if err := t.asset.Transfer(t.cfg.Address, to, payout); err != nil {
		t.Restore(cp)
		return PayOffResult{}, err
	}
	return PayOffResult{Paid: nmath.Clone(payout), Drawn: draw}, nil
}

// shortfall returns how much must be drawn so that a post-payout balance
// of post meets the threshold. The threshold never drops below the premium
// still backing active locks.
func (t *Treasury) shortfall(post, premiumAfter *big.Int) *big.Int {
	threshold := t.cfg.MinimumBalance
	if premiumAfter.Cmp(threshold) > 0 {
		threshold = premiumAfter
	}
	if post.Cmp(threshold) >= 0 {
		return new(big.Int)
	}
	target := threshold
	if t.cfg.Benchmark.Cmp(target) > 0 {
		target = t.cfg.Benchmark
	}
	return nmath.Sub(target, post)
}

func (t *Treasury) checkBackstop(op string, draw *big.Int) error {
	if t.backstop == nil {
		return fault.InsufficientFunds(op, "no vault configured to cover a draw of %s", draw)
	}
	if reserve := t.backstop.AvailableBalance(); reserve.Cmp(draw) < 0 {
		return fault.InsufficientFunds(op, "vault reserve %s cannot cover a draw of %s", reserve, draw)
	}
	return nil
}

// ReplenishResult reports what replenish recognized and drew.
type ReplenishResult struct {
	Recognized *big.Int
	Drawn      *big.Int
}

// Replenish reconciles like AddTokens, then tops totalBalance up to the
// benchmark from the vault when one is configured.
func (t *Treasury) Replenish(call access.Call) (ReplenishResult, error) {
	const op = "treasury.replenish"
	if err := call.Require(op, access.RoleStrategy); err != nil {
		return ReplenishResult{}, err
	}
	if err := t.enter(op); err != nil {
		return ReplenishResult{}, err
	}
	defer t.leave()

	cp := t.Checkpoint()
	res := ReplenishResult{Recognized: t.reconcile(), Drawn: new(big.Int)}

	if t.cfg.Benchmark.Sign() > 0 && t.totalBalance.Cmp(t.cfg.Benchmark) < 0 {
		draw := nmath.Sub(t.cfg.Benchmark, t.totalBalance)
		if err := t.checkBackstop(op, draw); err != nil {
			t.Restore(cp)
			return ReplenishResult{}, err
		}
		t.totalBalance.Add(t.totalBalance, draw)
		if err := t.backstop.Transfer(call.As(t.cfg.Address), t.cfg.Address, draw); err != nil {
			t.Restore(cp)
			return ReplenishResult{}, err
		}
		res.Drawn = draw
	}
	return res, nil
}

// Withdraw sends amount of recognized capital to to. Funds backing active
// premiums cannot be withdrawn.
func (t *Treasury) Withdraw(call access.Call, to access.Address, amount *big.Int) error {
	const op = "treasury.withdraw"
	if err := call.Require(op, access.RoleAdmin); err != nil {
		return err
	}
	if to.IsZero() {
		return fault.InvalidArgument(op, "recipient is the zero address")
	}
	if !nmath.IsPositive(amount) {
		return fault.InvalidArgument(op, "amount must be positive")
	}
	if avail := t.Available(); amount.Cmp(avail) > 0 {
		return fault.InsufficientFunds(op, "amount %s exceeds available %s", amount, avail)
	}
	if err := t.enter(op); err != nil {
		return err
	}
	defer t.leave()

	cp := t.Checkpoint()
	t.totalBalance.Sub(t.totalBalance, amount)
	if err := t.asset.Transfer(t.cfg.Address, to, amount); err != nil {
		t.Restore(cp)
		return err
	}
	return nil
}

func (t *Treasury) activeLock(op string, id uint64) (*Lock, error) {
	l, ok := t.locks[id]
	if !ok {
		return nil, fault.InvalidState(op, "lock %d does not exist", id)
	}
	if l.State != LockActive {
		return nil, fault.InvalidState(op, "lock %d is already %s", id, l.Resolution)
	}
	return l, nil
}

func (t *Treasury) settle(l *Lock, res Resolution, payout *big.Int, now time.Time) {
	l.State = LockSettled
	l.Resolution = res
	l.Payout = nmath.Clone(payout)
	l.SettledAt = now
	t.totalLocked.Sub(t.totalLocked, l.Amount)
	t.lockedPremium.Sub(t.lockedPremium, l.Premium)
	t.markDirty(l.ID)
}
