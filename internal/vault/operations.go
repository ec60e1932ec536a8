package vault

import (
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// SaveFreeTokens credits stake held by the vault but not recognized to the
// owner. The owner's basis rises by the absorbed stake's value so the
// bootstrap carries no profit. Settlement asset needs no absorbing: the
// reserve is always the live balance. Returns the absorbed stake.
func (v *Vault) SaveFreeTokens(call access.Call) (*big.Int, error) {
	const op = "vault.saveFreeTokens"
	if err := v.enter(op); err != nil {
		return nil, err
	}
	defer v.leave()

	held := v.stake.BalanceOf(v.cfg.Address)
	free := nmath.SaturatingSub(held, nmath.Add(v.total, v.retired))
	if free.Sign() == 0 {
		return free, nil
	}
	if v.cfg.Owner.IsZero() {
		return nil, fault.InvalidState(op, "vault has no owner to credit")
	}

	owner := v.cfg.Owner
	v.balanceRef(owner).Add(v.balanceRef(owner), free)
	v.total.Add(v.total, free)
	value := nmath.MulDiv(free, v.Reserve(), v.total)
	v.setStart(owner, nmath.Add(nmath.Clone(v.starts[owner]), value))
	v.touch(owner)
	return free, nil
}

// ClaimResult reports a profit claim.
type ClaimResult struct {
	Paid    *big.Int // settlement asset sent to the holder
	Retired *big.Int // stake removed from the holder's balance
}

func zeroClaim() ClaimResult {
	return ClaimResult{Paid: new(big.Int), Retired: new(big.Int)}
}

// ClaimProfit pays the caller's accrued profit. The profit is realized by
// retiring the stake whose value equals it, so every other holder's share
// is unchanged.
func (v *Vault) ClaimProfit(call access.Call) (ClaimResult, error) {
	const op = "vault.claimProfit"
	if err := v.enter(op); err != nil {
		return ClaimResult{}, err
	}
	defer v.leave()

	cp := v.Checkpoint()
	res, paid := v.claimEffects(call.Caller)
	if !paid {
		return ClaimResult{}, fault.ZeroEffect(op, "the claimable profit is zero")
	}
	if err := v.settlement.Transfer(v.cfg.Address, call.Caller, res.Paid); err != nil {
		v.Restore(cp)
		return ClaimResult{}, err
	}
	return res, nil
}

// claimEffects applies the ledger side of a claim and returns whether
// anything is payable. The settlement transfer is left to the caller, so
// start is computed against the reserve net of the payment.
func (v *Vault) claimEffects(h access.Address) (ClaimResult, bool) {
	reserve := v.Reserve()
	profit := nmath.SaturatingSub(v.shareAt(v.balances[h], reserve, v.total), nmath.Clone(v.starts[h]))
	if profit.Sign() == 0 {
		return zeroClaim(), false
	}
	retired := nmath.MulDiv(profit, v.total, reserve)
	if retired.Sign() == 0 {
		return zeroClaim(), false
	}
	paid := nmath.MulDiv(retired, reserve, v.total)

	prevStart := nmath.Clone(v.starts[h])
	bal := v.balanceRef(h)
	bal.Sub(bal, retired)
	v.total.Sub(v.total, retired)
	v.retired.Add(v.retired, retired)
	v.setStart(h, v.shareAt(bal, nmath.Sub(reserve, paid), v.total))
	v.touch(h)

	v.logger.Debug().
		Str("holder", string(h)).
		Str("paid", paid.String()).
		Str("retired", retired.String()).
		Str("prev_start", prevStart.String()).
		Msg("profit claimed")
	return ClaimResult{Paid: paid, Retired: retired}, true
}

// ProvideResult reports a deposit.
type ProvideResult struct {
	Claim  ClaimResult
	Pulled *big.Int // settlement asset pulled alongside the stake
}

// Provide deposits amount of stake from the caller. Accrued profit is paid
// first so the deposit does not dilute it. Settlement asset worth the
// stake at the current backing ratio is pulled with it.
func (v *Vault) Provide(call access.Call, amount *big.Int) (ProvideResult, error) {
	const op = "vault.provide"
	if !nmath.IsPositive(amount) {
		return ProvideResult{}, fault.InvalidArgument(op, "amount must be positive")
	}
	if err := v.enter(op); err != nil {
		return ProvideResult{}, err
	}
	defer v.leave()

	cp := v.Checkpoint()
	h := call.Caller
	claim, _ := v.claimEffects(h)

	reserve := nmath.Sub(v.Reserve(), claim.Paid)
	if v.total.Sign() == 0 && reserve.Sign() > 0 {
		v.Restore(cp)
		return ProvideResult{}, fault.Policy(op, "vault holds a reserve of %s but no recognized stake", reserve)
	}
	pull := nmath.MulDivOrZero(amount, reserve, v.total)

	prevBal := nmath.Clone(v.balances[h])
	prevStart := nmath.Clone(v.starts[h])
	bal := v.balanceRef(h)
	bal.Add(bal, amount)
	v.total.Add(v.total, amount)
	v.setStart(h, depositBasis(prevBal, prevStart, amount, v.shareAt(bal, nmath.Add(reserve, pull), v.total)))
	v.touch(h)

	// Pulls before the payout. Movements made before a failing one are
	// reverted by the engine's ledger checkpoint.
	if err := v.stake.TransferFrom(v.cfg.Address, h, v.cfg.Address, amount); err != nil {
		v.Restore(cp)
		return ProvideResult{}, err
	}
	if pull.Sign() > 0 {
		if err := v.settlement.TransferFrom(v.cfg.Address, h, v.cfg.Address, pull); err != nil {
			v.Restore(cp)
			return ProvideResult{}, err
		}
	}
	if claim.Paid.Sign() > 0 {
		if err := v.settlement.Transfer(v.cfg.Address, h, claim.Paid); err != nil {
			v.Restore(cp)
			return ProvideResult{}, err
		}
	}
	return ProvideResult{Claim: claim, Pulled: pull}, nil
}

// depositBasis is the holder's basis after depositing amount on top of
// prevBal. It is the post-deposit share, moved by at most the rounding
// needed so that withdrawing the same amount (basisCut) lands back on
// prevStart exactly. When the holder's basis sits above its share after a
// reserve loss, the loss stays attached to the existing stake.
func depositBasis(prevBal, prevStart, amount, share *big.Int) *big.Int {
	if prevBal.Sign() == 0 {
		return share
	}
	// basisCut keeps floor(start*prevBal/(prevBal+amount)); it equals
	// prevStart iff prevStart*amount <= added*prevBal < prevStart*amount + prevBal + amount.
	scaled := new(big.Int).Mul(prevStart, amount)
	lo := nmath.CeilDiv(scaled, prevBal)
	upper := new(big.Int).Add(scaled, prevBal)
	upper.Add(upper, amount)
	hi := nmath.CeilDiv(upper, prevBal)
	hi.Sub(hi, big.NewInt(1))

	added := nmath.Clamp(nmath.Sub(share, prevStart), lo, hi)
	return nmath.Add(prevStart, added)
}

// TransferShare moves amount of the caller's stake to to, along with the
// matching fraction of the caller's basis.
func (v *Vault) TransferShare(call access.Call, to access.Address, amount *big.Int) error {
	const op = "vault.transferShare"
	if to.IsZero() {
		return fault.InvalidArgument(op, "recipient is the zero address")
	}
	if !nmath.IsPositive(amount) {
		return fault.InvalidArgument(op, "amount must be positive")
	}
	from := call.Caller
	bal := nmath.Clone(v.balances[from])
	if amount.Cmp(bal) > 0 {
		return fault.InsufficientFunds(op, "stake balance %s is below %s", bal, amount)
	}
	if err := v.enter(op); err != nil {
		return err
	}
	defer v.leave()

	moved := v.basisCut(from, bal, amount)

	fromBal := v.balanceRef(from)
	fromBal.Sub(fromBal, amount)
	v.setStart(from, nmath.Sub(nmath.Clone(v.starts[from]), moved))

	toBal := v.balanceRef(to)
	toBal.Add(toBal, amount)
	v.setStart(to, nmath.Add(nmath.Clone(v.starts[to]), moved))

	v.touch(from)
	v.touch(to)
	return nil
}

// basisCut is the part of h's basis attached to amount out of bal. The
// remainder is floored so the rounding unit moves with the stake.
func (v *Vault) basisCut(h access.Address, bal, amount *big.Int) *big.Int {
	start := nmath.Clone(v.starts[h])
	keep := nmath.MulDiv(start, nmath.Sub(bal, amount), bal)
	return nmath.Sub(start, keep)
}

// WithdrawResult reports a withdrawal.
type WithdrawResult struct {
	Stake      *big.Int
	Settlement *big.Int
}

// Withdraw returns amount of stake to the caller together with the
// settlement asset it backs.
func (v *Vault) Withdraw(call access.Call, amount *big.Int) (WithdrawResult, error) {
	const op = "vault.withdraw"
	if !v.withdrawalsEnabled {
		return WithdrawResult{}, fault.Policy(op, "withdrawals are currently disabled")
	}
	if !nmath.IsPositive(amount) {
		return WithdrawResult{}, fault.InvalidArgument(op, "amount must be positive")
	}
	h := call.Caller
	bal := nmath.Clone(v.balances[h])
	if amount.Cmp(bal) > 0 {
		return WithdrawResult{}, fault.InsufficientFunds(op, "stake balance %s is below %s", bal, amount)
	}
	if err := v.enter(op); err != nil {
		return WithdrawResult{}, err
	}
	defer v.leave()

	cp := v.Checkpoint()
	out := nmath.MulDiv(amount, v.Reserve(), v.total)
	cut := v.basisCut(h, bal, amount)

	ref := v.balanceRef(h)
	ref.Sub(ref, amount)
	v.total.Sub(v.total, amount)
	v.setStart(h, nmath.Sub(nmath.Clone(v.starts[h]), cut))
	v.touch(h)

	if err := v.stake.Transfer(v.cfg.Address, h, amount); err != nil {
		v.Restore(cp)
		return WithdrawResult{}, err
	}
	if err := v.settlement.Transfer(v.cfg.Address, h, out); err != nil {
		v.Restore(cp)
		return WithdrawResult{}, err
	}
	return WithdrawResult{Stake: nmath.Clone(amount), Settlement: out}, nil
}

// Transfer pays amount of the reserve to to. No holder balance changes:
// every holder absorbs the loss through a lower share. Restricted to the
// admin and insurer roles; the treasury draws through it.
func (v *Vault) Transfer(call access.Call, to access.Address, amount *big.Int) error {
	const op = "vault.transfer"
	if err := call.Require(op, access.RoleAdmin, access.RoleInsurer); err != nil {
		return err
	}
	if to.IsZero() {
		return fault.InvalidArgument(op, "recipient is the zero address")
	}
	if !nmath.IsPositive(amount) {
		return fault.InvalidArgument(op, "amount must be positive")
	}
	if reserve := v.Reserve(); reserve.Cmp(amount) < 0 {
		return fault.InsufficientFunds(op, "reserve %s is below %s", reserve, amount)
	}
	if err := v.enter(op); err != nil {
		return err
	}
	defer v.leave()

	v.logger.Info().
		Str("caller", string(call.Caller)).
		Str("to", string(to)).
		Str("amount", amount.String()).
		Msg("reserve transfer")
	return v.settlement.Transfer(v.cfg.Address, to, amount)
}

// SetWithdrawalsEnabled toggles the withdrawal gate.
func (v *Vault) SetWithdrawalsEnabled(call access.Call, enabled bool) error {
	if err := call.Require("vault.setWithdrawalsEnabled", access.RoleAdmin); err != nil {
		return err
	}
	v.withdrawalsEnabled = enabled
	return nil
}

// SweepRetired moves stake retired by claims out of the vault.
func (v *Vault) SweepRetired(call access.Call, to access.Address) (*big.Int, error) {
	const op = "vault.sweepRetired"
	if err := call.Require(op, access.RoleAdmin); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, fault.InvalidArgument(op, "recipient is the zero address")
	}
	if v.retired.Sign() == 0 {
		return nil, fault.ZeroEffect(op, "no retired stake to sweep")
	}
	if err := v.enter(op); err != nil {
		return nil, err
	}
	defer v.leave()

	swept := nmath.Clone(v.retired)
	v.retired.SetInt64(0)
	if err := v.stake.Transfer(v.cfg.Address, to, swept); err != nil {
		v.retired.Set(swept)
		return nil, err
	}
	return swept, nil
}
