package vault

import (
	"fmt"
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// Checkpoint is an in-memory copy of the vault's mutable state.
type Checkpoint struct {
	balances           map[access.Address]*big.Int
	starts             map[access.Address]*big.Int
	total              *big.Int
	retired            *big.Int
	withdrawalsEnabled bool
	dirty              map[access.Address]struct{}
}

func copyAmounts(m map[access.Address]*big.Int) map[access.Address]*big.Int {
	out := make(map[access.Address]*big.Int, len(m))
	for k, v := range m {
		out[k] = nmath.Clone(v)
	}
	return out
}

func (v *Vault) Checkpoint() *Checkpoint {
	dirty := make(map[access.Address]struct{}, len(v.dirty))
	for h := range v.dirty {
		dirty[h] = struct{}{}
	}
	return &Checkpoint{
		balances:           copyAmounts(v.balances),
		starts:             copyAmounts(v.starts),
		total:              nmath.Clone(v.total),
		retired:            nmath.Clone(v.retired),
		withdrawalsEnabled: v.withdrawalsEnabled,
		dirty:              dirty,
	}
}

func (v *Vault) Restore(cp *Checkpoint) {
	v.balances = copyAmounts(cp.balances)
	v.starts = copyAmounts(cp.starts)
	v.total = nmath.Clone(cp.total)
	v.retired = nmath.Clone(cp.retired)
	v.withdrawalsEnabled = cp.withdrawalsEnabled
	v.dirty = make(map[access.Address]struct{}, len(cp.dirty))
	for h := range cp.dirty {
		v.dirty[h] = struct{}{}
	}
}

// CheckInvariants verifies stake conservation and that the holders' shares
// never exceed the reserve.
func (v *Vault) CheckInvariants() error {
	sumBal := new(big.Int)
	sumShare := new(big.Int)
	reserve := v.Reserve()
	for h, b := range v.balances {
		if b.Sign() < 0 {
			return fmt.Errorf("negative stake balance %s for %s", b, h)
		}
		sumBal.Add(sumBal, b)
		sumShare.Add(sumShare, v.shareAt(b, reserve, v.total))
	}
	for h, s := range v.starts {
		if s.Sign() < 0 {
			return fmt.Errorf("negative start balance %s for %s", s, h)
		}
	}
	if sumBal.Cmp(v.total) != 0 {
		return fmt.Errorf("totalBalance %s != sum of balances %s", v.total, sumBal)
	}
	if sumShare.Cmp(reserve) > 0 {
		return fmt.Errorf("sum of shares %s exceeds reserve %s", sumShare, reserve)
	}
	if v.retired.Sign() < 0 {
		return fmt.Errorf("negative retired stake %s", v.retired)
	}
	backed := nmath.Add(v.total, v.retired)
	if held := v.stake.BalanceOf(v.cfg.Address); held.Cmp(backed) < 0 {
		return fmt.Errorf("stake held %s below recognized %s", held, backed)
	}
	return nil
}

// HolderRecord is the serializable form of one holder.
type HolderRecord struct {
	Balance      string `json:"balance"`
	StartBalance string `json:"start_balance"`
}

// State is the serializable vault, used in snapshots.
type State struct {
	TotalBalance       string                  `json:"total_balance"`
	Retired            string                  `json:"retired"`
	WithdrawalsEnabled bool                    `json:"withdrawals_enabled"`
	Holders            map[string]HolderRecord `json:"holders"`
}

func (v *Vault) Export() State {
	st := State{
		TotalBalance:       v.total.String(),
		Retired:            v.retired.String(),
		WithdrawalsEnabled: v.withdrawalsEnabled,
		Holders:            make(map[string]HolderRecord, len(v.balances)),
	}
	for h, b := range v.balances {
		st.Holders[string(h)] = HolderRecord{
			Balance:      b.String(),
			StartBalance: nmath.Clone(v.starts[h]).String(),
		}
	}
	return st
}

func (v *Vault) Import(st State) error {
	total, ok := new(big.Int).SetString(st.TotalBalance, 10)
	if !ok {
		return fmt.Errorf("vault state: invalid total_balance %q", st.TotalBalance)
	}
	retired, ok := new(big.Int).SetString(st.Retired, 10)
	if !ok {
		return fmt.Errorf("vault state: invalid retired %q", st.Retired)
	}
	balances := make(map[access.Address]*big.Int, len(st.Holders))
	starts := make(map[access.Address]*big.Int, len(st.Holders))
	for h, rec := range st.Holders {
		b, ok := new(big.Int).SetString(rec.Balance, 10)
		if !ok {
			return fmt.Errorf("vault state: invalid balance %q for %s", rec.Balance, h)
		}
		s, ok := new(big.Int).SetString(rec.StartBalance, 10)
		if !ok {
			return fmt.Errorf("vault state: invalid start balance %q for %s", rec.StartBalance, h)
		}
		balances[access.Address(h)] = b
		starts[access.Address(h)] = s
	}
	v.total = total
	v.retired = retired
	v.withdrawalsEnabled = st.WithdrawalsEnabled
	v.balances = balances
	v.starts = starts
	v.dirty = make(map[access.Address]struct{})
	return nil
}
