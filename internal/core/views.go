package core

import (
	"math/big"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// TreasuryView is a consistent read of the treasury aggregates.
type TreasuryView struct {
	Sequence      int64
	TotalBalance  *big.Int
	LockedPremium *big.Int
	TotalLocked   *big.Int
	PendingTotal  *big.Int
	RealBalance   *big.Int
	Unrecognized  *big.Int
	Available     *big.Int
	NextLockID    uint64
}

// VaultView is a consistent read of the vault aggregates.
type VaultView struct {
	Sequence           int64
	Reserve            *big.Int
	TotalBalance       *big.Int
	Retired            *big.Int
	WithdrawalsEnabled bool
}

// AuditReport feeds the periodic solvency gauges.
type AuditReport struct {
	Sequence      int64
	Treasury      TreasuryView
	Vault         VaultView
	ActiveLocks   int
	ExpiredActive int
	// BackingRatio is settlement base units per whole stake unit.
	BackingRatio *big.Int
}

func (c *Engine) Treasury() TreasuryView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasuryView()
}

func (c *Engine) treasuryView() TreasuryView {
	t := c.treasury
	return TreasuryView{
		Sequence:      c.sequence - 1,
		TotalBalance:  t.TotalBalance(),
		LockedPremium: t.LockedPremium(),
		TotalLocked:   t.TotalLocked(),
		PendingTotal:  t.PendingTotal(),
		RealBalance:   t.RealBalance(),
		Unrecognized:  t.Unrecognized(),
		Available:     t.Available(),
		NextLockID:    t.NextLockID(),
	}
}

func (c *Engine) Vault() VaultView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vaultView()
}

func (c *Engine) vaultView() VaultView {
	return VaultView{
		Sequence:           c.sequence - 1,
		Reserve:            c.vault.Reserve(),
		TotalBalance:       c.vault.TotalBalance(),
		Retired:            c.vault.Retired(),
		WithdrawalsEnabled: c.vault.WithdrawalsEnabled(),
	}
}

func (c *Engine) Lock(id uint64) (*treasury.Lock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasury.Lock(id)
}

// Locks lists locks held by holder, or every lock when holder is zero.
func (c *Engine) Locks(holder access.Address) []*treasury.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasury.Locks(holder)
}

func (c *Engine) Position(holder access.Address) (vault.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vault.Position(holder)
}

func (c *Engine) Positions() []vault.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vault.Positions()
}

// PendingPremium is holder's deposited premium awaiting a lock.
func (c *Engine) PendingPremium(holder access.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treasury.PendingPremium(holder)
}

// Balance reads an asset balance; asset is "settlement" or "stake".
func (c *Engine) Balance(asset string, addr access.Address) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch asset {
	case "settlement":
		return c.settlement.BalanceOf(addr), true
	case "stake":
		return c.stake.BalanceOf(addr), true
	}
	return nil, false
}

// HasRole reports whether addr holds role.
func (c *Engine) HasRole(role access.Role, addr access.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perms.Has(role, addr)
}

// Assets returns the settlement and stake asset configs.
func (c *Engine) Assets() (settlement, stake nmath.AssetConfig) {
	return c.settlement.Config(), c.stake.Config()
}

// Audit evaluates solvency gauges at now.
func (c *Engine) Audit(now time.Time) AuditReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := AuditReport{
		Sequence:      c.sequence - 1,
		Treasury:      c.treasuryView(),
		Vault:         c.vaultView(),
		ExpiredActive: c.treasury.ExpiredActive(now),
		BackingRatio:  new(big.Int),
	}
	for _, l := range c.treasury.Locks(access.ZeroAddress) {
		if l.State == treasury.LockActive {
			r.ActiveLocks++
		}
	}
	if r.Vault.TotalBalance.Sign() > 0 {
		r.BackingRatio = nmath.MulDiv(r.Vault.Reserve, c.stake.Config().Unit(), r.Vault.TotalBalance)
	}
	return r
}
