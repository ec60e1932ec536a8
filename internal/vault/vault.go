// Package vault implements the insurance/staking vault. Stake-asset
// balances are share weights over a settlement-asset reserve; growth of
// the reserve is profit, claimable pro-rata above each holder's basis.
package vault

import (
	"math/big"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
)

// Config identifies the vault on both ledgers.
type Config struct {
	// Address is the vault's account on the settlement and stake ledgers.
	Address access.Address
	// Owner receives stake absorbed by SaveFreeTokens.
	Owner access.Address
	// WithdrawalsEnabled is the initial state of the withdrawal gate.
	WithdrawalsEnabled bool
}

// Position is one holder's view of the vault.
type Position struct {
	Holder       access.Address
	Balance      *big.Int
	StartBalance *big.Int
	Share        *big.Int
	Profit       *big.Int
}

// Vault is not safe for concurrent use; the engine serializes calls.
type Vault struct {
	cfg        Config
	settlement token.Ledger
	stake      token.Ledger
	logger     zerolog.Logger

	balances map[access.Address]*big.Int
	starts   map[access.Address]*big.Int
	total    *big.Int
	retired  *big.Int

	withdrawalsEnabled bool

	entered bool
	dirty   map[access.Address]struct{}
}

func New(cfg Config, settlement, stake token.Ledger, logger zerolog.Logger) *Vault {
	return &Vault{
		cfg:                cfg,
		settlement:         settlement,
		stake:              stake,
		logger:             logger.With().Str("component", "vault").Logger(),
		balances:           make(map[access.Address]*big.Int),
		starts:             make(map[access.Address]*big.Int),
		total:              new(big.Int),
		retired:            new(big.Int),
		withdrawalsEnabled: cfg.WithdrawalsEnabled,
		dirty:              make(map[access.Address]struct{}),
	}
}

func (v *Vault) Address() access.Address { return v.cfg.Address }

func (v *Vault) Owner() access.Address { return v.cfg.Owner }

// Reserve is the settlement asset the vault holds.
func (v *Vault) Reserve() *big.Int {
	return v.settlement.BalanceOf(v.cfg.Address)
}

// AvailableBalance is the reserve available to the treasury's draws.
func (v *Vault) AvailableBalance() *big.Int {
	return v.Reserve()
}

// TotalBalance is the recognized stake, the sum of all holder balances.
func (v *Vault) TotalBalance() *big.Int { return nmath.Clone(v.total) }

// Retired is stake removed from circulation by profit claims and not yet swept.
func (v *Vault) Retired() *big.Int { return nmath.Clone(v.retired) }

func (v *Vault) WithdrawalsEnabled() bool { return v.withdrawalsEnabled }

func (v *Vault) BalanceOf(h access.Address) *big.Int { return nmath.Clone(v.balances[h]) }

func (v *Vault) StartBalance(h access.Address) *big.Int { return nmath.Clone(v.starts[h]) }

// ShareOf is h's pro-rata claim on the reserve.
func (v *Vault) ShareOf(h access.Address) *big.Int {
	return v.shareAt(v.balances[h], v.Reserve(), v.total)
}

func (v *Vault) shareAt(bal, reserve, total *big.Int) *big.Int {
	if bal == nil {
		return new(big.Int)
	}
	return nmath.MulDivOrZero(bal, reserve, total)
}

// ProfitOf is the part of h's share above its basis.
func (v *Vault) ProfitOf(h access.Address) *big.Int {
	return nmath.SaturatingSub(v.ShareOf(h), nmath.Clone(v.starts[h]))
}

// Position returns h's full view. ok is false if h never held stake.
func (v *Vault) Position(h access.Address) (Position, bool) {
	_, had := v.balances[h]
	return v.position(h), had
}

func (v *Vault) position(h access.Address) Position {
	share := v.ShareOf(h)
	start := nmath.Clone(v.starts[h])
	return Position{
		Holder:       h,
		Balance:      nmath.Clone(v.balances[h]),
		StartBalance: start,
		Share:        share,
		Profit:       nmath.SaturatingSub(share, start),
	}
}

// Positions lists every known holder, ordered by address.
func (v *Vault) Positions() []Position {
	out := make([]Position, 0, len(v.balances))
	for h := range v.balances {
		out = append(out, v.position(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

// DrainChanges returns the positions touched since the last drain.
func (v *Vault) DrainChanges() []Position {
	if len(v.dirty) == 0 {
		return nil
	}
	out := make([]Position, 0, len(v.dirty))
	for h := range v.dirty {
		out = append(out, v.position(h))
	}
	v.dirty = make(map[access.Address]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

func (v *Vault) enter(op string) error {
	if v.entered {
		return fault.InvalidState(op, "reentrant call")
	}
	v.entered = true
	return nil
}

func (v *Vault) leave() {
	v.entered = false
}

func (v *Vault) touch(h access.Address) {
	v.dirty[h] = struct{}{}
}

func (v *Vault) balanceRef(h access.Address) *big.Int {
	b, ok := v.balances[h]
	if !ok {
		b = new(big.Int)
		v.balances[h] = b
	}
	return b
}

func (v *Vault) setStart(h access.Address, val *big.Int) {
	v.starts[h] = nmath.Clone(val)
}
