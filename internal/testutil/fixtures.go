package testutil

import (
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// Well-known addresses used across tests.
const (
	Owner    access.Address = "owner"
	Strategy access.Address = "strategy"
	Alice    access.Address = "alice"
	Piter    access.Address = "piter"
	Mallory  access.Address = "mallory"
	Treasury access.Address = "treasury"
	Vault    access.Address = "vault"
)

// Epoch is the fixed clock tests start from.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// USDC returns whole settlement units in base units.
func USDC(whole int64) *big.Int {
	return nmath.SettlementConfig.Units(whole)
}

// NEXO returns whole stake units in base units.
func NEXO(whole int64) *big.Int {
	return nmath.StakeConfig.Units(whole)
}

// Protocol wires two in-memory ledgers, a vault and a treasury the way the
// engine does, with Owner as admin, Strategy holding the strategy role and
// the treasury holding insurer.
type Protocol struct {
	USDC     *token.MemoryLedger
	NEXO     *token.MemoryLedger
	Vault    *vault.Vault
	Treasury *treasury.Treasury
	Perms    *access.Table
	Now      time.Time
}

// NewProtocol builds a Protocol. cfg.Address is forced to Treasury.
func NewProtocol(t *testing.T, cfg treasury.Config) *Protocol {
	t.Helper()
	usdc := token.NewMemoryLedger(nmath.SettlementConfig)
	nexo := token.NewMemoryLedger(nmath.StakeConfig)

	perms := access.NewTable()
	perms.Grant(access.RoleAdmin, Owner)
	perms.Grant(access.RoleStrategy, Strategy)
	perms.Grant(access.RoleInsurer, Treasury)

	v := vault.New(vault.Config{Address: Vault, Owner: Owner}, usdc, nexo, zerolog.Nop())
	cfg.Address = Treasury
	tr := treasury.New(cfg, usdc, v, zerolog.Nop())

	return &Protocol{USDC: usdc, NEXO: nexo, Vault: v, Treasury: tr, Perms: perms, Now: Epoch}
}

// Call builds a call context for caller at the protocol's clock.
func (p *Protocol) Call(caller access.Address) access.Call {
	return access.Call{Caller: caller, Now: p.Now, Perms: p.Perms}
}

// Advance moves the clock forward.
func (p *Protocol) Advance(d time.Duration) {
	p.Now = p.Now.Add(d)
}

// SeedVault mints stake and reserve into the vault and absorbs the stake
// for the owner.
func (p *Protocol) SeedVault(t *testing.T, stake, reserve *big.Int) {
	t.Helper()
	if err := p.NEXO.Mint(Vault, stake); err != nil {
		t.Fatalf("mint stake: %v", err)
	}
	if err := p.USDC.Mint(Vault, reserve); err != nil {
		t.Fatalf("mint reserve: %v", err)
	}
	if _, err := p.Vault.SaveFreeTokens(p.Call(Owner)); err != nil {
		t.Fatalf("saveFreeTokens: %v", err)
	}
}

// SeedTreasury mints capital into the treasury and recognizes it.
func (p *Protocol) SeedTreasury(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := p.USDC.Mint(Treasury, amount); err != nil {
		t.Fatalf("mint capital: %v", err)
	}
	if _, err := p.Treasury.AddTokens(p.Call(Owner)); err != nil {
		t.Fatalf("addTokens: %v", err)
	}
}

// Fund mints both assets to holder and approves the vault and the treasury
// for an effectively unlimited amount.
func (p *Protocol) Fund(t *testing.T, holder access.Address, usdc, nexo *big.Int) {
	t.Helper()
	unlimited := new(big.Int).Lsh(big.NewInt(1), 255)
	if err := p.USDC.Mint(holder, usdc); err != nil {
		t.Fatalf("mint usdc: %v", err)
	}
	if err := p.NEXO.Mint(holder, nexo); err != nil {
		t.Fatalf("mint nexo: %v", err)
	}
	for _, spender := range []access.Address{Vault, Treasury} {
		if err := p.USDC.Approve(holder, spender, unlimited); err != nil {
			t.Fatalf("approve usdc: %v", err)
		}
	}
	if err := p.NEXO.Approve(holder, Vault, unlimited); err != nil {
		t.Fatalf("approve nexo: %v", err)
	}
}

// MustInt parses a base-10 integer literal.
func MustInt(s string) *big.Int {
	return nmath.MustParseInt(s)
}
