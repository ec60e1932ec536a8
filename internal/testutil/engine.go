package testutil

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// EngineConfig is the engine setup shared by service-level tests: Owner is
// admin, Strategy holds the strategy role.
func EngineConfig() core.Config {
	return core.Config{
		Settlement: nmath.SettlementConfig,
		Stake:      nmath.StakeConfig,
		Treasury:   treasury.DefaultConfig(Treasury),
		Vault:      vault.Config{Address: Vault, Owner: Owner},
		Grants: map[access.Role][]access.Address{
			access.RoleAdmin:    {Owner},
			access.RoleStrategy: {Strategy},
		},
		LRUCapacity: 1024,
	}
}

// NewEngine builds an engine with no database and the given outputs.
func NewEngine(t *testing.T, out core.Outputs) *core.Engine {
	t.Helper()
	eng, err := core.NewEngine(EngineConfig(), 1, out, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

// Header returns a command header with a key unique to prefix and n.
func Header(prefix string, n int, caller access.Address, at time.Time) event.Header {
	return event.Header{Key: fmt.Sprintf("%s-%d", prefix, n), From: caller, At: at}
}

// Bootstrap funds eng: treasury 100k USDC recognized, vault 900k USDC over
// 90M NEXO owned by Owner, Strategy holding 1M USDC approved to the
// treasury, and one 50k lock (id 0) held by Strategy on a 10k premium.
// Returns the number of commands submitted.
func Bootstrap(t *testing.T, eng *core.Engine) int {
	t.Helper()
	n := 0
	submit := func(cmd event.Command) {
		t.Helper()
		if _, err := eng.Submit(cmd); err != nil {
			t.Fatalf("bootstrap %s: %v", cmd.Kind(), err)
		}
	}
	hdr := func(caller access.Address) event.Header {
		n++
		return Header("boot", n, caller, Epoch)
	}
	mint := func(asset event.Asset, to access.Address, amt *big.Int) {
		submit(&event.Mint{Header: hdr(Owner), Asset: asset, To: to, Amount: amt})
	}

	mint(event.AssetSettlement, Strategy, USDC(1_000_000))
	mint(event.AssetSettlement, Treasury, USDC(100_000))
	mint(event.AssetSettlement, Vault, USDC(900_000))
	mint(event.AssetStake, Vault, NEXO(90_000_000))
	submit(&event.AddTokens{Header: hdr(Alice)})
	submit(&event.SaveFreeTokens{Header: hdr(Alice)})
	submit(&event.Approve{
		Header: hdr(Strategy), Asset: event.AssetSettlement,
		Spender: Treasury, Amount: USDC(1_000_000),
	})
	submit(&event.DepositPremium{Header: hdr(Strategy), Amount: USDC(10_000)})
	submit(&event.LockLiquidity{
		Header: hdr(Strategy), Holder: Strategy,
		Amount: USDC(50_000), Expiration: Epoch.Add(7 * 24 * time.Hour),
	})
	return n
}
