package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ledger"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/testutil"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// --- Test helpers ---

type harness struct {
	t       *testing.T
	eng     *core.Engine
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	now     time.Time
	n       int
}

func engineConfig() core.Config {
	tcfg := treasury.DefaultConfig(testutil.Treasury)
	tcfg.Benchmark = testutil.USDC(100_000)
	return core.Config{
		Settlement: nmath.SettlementConfig,
		Stake:      nmath.StakeConfig,
		Treasury:   tcfg,
		Vault:      vault.Config{Address: testutil.Vault, Owner: testutil.Owner},
		Grants: map[access.Role][]access.Address{
			access.RoleAdmin:    {testutil.Owner},
			access.RoleStrategy: {testutil.Strategy},
		},
		LRUCapacity: 1024,
	}
}

// newHarness creates an Engine with buffered channels and no DB checker.
func newHarness(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	eng, err := core.NewEngine(engineConfig(), 1, core.Outputs{Persist: persist, Projection: proj}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &harness{t: t, eng: eng, persist: persist, proj: proj, now: testutil.Epoch}
}

func (h *harness) header(caller access.Address) event.Header {
	h.n++
	return event.Header{Key: fmt.Sprintf("cmd-%d", h.n), From: caller, At: h.now}
}

func (h *harness) mustSubmit(cmd event.Command) core.Result {
	h.t.Helper()
	res, err := h.eng.Submit(cmd)
	if err != nil {
		h.t.Fatalf("%s: %v", cmd.Kind(), err)
	}
	return res
}

func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

// bootstrap funds the protocol: treasury 100k USDC recognized, vault
// 900k USDC over 90M NEXO credited to the owner, strategy approved.
func (h *harness) bootstrap() {
	h.t.Helper()
	mint := func(asset event.Asset, to access.Address, amt *big.Int) {
		h.mustSubmit(&event.Mint{Header: h.header(testutil.Owner), Asset: asset, To: to, Amount: amt})
	}
	mint(event.AssetSettlement, testutil.Strategy, testutil.USDC(1_000_000))
	mint(event.AssetSettlement, testutil.Treasury, testutil.USDC(100_000))
	mint(event.AssetSettlement, testutil.Vault, testutil.USDC(900_000))
	mint(event.AssetStake, testutil.Vault, testutil.NEXO(90_000_000))
	mint(event.AssetStake, testutil.Alice, testutil.NEXO(1_000_000))

	h.mustSubmit(&event.AddTokens{Header: h.header(testutil.Alice)})
	h.mustSubmit(&event.SaveFreeTokens{Header: h.header(testutil.Alice)})
	h.mustSubmit(&event.Approve{
		Header: h.header(testutil.Strategy), Asset: event.AssetSettlement,
		Spender: testutil.Treasury, Amount: testutil.USDC(1_000_000),
	})
}

// exercise runs a premium, lock and uncovered payoff cycle.
func (h *harness) exercise() {
	h.t.Helper()
	h.mustSubmit(&event.DepositPremium{Header: h.header(testutil.Strategy), Amount: testutil.USDC(10_000)})
	h.mustSubmit(&event.LockLiquidity{
		Header: h.header(testutil.Strategy), Holder: testutil.Strategy,
		Amount: testutil.USDC(50_000), Expiration: h.now.Add(7 * 24 * time.Hour),
	})
	h.mustSubmit(&event.PayOff{
		Header: h.header(testutil.Strategy), LockID: 0,
		Payout: testutil.USDC(115_000), To: testutil.Alice,
	})
}

func assertAmount(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Errorf("%s: got %s, want %s", name, got, want)
	}
}

// ============================================================================
// Test: Pipeline
// ============================================================================

func TestEngine_BootstrapSequencesEveryCommand(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	outs := h.drain()
	if len(outs) != 8 {
		t.Fatalf("outputs: got %d, want 8", len(outs))
	}
	for i, o := range outs {
		if o.Envelope.Sequence != int64(i+1) {
			t.Errorf("output %d: sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev hash does not chain", i)
		}
	}
	if outs[0].Envelope.PrevHash != core.GenesisHash() {
		t.Error("first envelope must chain from genesis")
	}

	tv := h.eng.Treasury()
	assertAmount(t, "treasury total", tv.TotalBalance, testutil.USDC(100_000))
	vv := h.eng.Vault()
	assertAmount(t, "vault reserve", vv.Reserve, testutil.USDC(900_000))
	assertAmount(t, "vault total", vv.TotalBalance, testutil.NEXO(90_000_000))

	pos, ok := h.eng.Position(testutil.Owner)
	if !ok {
		t.Fatal("owner should hold the bootstrap stake")
	}
	assertAmount(t, "owner profit", pos.Profit, new(big.Int))
}

func TestEngine_PayOffDrawsFromVault(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.drain()

	h.mustSubmit(&event.DepositPremium{Header: h.header(testutil.Strategy), Amount: testutil.USDC(10_000)})
	lock := h.mustSubmit(&event.LockLiquidity{
		Header: h.header(testutil.Strategy), Holder: testutil.Strategy,
		Amount: testutil.USDC(50_000), Expiration: h.now.Add(7 * 24 * time.Hour),
	})
	if lock.Outcome.LockID == nil || *lock.Outcome.LockID != 0 {
		t.Fatalf("lock id: got %v, want 0", lock.Outcome.LockID)
	}

	res := h.mustSubmit(&event.PayOff{
		Header: h.header(testutil.Strategy), LockID: 0,
		Payout: testutil.USDC(115_000), To: testutil.Alice,
	})

	// 110k recognized, 115k paid: post = -5k, restored to the 100k benchmark.
	if got := res.Outcome.Amounts["drawn"]; got != testutil.USDC(105_000).String() {
		t.Errorf("drawn: got %s, want %s", got, testutil.USDC(105_000))
	}
	assertAmount(t, "treasury total", h.eng.Treasury().TotalBalance, testutil.USDC(100_000))
	assertAmount(t, "vault reserve", h.eng.Vault().Reserve, testutil.USDC(795_000))

	alice, _ := h.eng.Balance("settlement", testutil.Alice)
	assertAmount(t, "alice usdc", alice, testutil.USDC(115_000))

	outs := h.drain()
	payoff := outs[len(outs)-1]
	if payoff.Batch == nil || len(payoff.Batch.Journals) != 2 {
		t.Fatalf("payoff batch: %+v", payoff.Batch)
	}
	types := map[ledger.JournalType]bool{}
	for _, j := range payoff.Batch.Journals {
		types[j.JournalType] = true
	}
	if !types[ledger.JournalTypeBackstopDraw] || !types[ledger.JournalTypeOptionPayout] {
		t.Errorf("journal types: got %v", types)
	}
	if len(payoff.Locks) != 1 || payoff.Locks[0].Resolution != treasury.ResolutionPaidOff {
		t.Errorf("changed locks: %+v", payoff.Locks)
	}
}

func TestEngine_DuplicateKeyAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.drain()

	cmd := &event.DepositPremium{Header: h.header(testutil.Strategy), Amount: testutil.USDC(1_000)}
	first := h.mustSubmit(cmd)
	second := h.mustSubmit(cmd)

	if first.Duplicate || !second.Duplicate {
		t.Errorf("duplicate flags: first=%v second=%v", first.Duplicate, second.Duplicate)
	}
	assertAmount(t, "pending", h.eng.PendingPremium(testutil.Strategy), testutil.USDC(1_000))
	if outs := h.drain(); len(outs) != 1 {
		t.Errorf("outputs: got %d, want 1", len(outs))
	}
}

func TestEngine_RejectsIncompleteHeader(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		header event.Header
	}{
		{"missing key", event.Header{From: testutil.Owner, At: testutil.Epoch}},
		{"missing caller", event.Header{Key: "k", At: testutil.Epoch}},
		{"missing timestamp", event.Header{Key: "k", From: testutil.Owner}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.Submit(&event.AddTokens{Header: tt.header})
			if !errors.Is(err, fault.ErrInvalidArgument) {
				t.Errorf("got %v, want InvalidArgument", err)
			}
		})
	}
	if seq := h.eng.GetSequence(); seq != 1 {
		t.Errorf("sequence advanced to %d", seq)
	}
}

// ============================================================================
// Test: Atomicity
// ============================================================================

func TestEngine_FailedProvideRestoresBothLedgers(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.drain()

	// Stake approved, settlement not: the second pull fails after the
	// first one moved NEXO.
	h.mustSubmit(&event.Approve{
		Header: h.header(testutil.Alice), Asset: event.AssetStake,
		Spender: testutil.Vault, Amount: testutil.NEXO(1_000_000),
	})
	h.drain()
	hashBefore := h.eng.GetStateHash()
	seqBefore := h.eng.GetSequence()

	_, err := h.eng.Submit(&event.Provide{Header: h.header(testutil.Alice), Amount: testutil.NEXO(1_000_000)})
	if !errors.Is(err, fault.ErrInsufficientFunds) {
		t.Fatalf("got %v, want InsufficientFunds", err)
	}

	aliceNexo, _ := h.eng.Balance("stake", testutil.Alice)
	assertAmount(t, "alice nexo", aliceNexo, testutil.NEXO(1_000_000))
	vaultNexo, _ := h.eng.Balance("stake", testutil.Vault)
	assertAmount(t, "vault nexo", vaultNexo, testutil.NEXO(90_000_000))
	assertAmount(t, "vault total", h.eng.Vault().TotalBalance, testutil.NEXO(90_000_000))
	if _, ok := h.eng.Position(testutil.Alice); ok {
		t.Error("alice should have no position")
	}

	if h.eng.GetSequence() != seqBefore || h.eng.GetStateHash() != hashBefore {
		t.Error("a rejected command must not advance the chain")
	}
	if outs := h.drain(); len(outs) != 0 {
		t.Errorf("outputs: got %d, want 0", len(outs))
	}

	// The same command succeeds once the settlement pull is approved.
	h.mustSubmit(&event.Mint{Header: h.header(testutil.Owner), Asset: event.AssetSettlement, To: testutil.Alice, Amount: testutil.USDC(10_000)})
	h.mustSubmit(&event.Approve{
		Header: h.header(testutil.Alice), Asset: event.AssetSettlement,
		Spender: testutil.Vault, Amount: testutil.USDC(10_000),
	})
	res := h.mustSubmit(&event.Provide{Header: h.header(testutil.Alice), Amount: testutil.NEXO(1_000_000)})
	if got := res.Outcome.Amounts["pulled"]; got != testutil.USDC(10_000).String() {
		t.Errorf("pulled: got %s, want %s", got, testutil.USDC(10_000))
	}
}

func TestEngine_PayOffShortOfReserveRejected(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.mustSubmit(&event.DepositPremium{Header: h.header(testutil.Strategy), Amount: testutil.USDC(10_000)})
	h.mustSubmit(&event.LockLiquidity{
		Header: h.header(testutil.Strategy), Holder: testutil.Strategy,
		Amount: testutil.USDC(50_000), Expiration: h.now.Add(time.Hour),
	})

	// Needs a 1.09M draw against a 900k reserve.
	_, err := h.eng.Submit(&event.PayOff{
		Header: h.header(testutil.Strategy), LockID: 0,
		Payout: testutil.USDC(1_100_000), To: testutil.Alice,
	})
	if !errors.Is(err, fault.ErrInsufficientFunds) {
		t.Fatalf("got %v, want InsufficientFunds", err)
	}
	l, _ := h.eng.Lock(0)
	if l.State != treasury.LockActive {
		t.Errorf("lock state: got %s, want active", l.State)
	}
	assertAmount(t, "vault reserve", h.eng.Vault().Reserve, testutil.USDC(900_000))
}

// ============================================================================
// Test: Permissions
// ============================================================================

func TestEngine_RoleAdministration(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	_, err := h.eng.Submit(&event.GrantRole{Header: h.header(testutil.Piter), Role: access.RoleStrategy, Account: testutil.Piter})
	if !errors.Is(err, fault.ErrAuthorization) {
		t.Errorf("self grant: got %v, want Authorization", err)
	}

	h.mustSubmit(&event.GrantRole{Header: h.header(testutil.Owner), Role: access.RoleStrategy, Account: testutil.Piter})
	if !h.eng.HasRole(access.RoleStrategy, testutil.Piter) {
		t.Fatal("piter should hold strategy")
	}

	h.mustSubmit(&event.RevokeRole{Header: h.header(testutil.Owner), Role: access.RoleStrategy, Account: testutil.Piter})
	if h.eng.HasRole(access.RoleStrategy, testutil.Piter) {
		t.Error("piter should have lost strategy")
	}

	_, err = h.eng.Submit(&event.RevokeRole{Header: h.header(testutil.Owner), Role: access.RoleAdmin, Account: testutil.Owner})
	if !errors.Is(err, fault.ErrPolicyViolation) {
		t.Errorf("revoke last admin: got %v, want PolicyViolation", err)
	}

	_, err = h.eng.Submit(&event.GrantRole{Header: h.header(testutil.Owner), Role: "auditor", Account: testutil.Piter})
	if !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("unknown role: got %v, want InvalidArgument", err)
	}
}

func TestEngine_MintRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.Submit(&event.Mint{Header: h.header(testutil.Mallory), Asset: event.AssetSettlement, To: testutil.Mallory, Amount: testutil.USDC(1)})
	if !errors.Is(err, fault.ErrAuthorization) {
		t.Errorf("got %v, want Authorization", err)
	}

	_, err = h.eng.Submit(&event.Mint{Header: h.header(testutil.Owner), Asset: "doge", To: testutil.Mallory, Amount: testutil.USDC(1)})
	if !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("unknown asset: got %v, want InvalidArgument", err)
	}
}

func TestEngine_ProtocolAccountsCannotSubmit(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	seq := h.eng.GetSequence()
	hash := h.eng.GetStateHash()

	cases := []struct {
		name string
		cmd  event.Command
	}{
		{"treasury moves settlement", &event.TokenTransfer{
			Header: h.header(testutil.Treasury), Asset: event.AssetSettlement,
			To: testutil.Alice, Amount: testutil.USDC(100_000),
		}},
		{"vault moves stake", &event.TokenTransfer{
			Header: h.header(testutil.Vault), Asset: event.AssetStake,
			To: testutil.Alice, Amount: testutil.NEXO(1),
		}},
		{"treasury draws on vault", &event.VaultTransfer{
			Header: h.header(testutil.Treasury), To: testutil.Mallory, Amount: testutil.USDC(900_000),
		}},
		{"vault approves spender", &event.Approve{
			Header: h.header(testutil.Vault), Asset: event.AssetSettlement,
			Spender: testutil.Mallory, Amount: testutil.USDC(900_000),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.eng.Submit(tc.cmd)
			if !errors.Is(err, fault.ErrAuthorization) {
				t.Fatalf("got %v, want Authorization", err)
			}
		})
	}

	if got := h.eng.GetSequence(); got != seq {
		t.Errorf("sequence: got %d, want %d", got, seq)
	}
	if h.eng.GetStateHash() != hash {
		t.Error("state hash changed")
	}
	tv := h.eng.Treasury()
	assertAmount(t, "treasury total", tv.TotalBalance, testutil.USDC(100_000))
	assertAmount(t, "treasury real", tv.RealBalance, testutil.USDC(100_000))
	assertAmount(t, "vault reserve", h.eng.Vault().Reserve, testutil.USDC(900_000))
	stake, _ := h.eng.Balance("stake", testutil.Vault)
	assertAmount(t, "vault stake", stake, testutil.NEXO(90_000_000))
	mallory, _ := h.eng.Balance("settlement", testutil.Mallory)
	assertAmount(t, "mallory", mallory, new(big.Int))
}

// ============================================================================
// Test: Snapshot & Replay
// ============================================================================

func TestEngine_SnapshotRestoreThenReplay(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	// Round-trip through JSON as the snapshot store does.
	raw, err := json.Marshal(h.eng.CreateSnapshotState())
	if err != nil {
		t.Fatal(err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	h.drain()

	h.exercise()
	tail := h.drain()

	restored, err := core.NewEngine(engineConfig(), 1, core.Outputs{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.RestoreFromSnapshot(&snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	if restored.GetSequence() != 9 {
		t.Errorf("restored sequence: got %d, want 9", restored.GetSequence())
	}
	for _, o := range tail {
		if err := restored.Replay(o.Envelope); err != nil {
			t.Fatalf("Replay: %v", err)
		}
	}

	if restored.GetStateHash() != h.eng.GetStateHash() {
		t.Error("restored engine diverged from the original")
	}
	assertAmount(t, "vault reserve", restored.Vault().Reserve, h.eng.Vault().Reserve)

	// Keys from the snapshot and the replay are both known.
	dup, err := restored.Submit(&event.PayOff{Header: event.Header{Key: "cmd-11", From: testutil.Strategy, At: h.now}})
	if err != nil || !dup.Duplicate {
		t.Errorf("replayed key: got (%+v, %v), want duplicate", dup, err)
	}
}

func TestEngine_ReplayFromGenesis(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.exercise()
	log := h.drain()

	proj := make(chan core.CoreOutput, len(log))
	replica, err := core.NewEngine(engineConfig(), 1, core.Outputs{Projection: proj}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range log {
		if err := replica.Replay(o.Envelope); err != nil {
			t.Fatalf("Replay seq %d: %v", o.Envelope.Sequence, err)
		}
	}

	if replica.GetStateHash() != h.eng.GetStateHash() {
		t.Error("replica diverged")
	}
	if len(proj) != len(log) {
		t.Errorf("projection outputs: got %d, want %d", len(proj), len(log))
	}
}

func TestEngine_ReplayRejectsGap(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	log := h.drain()

	replica, _ := core.NewEngine(engineConfig(), 1, core.Outputs{}, nil, nil, zerolog.Nop())
	if err := replica.Replay(log[1].Envelope); err == nil {
		t.Error("expected sequence gap error")
	}
}

// ============================================================================
// Test: Audit
// ============================================================================

func TestEngine_Audit(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.mustSubmit(&event.DepositPremium{Header: h.header(testutil.Strategy), Amount: testutil.USDC(1_000)})
	h.mustSubmit(&event.LockLiquidity{
		Header: h.header(testutil.Strategy), Holder: testutil.Strategy,
		Amount: testutil.USDC(5_000), Expiration: h.now.Add(time.Hour),
	})

	r := h.eng.Audit(h.now.Add(2 * time.Hour))
	if r.ActiveLocks != 1 || r.ExpiredActive != 1 {
		t.Errorf("locks: active=%d expired=%d, want 1/1", r.ActiveLocks, r.ExpiredActive)
	}
	// 900k USDC over 90M NEXO: 0.01 USDC per NEXO.
	assertAmount(t, "backing ratio", r.BackingRatio, big.NewInt(10_000))
	assertAmount(t, "unrecognized", r.Treasury.Unrecognized, new(big.Int))
}
