package persistence_test

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ledger"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/persistence"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/testutil"
)

const migrationsDir = "../../migrations"

func sampleEnvelope(seq int64) *event.Envelope {
	env := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: "premium-" + uuid.NewString(),
		Kind:           event.KindDepositPremium,
		Caller:         testutil.Strategy,
		Timestamp:      testutil.Epoch,
		Payload:        []byte(`{"amount":10000000000}`),
		Outcome:        []byte(`{}`),
	}
	env.PrevHash = core.GenesisHash()
	env.StateHash = core.ChainHash(env.PrevHash, seq, []byte("digest"))
	return env
}

func sampleBatch(seq int64, ref string) *ledger.Batch {
	usdc := ledger.RegisterAsset("USDC")
	chart := ledger.NewChart(testutil.Treasury, testutil.Vault)
	batchID := uuid.New()
	return &ledger.Batch{
		BatchID:  batchID,
		EventRef: ref,
		Sequence: seq,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ref,
			Sequence:      seq,
			DebitAccount:  chart.Key(testutil.Treasury, usdc),
			CreditAccount: chart.Key(testutil.Strategy, usdc),
			AssetID:       usdc,
			Amount:        big.NewInt(10_000_000_000),
			JournalType:   ledger.JournalTypePremiumDeposit,
		}},
	}
}

// ============================================================================
// Row mapping
// ============================================================================

func TestCommandRow_RebuildsEnvelope(t *testing.T) {
	env := sampleEnvelope(7)
	row := persistence.CommandRowFromEnvelope(env)

	if row.Kind != "deposit_premium" {
		t.Errorf("kind: got %s, want deposit_premium", row.Kind)
	}

	back, err := row.Envelope()
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if back.Kind != env.Kind || back.Caller != env.Caller || back.Sequence != 7 {
		t.Errorf("rebuilt envelope differs: %+v", back)
	}
	if back.StateHash != env.StateHash || back.PrevHash != env.PrevHash {
		t.Error("hash chain fields were not preserved")
	}
}

func TestCommandRow_RejectsUnknownKindAndShortHash(t *testing.T) {
	row := persistence.CommandRowFromEnvelope(sampleEnvelope(1))
	row.Kind = "liquidate"
	if _, err := row.Envelope(); err == nil {
		t.Error("expected unknown kind to fail")
	}

	row = persistence.CommandRowFromEnvelope(sampleEnvelope(1))
	row.StateHash = row.StateHash[:16]
	if _, err := row.Envelope(); err == nil {
		t.Error("expected truncated hash to fail")
	}
}

func TestJournalRowsFromBatch(t *testing.T) {
	if rows := persistence.JournalRowsFromBatch(nil); rows != nil {
		t.Errorf("nil batch: got %d rows, want none", len(rows))
	}

	rows := persistence.JournalRowsFromBatch(sampleBatch(3, "k"))
	if len(rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(rows))
	}
	r := rows[0]
	if r.Amount != "10000000000" {
		t.Errorf("amount: got %s, want 10000000000", r.Amount)
	}
	if r.Asset != "USDC" {
		t.Errorf("asset: got %s, want USDC", r.Asset)
	}
	if r.JournalType != "premium_deposit" {
		t.Errorf("journal type: got %s, want premium_deposit", r.JournalType)
	}
	if !strings.HasPrefix(r.DebitAccount, "protocol:") || !strings.HasPrefix(r.CreditAccount, "holder:") {
		t.Errorf("accounts: got %s <- %s", r.DebitAccount, r.CreditAccount)
	}
}

// ============================================================================
// Postgres (INTEGRATION_TEST=1)
// ============================================================================

func TestPostgres_WorkerSnapshotAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := persistence.NewMigrator(db, migrationsDir, zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.ExecContext(ctx, "TRUNCATE event_log.commands, event_log.journal, event_log.snapshots CASCADE")

	in := make(chan core.CoreOutput, 4)
	worker := persistence.NewPersistenceWorker(db, in, 2, 10*time.Millisecond, nil, zerolog.Nop())

	first := sampleEnvelope(1)
	second := sampleEnvelope(2)
	second.PrevHash = first.StateHash
	in <- core.CoreOutput{Envelope: first, Batch: sampleBatch(1, first.IdempotencyKey)}
	in <- core.CoreOutput{Envelope: second}
	close(in)

	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil || latest != 2 {
		t.Fatalf("latest sequence: got %d (%v), want 2", latest, err)
	}

	envs, err := sm.LoadCommandsFrom(ctx, 2, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(envs) != 1 || envs[0].IdempotencyKey != second.IdempotencyKey {
		t.Fatalf("load from 2: got %d envelopes", len(envs))
	}
	if envs[0].PrevHash != first.StateHash {
		t.Error("prev hash not round-tripped through postgres")
	}

	dedup := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := dedup.IsDuplicate("deposit_premium", first.IdempotencyKey)
	if err != nil || !dup {
		t.Errorf("logged key: got duplicate=%v err=%v", dup, err)
	}
	dup, err = dedup.IsDuplicate("provide", first.IdempotencyKey)
	if err != nil || dup {
		t.Errorf("same key, other kind: got duplicate=%v err=%v", dup, err)
	}
	keys, err := dedup.RecentKeys(ctx, 1)
	if err != nil || len(keys) != 1 || keys[0] != core.CompositeKey("deposit_premium", second.IdempotencyKey) {
		t.Errorf("recent keys: got %v (%v)", keys, err)
	}

	snap := &core.SnapshotState{
		Sequence:  2,
		StateHash: hex.EncodeToString(second.StateHash[:]),
		Grants:    map[string][]string{"admin": {string(testutil.Owner)}},
	}
	if _, err := sm.SaveSnapshot(ctx, snap, testutil.Epoch); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if got, _ := sm.LoadLatestSnapshot(ctx); got != nil {
		t.Error("unverified snapshot must not be loaded")
	}
	if err := sm.MarkVerified(ctx, 2); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := sm.LoadLatestSnapshot(ctx)
	if err != nil || got == nil || got.Sequence != 2 {
		t.Fatalf("load snapshot: got %+v (%v)", got, err)
	}
}
