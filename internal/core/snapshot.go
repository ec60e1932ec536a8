package core

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ledger"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// SnapshotState is the full serializable engine state. Sequence is the last
// applied sequence and StateHash its chain hash.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"`
	StateHash       string              `json:"state_hash"`
	Settlement      token.State         `json:"settlement"`
	Stake           token.State         `json:"stake"`
	Treasury        treasury.State      `json:"treasury"`
	Vault           vault.State         `json:"vault"`
	Grants          map[string][]string `json:"grants"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.hasher.GetPrevHash()
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       hex.EncodeToString(hash[:]),
		Settlement:      c.settlement.Export(),
		Stake:           c.stake.Export(),
		Treasury:        c.treasury.Export(),
		Vault:           c.vault.Export(),
		Grants:          c.perms.Export(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot replaces the engine state with snap. On warm restart
// the caller then replays the command log after snap.Sequence.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot %d: invalid state hash %q", snap.Sequence, snap.StateHash)
	}
	var hash [32]byte
	copy(hash[:], raw)

	perms, err := access.ImportTable(snap.Grants)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}

	// Imports are undone from a checkpoint on failure.
	cp := c.checkpoint()
	if err := c.importState(snap); err != nil {
		c.restore(cp)
		return fmt.Errorf("snapshot %d: %w", snap.Sequence, err)
	}
	c.perms = perms
	c.settlement.DrainMovements()
	c.stake.DrainMovements()
	c.treasury.DrainChanges()
	c.vault.DrainChanges()

	c.rebuildTracker()

	if err := c.postCheckInvariants(); err != nil {
		c.restore(cp)
		c.rebuildTracker()
		return fmt.Errorf("snapshot %d fails invariants: %w", snap.Sequence, err)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(hash)
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Str("state_hash", snap.StateHash).
		Msg("restored from snapshot")
	return nil
}

func (c *Engine) rebuildTracker() {
	for _, l := range []*token.MemoryLedger{c.settlement, c.stake} {
		assetID := ledger.RegisterAsset(l.Symbol())
		c.tracker.Rebuild(c.chart, assetID, l.Holders())
	}
}

func (c *Engine) importState(snap *SnapshotState) error {
	if err := c.settlement.Import(snap.Settlement); err != nil {
		return err
	}
	if err := c.stake.Import(snap.Stake); err != nil {
		return err
	}
	if err := c.treasury.Import(snap.Treasury); err != nil {
		return err
	}
	return c.vault.Import(snap.Vault)
}

// Replay re-applies a logged command. The envelope must carry the next
// sequence, and the recomputed state hash must match the logged one.
// Replayed outputs go to projections only.
func (c *Engine) Replay(env *event.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: got sequence %d, want %d", env.Sequence, c.sequence)
	}
	if prev := c.hasher.GetPrevHash(); !bytes.Equal(prev[:], env.PrevHash[:]) {
		return fmt.Errorf("replay seq %d: prev hash mismatch", env.Sequence)
	}

	cmd, err := event.Decode(env.Kind, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	out, _, err := c.apply(cmd)
	if err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", env.Sequence, env.Kind, err)
	}
	if out.Envelope.StateHash != env.StateHash {
		panic(fmt.Sprintf("FATAL: replay diverged at seq %d: state hash %x, logged %x",
			env.Sequence, out.Envelope.StateHash, env.StateHash))
	}

	c.emit(out, false)
	c.idempotency.MarkProcessed(env.Kind.String(), env.IdempotencyKey)
	if c.metrics != nil {
		c.metrics.ReplayCommands.Inc()
		c.metrics.CoreSequence.Set(float64(env.Sequence))
	}
	return nil
}
