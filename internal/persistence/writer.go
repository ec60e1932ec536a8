package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ledger"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CommandLogWriter writes applied commands and their journals to Postgres
// using multi-row INSERTs. Writes are idempotent on sequence and journal id.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence       int64
	Kind           string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded command
	Outcome        []byte // JSON-encoded outcome
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string // NUMERIC, base units
	JournalType   string
	Timestamp     int64
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// CommandRowFromEnvelope flattens an envelope for storage.
func CommandRowFromEnvelope(env *event.Envelope) CommandRow {
	return CommandRow{
		Sequence:       env.Sequence,
		Kind:           env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         string(env.Caller),
		Payload:        env.Payload,
		Outcome:        env.Outcome,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp.UTC(),
	}
}

// Envelope rebuilds the envelope a row was written from.
func (r CommandRow) Envelope() (*event.Envelope, error) {
	kind := event.ParseKind(r.Kind)
	if kind == event.KindUnknown {
		return nil, fmt.Errorf("command %d: unknown kind %q", r.Sequence, r.Kind)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("command %d: malformed hash columns", r.Sequence)
	}
	env := &event.Envelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		Kind:           kind,
		Caller:         access.Address(r.Caller),
		Timestamp:      r.Timestamp.UTC(),
		Payload:        r.Payload,
		Outcome:        r.Outcome,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// JournalRowsFromBatch flattens a journal batch. A nil batch yields no rows.
func JournalRowsFromBatch(b *ledger.Batch) []JournalRow {
	if b == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(b.Journals))
	for _, j := range b.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Asset:         assetName(j.AssetID),
			Amount:        j.Amount.String(),
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// WriteCommandBatch writes a batch of commands to event_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, tx execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.commands
		(sequence, kind, idempotency_key, caller, payload, outcome, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*9)

	for i, c := range commands {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			c.Sequence, c.Kind, c.IdempotencyKey, c.Caller,
			string(c.Payload), nullableJSON(c.Outcome), c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::NUMERIC, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func assetName(id ledger.AssetID) string {
	if name, ok := ledger.GetAssetName(id); ok {
		return name
	}
	return fmt.Sprintf("asset:%d", id)
}

// nullableJSON passes JSON text for a JSONB column; lib/pq would send a
// raw []byte as bytea.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
