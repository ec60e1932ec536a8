package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/projection"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("projection store not configured")
)

// EngineReader is the read side of the engine.
type EngineReader interface {
	Treasury() core.TreasuryView
	Vault() core.VaultView
	Lock(id uint64) (*treasury.Lock, bool)
	Locks(holder access.Address) []*treasury.Lock
	Position(holder access.Address) (vault.Position, bool)
	PendingPremium(holder access.Address) *big.Int
	Balance(asset string, addr access.Address) (*big.Int, bool)
	Assets() (settlement, stake nmath.AssetConfig)
	GetSequence() int64
}

// QueryService answers reads. Current state comes from the engine;
// history comes from the projection tables and the journal when a
// database is configured.
type QueryService struct {
	engine  EngineReader
	db      *sql.DB
	reader  *projection.Reader
	metrics *observability.Metrics
}

// NewQueryService builds a service over engine. db may be nil, in which
// case history queries return ErrUnavailable.
func NewQueryService(engine EngineReader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	qs := &QueryService{engine: engine, db: db, metrics: metrics}
	if db != nil {
		qs.reader = projection.NewReader(db)
	}
	return qs
}

func (qs *QueryService) track(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func amount(cfg nmath.AssetConfig, v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{Raw: v.String(), Display: cfg.Format(v)}
}

// GetTreasury returns the treasury aggregates.
func (qs *QueryService) GetTreasury(ctx context.Context) TreasuryResponse {
	defer qs.track("treasury", time.Now(), nil)

	usdc, _ := qs.engine.Assets()
	v := qs.engine.Treasury()
	return TreasuryResponse{
		TotalBalance:  amount(usdc, v.TotalBalance),
		LockedPremium: amount(usdc, v.LockedPremium),
		TotalLocked:   amount(usdc, v.TotalLocked),
		PendingTotal:  amount(usdc, v.PendingTotal),
		RealBalance:   amount(usdc, v.RealBalance),
		Unrecognized:  amount(usdc, v.Unrecognized),
		Available:     amount(usdc, v.Available),
		NextLockID:    v.NextLockID,
		AsOfSequence:  v.Sequence,
	}
}

// GetVault returns the vault aggregates.
func (qs *QueryService) GetVault(ctx context.Context) VaultResponse {
	defer qs.track("vault", time.Now(), nil)

	usdc, nexo := qs.engine.Assets()
	v := qs.engine.Vault()
	return VaultResponse{
		Reserve:            amount(usdc, v.Reserve),
		TotalBalance:       amount(nexo, v.TotalBalance),
		Retired:            amount(nexo, v.Retired),
		WithdrawalsEnabled: v.WithdrawalsEnabled,
		AsOfSequence:       v.Sequence,
	}
}

// GetLock returns one lock by id.
func (qs *QueryService) GetLock(ctx context.Context, id uint64) (resp *LockResponse, err error) {
	defer func(start time.Time) { qs.track("lock", start, err) }(time.Now())

	l, ok := qs.engine.Lock(id)
	if !ok {
		return nil, fmt.Errorf("lock %d: %w", id, ErrNotFound)
	}
	usdc, _ := qs.engine.Assets()
	r := lockResponse(usdc, l)
	return &r, nil
}

// ListLocks returns holder's locks ordered by id, every lock when holder
// is empty.
func (qs *QueryService) ListLocks(ctx context.Context, holder access.Address) []LockResponse {
	defer qs.track("locks", time.Now(), nil)

	usdc, _ := qs.engine.Assets()
	locks := qs.engine.Locks(holder)
	out := make([]LockResponse, 0, len(locks))
	for _, l := range locks {
		out = append(out, lockResponse(usdc, l))
	}
	return out
}

func lockResponse(usdc nmath.AssetConfig, l *treasury.Lock) LockResponse {
	r := LockResponse{
		ID:         l.ID,
		Holder:     string(l.Holder),
		Amount:     amount(usdc, l.Amount),
		Premium:    amount(usdc, l.Premium),
		Payout:     amount(usdc, l.Payout),
		Expiration: l.Expiration.UTC(),
		State:      l.State.String(),
		Resolution: l.Resolution.String(),
		CreatedAt:  l.CreatedAt.UTC(),
	}
	if l.State == treasury.LockSettled {
		t := l.SettledAt.UTC()
		r.SettledAt = &t
	}
	return r
}

// GetPosition returns holder's vault position.
func (qs *QueryService) GetPosition(ctx context.Context, holder access.Address) (resp *PositionResponse, err error) {
	defer func(start time.Time) { qs.track("position", start, err) }(time.Now())

	p, ok := qs.engine.Position(holder)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", holder, ErrNotFound)
	}
	usdc, nexo := qs.engine.Assets()
	return &PositionResponse{
		Holder:       string(p.Holder),
		Balance:      amount(nexo, p.Balance),
		StartBalance: amount(nexo, p.StartBalance),
		Share:        amount(usdc, p.Share),
		Profit:       amount(usdc, p.Profit),
		AsOfSequence: qs.engine.GetSequence() - 1,
	}, nil
}

// GetBalance returns addr's balance on the "settlement" or "stake" ledger.
func (qs *QueryService) GetBalance(ctx context.Context, asset string, addr access.Address) (resp *BalanceResponse, err error) {
	defer func(start time.Time) { qs.track("balance", start, err) }(time.Now())

	bal, ok := qs.engine.Balance(asset, addr)
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", asset, ErrNotFound)
	}
	usdc, nexo := qs.engine.Assets()
	cfg := usdc
	pending := new(big.Int)
	if asset == "stake" {
		cfg = nexo
	} else {
		pending = qs.engine.PendingPremium(addr)
	}
	return &BalanceResponse{
		Address:        string(addr),
		Asset:          cfg.Symbol,
		Balance:        amount(cfg, bal),
		PendingPremium: amount(cfg, pending),
		AsOfSequence:   qs.engine.GetSequence() - 1,
	}, nil
}

// LockHistory serves holder's locks from the projection, newest first.
func (qs *QueryService) LockHistory(ctx context.Context, holder access.Address, state string, limit int) (rows []projection.LockRow, err error) {
	defer func(start time.Time) { qs.track("lock_history", start, err) }(time.Now())

	if qs.reader == nil {
		return nil, ErrUnavailable
	}
	return qs.reader.LockHistory(ctx, string(holder), state, limit)
}

// GetJournalHistory returns journal entries touching addr, newest first.
// beforeSequence pages backwards when non-nil.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	addr access.Address,
	limit int,
	beforeSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.track("journal", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	pattern := fmt.Sprintf("%%:%s:%%", addr)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{pattern}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain and that projected
// balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.track("integrity", start, err) }(time.Now())

	if qs.db == nil {
		return nil, ErrUnavailable
	}
	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM event_log.commands c1
		JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::TEXT
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	// Projection lag is reported but does not fail the check.
	report.EngineSequence = qs.engine.GetSequence() - 1
	if report.ProjectedThrough, err = qs.reader.Watermark(ctx); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}
