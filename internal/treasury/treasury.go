// Package treasury implements the collateral pool that underwrites sold
// options. It tracks recognized capital, per-option locks and premium
// income, and draws from the insurance vault when a payout leaves it short.
package treasury

import (
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
)

// LockState is the lifecycle of a lock. Active -> Settled, once.
type LockState uint8

const (
	LockActive LockState = iota
	LockSettled
)

func (s LockState) String() string {
	if s == LockSettled {
		return "settled"
	}
	return "active"
}

// Resolution records how a settled lock ended.
type Resolution uint8

const (
	ResolutionNone Resolution = iota
	ResolutionUnlocked
	ResolutionPaidOff
)

func (r Resolution) String() string {
	switch r {
	case ResolutionUnlocked:
		return "unlocked"
	case ResolutionPaidOff:
		return "paid_off"
	default:
		return "none"
	}
}

// Lock reserves collateral against one sold option.
type Lock struct {
	ID         uint64
	Holder     access.Address
	Amount     *big.Int
	Premium    *big.Int
	Expiration time.Time
	State      LockState
	Resolution Resolution
	Payout     *big.Int
	CreatedAt  time.Time
	SettledAt  time.Time
}

func (l *Lock) clone() *Lock {
	c := *l
	c.Amount = nmath.Clone(l.Amount)
	c.Premium = nmath.Clone(l.Premium)
	c.Payout = nmath.Clone(l.Payout)
	return &c
}

// IsExpired reports whether the lock can be unlocked at now.
func (l *Lock) IsExpired(now time.Time) bool {
	return now.After(l.Expiration)
}

// Backstop is the capability the treasury holds on the insurance vault.
type Backstop interface {
	AvailableBalance() *big.Int
	Transfer(call access.Call, to access.Address, amount *big.Int) error
}

// Config holds the treasury's risk settings.
type Config struct {
	// Address is the treasury's account on the settlement ledger.
	Address access.Address
	// MinimumBalance triggers a shortfall draw when a payout leaves
	// totalBalance below it.
	MinimumBalance *big.Int
	// Benchmark is the level shortfall draws restore to and the target of
	// replenish. Zero means MinimumBalance.
	Benchmark *big.Int
	// MaxUtilizationBps caps totalLocked relative to totalBalance.
	MaxUtilizationBps int64
	// MaxLockPeriod bounds how far in the future a lock may expire. Zero
	// means unbounded.
	MaxLockPeriod time.Duration
}

// DefaultMaxLockPeriod is the longest reservation accepted by default.
const DefaultMaxLockPeriod = 45 * 24 * time.Hour

// DefaultConfig returns a config with no minimum, no benchmark and full utilization allowed.
func DefaultConfig(addr access.Address) Config {
	return Config{
		Address:           addr,
		MinimumBalance:    new(big.Int),
		Benchmark:         new(big.Int),
		MaxUtilizationBps: 10_000,
		MaxLockPeriod:     DefaultMaxLockPeriod,
	}
}

// Treasury is not safe for concurrent use; the engine serializes calls.
type Treasury struct {
	cfg      Config
	asset    token.Ledger
	backstop Backstop
	logger   zerolog.Logger

	totalBalance  *big.Int
	lockedPremium *big.Int
	totalLocked   *big.Int

	locks  map[uint64]*Lock
	nextID uint64

	pending      map[access.Address]*big.Int
	pendingTotal *big.Int

	entered bool
	dirty   map[uint64]struct{}
}

func New(cfg Config, asset token.Ledger, backstop Backstop, logger zerolog.Logger) *Treasury {
	if cfg.MinimumBalance == nil {
		cfg.MinimumBalance = new(big.Int)
	}
	if cfg.Benchmark == nil {
		cfg.Benchmark = new(big.Int)
	}
	if cfg.MaxUtilizationBps <= 0 {
		cfg.MaxUtilizationBps = 10_000
	}
	return &Treasury{
		cfg:           cfg,
		asset:         asset,
		backstop:      backstop,
		logger:        logger.With().Str("component", "treasury").Logger(),
		totalBalance:  new(big.Int),
		lockedPremium: new(big.Int),
		totalLocked:   new(big.Int),
		locks:         make(map[uint64]*Lock),
		pending:       make(map[access.Address]*big.Int),
		pendingTotal:  new(big.Int),
		dirty:         make(map[uint64]struct{}),
	}
}

func (t *Treasury) Address() access.Address { return t.cfg.Address }

func (t *Treasury) Config() Config { return t.cfg }

func (t *Treasury) TotalBalance() *big.Int { return nmath.Clone(t.totalBalance) }

func (t *Treasury) LockedPremium() *big.Int { return nmath.Clone(t.lockedPremium) }

func (t *Treasury) TotalLocked() *big.Int { return nmath.Clone(t.totalLocked) }

// RealBalance is the settlement asset actually held by the treasury.
func (t *Treasury) RealBalance() *big.Int {
	return t.asset.BalanceOf(t.cfg.Address)
}

// Unrecognized is the held balance that neither backs totalBalance nor
// sits in a pending premium deposit.
func (t *Treasury) Unrecognized() *big.Int {
	committed := nmath.Add(t.totalBalance, t.pendingTotal)
	return nmath.SaturatingSub(t.RealBalance(), committed)
}

// PendingPremium is what holder has deposited for its next lock.
func (t *Treasury) PendingPremium(holder access.Address) *big.Int {
	return nmath.Clone(t.pending[holder])
}

func (t *Treasury) PendingTotal() *big.Int { return nmath.Clone(t.pendingTotal) }

// Available is the part of totalBalance not backing active premiums.
func (t *Treasury) Available() *big.Int {
	return nmath.SaturatingSub(t.totalBalance, t.lockedPremium)
}

// NextLockID is the id the next lock will receive.
func (t *Treasury) NextLockID() uint64 { return t.nextID }

// Lock returns a copy of the lock with id.
func (t *Treasury) Lock(id uint64) (*Lock, bool) {
	l, ok := t.locks[id]
	if !ok {
		return nil, false
	}
	return l.clone(), true
}

// Locks returns copies of all locks held by holder (every lock if holder
// is zero), ordered by id.
func (t *Treasury) Locks(holder access.Address) []*Lock {
	out := make([]*Lock, 0, len(t.locks))
	for _, l := range t.locks {
		if holder.IsZero() || l.Holder == holder {
			out = append(out, l.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpiredActive counts active locks whose expiration has passed at now.
func (t *Treasury) ExpiredActive(now time.Time) int {
	n := 0
	for _, l := range t.locks {
		if l.State == LockActive && l.IsExpired(now) {
			n++
		}
	}
	return n
}

// DrainChanges returns the locks modified since the last drain.
func (t *Treasury) DrainChanges() []*Lock {
	if len(t.dirty) == 0 {
		return nil
	}
	out := make([]*Lock, 0, len(t.dirty))
	for id := range t.dirty {
		if l, ok := t.locks[id]; ok {
			out = append(out, l.clone())
		}
	}
	t.dirty = make(map[uint64]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// enter is the call-depth guard. Every state-changing operation holds it
// until its interactions finish.
func (t *Treasury) enter(op string) error {
	if t.entered {
		return fault.InvalidState(op, "reentrant call")
	}
	t.entered = true
	return nil
}

func (t *Treasury) leave() {
	t.entered = false
}

func (t *Treasury) markDirty(id uint64) {
	t.dirty[id] = struct{}{}
}
