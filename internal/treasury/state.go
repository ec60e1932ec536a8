package treasury

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// Checkpoint is an in-memory copy of the treasury's mutable state.
type Checkpoint struct {
	totalBalance  *big.Int
	lockedPremium *big.Int
	totalLocked   *big.Int
	locks         map[uint64]*Lock
	nextID        uint64
	pending       map[access.Address]*big.Int
	pendingTotal  *big.Int
	dirty         map[uint64]struct{}
}

func (t *Treasury) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		totalBalance:  nmath.Clone(t.totalBalance),
		lockedPremium: nmath.Clone(t.lockedPremium),
		totalLocked:   nmath.Clone(t.totalLocked),
		locks:         make(map[uint64]*Lock, len(t.locks)),
		nextID:        t.nextID,
		pending:       make(map[access.Address]*big.Int, len(t.pending)),
		pendingTotal:  nmath.Clone(t.pendingTotal),
		dirty:         make(map[uint64]struct{}, len(t.dirty)),
	}
	for id, l := range t.locks {
		cp.locks[id] = l.clone()
	}
	for a, v := range t.pending {
		cp.pending[a] = nmath.Clone(v)
	}
	for id := range t.dirty {
		cp.dirty[id] = struct{}{}
	}
	return cp
}

// Restore rolls back to cp. cp stays reusable.
func (t *Treasury) Restore(cp *Checkpoint) {
	t.totalBalance = nmath.Clone(cp.totalBalance)
	t.lockedPremium = nmath.Clone(cp.lockedPremium)
	t.totalLocked = nmath.Clone(cp.totalLocked)
	t.nextID = cp.nextID
	t.pendingTotal = nmath.Clone(cp.pendingTotal)
	t.locks = make(map[uint64]*Lock, len(cp.locks))
	for id, l := range cp.locks {
		t.locks[id] = l.clone()
	}
	t.pending = make(map[access.Address]*big.Int, len(cp.pending))
	for a, v := range cp.pending {
		t.pending[a] = nmath.Clone(v)
	}
	t.dirty = make(map[uint64]struct{}, len(cp.dirty))
	for id := range cp.dirty {
		t.dirty[id] = struct{}{}
	}
}

// CheckInvariants verifies the lock aggregates and the balance ordering.
// A non-nil result means the ledger is corrupt.
func (t *Treasury) CheckInvariants() error {
	sumAmount := new(big.Int)
	sumPremium := new(big.Int)
	for _, l := range t.locks {
		if l.State == LockActive {
			sumAmount.Add(sumAmount, l.Amount)
			sumPremium.Add(sumPremium, l.Premium)
		}
		if l.ID >= t.nextID {
			return fmt.Errorf("lock id %d not below next id %d", l.ID, t.nextID)
		}
	}
	if sumAmount.Cmp(t.totalLocked) != 0 {
		return fmt.Errorf("totalLocked %s != sum of active amounts %s", t.totalLocked, sumAmount)
	}
	if sumPremium.Cmp(t.lockedPremium) != 0 {
		return fmt.Errorf("lockedPremium %s != sum of active premiums %s", t.lockedPremium, sumPremium)
	}
	if t.lockedPremium.Cmp(t.totalBalance) > 0 {
		return fmt.Errorf("lockedPremium %s exceeds totalBalance %s", t.lockedPremium, t.totalBalance)
	}
	if t.totalBalance.Sign() < 0 {
		return fmt.Errorf("negative totalBalance %s", t.totalBalance)
	}

	sumPending := new(big.Int)
	for _, v := range t.pending {
		sumPending.Add(sumPending, v)
	}
	if sumPending.Cmp(t.pendingTotal) != 0 {
		return fmt.Errorf("pendingTotal %s != sum of pending premiums %s", t.pendingTotal, sumPending)
	}
	committed := nmath.Add(t.totalBalance, t.pendingTotal)
	if held := t.RealBalance(); held.Cmp(committed) < 0 {
		return fmt.Errorf("real balance %s below committed %s", held, committed)
	}
	return nil
}

// LockRecord is the serializable form of a Lock.
type LockRecord struct {
	ID         uint64    `json:"id"`
	Holder     string    `json:"holder"`
	Amount     string    `json:"amount"`
	Premium    string    `json:"premium"`
	Expiration time.Time `json:"expiration"`
	State      string    `json:"state"`
	Resolution string    `json:"resolution"`
	Payout     string    `json:"payout"`
	CreatedAt  time.Time `json:"created_at"`
	SettledAt  time.Time `json:"settled_at,omitempty"`
}

// Record converts a lock to its serializable form.
func (l *Lock) Record() LockRecord {
	return LockRecord{
		ID:         l.ID,
		Holder:     string(l.Holder),
		Amount:     l.Amount.String(),
		Premium:    l.Premium.String(),
		Expiration: l.Expiration,
		State:      l.State.String(),
		Resolution: l.Resolution.String(),
		Payout:     nmath.Clone(l.Payout).String(),
		CreatedAt:  l.CreatedAt,
		SettledAt:  l.SettledAt,
	}
}

// State is the serializable treasury, used in snapshots.
type State struct {
	TotalBalance  string            `json:"total_balance"`
	LockedPremium string            `json:"locked_premium"`
	TotalLocked   string            `json:"total_locked"`
	NextID        uint64            `json:"next_id"`
	Locks         []LockRecord      `json:"locks"`
	Pending       map[string]string `json:"pending,omitempty"`
}

func (t *Treasury) Export() State {
	st := State{
		TotalBalance:  t.totalBalance.String(),
		LockedPremium: t.lockedPremium.String(),
		TotalLocked:   t.totalLocked.String(),
		NextID:        t.nextID,
		Locks:         make([]LockRecord, 0, len(t.locks)),
		Pending:       make(map[string]string, len(t.pending)),
	}
	for _, l := range t.locks {
		st.Locks = append(st.Locks, l.Record())
	}
	sort.Slice(st.Locks, func(i, j int) bool { return st.Locks[i].ID < st.Locks[j].ID })
	for a, v := range t.pending {
		st.Pending[string(a)] = v.String()
	}
	return st
}

func (t *Treasury) Import(st State) error {
	parse := func(field, s string) (*big.Int, error) {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("treasury state: invalid %s %q", field, s)
		}
		return v, nil
	}

	total, err := parse("total_balance", st.TotalBalance)
	if err != nil {
		return err
	}
	premium, err := parse("locked_premium", st.LockedPremium)
	if err != nil {
		return err
	}
	locked, err := parse("total_locked", st.TotalLocked)
	if err != nil {
		return err
	}

	locks := make(map[uint64]*Lock, len(st.Locks))
	for _, r := range st.Locks {
		l := &Lock{
			ID:         r.ID,
			Holder:     access.Address(r.Holder),
			Expiration: r.Expiration,
			CreatedAt:  r.CreatedAt,
			SettledAt:  r.SettledAt,
		}
		if l.Amount, err = parse("lock amount", r.Amount); err != nil {
			return err
		}
		if l.Premium, err = parse("lock premium", r.Premium); err != nil {
			return err
		}
		if l.Payout, err = parse("lock payout", r.Payout); err != nil {
			return err
		}
		if r.State == LockSettled.String() {
			l.State = LockSettled
		}
		switch r.Resolution {
		case ResolutionUnlocked.String():
			l.Resolution = ResolutionUnlocked
		case ResolutionPaidOff.String():
			l.Resolution = ResolutionPaidOff
		}
		locks[l.ID] = l
	}

	pending := make(map[access.Address]*big.Int, len(st.Pending))
	pendingTotal := new(big.Int)
	for a, s := range st.Pending {
		v, err := parse("pending premium", s)
		if err != nil {
			return err
		}
		pending[access.Address(a)] = v
		pendingTotal.Add(pendingTotal, v)
	}

	t.totalBalance = total
	t.lockedPremium = premium
	t.totalLocked = locked
	t.nextID = st.NextID
	t.locks = locks
	t.pending = pending
	t.pendingTotal = pendingTotal
	t.dirty = make(map[uint64]struct{})
	return nil
}
