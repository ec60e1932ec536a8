package ledger

import (
	"fmt"
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) ref(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.ref(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.ref(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	return nmath.Clone(bt.balances[key])
}

// ComputeGlobalBalance sums all account balances per asset (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(big.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// Rebuild resets every account of assetID from a holder balance map, with
// the issuance account carrying the negated total. Used after a snapshot
// restore, when no journal history is replayed.
func (bt *BalanceTracker) Rebuild(chart *Chart, assetID AssetID, holders map[access.Address]*big.Int) {
	for key := range bt.balances {
		if key.AssetID == assetID {
			delete(bt.balances, key)
		}
	}
	supply := new(big.Int)
	for addr, bal := range holders {
		if bal.Sign() == 0 {
			continue
		}
		bt.balances[chart.Key(addr, assetID)] = nmath.Clone(bal)
		supply.Add(supply, bal)
	}
	bt.balances[NewIssuanceAccountKey(assetID)] = supply.Neg(supply)
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = nmath.Clone(v)
	}
	return snapshot
}
