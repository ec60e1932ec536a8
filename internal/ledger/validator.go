package ledger

import (
	"fmt"
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

// MirrorSource is the asset ledger the tracker must agree with.
type MirrorSource interface {
	Symbol() string
	TotalSupply() *big.Int
	Holders() map[access.Address]*big.Int
}

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
	chart   *Chart
}

func NewInvariantValidator(tracker *BalanceTracker, chart *Chart) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		chart:   chart,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every asset is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidateMirror checks the tracked accounts of src's asset against the
// ledger itself: every balance matches, no tracked account holds funds the
// ledger does not know about, and issuance equals the negated supply.
func (v *InvariantValidator) ValidateMirror(src MirrorSource) error {
	assetID, ok := GetAssetID(src.Symbol())
	if !ok {
		return fmt.Errorf("unregistered asset %q", src.Symbol())
	}

	holders := src.Holders()
	for addr, want := range holders {
		key := v.chart.Key(addr, assetID)
		if got := v.tracker.GetBalance(key); got.Cmp(want) != 0 {
			return fmt.Errorf("account %s: tracked %s, ledger %s", key.AccountPath(), got, want)
		}
	}

	issuance := NewIssuanceAccountKey(assetID)
	for key, bal := range v.tracker.balances {
		if key.AssetID != assetID || key == issuance || bal.Sign() == 0 {
			continue
		}
		if _, ok := holders[key.Address]; !ok {
			return fmt.Errorf("account %s: tracked %s, ledger 0", key.AccountPath(), bal)
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}

	supply := src.TotalSupply()
	if got := v.tracker.GetBalance(issuance); new(big.Int).Neg(got).Cmp(supply) != 0 {
		return fmt.Errorf("%s issuance %s does not mirror supply %s", src.Symbol(), got, supply)
	}
	return nil
}
