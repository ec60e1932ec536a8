package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeIssuance
	JournalTypePremiumDeposit
	JournalTypeOptionPayout
	JournalTypeBackstopDraw
	JournalTypeTreasuryWithdrawal
	JournalTypeStakeDeposit
	JournalTypeProfitPayout
	JournalTypeStakeWithdrawal
	JournalTypeReserveTransfer
	JournalTypeRetiredSweep
)

var journalTypeNames = [...]string{
	JournalTypeTransfer:           "transfer",
	JournalTypeIssuance:           "issuance",
	JournalTypePremiumDeposit:     "premium_deposit",
	JournalTypeOptionPayout:       "option_payout",
	JournalTypeBackstopDraw:       "backstop_draw",
	JournalTypeTreasuryWithdrawal: "treasury_withdrawal",
	JournalTypeStakeDeposit:       "stake_deposit",
	JournalTypeProfitPayout:       "profit_payout",
	JournalTypeStakeWithdrawal:    "stake_withdrawal",
	JournalTypeReserveTransfer:    "reserve_transfer",
	JournalTypeRetiredSweep:       "retired_sweep",
}

func (t JournalType) String() string {
	if t >= 0 && int(t) < len(journalTypeNames) {
		return journalTypeNames[t]
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        *big.Int    // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry moves a single positive amount from the credit account
// to the debit account, so Σ debits == Σ credits holds per entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// No self-transfers
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
