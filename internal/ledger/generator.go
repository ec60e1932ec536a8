package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
)

// JournalGenerator turns the token movements of one command into a balanced
// journal batch.
type JournalGenerator struct {
	chart    *Chart
	treasury access.Address
	vault    access.Address
}

func NewJournalGenerator(chart *Chart, treasury, vault access.Address) *JournalGenerator {
	return &JournalGenerator{chart: chart, treasury: treasury, vault: vault}
}

// Generate builds the batch for the movements a command produced. It returns
// nil when the command moved nothing.
func (jg *JournalGenerator) Generate(
	seq int64,
	ref string,
	kind event.CommandKind,
	ts time.Time,
	movements []token.Movement,
) (*Batch, error) {
	if len(movements) == 0 {
		return nil, nil
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  ref,
		Sequence:  seq,
		Timestamp: ts.UnixMicro(),
		Journals:  make([]Journal, 0, len(movements)),
	}

	for _, m := range movements {
		if m.Amount == nil || m.Amount.Sign() == 0 {
			continue
		}
		assetID, ok := GetAssetID(m.Asset)
		if !ok {
			return nil, fmt.Errorf("movement in unregistered asset %q", m.Asset)
		}

		credit := NewIssuanceAccountKey(assetID)
		if m.Kind != token.MovementMint {
			credit = jg.chart.Key(m.From, assetID)
		}

		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ref,
			Sequence:      seq,
			DebitAccount:  jg.chart.Key(m.To, assetID),
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        nmath.Clone(m.Amount),
			JournalType:   jg.classify(kind, m),
			Timestamp:     batch.Timestamp,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, nil
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

// classify names a movement by the command that caused it and its direction.
func (jg *JournalGenerator) classify(kind event.CommandKind, m token.Movement) JournalType {
	if m.Kind == token.MovementMint {
		return JournalTypeIssuance
	}
	switch kind {
	case event.KindDepositPremium:
		return JournalTypePremiumDeposit
	case event.KindPayOff:
		if m.From == jg.vault {
			return JournalTypeBackstopDraw
		}
		return JournalTypeOptionPayout
	case event.KindReplenish:
		return JournalTypeBackstopDraw
	case event.KindTreasuryWithdraw:
		return JournalTypeTreasuryWithdrawal
	case event.KindProvide:
		if m.To == jg.vault {
			return JournalTypeStakeDeposit
		}
		return JournalTypeProfitPayout
	case event.KindClaimProfit:
		return JournalTypeProfitPayout
	case event.KindVaultWithdraw:
		return JournalTypeStakeWithdrawal
	case event.KindVaultTransfer:
		return JournalTypeReserveTransfer
	case event.KindSweepRetired:
		return JournalTypeRetiredSweep
	}
	return JournalTypeTransfer
}
