package event

import (
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

type SaveFreeTokens struct {
	Header
}

func (c *SaveFreeTokens) Kind() CommandKind { return KindSaveFreeTokens }

type ClaimProfit struct {
	Header
}

func (c *ClaimProfit) Kind() CommandKind { return KindClaimProfit }

type Provide struct {
	Header
	Amount *big.Int `json:"amount"` // stake asset
}

func (c *Provide) Kind() CommandKind { return KindProvide }

type TransferShare struct {
	Header
	To     access.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *TransferShare) Kind() CommandKind { return KindTransferShare }

type VaultWithdraw struct {
	Header
	Amount *big.Int `json:"amount"`
}

func (c *VaultWithdraw) Kind() CommandKind { return KindVaultWithdraw }

// VaultTransfer pays out of the reserve (settlement asset).
type VaultTransfer struct {
	Header
	To     access.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *VaultTransfer) Kind() CommandKind { return KindVaultTransfer }

type SetWithdrawalsEnabled struct {
	Header
	Enabled bool `json:"enabled"`
}

func (c *SetWithdrawalsEnabled) Kind() CommandKind { return KindSetWithdrawalsEnabled }

type SweepRetired struct {
	Header
	To access.Address `json:"to"`
}

func (c *SweepRetired) Kind() CommandKind { return KindSweepRetired }
