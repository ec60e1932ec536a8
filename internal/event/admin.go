package event

import (
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

// Asset names the ledger a token command targets.
type Asset string

const (
	AssetSettlement Asset = "settlement"
	AssetStake      Asset = "stake"
)

// Mint issues new units on one of the engine-owned ledgers. Admin only.
type Mint struct {
	Header
	Asset  Asset          `json:"asset"`
	To     access.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *Mint) Kind() CommandKind { return KindMint }

type Approve struct {
	Header
	Asset   Asset          `json:"asset"`
	Spender access.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (c *Approve) Kind() CommandKind { return KindApprove }

type TokenTransfer struct {
	Header
	Asset  Asset          `json:"asset"`
	To     access.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *TokenTransfer) Kind() CommandKind { return KindTokenTransfer }

type GrantRole struct {
	Header
	Role    access.Role    `json:"role"`
	Account access.Address `json:"account"`
}

func (c *GrantRole) Kind() CommandKind { return KindGrantRole }

type RevokeRole struct {
	Header
	Role    access.Role    `json:"role"`
	Account access.Address `json:"account"`
}

func (c *RevokeRole) Kind() CommandKind { return KindRevokeRole }
