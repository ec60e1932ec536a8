package event

import (
	"math/big"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

type AddTokens struct {
	Header
}

func (c *AddTokens) Kind() CommandKind { return KindAddTokens }

type DepositPremium struct {
	Header
	Amount *big.Int `json:"amount"`
}

func (c *DepositPremium) Kind() CommandKind { return KindDepositPremium }

type LockLiquidity struct {
	Header
	Holder     access.Address `json:"holder"`
	Amount     *big.Int       `json:"amount"`
	Expiration time.Time      `json:"expiration"`
}

func (c *LockLiquidity) Kind() CommandKind { return KindLockLiquidity }

type Unlock struct {
	Header
	LockID uint64 `json:"lock_id"`
}

func (c *Unlock) Kind() CommandKind { return KindUnlock }

type PayOff struct {
	Header
	LockID uint64         `json:"lock_id"`
	Payout *big.Int       `json:"payout"`
	To     access.Address `json:"to"`
}

func (c *PayOff) Kind() CommandKind { return KindPayOff }

type Replenish struct {
	Header
}

func (c *Replenish) Kind() CommandKind { return KindReplenish }

type TreasuryWithdraw struct {
	Header
	To     access.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *TreasuryWithdraw) Kind() CommandKind { return KindTreasuryWithdraw }
