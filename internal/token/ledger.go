// Package token models the asset ledgers the treasury and vault settle on.
// Ledger is the minimal capability the domain consumes; MemoryLedger is the
// engine-owned implementation with mint/approve, a transfer log and
// checkpoints for atomic rollback.
package token

import (
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// Ledger is the balance ledger of a single asset. Transfer moves funds owned
// by from; TransferFrom moves funds on behalf of from using spender's
// allowance.
type Ledger interface {
	Symbol() string
	Decimals() int32
	BalanceOf(addr access.Address) *big.Int
	Transfer(from, to access.Address, amount *big.Int) error
	TransferFrom(spender, from, to access.Address, amount *big.Int) error
}

// MovementKind distinguishes issuance from ordinary transfers.
type MovementKind uint8

const (
	MovementTransfer MovementKind = iota
	MovementMint
)

func (k MovementKind) String() string {
	if k == MovementMint {
		return "mint"
	}
	return "transfer"
}

// Movement is one entry of the transfer log.
type Movement struct {
	Asset  string
	Kind   MovementKind
	From   access.Address // zero for mints
	To     access.Address
	Amount *big.Int
}

// Hook observes a completed movement. Returning an error aborts the
// movement; a hook may call back into the domain, which is how recipient
// callbacks (and re-entrancy) are exercised in tests.
type Hook func(m Movement) error

// MemoryLedger is an in-memory ERC-20-like ledger.
// Not thread-safe; owned by the engine.
type MemoryLedger struct {
	cfg        nmath.AssetConfig
	balances   map[access.Address]*big.Int
	allowances map[access.Address]map[access.Address]*big.Int
	supply     *big.Int
	log        []Movement
	hooks      []Hook
}

func NewMemoryLedger(cfg nmath.AssetConfig) *MemoryLedger {
	return &MemoryLedger{
		cfg:        cfg,
		balances:   make(map[access.Address]*big.Int),
		allowances: make(map[access.Address]map[access.Address]*big.Int),
		supply:     new(big.Int),
	}
}

func (l *MemoryLedger) Symbol() string {
	return l.cfg.Symbol
}

func (l *MemoryLedger) Decimals() int32 {
	return l.cfg.Decimals
}

func (l *MemoryLedger) Config() nmath.AssetConfig {
	return l.cfg
}

// BalanceOf returns a copy of addr's balance.
func (l *MemoryLedger) BalanceOf(addr access.Address) *big.Int {
	return nmath.Clone(l.balances[addr])
}

func (l *MemoryLedger) TotalSupply() *big.Int {
	return nmath.Clone(l.supply)
}

// Allowance returns how much spender may still move on behalf of owner.
func (l *MemoryLedger) Allowance(owner, spender access.Address) *big.Int {
	return nmath.Clone(l.allowances[owner][spender])
}

// OnTransfer registers a hook run after every movement.
func (l *MemoryLedger) OnTransfer(h Hook) {
	l.hooks = append(l.hooks, h)
}

// Mint issues amount to to.
func (l *MemoryLedger) Mint(to access.Address, amount *big.Int) error {
	if to.IsZero() {
		return fault.InvalidArgument("token.mint", "mint to zero address")
	}
	if amount == nil || amount.Sign() < 0 {
		return fault.InvalidArgument("token.mint", "negative amount")
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return l.record(Movement{Asset: l.cfg.Symbol, Kind: MovementMint, To: to, Amount: nmath.Clone(amount)})
}

// Approve sets spender's allowance over owner's funds, replacing any previous value.
func (l *MemoryLedger) Approve(owner, spender access.Address, amount *big.Int) error {
	if spender.IsZero() {
		return fault.InvalidArgument("token.approve", "approve zero address")
	}
	if amount == nil || amount.Sign() < 0 {
		return fault.InvalidArgument("token.approve", "negative amount")
	}
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[access.Address]*big.Int)
		l.allowances[owner] = m
	}
	m[spender] = nmath.Clone(amount)
	return nil
}

func (l *MemoryLedger) Transfer(from, to access.Address, amount *big.Int) error {
	return l.move("token.transfer", from, to, amount)
}

func (l *MemoryLedger) TransferFrom(spender, from, to access.Address, amount *big.Int) error {
	allowed := l.allowances[from][spender]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fault.InsufficientFunds("token.transferFrom",
			"%s allowance of %s over %s is %s, need %s",
			l.cfg.Symbol, spender, from, nmath.Clone(allowed), amount)
	}
	if err := l.move("token.transferFrom", from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (l *MemoryLedger) move(op string, from, to access.Address, amount *big.Int) error {
	if to.IsZero() {
		return fault.InvalidArgument(op, "transfer to zero address")
	}
	if amount == nil || amount.Sign() < 0 {
		return fault.InvalidArgument(op, "negative amount")
	}
	bal := l.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fault.InsufficientFunds(op, "%s balance of %s is %s, need %s",
			l.cfg.Symbol, from, nmath.Clone(bal), amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return l.record(Movement{Asset: l.cfg.Symbol, Kind: MovementTransfer, From: from, To: to, Amount: nmath.Clone(amount)})
}

func (l *MemoryLedger) credit(to access.Address, amount *big.Int) {
	bal, ok := l.balances[to]
	if !ok {
		bal = new(big.Int)
		l.balances[to] = bal
	}
	bal.Add(bal, amount)
}

// record appends to the log and runs hooks. A failing hook undoes the movement.
// Movements made by a hook itself are left to the caller's checkpoint.
func (l *MemoryLedger) record(m Movement) error {
	idx := len(l.log)
	l.log = append(l.log, m)
	for _, h := range l.hooks {
		if err := h(m); err != nil {
			l.undo(m, idx)
			return err
		}
	}
	return nil
}

func (l *MemoryLedger) undo(m Movement, idx int) {
	l.balances[m.To].Sub(l.balances[m.To], m.Amount)
	if m.Kind == MovementMint {
		l.supply.Sub(l.supply, m.Amount)
	} else {
		l.credit(m.From, m.Amount)
	}
	if idx < len(l.log) {
		l.log = append(l.log[:idx], l.log[idx+1:]...)
	}
}

// DrainMovements returns and clears the transfer log.
func (l *MemoryLedger) DrainMovements() []Movement {
	out := l.log
	l.log = nil
	return out
}

// Holders returns every address with a non-zero balance.
func (l *MemoryLedger) Holders() map[access.Address]*big.Int {
	out := make(map[access.Address]*big.Int, len(l.balances))
	for a, b := range l.balances {
		if b.Sign() != 0 {
			out[a] = nmath.Clone(b)
		}
	}
	return out
}
