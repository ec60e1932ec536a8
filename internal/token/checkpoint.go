package token

import (
	"fmt"
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// Checkpoint is a deep copy of a MemoryLedger's balances and allowances.
type Checkpoint struct {
	balances   map[access.Address]*big.Int
	allowances map[access.Address]map[access.Address]*big.Int
	supply     *big.Int
	logLen     int
}

// Checkpoint captures the current state for a later Restore.
func (l *MemoryLedger) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		balances:   make(map[access.Address]*big.Int, len(l.balances)),
		allowances: make(map[access.Address]map[access.Address]*big.Int, len(l.allowances)),
		supply:     nmath.Clone(l.supply),
		logLen:     len(l.log),
	}
	for a, b := range l.balances {
		cp.balances[a] = nmath.Clone(b)
	}
	for owner, m := range l.allowances {
		inner := make(map[access.Address]*big.Int, len(m))
		for spender, v := range m {
			inner[spender] = nmath.Clone(v)
		}
		cp.allowances[owner] = inner
	}
	return cp
}

// Restore rolls the ledger back to cp. Movements logged after the
// checkpoint are discarded.
func (l *MemoryLedger) Restore(cp *Checkpoint) {
	l.balances = make(map[access.Address]*big.Int, len(cp.balances))
	for a, b := range cp.balances {
		l.balances[a] = nmath.Clone(b)
	}
	l.allowances = make(map[access.Address]map[access.Address]*big.Int, len(cp.allowances))
	for owner, m := range cp.allowances {
		inner := make(map[access.Address]*big.Int, len(m))
		for spender, v := range m {
			inner[spender] = nmath.Clone(v)
		}
		l.allowances[owner] = inner
	}
	l.supply = nmath.Clone(cp.supply)
	if cp.logLen <= len(l.log) {
		l.log = l.log[:cp.logLen]
	}
}

// State is the serializable form of a ledger, used in snapshots.
// Amounts are base-10 strings.
type State struct {
	Symbol     string                       `json:"symbol"`
	Decimals   int32                        `json:"decimals"`
	Supply     string                       `json:"supply"`
	Balances   map[string]string            `json:"balances"`
	Allowances map[string]map[string]string `json:"allowances,omitempty"`
}

func (l *MemoryLedger) Export() State {
	st := State{
		Symbol:     l.cfg.Symbol,
		Decimals:   l.cfg.Decimals,
		Supply:     l.supply.String(),
		Balances:   make(map[string]string, len(l.balances)),
		Allowances: make(map[string]map[string]string),
	}
	for a, b := range l.balances {
		if b.Sign() != 0 {
			st.Balances[string(a)] = b.String()
		}
	}
	for owner, m := range l.allowances {
		for spender, v := range m {
			if v.Sign() == 0 {
				continue
			}
			inner, ok := st.Allowances[string(owner)]
			if !ok {
				inner = make(map[string]string)
				st.Allowances[string(owner)] = inner
			}
			inner[string(spender)] = v.String()
		}
	}
	return st
}

// Import replaces the ledger contents with st. Hooks are kept.
func (l *MemoryLedger) Import(st State) error {
	if st.Symbol != l.cfg.Symbol {
		return fmt.Errorf("import %s state into %s ledger", st.Symbol, l.cfg.Symbol)
	}
	supply, ok := new(big.Int).SetString(st.Supply, 10)
	if !ok {
		return fmt.Errorf("invalid %s supply %q", st.Symbol, st.Supply)
	}
	balances := make(map[access.Address]*big.Int, len(st.Balances))
	for a, s := range st.Balances {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("invalid %s balance %q for %s", st.Symbol, s, a)
		}
		balances[access.Address(a)] = v
	}
	allowances := make(map[access.Address]map[access.Address]*big.Int, len(st.Allowances))
	for owner, m := range st.Allowances {
		inner := make(map[access.Address]*big.Int, len(m))
		for spender, s := range m {
			v, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return fmt.Errorf("invalid %s allowance %q", st.Symbol, s)
			}
			inner[access.Address(spender)] = v
		}
		allowances[access.Address(owner)] = inner
	}
	l.balances = balances
	l.allowances = allowances
	l.supply = supply
	l.log = nil
	return nil
}
