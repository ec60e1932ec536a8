package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeProtocol
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeHolder:
		return "holder"
	case AccountScopeProtocol:
		return "protocol"
	case AccountScopeExternal:
		return "external"
	}
	return "unknown"
}

// AssetID maps asset symbols to numeric IDs
type AssetID uint16

var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{
		"USDC": 1,
		"NEXO": 2,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "NEXO",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// RegisterAsset returns the id of symbol, assigning the next free id to
// symbols configured at startup that are not built in.
func RegisterAsset(symbol string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()
	if id, ok := assetToID[symbol]; ok {
		return id
	}
	id := AssetID(len(assetToID) + 1)
	assetToID[symbol] = id
	idToAsset[id] = symbol
	return id
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Address access.Address // empty for external accounts
	AssetID AssetID
}

// NewIssuanceAccountKey is the external boundary account mints are credited
// from. Its balance is the negated supply of the asset.
func NewIssuanceAccountKey(assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, AssetID: assetID}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Address, assetName)
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.Address, assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%s", assetName)
	}
	return "unknown"
}

// Chart classifies addresses into account scopes. The treasury and vault
// addresses are protocol accounts; every other address is a holder.
type Chart struct {
	protocol map[access.Address]struct{}
}

func NewChart(protocol ...access.Address) *Chart {
	c := &Chart{protocol: make(map[access.Address]struct{}, len(protocol))}
	for _, a := range protocol {
		c.protocol[a] = struct{}{}
	}
	return c
}

// Key returns the account of addr for assetID.
func (c *Chart) Key(addr access.Address, assetID AssetID) AccountKey {
	scope := AccountScopeHolder
	if _, ok := c.protocol[addr]; ok {
		scope = AccountScopeProtocol
	}
	return AccountKey{Scope: scope, Address: addr, AssetID: assetID}
}

// IsProtocol reports whether addr is a protocol account.
func (c *Chart) IsProtocol(addr access.Address) bool {
	_, ok := c.protocol[addr]
	return ok
}

// Protocol lists the protocol addresses, sorted.
func (c *Chart) Protocol() []access.Address {
	out := make([]access.Address, 0, len(c.protocol))
	for a := range c.protocol {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
