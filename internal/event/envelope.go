package event

import (
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
)

// CommandKind discriminator for command payloads
type CommandKind int32

const (
	KindUnknown CommandKind = iota

	// Treasury
	KindAddTokens
	KindDepositPremium
	KindLockLiquidity
	KindUnlock
	KindPayOff
	KindReplenish
	KindTreasuryWithdraw

	// Vault
	KindSaveFreeTokens
	KindClaimProfit
	KindProvide
	KindTransferShare
	KindVaultWithdraw
	KindVaultTransfer
	KindSetWithdrawalsEnabled
	KindSweepRetired

	// Asset ledgers and permissions
	KindMint
	KindApprove
	KindTokenTransfer
	KindGrantRole
	KindRevokeRole
)

var kindNames = map[CommandKind]string{
	KindAddTokens:             "add_tokens",
	KindDepositPremium:        "deposit_premium",
	KindLockLiquidity:         "lock_liquidity",
	KindUnlock:                "unlock",
	KindPayOff:                "pay_off",
	KindReplenish:             "replenish",
	KindTreasuryWithdraw:      "treasury_withdraw",
	KindSaveFreeTokens:        "save_free_tokens",
	KindClaimProfit:           "claim_profit",
	KindProvide:               "provide",
	KindTransferShare:         "transfer_share",
	KindVaultWithdraw:         "vault_withdraw",
	KindVaultTransfer:         "vault_transfer",
	KindSetWithdrawalsEnabled: "set_withdrawals_enabled",
	KindSweepRetired:          "sweep_retired",
	KindMint:                  "mint",
	KindApprove:               "approve",
	KindTokenTransfer:         "token_transfer",
	KindGrantRole:             "grant_role",
	KindRevokeRole:            "revoke_role",
}

var kindsByName = func() map[string]CommandKind {
	m := make(map[string]CommandKind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// String returns the wire name used in NATS subjects and HTTP routes.
func (k CommandKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind resolves a wire name. Unknown names return KindUnknown.
func ParseKind(name string) CommandKind {
	return kindsByName[name]
}

// Kinds lists every known kind in declaration order.
func Kinds() []CommandKind {
	out := make([]CommandKind, 0, len(kindNames))
	for k := KindAddTokens; k <= KindRevokeRole; k++ {
		out = append(out, k)
	}
	return out
}

// Envelope wraps every command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	Kind   CommandKind
	Caller access.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// JSON-encoded Outcome
	Outcome []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	Kind() CommandKind

	// Caller is the address the operation runs as
	Caller() access.Address

	// Timestamp is the "now" the operation sees
	Timestamp() time.Time
}

// Header carries the fields every command shares.
type Header struct {
	Key  string         `json:"idempotency_key"`
	From access.Address `json:"caller"`
	At   time.Time      `json:"timestamp"`
}

func (h Header) IdempotencyKey() string { return h.Key }

func (h Header) Caller() access.Address { return h.From }

func (h Header) Timestamp() time.Time { return h.At }

// Outcome is what a successful command produced.
type Outcome struct {
	LockID *uint64 `json:"lock_id,omitempty"`
	// Named base-unit amounts, e.g. "paid", "drawn", "pulled"
	Amounts map[string]string `json:"amounts,omitempty"`
}
