package query

import "time"

// Amount carries a base-unit integer alongside its decimal rendering.
type Amount struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

// TreasuryResponse is the treasury state as of a sequence.
type TreasuryResponse struct {
	TotalBalance  Amount `json:"total_balance"`
	LockedPremium Amount `json:"locked_premium"`
	TotalLocked   Amount `json:"total_locked"`
	PendingTotal  Amount `json:"pending_total"`
	RealBalance   Amount `json:"real_balance"`
	Unrecognized  Amount `json:"unrecognized"`
	Available     Amount `json:"available"`
	NextLockID    uint64 `json:"next_lock_id"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// VaultResponse is the vault state as of a sequence.
type VaultResponse struct {
	Reserve            Amount `json:"reserve"`
	TotalBalance       Amount `json:"total_balance"`
	Retired            Amount `json:"retired"`
	WithdrawalsEnabled bool   `json:"withdrawals_enabled"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// LockResponse represents one lock for API queries.
type LockResponse struct {
	ID         uint64     `json:"lock_id"`
	Holder     string     `json:"holder"`
	Amount     Amount     `json:"amount"`
	Premium    Amount     `json:"premium"`
	Payout     Amount     `json:"payout"`
	Expiration time.Time  `json:"expiration"`
	State      string     `json:"state"`
	Resolution string     `json:"resolution"`
	CreatedAt  time.Time  `json:"created_at"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

// PositionResponse represents a vault position for API queries. Balance
// and StartBalance are stake units; Share and Profit are settlement units.
type PositionResponse struct {
	Holder       string `json:"holder"`
	Balance      Amount `json:"balance"`
	StartBalance Amount `json:"start_balance"`
	Share        Amount `json:"share"`
	Profit       Amount `json:"profit"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// BalanceResponse is an account balance on one asset ledger.
type BalanceResponse struct {
	Address        string `json:"address"`
	Asset          string `json:"asset"`
	Balance        Amount `json:"balance"`
	PendingPremium Amount `json:"pending_premium"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	EngineSequence   int64             `json:"engine_sequence"`
	ProjectedThrough int64             `json:"projected_through"`
}

// UnbalancedAsset is an asset whose projected balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
