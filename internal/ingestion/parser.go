package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
)

// ErrMalformed marks input that can never become a valid command.
// Redelivering it will not help.
var ErrMalformed = errors.New("malformed command")

// Stamp supplies header fields a producer left out: the transport's
// message id and receive time.
type Stamp struct {
	Key string
	Now time.Time
}

// Parser converts wire JSON into typed commands. Amounts on the wire are
// decimal strings in whole-token units ("1500.25"); the parser scales them
// by the asset's decimals and rejects excess precision.
type Parser struct {
	settlement nmath.AssetConfig
	stake      nmath.AssetConfig
}

func NewParser(settlement, stake nmath.AssetConfig) *Parser {
	return &Parser{settlement: settlement, stake: stake}
}

// commandJSON is the union of every command's wire fields. Field names use
// snake_case to match upstream producers.
type commandJSON struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Caller         string  `json:"caller"`
	Timestamp      string  `json:"timestamp"` // RFC 3339
	TimestampUs    int64   `json:"timestamp_us"`
	Amount         string  `json:"amount"`
	Payout         string  `json:"payout"`
	Holder         string  `json:"holder"`
	To             string  `json:"to"`
	Spender        string  `json:"spender"`
	Account        string  `json:"account"`
	Role           string  `json:"role"`
	Asset          string  `json:"asset"`
	LockID         *uint64 `json:"lock_id"`
	Expiration     string  `json:"expiration"`
	Enabled        *bool   `json:"enabled"`
}

func malformed(kind event.CommandKind, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, kind, fmt.Sprintf(format, args...))
}

// Parse decodes data as a command of kind.
func (p *Parser) Parse(kind event.CommandKind, data []byte, stamp Stamp) (event.Command, error) {
	if kind == event.KindUnknown {
		return nil, fmt.Errorf("%w: unknown command kind", ErrMalformed)
	}
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, malformed(kind, "invalid JSON: %v", err)
	}

	hdr, err := p.header(kind, j, stamp)
	if err != nil {
		return nil, err
	}

	switch kind {
	case event.KindAddTokens:
		return &event.AddTokens{Header: hdr}, nil
	case event.KindReplenish:
		return &event.Replenish{Header: hdr}, nil
	case event.KindSaveFreeTokens:
		return &event.SaveFreeTokens{Header: hdr}, nil
	case event.KindClaimProfit:
		return &event.ClaimProfit{Header: hdr}, nil

	case event.KindDepositPremium:
		amt, err := p.amount(kind, "amount", j.Amount, p.settlement)
		if err != nil {
			return nil, err
		}
		return &event.DepositPremium{Header: hdr, Amount: amt}, nil

	case event.KindLockLiquidity:
		amt, err := p.amount(kind, "amount", j.Amount, p.settlement)
		if err != nil {
			return nil, err
		}
		holder, err := address(kind, "holder", j.Holder)
		if err != nil {
			return nil, err
		}
		exp, err := time.Parse(time.RFC3339, j.Expiration)
		if err != nil {
			return nil, malformed(kind, "expiration %q is not RFC 3339", j.Expiration)
		}
		return &event.LockLiquidity{Header: hdr, Holder: holder, Amount: amt, Expiration: exp.UTC()}, nil

	case event.KindUnlock:
		if j.LockID == nil {
			return nil, malformed(kind, "lock_id is required")
		}
		return &event.Unlock{Header: hdr, LockID: *j.LockID}, nil

	case event.KindPayOff:
		if j.LockID == nil {
			return nil, malformed(kind, "lock_id is required")
		}
		payout, err := p.amount(kind, "payout", j.Payout, p.settlement)
		if err != nil {
			return nil, err
		}
		to, err := address(kind, "to", j.To)
		if err != nil {
			return nil, err
		}
		return &event.PayOff{Header: hdr, LockID: *j.LockID, Payout: payout, To: to}, nil

	case event.KindTreasuryWithdraw:
		to, amt, err := p.transfer(kind, j, p.settlement)
		if err != nil {
			return nil, err
		}
		return &event.TreasuryWithdraw{Header: hdr, To: to, Amount: amt}, nil

	case event.KindProvide:
		amt, err := p.amount(kind, "amount", j.Amount, p.stake)
		if err != nil {
			return nil, err
		}
		return &event.Provide{Header: hdr, Amount: amt}, nil

	case event.KindVaultWithdraw:
		amt, err := p.amount(kind, "amount", j.Amount, p.stake)
		if err != nil {
			return nil, err
		}
		return &event.VaultWithdraw{Header: hdr, Amount: amt}, nil

	case event.KindTransferShare:
		to, amt, err := p.transfer(kind, j, p.stake)
		if err != nil {
			return nil, err
		}
		return &event.TransferShare{Header: hdr, To: to, Amount: amt}, nil

	case event.KindVaultTransfer:
		to, amt, err := p.transfer(kind, j, p.settlement)
		if err != nil {
			return nil, err
		}
		return &event.VaultTransfer{Header: hdr, To: to, Amount: amt}, nil

	case event.KindSetWithdrawalsEnabled:
		if j.Enabled == nil {
			return nil, malformed(kind, "enabled is required")
		}
		return &event.SetWithdrawalsEnabled{Header: hdr, Enabled: *j.Enabled}, nil

	case event.KindSweepRetired:
		to, err := address(kind, "to", j.To)
		if err != nil {
			return nil, err
		}
		return &event.SweepRetired{Header: hdr, To: to}, nil

	case event.KindMint, event.KindTokenTransfer:
		asset, cfg, err := p.asset(kind, j.Asset)
		if err != nil {
			return nil, err
		}
		to, amt, err := p.transfer(kind, j, cfg)
		if err != nil {
			return nil, err
		}
		if kind == event.KindMint {
			return &event.Mint{Header: hdr, Asset: asset, To: to, Amount: amt}, nil
		}
		return &event.TokenTransfer{Header: hdr, Asset: asset, To: to, Amount: amt}, nil

	case event.KindApprove:
		asset, cfg, err := p.asset(kind, j.Asset)
		if err != nil {
			return nil, err
		}
		spender, err := address(kind, "spender", j.Spender)
		if err != nil {
			return nil, err
		}
		amt, err := p.amount(kind, "amount", j.Amount, cfg)
		if err != nil {
			return nil, err
		}
		return &event.Approve{Header: hdr, Asset: asset, Spender: spender, Amount: amt}, nil

	case event.KindGrantRole, event.KindRevokeRole:
		role, err := access.ParseRole(j.Role)
		if err != nil {
			return nil, malformed(kind, "%v", err)
		}
		account, err := address(kind, "account", j.Account)
		if err != nil {
			return nil, err
		}
		if kind == event.KindGrantRole {
			return &event.GrantRole{Header: hdr, Role: role, Account: account}, nil
		}
		return &event.RevokeRole{Header: hdr, Role: role, Account: account}, nil
	}
	return nil, malformed(kind, "no wire format")
}

func (p *Parser) header(kind event.CommandKind, j commandJSON, stamp Stamp) (event.Header, error) {
	key := j.IdempotencyKey
	if key == "" {
		key = stamp.Key
	}
	if key == "" {
		return event.Header{}, malformed(kind, "idempotency_key is required")
	}
	caller, err := address(kind, "caller", j.Caller)
	if err != nil {
		return event.Header{}, err
	}

	var at time.Time
	switch {
	case j.Timestamp != "":
		at, err = time.Parse(time.RFC3339Nano, j.Timestamp)
		if err != nil {
			return event.Header{}, malformed(kind, "timestamp %q is not RFC 3339", j.Timestamp)
		}
	case j.TimestampUs > 0:
		at = time.UnixMicro(j.TimestampUs)
	default:
		at = stamp.Now
	}
	if at.IsZero() {
		return event.Header{}, malformed(kind, "timestamp is required")
	}
	return event.Header{Key: key, From: caller, At: at.UTC()}, nil
}

func (p *Parser) transfer(kind event.CommandKind, j commandJSON, cfg nmath.AssetConfig) (access.Address, *big.Int, error) {
	to, err := address(kind, "to", j.To)
	if err != nil {
		return "", nil, err
	}
	amt, err := p.amount(kind, "amount", j.Amount, cfg)
	if err != nil {
		return "", nil, err
	}
	return to, amt, nil
}

func (p *Parser) amount(kind event.CommandKind, field, s string, cfg nmath.AssetConfig) (*big.Int, error) {
	if s == "" {
		return nil, malformed(kind, "%s is required", field)
	}
	v, err := cfg.Parse(s)
	if err != nil {
		return nil, malformed(kind, "%s: %v", field, err)
	}
	if v.Sign() < 0 {
		return nil, malformed(kind, "%s must not be negative", field)
	}
	return v, nil
}

func (p *Parser) asset(kind event.CommandKind, name string) (event.Asset, nmath.AssetConfig, error) {
	switch strings.ToLower(name) {
	case string(event.AssetSettlement), strings.ToLower(p.settlement.Symbol):
		return event.AssetSettlement, p.settlement, nil
	case string(event.AssetStake), strings.ToLower(p.stake.Symbol):
		return event.AssetStake, p.stake, nil
	}
	return "", nmath.AssetConfig{}, malformed(kind, "unknown asset %q", name)
}

func address(kind event.CommandKind, field, s string) (access.Address, error) {
	a := access.NormalizeAddress(s)
	if a.IsZero() {
		return "", malformed(kind, "%s is required", field)
	}
	return a, nil
}
