package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of kind, ready to be decoded into.
func New(kind CommandKind) (Command, error) {
	switch kind {
	case KindAddTokens:
		return &AddTokens{}, nil
	case KindDepositPremium:
		return &DepositPremium{}, nil
	case KindLockLiquidity:
		return &LockLiquidity{}, nil
	case KindUnlock:
		return &Unlock{}, nil
	case KindPayOff:
		return &PayOff{}, nil
	case KindReplenish:
		return &Replenish{}, nil
	case KindTreasuryWithdraw:
		return &TreasuryWithdraw{}, nil
	case KindSaveFreeTokens:
		return &SaveFreeTokens{}, nil
	case KindClaimProfit:
		return &ClaimProfit{}, nil
	case KindProvide:
		return &Provide{}, nil
	case KindTransferShare:
		return &TransferShare{}, nil
	case KindVaultWithdraw:
		return &VaultWithdraw{}, nil
	case KindVaultTransfer:
		return &VaultTransfer{}, nil
	case KindSetWithdrawalsEnabled:
		return &SetWithdrawalsEnabled{}, nil
	case KindSweepRetired:
		return &SweepRetired{}, nil
	case KindMint:
		return &Mint{}, nil
	case KindApprove:
		return &Approve{}, nil
	case KindTokenTransfer:
		return &TokenTransfer{}, nil
	case KindGrantRole:
		return &GrantRole{}, nil
	case KindRevokeRole:
		return &RevokeRole{}, nil
	default:
		return nil, fmt.Errorf("unknown command kind %d", kind)
	}
}

// Encode serializes a command for the event log. Amounts are encoded as
// JSON integers in base units.
func Encode(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// Decode rebuilds a command from its log payload.
func Decode(kind CommandKind, payload []byte) (Command, error) {
	cmd, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return cmd, nil
}
