package core

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
)

func (c *Engine) dispatch(call access.Call, cmd event.Command) (event.Outcome, error) {
	switch e := cmd.(type) {
	// Treasury
	case *event.AddTokens:
		recognized, err := c.treasury.AddTokens(call)
		return amounts("recognized", recognized), err
	case *event.DepositPremium:
		return event.Outcome{}, c.treasury.DepositPremium(call, e.Amount)
	case *event.LockLiquidity:
		id, err := c.treasury.LockLiquidityFor(call, e.Holder, e.Amount, e.Expiration)
		if err != nil {
			return event.Outcome{}, err
		}
		return event.Outcome{LockID: &id}, nil
	case *event.Unlock:
		return event.Outcome{LockID: &e.LockID}, c.treasury.Unlock(call, e.LockID)
	case *event.PayOff:
		res, err := c.treasury.PayOff(call, e.LockID, e.Payout, e.To)
		if err != nil {
			return event.Outcome{}, err
		}
		if res.Drawn.Sign() > 0 && c.metrics != nil {
			c.metrics.TreasuryBackstopDraws.Inc()
		}
		out := amounts("paid", res.Paid, "drawn", res.Drawn)
		out.LockID = &e.LockID
		return out, nil
	case *event.Replenish:
		res, err := c.treasury.Replenish(call)
		if err != nil {
			return event.Outcome{}, err
		}
		if res.Drawn.Sign() > 0 && c.metrics != nil {
			c.metrics.TreasuryBackstopDraws.Inc()
		}
		return amounts("recognized", res.Recognized, "drawn", res.Drawn), nil
	case *event.TreasuryWithdraw:
		return event.Outcome{}, c.treasury.Withdraw(call, e.To, e.Amount)

	// Vault
	case *event.SaveFreeTokens:
		credited, err := c.vault.SaveFreeTokens(call)
		return amounts("credited", credited), err
	case *event.ClaimProfit:
		res, err := c.vault.ClaimProfit(call)
		if err != nil {
			return event.Outcome{}, err
		}
		return amounts("paid", res.Paid, "retired", res.Retired), nil
	case *event.Provide:
		res, err := c.vault.Provide(call, e.Amount)
		if err != nil {
			return event.Outcome{}, err
		}
		return amounts("pulled", res.Pulled, "paid", res.Claim.Paid, "retired", res.Claim.Retired), nil
	case *event.TransferShare:
		return event.Outcome{}, c.vault.TransferShare(call, e.To, e.Amount)
	case *event.VaultWithdraw:
		res, err := c.vault.Withdraw(call, e.Amount)
		if err != nil {
			return event.Outcome{}, err
		}
		return amounts("stake", res.Stake, "settlement", res.Settlement), nil
	case *event.VaultTransfer:
		return event.Outcome{}, c.vault.Transfer(call, e.To, e.Amount)
	case *event.SetWithdrawalsEnabled:
		return event.Outcome{}, c.vault.SetWithdrawalsEnabled(call, e.Enabled)
	case *event.SweepRetired:
		swept, err := c.vault.SweepRetired(call, e.To)
		return amounts("swept", swept), err

	// Asset ledgers and permissions
	case *event.Mint:
		return event.Outcome{}, c.handleMint(call, e)
	case *event.Approve:
		l, err := c.asset("token.approve", e.Asset)
		if err != nil {
			return event.Outcome{}, err
		}
		return event.Outcome{}, l.Approve(call.Caller, e.Spender, e.Amount)
	case *event.TokenTransfer:
		l, err := c.asset("token.transfer", e.Asset)
		if err != nil {
			return event.Outcome{}, err
		}
		return event.Outcome{}, l.Transfer(call.Caller, e.To, e.Amount)
	case *event.GrantRole:
		return event.Outcome{}, c.handleRole(call, "access.grantRole", e.Role, e.Account, true)
	case *event.RevokeRole:
		return event.Outcome{}, c.handleRole(call, "access.revokeRole", e.Role, e.Account, false)
	default:
		return event.Outcome{}, fault.InvalidArgument("core.dispatch", "unsupported command %T", cmd)
	}
}

func (c *Engine) handleMint(call access.Call, e *event.Mint) error {
	const op = "token.mint"
	if err := call.Require(op, access.RoleAdmin); err != nil {
		return err
	}
	l, err := c.asset(op, e.Asset)
	if err != nil {
		return err
	}
	return l.Mint(e.To, e.Amount)
}

func (c *Engine) handleRole(call access.Call, op string, role access.Role, account access.Address, grant bool) error {
	if err := call.Require(op, access.RoleAdmin); err != nil {
		return err
	}
	r, err := access.ParseRole(string(role))
	if err != nil {
		return fault.InvalidArgument(op, "%v", err)
	}
	if account.IsZero() {
		return fault.InvalidArgument(op, "account is the zero address")
	}
	if grant {
		c.perms.Grant(r, account)
		return nil
	}
	if r == access.RoleAdmin && c.perms.Has(r, account) && len(c.perms.Members(access.RoleAdmin)) == 1 {
		return fault.Policy(op, "cannot revoke the last admin")
	}
	c.perms.Revoke(r, account)
	return nil
}

func (c *Engine) asset(op string, a event.Asset) (*token.MemoryLedger, error) {
	switch a {
	case event.AssetSettlement:
		return c.settlement, nil
	case event.AssetStake:
		return c.stake, nil
	}
	return nil, fault.InvalidArgument(op, "unknown asset %q", a)
}

// amounts builds an Outcome from name/value pairs.
func amounts(pairs ...interface{}) event.Outcome {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name := pairs[i].(string)
		v, _ := pairs[i+1].(*big.Int)
		m[name] = nmath.Clone(v).String()
	}
	return event.Outcome{Amounts: m}
}

func encodeOutcome(o event.Outcome) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	return b, nil
}
