package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ledger"
	nmath "github.com/Nexo-Options/nexo-hardcore-beta/internal/math"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/token"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/vault"
)

// Config wires the protocol the engine owns.
type Config struct {
	Settlement  nmath.AssetConfig
	Stake       nmath.AssetConfig
	Treasury    treasury.Config
	Vault       vault.Config
	Grants      map[access.Role][]access.Address
	LRUCapacity int
}

// Outputs are the channels the engine emits on. Nil channels are skipped.
type Outputs struct {
	// Persist is a blocking send: the engine stalls until the writer drains.
	Persist chan<- CoreOutput
	// Projection and Publish are non-blocking: drops are counted and
	// consumers rebuild from the command log.
	Projection chan<- CoreOutput
	Publish    chan<- CoreOutput
}

// CoreOutput is everything one applied command produced.
type CoreOutput struct {
	Envelope  *event.Envelope
	Batch     *ledger.Batch // nil when nothing moved
	Locks     []*treasury.Lock
	Positions []vault.Position
}

// Result is returned to the submitter.
type Result struct {
	Sequence  int64
	Duplicate bool
	Outcome   event.Outcome
}

// Engine is the deterministic command processor. It owns both asset
// ledgers, the treasury, the vault and the permission table, and applies
// one command at a time.
type Engine struct {
	mu sync.Mutex

	sequence int64
	hasher   *StateHasher

	settlement *token.MemoryLedger
	stake      *token.MemoryLedger
	perms      *access.Table
	treasury   *treasury.Treasury
	vault      *vault.Vault

	chart      *ledger.Chart
	tracker    *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger
	out         Outputs
}

func NewEngine(
	cfg Config,
	startSequence int64,
	out Outputs,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Engine, error) {
	if cfg.Treasury.Address.IsZero() || cfg.Vault.Address.IsZero() {
		return nil, errors.New("treasury and vault addresses are required")
	}
	if cfg.Treasury.Address == cfg.Vault.Address {
		return nil, errors.New("treasury and vault must have distinct addresses")
	}
	if cfg.Settlement.Symbol == cfg.Stake.Symbol {
		return nil, fmt.Errorf("settlement and stake assets share symbol %q", cfg.Settlement.Symbol)
	}
	ledger.RegisterAsset(cfg.Settlement.Symbol)
	ledger.RegisterAsset(cfg.Stake.Symbol)

	settlement := token.NewMemoryLedger(cfg.Settlement)
	stake := token.NewMemoryLedger(cfg.Stake)

	perms := access.NewTable()
	for role, members := range cfg.Grants {
		for _, m := range members {
			perms.Grant(role, m)
		}
	}
	// The treasury draws on the vault through the insurer role.
	perms.Grant(access.RoleInsurer, cfg.Treasury.Address)

	v := vault.New(cfg.Vault, settlement, stake, logger)
	t := treasury.New(cfg.Treasury, settlement, v, logger)

	chart := ledger.NewChart(cfg.Treasury.Address, cfg.Vault.Address)
	tracker := ledger.NewBalanceTracker()

	if startSequence < 1 {
		startSequence = 1
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}

	return &Engine{
		sequence:    startSequence,
		hasher:      NewStateHasher(),
		settlement:  settlement,
		stake:       stake,
		perms:       perms,
		treasury:    t,
		vault:       v,
		chart:       chart,
		tracker:     tracker,
		journalGen:  ledger.NewJournalGenerator(chart, cfg.Treasury.Address, cfg.Vault.Address),
		validator:   ledger.NewInvariantValidator(tracker, chart),
		idempotency: NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		metrics:     metrics,
		logger:      logger.With().Str("component", "core").Logger(),
		out:         out,
	}, nil
}

// Submit applies cmd atomically. Domain failures are returned as
// *fault.Error and leave no trace in state or output; a duplicate key is
// acknowledged without re-execution.
func (c *Engine) Submit(cmd event.Command) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	kind := cmd.Kind().String()
	key := cmd.IdempotencyKey()

	if err := validateHeader(cmd); err != nil {
		c.reject(cmd, err)
		return Result{}, err
	}
	// Protocol accounts move funds only through their own operations.
	if c.chart.IsProtocol(cmd.Caller()) {
		err := fault.Authorization("core.submit", "protocol account %s cannot submit commands", cmd.Caller())
		c.reject(cmd, err)
		return Result{}, err
	}

	// Step 1: Idempotency check (two-tier)
	if c.idempotency.IsDuplicate(kind, key) {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return Result{Duplicate: true}, nil
	}

	// Step 2: Execute against a checkpoint of every component
	out, outcome, err := c.apply(cmd)
	if err != nil {
		c.reject(cmd, err)
		return Result{}, err
	}

	// Step 3: Emit outputs
	c.emit(out, true)

	// Step 4: Mark as processed
	c.idempotency.MarkProcessed(kind, key)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(kind).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence - 1))
	}

	return Result{Sequence: out.Envelope.Sequence, Outcome: outcome}, nil
}

func validateHeader(cmd event.Command) error {
	const op = "core.submit"
	if cmd.Kind() == event.KindUnknown {
		return fault.InvalidArgument(op, "unknown command kind")
	}
	if cmd.IdempotencyKey() == "" {
		return fault.InvalidArgument(op, "idempotency key is required")
	}
	if cmd.Caller().IsZero() {
		return fault.InvalidArgument(op, "caller is required")
	}
	// The core never reads the wall clock; every command carries its time.
	if cmd.Timestamp().IsZero() {
		return fault.InvalidArgument(op, "timestamp is required")
	}
	return nil
}

func (c *Engine) reject(cmd event.Command, err error) {
	kind := cmd.Kind().String()
	c.logger.Warn().
		Str("kind", kind).
		Str("caller", string(cmd.Caller())).
		Str("key", cmd.IdempotencyKey()).
		Str("reason", err.Error()).
		Msg("command rejected")
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(kind, fault.KindOf(err).String()).Inc()
	}
}

// apply runs one command and, on success, produces its sequenced output.
// The sequence advances only on success.
func (c *Engine) apply(cmd event.Command) (CoreOutput, event.Outcome, error) {
	cp := c.checkpoint()
	call := access.Call{Caller: cmd.Caller(), Now: cmd.Timestamp(), Perms: c.perms}

	outcome, err := c.dispatch(call, cmd)
	if err != nil {
		c.restore(cp)
		if c.metrics != nil {
			c.metrics.CoreRollbacks.WithLabelValues(cmd.Kind().String()).Inc()
		}
		return CoreOutput{}, event.Outcome{}, err
	}

	payload, err := event.Encode(cmd)
	if err != nil {
		c.restore(cp)
		return CoreOutput{}, event.Outcome{}, fmt.Errorf("encode command: %w", err)
	}
	outcomeBytes, err := encodeOutcome(outcome)
	if err != nil {
		c.restore(cp)
		return CoreOutput{}, event.Outcome{}, err
	}

	seq := c.sequence
	movements := append(c.settlement.DrainMovements(), c.stake.DrainMovements()...)
	batch, err := c.journalGen.Generate(seq, cmd.IdempotencyKey(), cmd.Kind(), cmd.Timestamp(), movements)
	if err != nil {
		panic(fmt.Sprintf("FATAL: journal generation failed at seq %d: %v", seq, err))
	}
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.tracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	locks := c.treasury.DrainChanges()
	positions := c.vault.DrainChanges()

	prev := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, c.computeStateDigest(batch, locks, positions))

	envelope := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: cmd.IdempotencyKey(),
		Kind:           cmd.Kind(),
		Caller:         cmd.Caller(),
		Timestamp:      cmd.Timestamp(),
		Payload:        payload,
		Outcome:        outcomeBytes,
		StateHash:      stateHash,
		PrevHash:       prev,
	}
	c.sequence++

	return CoreOutput{Envelope: envelope, Batch: batch, Locks: locks, Positions: positions}, outcome, nil
}

// emit sends an output downstream. Replayed commands are already in the
// log and skip the persist channel.
func (c *Engine) emit(out CoreOutput, persist bool) {
	if persist && c.out.Persist != nil {
		select {
		case c.out.Persist <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.out.Persist <- out
		}
	}

	if c.out.Projection != nil {
		select {
		case c.out.Projection <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if persist && c.out.Publish != nil {
		select {
		case c.out.Publish <- out:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
}

type checkpoint struct {
	settlement *token.Checkpoint
	stake      *token.Checkpoint
	treasury   *treasury.Checkpoint
	vault      *vault.Checkpoint
	perms      *access.Table
}

func (c *Engine) checkpoint() checkpoint {
	return checkpoint{
		settlement: c.settlement.Checkpoint(),
		stake:      c.stake.Checkpoint(),
		treasury:   c.treasury.Checkpoint(),
		vault:      c.vault.Checkpoint(),
		perms:      c.perms.Clone(),
	}
}

func (c *Engine) restore(cp checkpoint) {
	c.settlement.Restore(cp.settlement)
	c.stake.Restore(cp.stake)
	c.treasury.Restore(cp.treasury)
	c.vault.Restore(cp.vault)
	c.perms = cp.perms
}

// postCheckInvariants validates every component after a command.
func (c *Engine) postCheckInvariants() error {
	if err := c.treasury.CheckInvariants(); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	if err := c.vault.CheckInvariants(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.validator.ValidateMirror(c.settlement); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := c.validator.ValidateMirror(c.stake); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	// The zero-sum check walks every account; run it periodically.
	if c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("journal at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: the
// protocol aggregates, then every account, lock and position the command
// touched, each in a deterministic order.
func (c *Engine) computeStateDigest(batch *ledger.Batch, locks []*treasury.Lock, positions []vault.Position) []byte {
	d := &digestWriter{buf: make([]byte, 0, 256)}

	d.amount(c.treasury.TotalBalance())
	d.amount(c.treasury.LockedPremium())
	d.amount(c.treasury.TotalLocked())
	d.amount(c.treasury.PendingTotal())
	d.uvarint(c.treasury.NextLockID())
	d.amount(c.vault.TotalBalance())
	d.amount(c.vault.Retired())
	d.amount(c.vault.Reserve())
	d.flag(c.vault.WithdrawalsEnabled())

	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	for _, key := range accounts {
		d.str(key.AccountPath())
		d.amount(c.tracker.GetBalance(key))
	}

	// locks and positions arrive sorted
	for _, l := range locks {
		d.uvarint(l.ID)
		d.str(l.State.String())
		d.str(l.Resolution.String())
		d.amount(l.Payout)
	}
	for _, p := range positions {
		d.str(string(p.Holder))
		d.amount(p.Balance)
		d.amount(p.StartBalance)
	}

	return d.buf
}

// WarmLRU loads recent composite idempotency keys into the LRU cache.
func (c *Engine) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence number to assign.
func (c *Engine) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}
