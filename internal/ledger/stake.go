package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keystone-robotics/provenance/internal/identity"
	"github.com/keystone-robotics/provenance/internal/journal"
	"github.com/keystone-robotics/provenance/internal/token"
)

// StakeLedger custodies collateral per agent, enforces minimum-stake and
// lock-period rules, and runs the slash-proposal state machine.
//
// Custody invariant: the token balance held at the ledger's module address
// equals the sum of all agents' current stake amounts; executed slashes are
// distributed synchronously within the same call, so no undistributed
// residue persists.
type StakeLedger struct {
	mu       sync.RWMutex
	guard    *Guard
	registry identity.Registry
	token    token.Ledger
	journal  journal.Journal // nil = no journal writes
	logger   *zap.Logger
	params   Params
	self     common.Address // custody address, bound as the registry's stake writer
	now      func() time.Time

	stakes         map[uint64]*Stake
	nextProposalID uint64
	proposals      map[uint64]*SlashProposal
}

// NewStakeLedger creates a stake ledger. self is the custody address the
// identity registry must have bound as its stake writer.
func NewStakeLedger(guard *Guard, registry identity.Registry, tok token.Ledger, jrnl journal.Journal, self common.Address, params Params, logger *zap.Logger) *StakeLedger {
	return &StakeLedger{
		guard:     guard,
		registry:  registry,
		token:     tok,
		journal:   jrnl,
		logger:    logger,
		params:    params,
		self:      self,
		now:       time.Now,
		stakes:    make(map[uint64]*Stake),
		proposals: make(map[uint64]*SlashProposal),
	}
}

// SetClock overrides the ledger's time source. Tests only.
func (l *StakeLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// CustodyAddress returns the module address holding custodied collateral.
func (l *StakeLedger) CustodyAddress() common.Address {
	return l.self
}

// GetStake returns a copy of the agent's stake record, or ErrStakeNotFound
// when no deposit was ever made.
func (l *StakeLedger) GetStake(agentID uint64) (*Stake, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stakes[agentID]
	if !ok {
		return nil, ErrStakeNotFound
	}
	return s.clone(), nil
}

// Stake deposits collateral for an agent. A first-time deposit (or a deposit
// into a zeroed stake) must bring the total to at least the minimum; later
// deposits have no floor on the increment. The lock is reset on every
// deposit, top-ups included, so the lock cannot be circumvented by staggered
// small deposits.
func (l *StakeLedger) Stake(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int) error {
	return l.deposit(ctx, caller, agentID, amount, false)
}

// IncreaseStake tops up an existing non-zero stake; it fails with
// ErrStakeNotFound when the agent has never staked or was fully withdrawn.
func (l *StakeLedger) IncreaseStake(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int) error {
	return l.deposit(ctx, caller, agentID, amount, true)
}

func (l *StakeLedger) deposit(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int, requireExisting bool) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller, agentID); err != nil {
		return err
	}

	cur := l.stakes[agentID]
	if requireExisting && (cur == nil || cur.Amount.Sign() == 0) {
		return ErrStakeNotFound
	}
	newTotal := new(big.Int)
	if cur != nil {
		newTotal.Set(cur.Amount)
	}
	newTotal.Add(newTotal, amount)

	if (cur == nil || cur.Amount.Sign() == 0) && newTotal.Cmp(l.params.MinStakeAmount) < 0 {
		return fmt.Errorf("%w: first deposit must reach %s", ErrBelowMinimumStake, l.params.MinStakeAmount)
	}

	if err := l.token.Transfer(caller, l.self, amount); err != nil {
		return fmt.Errorf("collateral transfer: %w", err)
	}

	now := l.now().UTC()
	created := false
	if cur == nil {
		cur = &Stake{Amount: new(big.Int), SlashedTotal: new(big.Int)}
		l.stakes[agentID] = cur
		created = true
	}
	prevLockedUntil := cur.LockedUntil
	prevStakeTime := cur.LastStakeTime
	cur.Amount.Set(newTotal)
	cur.LockedUntil = now.Add(l.params.LockPeriod)
	cur.LastStakeTime = now

	if err := l.registry.UpdateStakeAmount(l.self, agentID, cur.Amount); err != nil {
		// Undo custody and timestamps so the call stays all-or-nothing; a
		// record created by this call is removed outright.
		cur.Amount.Sub(cur.Amount, amount)
		cur.LockedUntil = prevLockedUntil
		cur.LastStakeTime = prevStakeTime
		if created {
			delete(l.stakes, agentID)
		}
		_ = l.token.Transfer(l.self, caller, amount)
		return fmt.Errorf("sync stake amount: %w", err)
	}

	l.appendJournal(ctx, agentID, ActionStaked, caller.Hex(), StakeChangedEvent{
		AgentID:     agentID,
		Amount:      amount.String(),
		NewTotal:    cur.Amount.String(),
		LockedUntil: cur.LockedUntil.Unix(),
	})
	l.logger.Info("stake deposited",
		zap.Uint64("agent_id", agentID),
		zap.String("amount", amount.String()),
		zap.String("total", cur.Amount.String()),
		zap.Time("locked_until", cur.LockedUntil),
	)
	return nil
}

// Unstake withdraws collateral after the lock expires. The remaining balance
// must be exactly zero or at least the minimum; dust stakes below the
// security threshold are rejected.
func (l *StakeLedger) Unstake(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller, agentID); err != nil {
		return err
	}

	cur, ok := l.stakes[agentID]
	if !ok || cur.Amount.Sign() == 0 {
		return ErrStakeNotFound
	}
	if l.now().Before(cur.LockedUntil) {
		return fmt.Errorf("%w: until %s", ErrStakeLocked, cur.LockedUntil.Format(time.RFC3339))
	}
	if amount.Cmp(cur.Amount) > 0 {
		return ErrInsufficientStake
	}
	remaining := new(big.Int).Sub(cur.Amount, amount)
	if remaining.Sign() > 0 && remaining.Cmp(l.params.MinStakeAmount) < 0 {
		return fmt.Errorf("%w: remainder %s below %s", ErrBelowMinimumStake, remaining, l.params.MinStakeAmount)
	}

	if err := l.token.Transfer(l.self, caller, amount); err != nil {
		return fmt.Errorf("collateral transfer: %w", err)
	}

	cur.Amount.Set(remaining)
	if err := l.registry.UpdateStakeAmount(l.self, agentID, cur.Amount); err != nil {
		cur.Amount.Add(cur.Amount, amount)
		_ = l.token.Transfer(caller, l.self, amount)
		return fmt.Errorf("sync stake amount: %w", err)
	}

	l.appendJournal(ctx, agentID, ActionUnstaked, caller.Hex(), StakeChangedEvent{
		AgentID:     agentID,
		Amount:      amount.String(),
		NewTotal:    cur.Amount.String(),
		LockedUntil: cur.LockedUntil.Unix(),
	})
	l.logger.Info("stake withdrawn",
		zap.Uint64("agent_id", agentID),
		zap.String("amount", amount.String()),
		zap.String("remaining", cur.Amount.String()),
	)
	return nil
}

// SlashDelay returns the current proposal timelock.
func (l *StakeLedger) SlashDelay() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params.SlashProposalDelay
}

// SetSlashDelay updates the slash proposal timelock. Admin only; the delay
// must lie within [MinSlashDelay, MaxSlashDelay]. Applies to proposals opened
// after the change; pending proposals keep their ExecuteAfter.
func (l *StakeLedger) SetSlashDelay(ctx context.Context, caller common.Address, d time.Duration) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}
	if err := l.guard.RequireAdmin(caller); err != nil {
		return err
	}
	if d < MinSlashDelay || d > MaxSlashDelay {
		return fmt.Errorf("%w: slash delay %s outside [%s, %s]",
			ErrInvalidParameter, d, MinSlashDelay, MaxSlashDelay)
	}

	l.mu.Lock()
	l.params.SlashProposalDelay = d
	l.mu.Unlock()

	l.appendJournal(ctx, 0, ActionSlashDelayChanged, caller.Hex(), map[string]string{"delay": d.String()})
	l.logger.Info("slash delay updated", zap.Duration("delay", d))
	return nil
}

// requireOperator checks agent existence and operator ownership. Called with
// l.mu held.
func (l *StakeLedger) requireOperator(caller common.Address, agentID uint64) error {
	owner, err := l.registry.OwnerOf(agentID)
	if err != nil {
		if errors.Is(err, identity.ErrAgentNotFound) {
			return ErrAgentNotFound
		}
		return fmt.Errorf("identity registry: %w", err)
	}
	if owner != caller {
		return ErrNotOperator
	}
	return nil
}

func (l *StakeLedger) appendJournal(ctx context.Context, agentID uint64, action, actor string, payload any) {
	if l.journal == nil {
		return
	}
	if _, err := l.journal.Append(ctx, agentID, action, actor, payload); err != nil {
		l.logger.Error("journal append failed (non-fatal)",
			zap.String("action", action),
			zap.Uint64("agent_id", agentID),
			zap.Error(err),
		)
	}
}
