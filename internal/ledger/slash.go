package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// GetProposal returns a copy of the slash proposal stored under id.
func (l *StakeLedger) GetProposal(id uint64) (*SlashProposal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return p.clone(), nil
}

// ProposeSlash opens a timelocked slash proposal against an agent's stake.
// Caller must be an authorized slasher or the administrator. The amount is
// validated against the stake at proposal time only; execution re-caps it.
func (l *StakeLedger) ProposeSlash(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int, reason string) (uint64, error) {
	if err := l.guard.CheckNotPaused(); err != nil {
		return 0, err
	}
	if !l.guard.IsSlasher(caller) {
		return 0, ErrNotSlasher
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: slash amount must be positive", ErrInvalidParameter)
	}
	if strings.TrimSpace(reason) == "" {
		return 0, fmt.Errorf("%w: reason must not be empty", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.stakes[agentID]
	if !ok || cur.Amount.Sign() == 0 {
		return 0, ErrStakeNotFound
	}
	if amount.Cmp(cur.Amount) > 0 {
		return 0, fmt.Errorf("%w: slash amount %s exceeds stake %s", ErrInvalidParameter, amount, cur.Amount)
	}

	now := l.now().UTC()
	l.nextProposalID++
	p := &SlashProposal{
		ID:           l.nextProposalID,
		AgentID:      agentID,
		Amount:       new(big.Int).Set(amount),
		Reason:       reason,
		Proposer:     caller,
		CreatedAt:    now,
		ExecuteAfter: now.Add(l.params.SlashProposalDelay),
	}
	l.proposals[p.ID] = p

	l.appendJournal(ctx, agentID, ActionSlashProposed, caller.Hex(), SlashProposedEvent{
		ProposalID:   p.ID,
		AgentID:      agentID,
		Amount:       p.Amount.String(),
		Reason:       reason,
		Proposer:     caller,
		ExecuteAfter: p.ExecuteAfter.Unix(),
	})
	l.logger.Info("slash proposed",
		zap.Uint64("proposal_id", p.ID),
		zap.Uint64("agent_id", agentID),
		zap.String("amount", p.Amount.String()),
		zap.Time("execute_after", p.ExecuteAfter),
	)
	return p.ID, nil
}

// ExecuteSlash executes a matured proposal. Callable by anyone once the
// timelock passes, so an uncooperative administrator cannot stall it. The
// executed amount is capped to the agent's current stake; if the stake
// shrank since the proposal, the slash is silently reduced, never increased,
// and never fails on the shrink.
func (l *StakeLedger) ExecuteSlash(ctx context.Context, caller common.Address, proposalID uint64) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Finalized() {
		return ErrProposalFinalized
	}
	if l.now().Before(p.ExecuteAfter) {
		return fmt.Errorf("%w: executable at %s", ErrTimelockNotPassed, p.ExecuteAfter.Format(time.RFC3339))
	}

	cur := l.stakes[p.AgentID]
	slashed := new(big.Int).Set(p.Amount)
	if cur == nil {
		cur = &Stake{Amount: new(big.Int), SlashedTotal: new(big.Int)}
		l.stakes[p.AgentID] = cur
	}
	if slashed.Cmp(cur.Amount) > 0 {
		slashed.Set(cur.Amount)
	}

	// Sync the registry before moving any funds so a collaborator failure
	// leaves zero effects here.
	remaining := new(big.Int).Sub(cur.Amount, slashed)
	if err := l.registry.UpdateStakeAmount(l.self, p.AgentID, remaining); err != nil {
		return fmt.Errorf("sync stake amount: %w", err)
	}

	treasury, reporter, sink := l.split(slashed)
	legs := []struct {
		to     common.Address
		amount *big.Int
	}{
		{l.params.Treasury, treasury},
		{p.Proposer, reporter},
		{l.params.Sink, sink},
	}
	for i, leg := range legs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := l.token.Transfer(l.self, leg.to, leg.amount); err != nil {
			// Claw back completed legs and restore the registry.
			for _, done := range legs[:i] {
				if done.amount.Sign() > 0 {
					_ = l.token.Transfer(done.to, l.self, done.amount)
				}
			}
			_ = l.registry.UpdateStakeAmount(l.self, p.AgentID, cur.Amount)
			return fmt.Errorf("distribute slashed funds: %w", err)
		}
	}

	cur.Amount.Set(remaining)
	cur.SlashedTotal.Add(cur.SlashedTotal, slashed)
	p.Executed = true

	l.appendJournal(ctx, p.AgentID, ActionSlashExecuted, caller.Hex(), SlashExecutedEvent{
		ProposalID:     p.ID,
		AgentID:        p.AgentID,
		Requested:      p.Amount.String(),
		Slashed:        slashed.String(),
		TreasuryAmount: treasury.String(),
		ReporterAmount: reporter.String(),
		SinkAmount:     sink.String(),
		RemainingStake: cur.Amount.String(),
	})
	l.logger.Info("slash executed",
		zap.Uint64("proposal_id", p.ID),
		zap.Uint64("agent_id", p.AgentID),
		zap.String("slashed", slashed.String()),
		zap.String("treasury", treasury.String()),
		zap.String("reporter", reporter.String()),
		zap.String("sink", sink.String()),
	)
	return nil
}

// CancelSlash finalizes a proposal as cancelled, permanently blocking
// execution. Admin only; intended for dispute resolution before the
// timelock expires.
func (l *StakeLedger) CancelSlash(ctx context.Context, caller common.Address, proposalID uint64) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}
	if err := l.guard.RequireAdmin(caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Finalized() {
		return ErrProposalFinalized
	}
	p.Cancelled = true

	l.appendJournal(ctx, p.AgentID, ActionSlashCancelled, caller.Hex(), SlashCancelledEvent{
		ProposalID: p.ID,
		AgentID:    p.AgentID,
	})
	l.logger.Info("slash cancelled",
		zap.Uint64("proposal_id", p.ID),
		zap.Uint64("agent_id", p.AgentID),
	)
	return nil
}

// split divides an executed slash by the configured basis-point shares:
// treasury and reporter take their shares, the sink burns the remainder.
func (l *StakeLedger) split(slashed *big.Int) (treasury, reporter, sink *big.Int) {
	den := big.NewInt(BpsDenominator)
	treasury = new(big.Int).Mul(slashed, new(big.Int).SetUint64(l.params.TreasuryShareBps))
	treasury.Div(treasury, den)
	reporter = new(big.Int).Mul(slashed, new(big.Int).SetUint64(l.params.ReporterShareBps))
	reporter.Div(reporter, den)
	sink = new(big.Int).Sub(slashed, treasury)
	sink.Sub(sink, reporter)
	return treasury, reporter, sink
}
