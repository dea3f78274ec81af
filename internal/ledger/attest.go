package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keystone-robotics/provenance/internal/hardware"
	"github.com/keystone-robotics/provenance/internal/identity"
	"github.com/keystone-robotics/provenance/internal/journal"
	"github.com/keystone-robotics/provenance/internal/merkle"
)

// AttestationLedger authenticates and stores attestation submissions,
// enforces replay and rate-limit protection, and recomputes the trust score
// after every accepted submission.
//
// The ledger writes the registry's attestation-count and trust-score fields
// through its module address; it never writes the stake amount.
type AttestationLedger struct {
	mu       sync.RWMutex
	guard    *Guard
	registry identity.Registry
	journal  journal.Journal // nil = no journal writes
	logger   *zap.Logger
	params   Params
	score    ScoreConfig
	self     common.Address // module address bound as the registry's attestation writer
	now      func() time.Time

	nextBatchID       uint64
	nextAttestationID uint64
	batches           map[uint64]*AttestationBatch
	singles           map[uint64]*SingleAttestation
	rootAgent         map[common.Hash]uint64 // accepted root → submitting agent
	agentBatches      map[uint64][]uint64
	lastBatchAt       map[uint64]time.Time
	nonces            map[uint64]uint64 // last consumed nonce per agent
}

// NewAttestationLedger creates an attestation ledger. self is the module
// address the identity registry must have bound as its attestation writer.
func NewAttestationLedger(guard *Guard, registry identity.Registry, jrnl journal.Journal, self common.Address, params Params, logger *zap.Logger) *AttestationLedger {
	return &AttestationLedger{
		guard:        guard,
		registry:     registry,
		journal:      jrnl,
		logger:       logger,
		params:       params,
		score:        DefaultScoreConfig(),
		self:         self,
		now:          time.Now,
		batches:      make(map[uint64]*AttestationBatch),
		singles:      make(map[uint64]*SingleAttestation),
		rootAgent:    make(map[common.Hash]uint64),
		agentBatches: make(map[uint64][]uint64),
		lastBatchAt:  make(map[uint64]time.Time),
		nonces:       make(map[uint64]uint64),
	}
}

// SetClock overrides the ledger's time source. Tests only.
func (l *AttestationLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// ScoreConfig returns the current trust-score configuration.
func (l *AttestationLedger) ScoreConfig() ScoreConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := l.score
	return cfg
}

// SetScoreConfig replaces the trust-score configuration wholesale.
// Admin only; the new configuration must pass Validate.
func (l *AttestationLedger) SetScoreConfig(ctx context.Context, caller common.Address, cfg ScoreConfig) error {
	if err := l.guard.CheckNotPaused(); err != nil {
		return err
	}
	if err := l.guard.RequireAdmin(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	l.score = cfg
	l.mu.Unlock()

	l.appendJournal(ctx, 0, ActionScoreConfigReplaced, caller.Hex(), cfg)
	l.logger.Info("trust score config replaced", zap.String("admin", caller.Hex()))
	return nil
}

// Nonce returns the last consumed nonce for an agent. The next submission
// must be signed with Nonce(agent)+1.
func (l *AttestationLedger) Nonce(agentID uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[agentID]
}

// GetBatch returns the batch stored under id.
func (l *AttestationLedger) GetBatch(id uint64) (*AttestationBatch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// GetAttestation returns the single attestation stored under id.
func (l *AttestationLedger) GetAttestation(id uint64) (*SingleAttestation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.singles[id]
	if !ok {
		return nil, fmt.Errorf("%w: attestation %d", ErrBatchNotFound, id)
	}
	cp := *a
	return &cp, nil
}

// BatchesOf returns the ids of every batch an agent has submitted, in
// acceptance order.
func (l *AttestationLedger) BatchesOf(agentID uint64) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]uint64, len(l.agentBatches[agentID]))
	copy(ids, l.agentBatches[agentID])
	return ids
}

// SubmitBatch authenticates and stores a Merkle-batch submission, increments
// the agent's attestation counter, and recomputes the trust score. Returns
// the new batch id.
func (l *AttestationLedger) SubmitBatch(ctx context.Context, caller common.Address, agentID uint64, root common.Hash, count uint64, metadataHash common.Hash, sig []byte) (uint64, error) {
	if err := l.guard.CheckNotPaused(); err != nil {
		return 0, err
	}
	if root == (common.Hash{}) {
		return 0, fmt.Errorf("%w: merkle root is zero", ErrInvalidParameter)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: attestation count is zero", ErrInvalidParameter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if count > l.params.MaxBatchSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, count, l.params.MaxBatchSize)
	}
	// Root uniqueness is global across all agents, ever.
	if prior, ok := l.rootAgent[root]; ok {
		return 0, fmt.Errorf("%w: first accepted from agent %d", ErrRootAlreadyExists, prior)
	}

	agent, err := l.authorize(caller, agentID)
	if err != nil {
		return 0, err
	}

	if last, ok := l.lastBatchAt[agentID]; ok {
		if elapsed := l.now().Sub(last); elapsed < l.params.MinBatchInterval {
			return 0, fmt.Errorf("%w: %s of %s elapsed", ErrRateLimited, elapsed.Truncate(time.Second), l.params.MinBatchInterval)
		}
	}

	nonce := l.nonces[agentID] + 1
	digest := hardware.BatchDigest(l.params.ChainID, agentID, root, count, metadataHash, nonce)
	if err := l.verifySignature(agent, digest, sig); err != nil {
		return 0, err
	}

	// All preconditions hold; sync the registry before touching local
	// state so a collaborator failure leaves zero effects here.
	newScore, scoreChanged, err := l.syncRegistry(agent, agentID)
	if err != nil {
		return 0, err
	}

	now := l.now().UTC()
	l.nextBatchID++
	batch := &AttestationBatch{
		ID:               l.nextBatchID,
		AgentID:          agentID,
		MerkleRoot:       root,
		AttestationCount: count,
		Timestamp:        now,
		MetadataHash:     metadataHash,
	}
	l.batches[batch.ID] = batch
	l.rootAgent[root] = agentID
	l.agentBatches[agentID] = append(l.agentBatches[agentID], batch.ID)
	l.lastBatchAt[agentID] = now
	l.nonces[agentID] = nonce

	l.appendJournal(ctx, agentID, ActionBatchSubmitted, caller.Hex(), BatchSubmittedEvent{
		BatchID:          batch.ID,
		AgentID:          agentID,
		MerkleRoot:       root,
		AttestationCount: count,
		MetadataHash:     metadataHash,
		Nonce:            nonce,
		TrustScore:       newScore,
	})
	l.logger.Info("batch accepted",
		zap.Uint64("batch_id", batch.ID),
		zap.Uint64("agent_id", agentID),
		zap.String("root", root.Hex()),
		zap.Uint64("count", count),
		zap.Uint64("trust_score", newScore),
		zap.Bool("score_changed", scoreChanged),
	)
	return batch.ID, nil
}

// SubmitSingleAttestation authenticates and stores a standalone attestation.
// Unlike batches, singles are not rate limited and carry no size bound.
func (l *AttestationLedger) SubmitSingleAttestation(ctx context.Context, caller common.Address, agentID uint64, actionHash, locationHash, sensorDataHash common.Hash, assuranceLevel uint8, sig []byte) (uint64, error) {
	if err := l.guard.CheckNotPaused(); err != nil {
		return 0, err
	}
	if actionHash == (common.Hash{}) {
		return 0, fmt.Errorf("%w: action hash is zero", ErrInvalidParameter)
	}
	if assuranceLevel < MinAssuranceLevel || assuranceLevel > MaxAssuranceLevel {
		return 0, fmt.Errorf("%w: assurance level %d outside [%d,%d]",
			ErrInvalidParameter, assuranceLevel, MinAssuranceLevel, MaxAssuranceLevel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	agent, err := l.authorize(caller, agentID)
	if err != nil {
		return 0, err
	}

	nonce := l.nonces[agentID] + 1
	digest := hardware.SingleDigest(l.params.ChainID, agentID, actionHash, locationHash, sensorDataHash, assuranceLevel, nonce)
	if err := l.verifySignature(agent, digest, sig); err != nil {
		return 0, err
	}

	newScore, _, err := l.syncRegistry(agent, agentID)
	if err != nil {
		return 0, err
	}

	l.nextAttestationID++
	att := &SingleAttestation{
		ID:             l.nextAttestationID,
		AgentID:        agentID,
		ActionHash:     actionHash,
		LocationHash:   locationHash,
		Timestamp:      l.now().UTC(),
		SensorDataHash: sensorDataHash,
		AssuranceLevel: assuranceLevel,
	}
	l.singles[att.ID] = att
	l.nonces[agentID] = nonce

	l.appendJournal(ctx, agentID, ActionAttestationSubmitted, caller.Hex(), AttestationSubmittedEvent{
		AttestationID:  att.ID,
		AgentID:        agentID,
		ActionHash:     actionHash,
		AssuranceLevel: assuranceLevel,
		Nonce:          nonce,
		TrustScore:     newScore,
	})
	l.logger.Info("attestation accepted",
		zap.Uint64("attestation_id", att.ID),
		zap.Uint64("agent_id", agentID),
		zap.Uint8("assurance_level", assuranceLevel),
	)
	return att.ID, nil
}

// VerifyAttestation recomputes a root from leaf and the supplied sibling
// hashes and compares it to the stored root for batchID. Stateless; returns
// false for unknown batch ids and on any mismatch.
func (l *AttestationLedger) VerifyAttestation(batchID uint64, leaf common.Hash, proof []common.Hash) bool {
	l.mu.RLock()
	batch, ok := l.batches[batchID]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return merkle.Verify(batch.MerkleRoot, leaf, proof)
}

// authorize runs the shared submission gate: the agent must exist, be
// verified (active and sufficiently staked), and be operated by caller.
// Called with l.mu held.
func (l *AttestationLedger) authorize(caller common.Address, agentID uint64) (*identity.Agent, error) {
	agent, err := l.registry.GetAgent(agentID)
	if err != nil {
		if errors.Is(err, identity.ErrAgentNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("identity registry: %w", err)
	}
	verified, err := l.registry.IsVerified(agentID)
	if err != nil {
		return nil, fmt.Errorf("identity registry: %w", err)
	}
	if !verified {
		return nil, ErrAgentNotVerified
	}
	if agent.Operator != caller {
		return nil, ErrNotOperator
	}
	return agent, nil
}

// verifySignature recovers the signer of digest and requires it to equal the
// agent's bound hardware address.
func (l *AttestationLedger) verifySignature(agent *identity.Agent, digest common.Hash, sig []byte) error {
	signer, err := hardware.Recover(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != agent.HardwareAddress {
		return ErrInvalidSignature
	}
	return nil
}

// syncRegistry writes the recomputed trust score when it changed, then
// increments the agent's attestation counter. The score write goes first so
// a failure leaves the registry untouched; when the increment fails after a
// score write, the old score is written back. Returns the effective score.
// Called with l.mu held, before any local mutation.
func (l *AttestationLedger) syncRegistry(agent *identity.Agent, agentID uint64) (uint64, bool, error) {
	newScore := l.score.Compute(agent.RegisteredAt, l.now(), agent.AttestationCount+1, agent.StakeAmount)
	scoreChanged := newScore != agent.TrustScore
	if scoreChanged {
		if err := l.registry.UpdateTrustScore(l.self, agentID, newScore); err != nil {
			return 0, false, fmt.Errorf("update trust score: %w", err)
		}
	}
	if err := l.registry.IncrementAttestationCount(l.self, agentID); err != nil {
		if scoreChanged {
			_ = l.registry.UpdateTrustScore(l.self, agentID, agent.TrustScore)
		}
		return 0, false, fmt.Errorf("increment attestation count: %w", err)
	}
	return newScore, scoreChanged, nil
}

// appendJournal writes an audit entry in a non-fatal manner: the ledger
// state is the source of truth, the journal is the reconstruction log.
func (l *AttestationLedger) appendJournal(ctx context.Context, agentID uint64, action, actor string, payload any) {
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
