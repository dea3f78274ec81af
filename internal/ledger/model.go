// Package ledger implements the two core subsystems of the provenance
// protocol: the attestation ledger (authenticated Merkle-batch submissions
// and the trust-score engine) and the stake ledger (collateral custody and
// the timelocked slash state machine).
//
// All ids (batch, attestation, proposal) are sequential integers starting at
// 1; 0 is the universal "absent" sentinel and never a valid id. Every
// operation is all-or-nothing: a reentrancy lock is held for the whole call
// and local state is mutated only after every precondition and collaborator
// call has succeeded.
package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Assurance level bounds for single attestations.
const (
	MinAssuranceLevel = 1
	MaxAssuranceLevel = 5
)

// AttestationBatch is an accepted Merkle-batch submission. Records are
// append-only and never mutated after acceptance.
type AttestationBatch struct {
	ID               uint64      `json:"id"`
	AgentID          uint64      `json:"agent_id"`
	MerkleRoot       common.Hash `json:"merkle_root"`
	AttestationCount uint64      `json:"attestation_count"`
	Timestamp        time.Time   `json:"timestamp"`
	MetadataHash     common.Hash `json:"metadata_hash"`
}

// SingleAttestation is an accepted standalone attestation.
type SingleAttestation struct {
	ID             uint64      `json:"id"`
	AgentID        uint64      `json:"agent_id"`
	ActionHash     common.Hash `json:"action_hash"`
	LocationHash   common.Hash `json:"location_hash"`
	Timestamp      time.Time   `json:"timestamp"`
	SensorDataHash common.Hash `json:"sensor_data_hash"`
	AssuranceLevel uint8       `json:"assurance_level"`
}

// Stake is an agent's collateral record. Created lazily on first deposit,
// zeroed but never deleted.
type Stake struct {
	Amount        *big.Int  `json:"amount"`
	LockedUntil   time.Time `json:"locked_until"`
	SlashedTotal  *big.Int  `json:"slashed_total"`
	LastStakeTime time.Time `json:"last_stake_time"`
}

// clone returns a deep copy safe to hand out of the lock.
func (s *Stake) clone() *Stake {
	return &Stake{
		Amount:        new(big.Int).Set(s.Amount),
		LockedUntil:   s.LockedUntil,
		SlashedTotal:  new(big.Int).Set(s.SlashedTotal),
		LastStakeTime: s.LastStakeTime,
	}
}

// SlashProposal is one run of the slash state machine:
// Proposed → {Executed, Cancelled}, both terminal and mutually exclusive.
type SlashProposal struct {
	ID           uint64         `json:"id"`
	AgentID      uint64         `json:"agent_id"`
	Amount       *big.Int       `json:"amount"`
	Reason       string         `json:"reason"`
	Proposer     common.Address `json:"proposer"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecuteAfter time.Time      `json:"execute_after"`
	Executed     bool           `json:"executed"`
	Cancelled    bool           `json:"cancelled"`
}

// Finalized reports whether the proposal reached a terminal state.
func (p *SlashProposal) Finalized() bool {
	return p.Executed || p.Cancelled
}

func (p *SlashProposal) clone() *SlashProposal {
	cp := *p
	cp.Amount = new(big.Int).Set(p.Amount)
	return &cp
}
