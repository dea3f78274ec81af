// Package identity defines the Identity Registry collaborator consumed by the
// attestation and stake ledgers.
//
// The registry is the canonical owner of an agent's stake-amount,
// attestation-count, and trust-score fields, but write access to each field
// is delegated to exactly one core subsystem: the stake ledger writes the
// stake amount, the attestation ledger writes the attestation count and the
// trust score. Implementations enforce that delegation per call, not by
// encapsulation.
package identity

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAgentNotFound is returned when no agent exists under the given id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrWriteDenied is returned when a caller attempts to mutate a
	// registry field that is delegated to a different subsystem.
	ErrWriteDenied = errors.New("caller is not the delegated writer for this field")
)

// Agent is the canonical per-agent record held by the registry.
type Agent struct {
	Operator         common.Address `json:"operator"`
	HardwareHash     common.Hash    `json:"hardware_hash"`
	HardwareAddress  common.Address `json:"hardware_address"`
	RegisteredAt     time.Time      `json:"registered_at"`
	StakeAmount      *big.Int       `json:"stake_amount"`
	AttestationCount uint64         `json:"attestation_count"`
	TrustScore       uint64         `json:"trust_score"`
	Active           bool           `json:"active"`
}

// Registry is the read/write surface of the Identity Registry consumed by the
// core ledgers. Mutating methods take the caller's module address so the
// single-writer-per-field rule can be checked on every write.
type Registry interface {
	// OwnerOf returns the current operator address for an agent.
	OwnerOf(id uint64) (common.Address, error)

	// IsVerified reports whether an agent is active AND holds at least the
	// minimum stake.
	IsVerified(id uint64) (bool, error)

	// GetAgent returns a copy of the full agent record.
	GetAgent(id uint64) (*Agent, error)

	// HardwareAddress returns the agent's bound hardware signing address.
	HardwareAddress(id uint64) (common.Address, error)

	// IncrementAttestationCount bumps the attestation counter by one.
	// Restricted to the attestation ledger's module address.
	IncrementAttestationCount(caller common.Address, id uint64) error

	// UpdateTrustScore replaces the stored trust score.
	// Restricted to the attestation ledger's module address.
	UpdateTrustScore(caller common.Address, id uint64, score uint64) error

	// UpdateStakeAmount replaces the stored stake amount.
	// Restricted to the stake ledger's module address.
	UpdateStakeAmount(caller common.Address, id uint64, amount *big.Int) error
}
