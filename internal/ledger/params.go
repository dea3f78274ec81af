package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives the stable module address for a named subsystem.
// Module addresses identify the core ledgers to the identity registry's
// single-writer access control and hold custodied funds; no private key
// exists for them.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("provenance/module/" + name))[12:])
}

// BpsDenominator is the basis-point denominator: shares and scores are
// expressed in units of 1/10000.
const BpsDenominator = 10000

// Bounds on the configurable slash proposal delay.
const (
	MinSlashDelay = time.Hour
	MaxSlashDelay = 30 * 24 * time.Hour
)

// Params holds the protocol parameters shared by both core ledgers. The
// zero value is not usable; start from DefaultParams.
type Params struct {
	// ChainID binds hardware signatures to one deployment.
	ChainID uint64

	// MaxBatchSize is the inclusive upper bound on attestations per batch.
	MaxBatchSize uint64

	// MinBatchInterval is the minimum spacing between accepted batches
	// from the same agent. Single attestations are not rate limited.
	MinBatchInterval time.Duration

	// MinStakeAmount is the minimum first-time stake, and the floor for
	// any non-zero stake remaining after a withdrawal.
	MinStakeAmount *big.Int

	// LockPeriod is added to the clock on every deposit, top-ups
	// included, to set the stake's lockedUntil.
	LockPeriod time.Duration

	// SlashProposalDelay is the timelock between proposing and executing
	// a slash. Must lie within [MinSlashDelay, MaxSlashDelay].
	SlashProposalDelay time.Duration

	// TreasuryShareBps and ReporterShareBps split an executed slash; the
	// remainder is sent to Sink. Together they must not exceed
	// BpsDenominator.
	TreasuryShareBps uint64
	ReporterShareBps uint64

	// Treasury receives the protocol's share of executed slashes.
	Treasury common.Address

	// Sink is the unrecoverable address receiving the burn remainder.
	Sink common.Address
}

// DefaultParams returns the production defaults. Treasury and Sink must
// still be set by the deployment.
func DefaultParams() Params {
	return Params{
		ChainID:            1,
		MaxBatchSize:       1000,
		MinBatchInterval:   time.Hour,
		MinStakeAmount:     big.NewInt(100),
		LockPeriod:         7 * 24 * time.Hour,
		SlashProposalDelay: 24 * time.Hour,
		TreasuryShareBps:   5000,
		ReporterShareBps:   3000,
	}
}

// Validate checks internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.MaxBatchSize == 0 {
		return fmt.Errorf("%w: max batch size must be positive", ErrInvalidParameter)
	}
	if p.MinStakeAmount == nil || p.MinStakeAmount.Sign() <= 0 {
		return fmt.Errorf("%w: minimum stake must be positive", ErrInvalidParameter)
	}
	if p.SlashProposalDelay < MinSlashDelay || p.SlashProposalDelay > MaxSlashDelay {
		return fmt.Errorf("%w: slash delay %s outside [%s, %s]",
			ErrInvalidParameter, p.SlashProposalDelay, MinSlashDelay, MaxSlashDelay)
	}
	if p.TreasuryShareBps+p.ReporterShareBps > BpsDenominator {
		return fmt.Errorf("%w: distribution shares exceed 100%%", ErrInvalidParameter)
	}
	return nil
}
