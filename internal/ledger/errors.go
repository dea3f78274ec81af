package ledger

import "errors"

// The ledger exposes a closed error set; every failure aborts the whole
// operation with zero partial effects. Callers match with errors.Is.
var (
	// ErrPaused is returned while the administrative circuit breaker is
	// engaged; mutating entry points reject before evaluating their own
	// preconditions.
	ErrPaused = errors.New("ledger is paused")

	// ErrNotAdmin is returned when the caller is not the protocol
	// administrator.
	ErrNotAdmin = errors.New("caller is not the administrator")

	// ErrNotOperator is returned when the caller is not the agent's
	// current operator.
	ErrNotOperator = errors.New("caller is not the agent operator")

	// ErrNotSlasher is returned when the caller is neither an authorized
	// slasher nor the administrator.
	ErrNotSlasher = errors.New("caller is not an authorized slasher")

	// ErrAgentNotFound is returned when the identity registry has no
	// record for the id.
	ErrAgentNotFound = errors.New("agent not found in identity registry")

	// ErrAgentNotVerified is returned when the agent is inactive or
	// under-staked.
	ErrAgentNotVerified = errors.New("agent is not verified")

	// ErrInvalidParameter is returned for malformed or out-of-range input:
	// zero hash, zero amount, empty reason, assurance level outside
	// bounds.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBatchTooLarge is returned when the attestation count exceeds the
	// batch size limit.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")

	// ErrRootAlreadyExists is returned when the Merkle root was already
	// accepted, for any agent, ever.
	ErrRootAlreadyExists = errors.New("merkle root already recorded")

	// ErrRateLimited is returned when the agent's previous batch is too
	// recent.
	ErrRateLimited = errors.New("batch submitted before minimum interval elapsed")

	// ErrInvalidSignature is returned when the recovered signer does not
	// match the agent's bound hardware address.
	ErrInvalidSignature = errors.New("hardware signature does not match bound key")

	// ErrBatchNotFound is returned when no batch exists under the given
	// id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrStakeNotFound is returned when the agent has no stake, or a
	// zeroed one where a live stake is required.
	ErrStakeNotFound = errors.New("no active stake for agent")

	// ErrStakeLocked is returned for withdrawals attempted before the
	// lock expires.
	ErrStakeLocked = errors.New("stake is still time-locked")

	// ErrInsufficientStake is returned when a withdrawal amount exceeds
	// the current stake.
	ErrInsufficientStake = errors.New("amount exceeds current stake")

	// ErrBelowMinimumStake is returned when the operation would leave a
	// non-zero stake below the security minimum.
	ErrBelowMinimumStake = errors.New("remaining stake would fall below minimum")

	// ErrProposalNotFound is returned when no slash proposal exists under
	// the given id.
	ErrProposalNotFound = errors.New("slash proposal not found")

	// ErrProposalFinalized is returned when the proposal was already
	// executed or cancelled; both states are terminal.
	ErrProposalFinalized = errors.New("slash proposal already finalized")

	// ErrTimelockNotPassed is returned for executions attempted before
	// the proposal's delay elapsed.
	ErrTimelockNotPassed = errors.New("slash timelock has not passed")
)
