package ledger

import "github.com/ethereum/go-ethereum/common"

// Journal action names, one per state-changing operation.
const (
	ActionBatchSubmitted       = "batch_submitted"
	ActionAttestationSubmitted = "attestation_submitted"
	ActionScoreConfigReplaced  = "score_config_replaced"
	ActionSlashDelayChanged    = "slash_delay_changed"
	ActionStaked               = "staked"
	ActionUnstaked             = "unstaked"
	ActionSlashProposed        = "slash_proposed"
	ActionSlashExecuted        = "slash_executed"
	ActionSlashCancelled       = "slash_cancelled"
)

// Event payloads carry enough fields to reconstruct ledger state from the
// journal alone. Amounts are serialised as decimal strings.

// BatchSubmittedEvent is appended for every accepted batch.
type BatchSubmittedEvent struct {
	BatchID          uint64      `json:"batch_id"`
	AgentID          uint64      `json:"agent_id"`
	MerkleRoot       common.Hash `json:"merkle_root"`
	AttestationCount uint64      `json:"attestation_count"`
	MetadataHash     common.Hash `json:"metadata_hash"`
	Nonce            uint64      `json:"nonce"`
	TrustScore       uint64      `json:"trust_score"`
}

// AttestationSubmittedEvent is appended for every accepted single
// attestation.
type AttestationSubmittedEvent struct {
	AttestationID  uint64      `json:"attestation_id"`
	AgentID        uint64      `json:"agent_id"`
	ActionHash     common.Hash `json:"action_hash"`
	AssuranceLevel uint8       `json:"assurance_level"`
	Nonce          uint64      `json:"nonce"`
	TrustScore     uint64      `json:"trust_score"`
}

// StakeChangedEvent is appended for deposits and withdrawals.
type StakeChangedEvent struct {
	AgentID     uint64 `json:"agent_id"`
	Amount      string `json:"amount"`
	NewTotal    string `json:"new_total"`
	LockedUntil int64  `json:"locked_until_unix"`
}

// SlashProposedEvent is appended when a proposal enters the state machine.
type SlashProposedEvent struct {
	ProposalID   uint64         `json:"proposal_id"`
	AgentID      uint64         `json:"agent_id"`
	Amount       string         `json:"amount"`
	Reason       string         `json:"reason"`
	Proposer     common.Address `json:"proposer"`
	ExecuteAfter int64          `json:"execute_after_unix"`
}

// SlashExecutedEvent is appended when a proposal is executed, with the full
// distribution breakdown.
type SlashExecutedEvent struct {
	ProposalID     uint64 `json:"proposal_id"`
	AgentID        uint64 `json:"agent_id"`
	Requested      string `json:"requested"`
	Slashed        string `json:"slashed"`
	TreasuryAmount string `json:"treasury_amount"`
	ReporterAmount string `json:"reporter_amount"`
	SinkAmount     string `json:"sink_amount"`
	RemainingStake string `json:"remaining_stake"`
}

// SlashCancelledEvent is appended when the administrator cancels a proposal.
type SlashCancelledEvent struct {
	ProposalID uint64 `json:"proposal_id"`
	AgentID    uint64 `json:"agent_id"`
}
