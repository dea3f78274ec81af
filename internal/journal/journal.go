// Package journal implements the hash-chained audit journal of ledger events.
//
// Every state-changing ledger operation appends one entry whose payload
// carries enough fields to reconstruct ledger state from the log alone. The
// chain begins with a well-known genesis entry whose Hash equals GenesisHash
// (64 hex zeros); every subsequent entry records the SHA-256 of its
// predecessor, making tampering detectable via Verify.
//
// Two implementations of the Journal interface are provided:
//   - MemoryJournal: in-process, for testing and single-node deployments.
//   - PostgresJournal: durable, for production use.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry. It is
// the trust anchor of the chain; all subsequent entry hashes chain from this
// constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor is the actor recorded on entries the ledger emits on its own
// behalf (genesis, administrative transitions).
const SystemActor = "provenance-system"

// Entry is a single audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   uint64    `json:"agent_id"` // 0 for system-level entries
	Action    string    `json:"action"`   // batch_submitted, staked, slash_executed, ...
	Actor     string    `json:"actor"`    // hex address of the caller, or SystemActor
	DataHash  string    `json:"data_hash"` // SHA-256 of the JSON event payload
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Journal is the append-only audit log interface. Both MemoryJournal and
// PostgresJournal implement it.
type Journal interface {
	// Append adds a new entry chained to the previous one. payload is
	// JSON-marshalled and its SHA-256 stored as DataHash.
	Append(ctx context.Context, agentID uint64, action, actor string, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including genesis).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// Never called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.AgentID, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
