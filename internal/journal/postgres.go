package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all ledger instances sharing a database.
const advisoryLockKey = int64(7_734_210_988)

// Schema is the DDL for the journal table. The daemon applies it at startup
// and inserts the genesis row when the table is empty.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_journal (
	idx        BIGINT PRIMARY KEY,
	timestamp  TIMESTAMPTZ NOT NULL,
	agent_id   BIGINT NOT NULL,
	action     TEXT NOT NULL,
	actor      TEXT NOT NULL,
	data_hash  TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL
)`

// PostgresJournal persists the audit journal to PostgreSQL. It implements
// the Journal interface.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresJournal creates a PostgresJournal backed by the given pool. It
// ensures the table exists and seeds the genesis entry when missing.
func NewPostgresJournal(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*PostgresJournal, error) {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	var n int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM ledger_journal").Scan(&n); err != nil {
		return nil, fmt.Errorf("count journal entries: %w", err)
	}
	if n == 0 {
		if _, err := pool.Exec(ctx,
			`INSERT INTO ledger_journal (idx, timestamp, agent_id, action, actor, data_hash, prev_hash, hash)
			 VALUES (0, $1, 0, 'genesis', $2, $3, $3, $3)`,
			time.Now().UTC(), SystemActor, GenesisHash,
		); err != nil {
			return nil, fmt.Errorf("seed genesis entry: %w", err)
		}
	}
	return &PostgresJournal{pool: pool, logger: logger}, nil
}

// Append implements Journal. It acquires a PostgreSQL advisory lock, reads
// the chain tail, computes the new entry hash, and inserts it, all within a
// single transaction.
func (j *PostgresJournal) Append(ctx context.Context, agentID uint64, action, actor string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dataHash := sha256Sum(payloadJSON)

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Action:    action,
		Actor:     actor,
		DataHash:  dataHash,
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_journal (idx, timestamp, agent_id, action, actor, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.AgentID,
		entry.Action, entry.Actor, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.Uint64("agent_id", entry.AgentID),
	)
	return entry, nil
}

// Get implements Journal.
func (j *PostgresJournal) Get(ctx context.Context, index int) (*Entry, error) {
	entry := &Entry{}
	if err := j.pool.QueryRow(ctx,
		`SELECT idx, timestamp, agent_id, action, actor, data_hash, prev_hash, hash
		 FROM ledger_journal WHERE idx = $1`, index,
	).Scan(
		&entry.Index, &entry.Timestamp, &entry.AgentID, &entry.Action,
		&entry.Actor, &entry.DataHash, &entry.PrevHash, &entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("read journal entry %d: %w", index, err)
	}
	return entry, nil
}

// Len implements Journal.
func (j *PostgresJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.pool.QueryRow(ctx, "SELECT count(*) FROM ledger_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal. It streams the chain in index order and checks
// hash consistency without loading the whole journal into memory at once.
func (j *PostgresJournal) Verify(ctx context.Context) error {
	rows, err := j.pool.Query(ctx,
		`SELECT idx, timestamp, agent_id, action, actor, data_hash, prev_hash, hash
		 FROM ledger_journal ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	prevHash := ""
	expectIdx := 0
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(
			&entry.Index, &entry.Timestamp, &entry.AgentID, &entry.Action,
			&entry.Actor, &entry.DataHash, &entry.PrevHash, &entry.Hash,
		); err != nil {
			return fmt.Errorf("scan journal entry: %w", err)
		}
		if entry.Index != expectIdx {
			return fmt.Errorf("journal gap: expected idx %d, got %d", expectIdx, entry.Index)
		}
		if entry.Index == 0 {
			if entry.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", entry.Hash)
			}
		} else {
			if entry.PrevHash != prevHash {
				return fmt.Errorf("hash chain broken at index %d", entry.Index)
			}
			if entry.Hash != hashEntry(entry) {
				return fmt.Errorf("entry %d has invalid hash", entry.Index)
			}
		}
		prevHash = entry.Hash
		expectIdx++
	}
	return rows.Err()
}

// Root implements Journal.
func (j *PostgresJournal) Root(ctx context.Context) (string, error) {
	var root string
	if err := j.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&root); err != nil {
		return "", fmt.Errorf("read journal root: %w", err)
	}
	return root, nil
}
