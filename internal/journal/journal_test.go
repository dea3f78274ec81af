package journal_test

import (
	"context"
	"testing"

	"github.com/keystone-robotics/provenance/internal/journal"
)

var ctx = context.Background()

func TestNew_genesisEntry(t *testing.T) {
	j := journal.New()

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := j.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != "genesis" {
		t.Errorf("expected action 'genesis', got %q", entry.Action)
	}
	if entry.Hash != journal.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
	if entry.Actor != journal.SystemActor {
		t.Errorf("genesis actor: got %q, want %q", entry.Actor, journal.SystemActor)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	j := journal.New()

	e1, err := j.Append(ctx, 1, "batch_submitted", "0xabc", map[string]uint64{"batch_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := j.Append(ctx, 1, "staked", "0xabc", map[string]string{"amount": "100"})
	if err != nil {
		t.Fatal(err)
	}

	if e1.PrevHash != journal.GenesisHash {
		t.Errorf("first entry PrevHash: got %q, want GenesisHash", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_distinctPayloadsDistinctDataHashes(t *testing.T) {
	j := journal.New()
	e1, _ := j.Append(ctx, 1, "staked", "0xabc", map[string]string{"amount": "100"})
	e2, _ := j.Append(ctx, 1, "staked", "0xabc", map[string]string{"amount": "200"})
	if e1.DataHash == e2.DataHash {
		t.Error("different payloads produced the same data hash")
	}
}

func TestVerify_valid(t *testing.T) {
	j := journal.New()
	_, _ = j.Append(ctx, 1, "batch_submitted", "0xabc", nil)
	_, _ = j.Append(ctx, 2, "slash_proposed", "0xdef", nil)

	if err := j.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestGet_returnsCopy(t *testing.T) {
	j := journal.New()
	_, _ = j.Append(ctx, 1, "batch_submitted", "0xabc", nil)
	e, _ := j.Append(ctx, 1, "staked", "0xabc", nil)

	// Mutating an entry handed out by Get or Append must not corrupt the
	// stored chain.
	got, err := j.Get(ctx, e.Index)
	if err != nil {
		t.Fatal(err)
	}
	got.Action = "unstaked"
	e.Action = "unstaked"

	if err := j.Verify(ctx); err != nil {
		t.Errorf("Verify() failed after mutating handed-out entries: %v", err)
	}
	again, err := j.Get(ctx, got.Index)
	if err != nil {
		t.Fatal(err)
	}
	if again.Action != "staked" {
		t.Errorf("stored action: got %q, want %q", again.Action, "staked")
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	j := journal.New()
	e, _ := j.Append(ctx, 1, "batch_submitted", "0xabc", nil)

	root, err := j.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestGet_outOfRange(t *testing.T) {
	j := journal.New()
	if _, err := j.Get(ctx, -1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := j.Get(ctx, 5); err == nil {
		t.Error("expected error for index past the tip")
	}
}
