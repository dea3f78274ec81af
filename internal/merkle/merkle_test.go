package merkle_test

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keystone-robotics/provenance/internal/merkle"
)

func leaves(n int) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = crypto.Keccak256Hash([]byte(fmt.Sprintf("attestation-%d", i)))
	}
	return out
}

func TestNewTree_empty(t *testing.T) {
	if _, err := merkle.NewTree(nil); err == nil {
		t.Fatal("expected error for empty leaf set")
	}
}

func TestNewTree_singleLeaf(t *testing.T) {
	ls := leaves(1)
	tree, err := merkle.NewTree(ls)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root() != ls[0] {
		t.Errorf("single-leaf root: got %s, want the leaf itself %s", tree.Root().Hex(), ls[0].Hex())
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(proof) != 0 {
		t.Errorf("single-leaf proof length: got %d, want 0", len(proof))
	}
	if !merkle.Verify(tree.Root(), ls[0], proof) {
		t.Error("single-leaf proof did not verify")
	}
}

func TestProof_everyLeafVerifies(t *testing.T) {
	for _, n := range []int{2, 3, 5, 8, 17} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ls := leaves(n)
			tree, err := merkle.NewTree(ls)
			if err != nil {
				t.Fatal(err)
			}
			for i, leaf := range ls {
				proof, err := tree.Proof(i)
				if err != nil {
					t.Fatalf("Proof(%d): %v", i, err)
				}
				if !merkle.Verify(tree.Root(), leaf, proof) {
					t.Errorf("leaf %d did not verify against root", i)
				}
			}
		})
	}
}

func TestVerify_rejectsWrongLeaf(t *testing.T) {
	ls := leaves(6)
	tree, _ := merkle.NewTree(ls)
	proof, _ := tree.Proof(2)

	forged := crypto.Keccak256Hash([]byte("forged"))
	if merkle.Verify(tree.Root(), forged, proof) {
		t.Error("forged leaf verified")
	}
}

func TestVerify_rejectsTamperedProof(t *testing.T) {
	ls := leaves(6)
	tree, _ := merkle.NewTree(ls)
	proof, _ := tree.Proof(2)
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof")
	}
	proof[0] = crypto.Keccak256Hash([]byte("tampered"))
	if merkle.Verify(tree.Root(), ls[2], proof) {
		t.Error("tampered proof verified")
	}
}

func TestRoot_orderIndependentPairs(t *testing.T) {
	// With sorted-pair hashing a two-leaf tree has the same root in either
	// leaf order.
	ls := leaves(2)
	t1, _ := merkle.NewTree([]common.Hash{ls[0], ls[1]})
	t2, _ := merkle.NewTree([]common.Hash{ls[1], ls[0]})
	if t1.Root() != t2.Root() {
		t.Errorf("pair order changed root: %s vs %s", t1.Root().Hex(), t2.Root().Hex())
	}
}

func TestProof_indexOutOfRange(t *testing.T) {
	tree, _ := merkle.NewTree(leaves(4))
	if _, err := tree.Proof(-1); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := tree.Proof(4); err == nil {
		t.Error("expected error for index past the last leaf")
	}
}

func TestProcessProof_foldsDeterministically(t *testing.T) {
	ls := leaves(5)
	tree, _ := merkle.NewTree(ls)
	proof, _ := tree.Proof(4)

	got := merkle.ProcessProof(ls[4], proof)
	if got != tree.Root() {
		t.Errorf("ProcessProof: got %s, want %s", got.Hex(), tree.Root().Hex())
	}
}
