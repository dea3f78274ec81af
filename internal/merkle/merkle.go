// Package merkle implements order-independent Merkle commitments over
// attestation sets.
//
// Sibling pairs are sorted before hashing, so hashPair(a, b) == hashPair(b, a)
// and a proof carries no left/right position bits. The ledger stores only the
// 32-byte root per batch; the full attestation set must be reconstructible
// off-ledger to produce proofs.
package merkle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoLeaves is returned when building a tree from an empty leaf set.
var ErrNoLeaves = errors.New("merkle: no leaves")

// hashPair keccak-hashes the concatenation of a and b with the smaller hash
// first.
func hashPair(a, b common.Hash) common.Hash {
	if b.Cmp(a) < 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// ProcessProof folds a leaf up through the supplied sibling hashes and
// returns the resulting root candidate.
func ProcessProof(leaf common.Hash, proof []common.Hash) common.Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed
}

// Verify reports whether proof links leaf to root.
func Verify(root, leaf common.Hash, proof []common.Hash) bool {
	return ProcessProof(leaf, proof) == root
}

// Tree is the off-ledger side of the commitment: it holds every layer so
// that per-leaf proofs can be produced. An odd node at the end of a layer is
// carried up unchanged.
type Tree struct {
	layers [][]common.Hash
}

// NewTree builds a tree over the given leaf hashes.
func NewTree(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	layer := make([]common.Hash, len(leaves))
	copy(layer, leaves)

	t := &Tree{layers: [][]common.Hash{layer}}
	for len(layer) > 1 {
		next := make([]common.Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
				continue
			}
			next = append(next, hashPair(layer[i], layer[i+1]))
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	return t, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() common.Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.layers[0])
}

// Proof returns the sibling path for the leaf at index i.
func (t *Tree) Proof(i int) ([]common.Hash, error) {
	if i < 0 || i >= len(t.layers[0]) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.layers[0]))
	}
	var proof []common.Hash
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := i ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		i /= 2
	}
	return proof, nil
}
