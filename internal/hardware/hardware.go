// Package hardware binds attestation submissions to an agent's physical
// signing key.
//
// Every mutating submission carries a secp256k1 signature over a canonical
// keccak-256 digest of the submission's semantic fields, the agent's next
// nonce, and the deployment's chain id. Verification recovers the signer
// address and compares it to the hardware address on file in the identity
// registry; the chain id keeps a signature from being replayed on another
// deployment, the nonce keeps it from being replayed on this one.
package hardware

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain separation tags, one per submission type.
const (
	batchDomain  = "provenance/batch/v1"
	singleDomain = "provenance/attestation/v1"
)

// SignatureLength is the expected [R || S || V] signature size.
const SignatureLength = 65

// ErrMalformedSignature is returned when a signature is not recoverable at
// all (wrong length, invalid curve point). A recoverable signature from the
// wrong key is not an error here; the caller compares the recovered address.
var ErrMalformedSignature = errors.New("malformed hardware signature")

// BatchDigest computes the canonical signing digest for a batch submission.
func BatchDigest(chainID, agentID uint64, root common.Hash, count uint64, metadataHash common.Hash, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(batchDomain),
		u64(chainID),
		u64(agentID),
		root[:],
		u64(count),
		metadataHash[:],
		u64(nonce),
	)
}

// SingleDigest computes the canonical signing digest for a single
// attestation submission.
func SingleDigest(chainID, agentID uint64, actionHash, locationHash, sensorDataHash common.Hash, assuranceLevel uint8, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(singleDomain),
		u64(chainID),
		u64(agentID),
		actionHash[:],
		locationHash[:],
		sensorDataHash[:],
		[]byte{assuranceLevel},
		u64(nonce),
	)
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedSignature, len(sig), SignatureLength)
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a submission signature with the given hardware key. Used by
// operator-side tooling and tests; the ledger itself only verifies.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest[:], key)
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
