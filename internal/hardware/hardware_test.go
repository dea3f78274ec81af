package hardware_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keystone-robotics/provenance/internal/hardware"
)

func TestSignRecover_roundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	digest := hardware.BatchDigest(1, 42, crypto.Keccak256Hash([]byte("root")), 10, crypto.Keccak256Hash([]byte("meta")), 1)
	sig, err := hardware.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}

	got, err := hardware.Recover(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got != addr {
		t.Errorf("recovered %s, want %s", got.Hex(), addr.Hex())
	}
}

func TestRecover_wrongLength(t *testing.T) {
	digest := hardware.BatchDigest(1, 1, crypto.Keccak256Hash([]byte("r")), 1, crypto.Keccak256Hash([]byte("m")), 1)
	_, err := hardware.Recover(digest, make([]byte, 64))
	if !errors.Is(err, hardware.ErrMalformedSignature) {
		t.Errorf("got %v, want ErrMalformedSignature", err)
	}
}

func TestRecover_wrongKeyYieldsDifferentAddress(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()

	digest := hardware.SingleDigest(1, 7,
		crypto.Keccak256Hash([]byte("action")),
		crypto.Keccak256Hash([]byte("location")),
		crypto.Keccak256Hash([]byte("sensor")),
		3, 1)
	sig, err := hardware.Sign(digest, key2)
	if err != nil {
		t.Fatal(err)
	}

	got, err := hardware.Recover(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got == crypto.PubkeyToAddress(key1.PublicKey) {
		t.Error("signature from key2 recovered to key1's address")
	}
	if got != crypto.PubkeyToAddress(key2.PublicKey) {
		t.Error("signature did not recover to the signing key's address")
	}
}

func TestBatchDigest_fieldSensitivity(t *testing.T) {
	root := crypto.Keccak256Hash([]byte("root"))
	meta := crypto.Keccak256Hash([]byte("meta"))
	base := hardware.BatchDigest(1, 42, root, 10, meta, 5)

	variants := map[string][32]byte{
		"chain id": hardware.BatchDigest(2, 42, root, 10, meta, 5),
		"agent id": hardware.BatchDigest(1, 43, root, 10, meta, 5),
		"root":     hardware.BatchDigest(1, 42, crypto.Keccak256Hash([]byte("other")), 10, meta, 5),
		"count":    hardware.BatchDigest(1, 42, root, 11, meta, 5),
		"metadata": hardware.BatchDigest(1, 42, root, 10, crypto.Keccak256Hash([]byte("other")), 5),
		"nonce":    hardware.BatchDigest(1, 42, root, 10, meta, 6),
	}
	for field, d := range variants {
		if d == base {
			t.Errorf("changing %s did not change the digest", field)
		}
	}
}

func TestDigests_domainSeparated(t *testing.T) {
	// A batch digest and a single digest must never collide even over
	// structurally similar inputs.
	h := crypto.Keccak256Hash([]byte("x"))
	batch := hardware.BatchDigest(1, 1, h, 1, h, 1)
	single := hardware.SingleDigest(1, 1, h, h, h, 1, 1)
	if batch == single {
		t.Error("batch and single digests collided")
	}
}
