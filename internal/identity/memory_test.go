package identity_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keystone-robotics/provenance/internal/identity"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	hwAddr   = common.HexToAddress("0x00000000000000000000000000000000000000C3")
	writer   = common.HexToAddress("0x00000000000000000000000000000000000000D4")
)

func newRegistry(t *testing.T) (*identity.MemoryRegistry, uint64) {
	t.Helper()
	r := identity.NewMemoryRegistry(admin, big.NewInt(100))
	id, err := r.Register(admin, operator, crypto.Keccak256Hash([]byte("hw")), hwAddr)
	if err != nil {
		t.Fatal(err)
	}
	return r, id
}

func TestRegister_sequentialIDs(t *testing.T) {
	r, id := newRegistry(t)
	if id != 1 {
		t.Errorf("first id: got %d, want 1", id)
	}
	id2, err := r.Register(admin, operator, crypto.Keccak256Hash([]byte("hw2")), hwAddr)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != 2 {
		t.Errorf("second id: got %d, want 2", id2)
	}
}

func TestRegister_nonAdminDenied(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.Register(operator, operator, common.Hash{}, hwAddr); !errors.Is(err, identity.ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
}

func TestIsVerified_requiresActiveAndStake(t *testing.T) {
	r, id := newRegistry(t)

	// Fresh agent: active but zero stake.
	v, err := r.IsVerified(id)
	if err != nil {
		t.Fatal(err)
	}
	if v {
		t.Error("zero-stake agent reported verified")
	}

	if err := r.SetStakeWriter(admin, writer); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateStakeAmount(writer, id, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	v, _ = r.IsVerified(id)
	if !v {
		t.Error("staked active agent reported unverified")
	}

	if err := r.SetActive(admin, id, false); err != nil {
		t.Fatal(err)
	}
	v, _ = r.IsVerified(id)
	if v {
		t.Error("deactivated agent reported verified")
	}
}

func TestWriterDelegation_enforcedPerField(t *testing.T) {
	r, id := newRegistry(t)
	attWriter := common.HexToAddress("0x00000000000000000000000000000000000000E5")
	stkWriter := common.HexToAddress("0x00000000000000000000000000000000000000F6")

	// Unbound: every delegated write is denied, including from the admin.
	if err := r.IncrementAttestationCount(admin, id); !errors.Is(err, identity.ErrWriteDenied) {
		t.Errorf("unbound increment: got %v, want ErrWriteDenied", err)
	}

	if err := r.SetAttestationWriter(admin, attWriter); err != nil {
		t.Fatal(err)
	}
	if err := r.SetStakeWriter(admin, stkWriter); err != nil {
		t.Fatal(err)
	}

	// The attestation writer cannot touch the stake field and vice versa.
	if err := r.UpdateStakeAmount(attWriter, id, big.NewInt(1)); !errors.Is(err, identity.ErrWriteDenied) {
		t.Errorf("cross-field stake write: got %v, want ErrWriteDenied", err)
	}
	if err := r.UpdateTrustScore(stkWriter, id, 5000); !errors.Is(err, identity.ErrWriteDenied) {
		t.Errorf("cross-field score write: got %v, want ErrWriteDenied", err)
	}

	if err := r.IncrementAttestationCount(attWriter, id); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateTrustScore(attWriter, id, 5000); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateStakeAmount(stkWriter, id, big.NewInt(250)); err != nil {
		t.Fatal(err)
	}

	a, err := r.GetAgent(id)
	if err != nil {
		t.Fatal(err)
	}
	if a.AttestationCount != 1 {
		t.Errorf("attestation count: got %d, want 1", a.AttestationCount)
	}
	if a.TrustScore != 5000 {
		t.Errorf("trust score: got %d, want 5000", a.TrustScore)
	}
	if a.StakeAmount.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("stake amount: got %s, want 250", a.StakeAmount)
	}
}

func TestSetWriters_adminOnly(t *testing.T) {
	r, _ := newRegistry(t)
	if err := r.SetAttestationWriter(operator, writer); !errors.Is(err, identity.ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
	if err := r.SetStakeWriter(operator, writer); !errors.Is(err, identity.ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
}

func TestGetAgent_returnsCopy(t *testing.T) {
	r, id := newRegistry(t)
	a, err := r.GetAgent(id)
	if err != nil {
		t.Fatal(err)
	}
	a.StakeAmount.SetInt64(999999)
	a.TrustScore = 9999

	fresh, _ := r.GetAgent(id)
	if fresh.StakeAmount.Sign() != 0 {
		t.Error("mutating the returned record leaked into registry state")
	}
	if fresh.TrustScore != 0 {
		t.Error("mutating the returned record leaked into registry state")
	}
}

func TestTransfer_operatorOnly(t *testing.T) {
	r, id := newRegistry(t)
	next := common.HexToAddress("0x0000000000000000000000000000000000000099")

	if err := r.Transfer(admin, id, next); err == nil {
		t.Error("non-operator transfer succeeded")
	}
	if err := r.Transfer(operator, id, next); err != nil {
		t.Fatal(err)
	}
	owner, _ := r.OwnerOf(id)
	if owner != next {
		t.Errorf("owner after transfer: got %s, want %s", owner.Hex(), next.Hex())
	}
}

func TestLookups_unknownAgent(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.GetAgent(99); !errors.Is(err, identity.ErrAgentNotFound) {
		t.Errorf("GetAgent: got %v, want ErrAgentNotFound", err)
	}
	if _, err := r.OwnerOf(99); !errors.Is(err, identity.ErrAgentNotFound) {
		t.Errorf("OwnerOf: got %v, want ErrAgentNotFound", err)
	}
	if _, err := r.HardwareAddress(99); !errors.Is(err, identity.ErrAgentNotFound) {
		t.Errorf("HardwareAddress: got %v, want ErrAgentNotFound", err)
	}
}
