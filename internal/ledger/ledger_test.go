package ledger_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/keystone-robotics/provenance/internal/hardware"
	"github.com/keystone-robotics/provenance/internal/identity"
	"github.com/keystone-robotics/provenance/internal/journal"
	"github.com/keystone-robotics/provenance/internal/ledger"
	"github.com/keystone-robotics/provenance/internal/token"
)

var ctx = context.Background()

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	slasher  = common.HexToAddress("0x00000000000000000000000000000000000000C3")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000D4")
	sink     = common.HexToAddress("0x00000000000000000000000000000000000000E5")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000F6")
)

// errRegistryDown stands in for an identity registry backend failing
// mid-call.
var errRegistryDown = errors.New("identity registry unavailable")

// faultyRegistry wraps the in-memory registry and fails selected writes on
// demand, exercising the all-or-nothing behavior of the registry sync paths.
type faultyRegistry struct {
	identity.Registry
	failStakeWrite bool
	failScoreWrite bool
	failCountWrite bool
}

func (r *faultyRegistry) UpdateStakeAmount(caller common.Address, id uint64, amount *big.Int) error {
	if r.failStakeWrite {
		return errRegistryDown
	}
	return r.Registry.UpdateStakeAmount(caller, id, amount)
}

func (r *faultyRegistry) UpdateTrustScore(caller common.Address, id uint64, score uint64) error {
	if r.failScoreWrite {
		return errRegistryDown
	}
	return r.Registry.UpdateTrustScore(caller, id, score)
}

func (r *faultyRegistry) IncrementAttestationCount(caller common.Address, id uint64) error {
	if r.failCountWrite {
		return errRegistryDown
	}
	return r.Registry.IncrementAttestationCount(caller, id)
}

// clock is a mutable test time source shared by every subsystem in an env.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// env wires a complete in-process deployment: registry, bank, guard, both
// ledgers, journal, and one registered agent with a generated hardware key.
type env struct {
	t        *testing.T
	clk      *clock
	registry *identity.MemoryRegistry
	faults   *faultyRegistry
	bank     *token.Bank
	guard    *ledger.Guard
	jrnl     *journal.MemoryJournal
	attest   *ledger.AttestationLedger
	stake    *ledger.StakeLedger
	params   ledger.Params
	key      *ecdsa.PrivateKey
	agentID  uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	params := ledger.DefaultParams()
	params.Treasury = treasury
	params.Sink = sink

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	registry := identity.NewMemoryRegistry(admin, params.MinStakeAmount)
	registry.SetClock(clk.Now)
	agentID, err := registry.Register(admin, operator, crypto.Keccak256Hash([]byte("tpm-quote")), crypto.PubkeyToAddress(key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}

	guard := ledger.NewGuard(admin)
	attestAddr := ledger.ModuleAddress("attestation")
	stakeAddr := ledger.ModuleAddress("stake")
	if err := registry.SetAttestationWriter(admin, attestAddr); err != nil {
		t.Fatal(err)
	}
	if err := registry.SetStakeWriter(admin, stakeAddr); err != nil {
		t.Fatal(err)
	}

	bank := token.NewBank()
	bank.Mint(operator, big.NewInt(1_000_000))

	faults := &faultyRegistry{Registry: registry}
	jrnl := journal.New()
	logger := zap.NewNop()
	attest := ledger.NewAttestationLedger(guard, faults, jrnl, attestAddr, params, logger)
	attest.SetClock(clk.Now)
	stake := ledger.NewStakeLedger(guard, faults, bank, jrnl, stakeAddr, params, logger)
	stake.SetClock(clk.Now)

	return &env{
		t:        t,
		clk:      clk,
		registry: registry,
		faults:   faults,
		bank:     bank,
		guard:    guard,
		jrnl:     jrnl,
		attest:   attest,
		stake:    stake,
		params:   params,
		key:      key,
		agentID:  agentID,
	}
}

// stakeMin deposits exactly the minimum stake for the env's agent, making it
// pass verification.
func (e *env) stakeMin() {
	e.t.Helper()
	if err := e.stake.Stake(ctx, operator, e.agentID, e.params.MinStakeAmount); err != nil {
		e.t.Fatalf("stakeMin: %v", err)
	}
}

// signBatch signs a batch submission digest with the env's hardware key.
func (e *env) signBatch(root common.Hash, count uint64, meta common.Hash, nonce uint64) []byte {
	e.t.Helper()
	digest := hardware.BatchDigest(e.params.ChainID, e.agentID, root, count, meta, nonce)
	sig, err := hardware.Sign(digest, e.key)
	if err != nil {
		e.t.Fatal(err)
	}
	return sig
}

// signSingle signs a single attestation digest with the env's hardware key.
func (e *env) signSingle(action, location, sensor common.Hash, level uint8, nonce uint64) []byte {
	e.t.Helper()
	digest := hardware.SingleDigest(e.params.ChainID, e.agentID, action, location, sensor, level, nonce)
	sig, err := hardware.Sign(digest, e.key)
	if err != nil {
		e.t.Fatal(err)
	}
	return sig
}

// submitBatch runs one well-formed batch submission, signing with the next
// nonce, and returns the new batch id.
func (e *env) submitBatch(root common.Hash, count uint64) uint64 {
	e.t.Helper()
	meta := crypto.Keccak256Hash([]byte("meta"))
	sig := e.signBatch(root, count, meta, e.attest.Nonce(e.agentID)+1)
	id, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, count, meta, sig)
	if err != nil {
		e.t.Fatalf("submitBatch: %v", err)
	}
	return id
}

func hashOf(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}
