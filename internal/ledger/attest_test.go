package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keystone-robotics/provenance/internal/ledger"
	"github.com/keystone-robotics/provenance/internal/merkle"
)

func TestSubmitBatch_happyPath(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	root := hashOf("batch-1")
	id := e.submitBatch(root, 10)
	if id != 1 {
		t.Errorf("first batch id: got %d, want 1", id)
	}

	batch, err := e.attest.GetBatch(id)
	if err != nil {
		t.Fatal(err)
	}
	if batch.AgentID != e.agentID || batch.MerkleRoot != root || batch.AttestationCount != 10 {
		t.Errorf("stored batch mismatch: %+v", batch)
	}

	if got := e.attest.Nonce(e.agentID); got != 1 {
		t.Errorf("nonce after first batch: got %d, want 1", got)
	}

	agent, err := e.registry.GetAgent(e.agentID)
	if err != nil {
		t.Fatal(err)
	}
	if agent.AttestationCount != 1 {
		t.Errorf("registry attestation count: got %d, want 1", agent.AttestationCount)
	}
	// Base 1000 plus one full stake unit at weight 100.
	if agent.TrustScore != 1100 {
		t.Errorf("trust score after first batch: got %d, want 1100", agent.TrustScore)
	}

	ids := e.attest.BatchesOf(e.agentID)
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("BatchesOf: got %v, want [%d]", ids, id)
	}
}

func TestSubmitBatch_zeroRootAndZeroCount(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	sig := e.signBatch(common.Hash{}, 10, hashOf("meta"), 1)
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, common.Hash{}, 10, hashOf("meta"), sig); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Errorf("zero root: got %v, want ErrInvalidParameter", err)
	}

	sig = e.signBatch(hashOf("r"), 0, hashOf("meta"), 1)
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("r"), 0, hashOf("meta"), sig); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Errorf("zero count: got %v, want ErrInvalidParameter", err)
	}
}

func TestSubmitBatch_sizeBound(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	// Exactly at the bound is accepted.
	e.submitBatch(hashOf("full"), e.params.MaxBatchSize)

	e.clk.Advance(e.params.MinBatchInterval)
	sig := e.signBatch(hashOf("over"), e.params.MaxBatchSize+1, hashOf("meta"), 2)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("over"), e.params.MaxBatchSize+1, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrBatchTooLarge) {
		t.Errorf("one over the bound: got %v, want ErrBatchTooLarge", err)
	}
}

func TestSubmitBatch_duplicateRootRejectedForever(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	root := hashOf("dup")
	e.submitBatch(root, 5)

	e.clk.Advance(e.params.MinBatchInterval)
	sig := e.signBatch(root, 5, hashOf("meta"), 2)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrRootAlreadyExists) {
		t.Errorf("duplicate root: got %v, want ErrRootAlreadyExists", err)
	}
}

func TestSubmitBatch_rateLimited(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()
	e.submitBatch(hashOf("b1"), 5)

	sig := e.signBatch(hashOf("b2"), 5, hashOf("meta"), 2)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("b2"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrRateLimited) {
		t.Errorf("immediate second batch: got %v, want ErrRateLimited", err)
	}

	// One second short of the interval still fails.
	e.clk.Advance(e.params.MinBatchInterval - time.Second)
	_, err = e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("b2"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrRateLimited) {
		t.Errorf("just under the interval: got %v, want ErrRateLimited", err)
	}

	e.clk.Advance(time.Second)
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("b2"), 5, hashOf("meta"), sig); err != nil {
		t.Errorf("at the interval: got %v, want success", err)
	}
}

func TestSubmitBatch_authorization(t *testing.T) {
	e := newEnv(t)

	// Unstaked agent is not verified.
	sig := e.signBatch(hashOf("r"), 5, hashOf("meta"), 1)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("r"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrAgentNotVerified) {
		t.Errorf("unstaked agent: got %v, want ErrAgentNotVerified", err)
	}

	e.stakeMin()

	_, err = e.attest.SubmitBatch(ctx, stranger, e.agentID, hashOf("r"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrNotOperator) {
		t.Errorf("stranger caller: got %v, want ErrNotOperator", err)
	}

	_, err = e.attest.SubmitBatch(ctx, operator, 999, hashOf("r"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrAgentNotFound) {
		t.Errorf("unknown agent: got %v, want ErrAgentNotFound", err)
	}

	// Deactivation revokes verification even with stake in place.
	if err := e.registry.SetActive(admin, e.agentID, false); err != nil {
		t.Fatal(err)
	}
	_, err = e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("r"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrAgentNotVerified) {
		t.Errorf("deactivated agent: got %v, want ErrAgentNotVerified", err)
	}
}

func TestSubmitBatch_signatureChecks(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	root, meta := hashOf("r"), hashOf("meta")

	// Signature from a key other than the bound hardware key.
	otherKey, _ := crypto.GenerateKey()
	digest := hashOf("whatever")
	wrongSig, _ := crypto.Sign(digest[:], otherKey)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, wrongSig)
	if !errors.Is(err, ledger.ErrInvalidSignature) {
		t.Errorf("wrong key: got %v, want ErrInvalidSignature", err)
	}

	// Malformed signature.
	_, err = e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, []byte{1, 2, 3})
	if !errors.Is(err, ledger.ErrInvalidSignature) {
		t.Errorf("malformed sig: got %v, want ErrInvalidSignature", err)
	}

	// Correct key, wrong nonce.
	staleSig := e.signBatch(root, 5, meta, 7)
	_, err = e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, staleSig)
	if !errors.Is(err, ledger.ErrInvalidSignature) {
		t.Errorf("wrong nonce: got %v, want ErrInvalidSignature", err)
	}
}

func TestSubmitBatch_nonceConsumedOnlyOnSuccess(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	root, meta := hashOf("r"), hashOf("meta")
	bad := e.signBatch(root, 5, meta, 2)
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, bad); err == nil {
		t.Fatal("expected failure for wrong nonce")
	}
	if got := e.attest.Nonce(e.agentID); got != 0 {
		t.Errorf("nonce after failed submit: got %d, want 0", got)
	}

	// The same submission signed with the correct next nonce now succeeds.
	good := e.signBatch(root, 5, meta, 1)
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, good); err != nil {
		t.Fatalf("retry with correct nonce: %v", err)
	}
	if got := e.attest.Nonce(e.agentID); got != 1 {
		t.Errorf("nonce after success: got %d, want 1", got)
	}
}

func TestSubmitBatch_registrySyncFailureLeavesNoEffects(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	root := hashOf("flaky-registry")
	meta := hashOf("meta")
	sig := e.signBatch(root, 5, meta, 1)

	checkUntouched := func(stage string) {
		t.Helper()
		agent, err := e.registry.GetAgent(e.agentID)
		if err != nil {
			t.Fatal(err)
		}
		if agent.AttestationCount != 0 {
			t.Errorf("%s: attestation count: got %d, want 0", stage, agent.AttestationCount)
		}
		if agent.TrustScore != 0 {
			t.Errorf("%s: trust score: got %d, want 0", stage, agent.TrustScore)
		}
		if got := e.attest.Nonce(e.agentID); got != 0 {
			t.Errorf("%s: nonce consumed: got %d, want 0", stage, got)
		}
		if _, err := e.attest.GetBatch(1); !errors.Is(err, ledger.ErrBatchNotFound) {
			t.Errorf("%s: batch stored despite error: %v", stage, err)
		}
	}

	// A failing score write rejects the submission before any effect.
	e.faults.failScoreWrite = true
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, sig); !errors.Is(err, errRegistryDown) {
		t.Fatalf("score write down: got %v, want errRegistryDown", err)
	}
	e.faults.failScoreWrite = false
	checkUntouched("score write down")

	// A failing counter increment puts the already written score back.
	e.faults.failCountWrite = true
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, sig); !errors.Is(err, errRegistryDown) {
		t.Fatalf("count write down: got %v, want errRegistryDown", err)
	}
	e.faults.failCountWrite = false
	checkUntouched("count write down")

	// The identical signed submission goes through once the registry
	// recovers: neither the nonce nor the root was consumed by the failures.
	id, err := e.attest.SubmitBatch(ctx, operator, e.agentID, root, 5, meta, sig)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("batch id: got %d, want 1", id)
	}
	agent, _ := e.registry.GetAgent(e.agentID)
	if agent.AttestationCount != 1 || agent.TrustScore != 1100 {
		t.Errorf("after recovery: count=%d score=%d, want count=1 score=1100", agent.AttestationCount, agent.TrustScore)
	}
}

func TestSubmitBatch_paused(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()
	if err := e.guard.Pause(admin); err != nil {
		t.Fatal(err)
	}

	sig := e.signBatch(hashOf("r"), 5, hashOf("meta"), 1)
	_, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("r"), 5, hashOf("meta"), sig)
	if !errors.Is(err, ledger.ErrPaused) {
		t.Errorf("paused: got %v, want ErrPaused", err)
	}

	if err := e.guard.Unpause(admin); err != nil {
		t.Fatal(err)
	}
	if _, err := e.attest.SubmitBatch(ctx, operator, e.agentID, hashOf("r"), 5, hashOf("meta"), sig); err != nil {
		t.Errorf("after unpause: got %v, want success", err)
	}
}

func TestSubmitSingle_happyPathAndSharedNonces(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	// Batches and singles consume one nonce sequence per agent.
	e.submitBatch(hashOf("b1"), 5)

	action, location, sensor := hashOf("action"), hashOf("location"), hashOf("sensor")
	sig := e.signSingle(action, location, sensor, 3, 2)
	id, err := e.attest.SubmitSingleAttestation(ctx, operator, e.agentID, action, location, sensor, 3, sig)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("first attestation id: got %d, want 1", id)
	}
	if got := e.attest.Nonce(e.agentID); got != 2 {
		t.Errorf("nonce after single: got %d, want 2", got)
	}

	att, err := e.attest.GetAttestation(id)
	if err != nil {
		t.Fatal(err)
	}
	if att.ActionHash != action || att.AssuranceLevel != 3 {
		t.Errorf("stored attestation mismatch: %+v", att)
	}

	// Singles are not rate limited: a second one immediately after works.
	sig = e.signSingle(action, location, sensor, 4, 3)
	if _, err := e.attest.SubmitSingleAttestation(ctx, operator, e.agentID, action, location, sensor, 4, sig); err != nil {
		t.Errorf("back-to-back single: got %v, want success", err)
	}
}

func TestSubmitSingle_validation(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	action, location, sensor := hashOf("a"), hashOf("l"), hashOf("s")

	sig := e.signSingle(common.Hash{}, location, sensor, 3, 1)
	if _, err := e.attest.SubmitSingleAttestation(ctx, operator, e.agentID, common.Hash{}, location, sensor, 3, sig); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Errorf("zero action hash: got %v, want ErrInvalidParameter", err)
	}

	for _, level := range []uint8{0, 6} {
		sig := e.signSingle(action, location, sensor, level, 1)
		if _, err := e.attest.SubmitSingleAttestation(ctx, operator, e.agentID, action, location, sensor, level, sig); !errors.Is(err, ledger.ErrInvalidParameter) {
			t.Errorf("assurance level %d: got %v, want ErrInvalidParameter", level, err)
		}
	}
}

func TestVerifyAttestation(t *testing.T) {
	e := newEnv(t)
	e.stakeMin()

	leaves := []common.Hash{hashOf("l0"), hashOf("l1"), hashOf("l2"), hashOf("l3"), hashOf("l4")}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		t.Fatal(err)
	}
	batchID := e.submitBatch(tree.Root(), uint64(len(leaves)))

	proof, err := tree.Proof(2)
	if err != nil {
		t.Fatal(err)
	}
	if !e.attest.VerifyAttestation(batchID, leaves[2], proof) {
		t.Error("valid proof rejected")
	}
	// Verification is read-only: repeating it gives the same answer.
	if !e.attest.VerifyAttestation(batchID, leaves[2], proof) {
		t.Error("second identical verification rejected")
	}

	if e.attest.VerifyAttestation(batchID, hashOf("forged"), proof) {
		t.Error("forged leaf accepted")
	}
	if e.attest.VerifyAttestation(999, leaves[2], proof) {
		t.Error("unknown batch id accepted")
	}
}

func TestSetScoreConfig(t *testing.T) {
	e := newEnv(t)

	cfg := ledger.DefaultScoreConfig()
	cfg.StakeWeight = 200
	cfg.MaxStakeBonus = 4000

	if err := e.attest.SetScoreConfig(ctx, stranger, cfg); !errors.Is(err, ledger.ErrNotAdmin) {
		t.Errorf("non-admin: got %v, want ErrNotAdmin", err)
	}

	bad := cfg
	bad.MaxLongevityBonus = 9000
	if err := e.attest.SetScoreConfig(ctx, admin, bad); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Errorf("invalid config: got %v, want ErrInvalidParameter", err)
	}

	if err := e.attest.SetScoreConfig(ctx, admin, cfg); err != nil {
		t.Fatal(err)
	}
	if got := e.attest.ScoreConfig(); got.StakeWeight != 200 {
		t.Errorf("config not applied: StakeWeight=%d, want 200", got.StakeWeight)
	}

	// The replaced config drives the next recomputation.
	e.stakeMin()
	e.submitBatch(hashOf("b"), 1)
	agent, _ := e.registry.GetAgent(e.agentID)
	if agent.TrustScore != 1200 {
		t.Errorf("score under new config: got %d, want 1200", agent.TrustScore)
	}
}
