package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// SubmitBatchRequest is the payload for POST /v1/attestations/batch.
// Operator is the submitting operator address; the hardware signature covers
// the semantic fields plus the agent's next nonce and the chain id.
type SubmitBatchRequest struct {
	Operator     string `json:"operator"      binding:"required"`
	AgentID      uint64 `json:"agent_id"      binding:"required"`
	MerkleRoot   string `json:"merkle_root"   binding:"required"`
	Count        uint64 `json:"count"         binding:"required"`
	MetadataHash string `json:"metadata_hash"`
	Signature    string `json:"signature"     binding:"required"`
}

// SubmitBatch handles POST /v1/attestations/batch.
func (s *Server) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator, ok := parseAddress(c, req.Operator)
	if !ok {
		return
	}
	sig, ok := parseHex(c, req.Signature)
	if !ok {
		return
	}

	id, err := s.attest.SubmitBatch(
		c.Request.Context(), operator, req.AgentID,
		common.HexToHash(req.MerkleRoot), req.Count,
		common.HexToHash(req.MetadataHash), sig,
	)
	if err != nil {
		s.fail(c, err)
		return
	}
	RecordBatchAccepted(req.Count)
	c.JSON(http.StatusCreated, gin.H{"batch_id": id})
}

// SubmitSingleRequest is the payload for POST /v1/attestations/single.
type SubmitSingleRequest struct {
	Operator       string `json:"operator"         binding:"required"`
	AgentID        uint64 `json:"agent_id"         binding:"required"`
	ActionHash     string `json:"action_hash"      binding:"required"`
	LocationHash   string `json:"location_hash"`
	SensorDataHash string `json:"sensor_data_hash"`
	AssuranceLevel uint8  `json:"assurance_level"  binding:"required"`
	Signature      string `json:"signature"        binding:"required"`
}

// SubmitSingle handles POST /v1/attestations/single.
func (s *Server) SubmitSingle(c *gin.Context) {
	var req SubmitSingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator, ok := parseAddress(c, req.Operator)
	if !ok {
		return
	}
	sig, ok := parseHex(c, req.Signature)
	if !ok {
		return
	}

	id, err := s.attest.SubmitSingleAttestation(
		c.Request.Context(), operator, req.AgentID,
		common.HexToHash(req.ActionHash),
		common.HexToHash(req.LocationHash),
		common.HexToHash(req.SensorDataHash),
		req.AssuranceLevel, sig,
	)
	if err != nil {
		s.fail(c, err)
		return
	}
	RecordSingleAccepted()
	c.JSON(http.StatusCreated, gin.H{"attestation_id": id})
}

// VerifyRequest is the payload for POST /v1/attestations/verify.
type VerifyRequest struct {
	BatchID uint64   `json:"batch_id" binding:"required"`
	Leaf    string   `json:"leaf"     binding:"required"`
	Proof   []string `json:"proof"`
}

// VerifyAttestation handles POST /v1/attestations/verify. Read-only: it
// recomputes the root from the leaf and sibling path and compares it to the
// stored batch root.
func (s *Server) VerifyAttestation(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proof := make([]common.Hash, len(req.Proof))
	for i, p := range req.Proof {
		proof[i] = common.HexToHash(p)
	}
	valid := s.attest.VerifyAttestation(req.BatchID, common.HexToHash(req.Leaf), proof)
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// GetBatch handles GET /v1/attestations/batches/:id.
func (s *Server) GetBatch(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	batch, err := s.attest.GetBatch(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// GetTrustProfile handles GET /v1/agents/:id/trust: the registry-held
// reputation view of one agent.
func (s *Server) GetTrustProfile(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	agent, err := s.registry.GetAgent(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	verified, err := s.registry.IsVerified(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":          id,
		"operator":          agent.Operator.Hex(),
		"registered_at":     agent.RegisteredAt,
		"stake_amount":      agent.StakeAmount.String(),
		"attestation_count": agent.AttestationCount,
		"trust_score":       agent.TrustScore,
		"active":            agent.Active,
		"verified":          verified,
		"batches":           s.attest.BatchesOf(id),
	})
}

// GetNonce handles GET /v1/agents/:id/nonce: the last consumed hardware
// nonce; the next submission signs with this value plus one.
func (s *Server) GetNonce(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "nonce": s.attest.Nonce(id)})
}

// parseID reads the :id path parameter as a positive integer.
func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// parseAddress validates a 0x-prefixed 20-byte hex address.
func parseAddress(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address: " + s})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseHex decodes a 0x-prefixed hex blob.
func parseHex(c *gin.Context, s string) ([]byte, bool) {
	b, err := hexutil.Decode(s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hex: " + err.Error()})
		return nil, false
	}
	return b, true
}
