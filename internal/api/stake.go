package api

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/keystone-robotics/provenance/internal/ledger"
)

// stakeFunc is the shared shape of the three stake mutations.
type stakeFunc func(ctx context.Context, caller common.Address, agentID uint64, amount *big.Int) error

// stakeView renders a stake record with string amounts.
func stakeView(agentID uint64, s *ledger.Stake) gin.H {
	return gin.H{
		"agent_id":        agentID,
		"amount":          s.Amount.String(),
		"locked_until":    s.LockedUntil,
		"slashed_total":   s.SlashedTotal.String(),
		"last_stake_time": s.LastStakeTime,
	}
}

// StakeRequest is the payload for deposit and withdrawal routes. Amount is a
// decimal string in token base units.
type StakeRequest struct {
	Operator string `json:"operator" binding:"required"`
	Amount   string `json:"amount"   binding:"required"`
}

// Stake handles POST /v1/stakes/:id.
func (s *Server) Stake(c *gin.Context) {
	s.stakeOp(c, s.stake.Stake)
}

// IncreaseStake handles POST /v1/stakes/:id/increase.
func (s *Server) IncreaseStake(c *gin.Context) {
	s.stakeOp(c, s.stake.IncreaseStake)
}

// Unstake handles POST /v1/stakes/:id/withdraw.
func (s *Server) Unstake(c *gin.Context) {
	s.stakeOp(c, s.stake.Unstake)
}

func (s *Server) stakeOp(c *gin.Context, op stakeFunc) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator, ok := parseAddress(c, req.Operator)
	if !ok {
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), operator, id, amount); err != nil {
		s.fail(c, err)
		return
	}
	RecordStakeOp()
	stake, err := s.stake.GetStake(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stakeView(id, stake))
}

// GetStake handles GET /v1/stakes/:id.
func (s *Server) GetStake(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	stake, err := s.stake.GetStake(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stakeView(id, stake))
}

// ProposeSlashRequest is the payload for POST /v1/slashes.
type ProposeSlashRequest struct {
	Proposer string `json:"proposer" binding:"required"`
	AgentID  uint64 `json:"agent_id" binding:"required"`
	Amount   string `json:"amount"   binding:"required"`
	Reason   string `json:"reason"   binding:"required"`
}

// ProposeSlash handles POST /v1/slashes.
func (s *Server) ProposeSlash(c *gin.Context) {
	var req ProposeSlashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proposer, ok := parseAddress(c, req.Proposer)
	if !ok {
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	id, err := s.stake.ProposeSlash(c.Request.Context(), proposer, req.AgentID, amount, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proposal_id": id})
}

// ExecuteSlashRequest carries the executing caller; execution itself is
// permissionless once the timelock passes.
type ExecuteSlashRequest struct {
	Caller string `json:"caller" binding:"required"`
}

// ExecuteSlash handles POST /v1/slashes/:id/execute.
func (s *Server) ExecuteSlash(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ExecuteSlashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, ok := parseAddress(c, req.Caller)
	if !ok {
		return
	}
	if err := s.stake.ExecuteSlash(c.Request.Context(), caller, id); err != nil {
		s.fail(c, err)
		return
	}
	RecordSlashExecuted()
	proposal, err := s.stake.GetProposal(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// GetProposal handles GET /v1/slashes/:id.
func (s *Server) GetProposal(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	proposal, err := s.stake.GetProposal(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// parseAmount reads a positive decimal token amount.
func parseAmount(c *gin.Context, s string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal string"})
		return nil, false
	}
	return amount, true
}
