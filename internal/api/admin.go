package api

import (
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keystone-robotics/provenance/internal/ledger"
)

// Admin routes act with the guard's administrator address; the bearer token
// proves the caller holds the admin secret.

// Pause handles POST /v1/admin/pause, engaging the circuit breaker.
func (s *Server) Pause(c *gin.Context) {
	if err := s.guard.Pause(s.guard.Admin()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Warn("ledger paused by administrator")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Unpause handles POST /v1/admin/unpause.
func (s *Server) Unpause(c *gin.Context) {
	if err := s.guard.Unpause(s.guard.Admin()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("ledger unpaused by administrator")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// ScoreConfigRequest is the payload for PUT /v1/admin/score-config.
// StakeUnit is a decimal string in token base units.
type ScoreConfigRequest struct {
	LongevityWeight   uint64 `json:"longevity_weight"`
	MaxLongevityBonus uint64 `json:"max_longevity_bonus"`
	ActivityWeight    uint64 `json:"activity_weight"`
	MaxActivityBonus  uint64 `json:"max_activity_bonus"`
	StakeWeight       uint64 `json:"stake_weight"`
	MaxStakeBonus     uint64 `json:"max_stake_bonus"`
	StakeUnit         string `json:"stake_unit" binding:"required"`
}

// SetScoreConfig handles PUT /v1/admin/score-config. It replaces the trust
// score configuration wholesale.
func (s *Server) SetScoreConfig(c *gin.Context) {
	var req ScoreConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	unit, ok := new(big.Int).SetString(req.StakeUnit, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stake_unit must be a decimal string"})
		return
	}
	cfg := ledger.ScoreConfig{
		LongevityWeight:   req.LongevityWeight,
		MaxLongevityBonus: req.MaxLongevityBonus,
		ActivityWeight:    req.ActivityWeight,
		MaxActivityBonus:  req.MaxActivityBonus,
		StakeWeight:       req.StakeWeight,
		MaxStakeBonus:     req.MaxStakeBonus,
		StakeUnit:         unit,
	}
	if err := s.attest.SetScoreConfig(c.Request.Context(), s.guard.Admin(), cfg); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SlashDelayRequest is the payload for PUT /v1/admin/slash-delay. Delay is a
// Go duration string, e.g. "48h".
type SlashDelayRequest struct {
	Delay string `json:"delay" binding:"required"`
}

// SetSlashDelay handles PUT /v1/admin/slash-delay.
func (s *Server) SetSlashDelay(c *gin.Context) {
	var req SlashDelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := time.ParseDuration(req.Delay)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delay must be a duration string: " + err.Error()})
		return
	}
	if err := s.stake.SetSlashDelay(c.Request.Context(), s.guard.Admin(), d); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slash_delay": d.String()})
}

// SlasherRequest is the payload for POST /v1/admin/slashers.
type SlasherRequest struct {
	Address string `json:"address" binding:"required"`
}

// AddSlasher handles POST /v1/admin/slashers.
func (s *Server) AddSlasher(c *gin.Context) {
	var req SlasherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Address)
	if !ok {
		return
	}
	if err := s.guard.AddSlasher(s.guard.Admin(), addr); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slasher": addr.Hex()})
}

// RemoveSlasher handles DELETE /v1/admin/slashers/:addr.
func (s *Server) RemoveSlasher(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("addr"))
	if !ok {
		return
	}
	if err := s.guard.RemoveSlasher(s.guard.Admin(), addr); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CancelSlash handles POST /v1/admin/slashes/:id/cancel, administrator-only
// dispute resolution before a proposal executes.
func (s *Server) CancelSlash(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.stake.CancelSlash(c.Request.Context(), s.guard.Admin(), id); err != nil {
		s.fail(c, err)
		return
	}
	proposal, err := s.stake.GetProposal(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}
