package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JournalOverview handles GET /v1/journal: chain length and current tip.
func (s *Server) JournalOverview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := s.journal.Len(ctx)
	if err != nil {
		s.logger.Error("journal Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
		return
	}
	root, err := s.journal.Root(ctx)
	if err != nil {
		s.logger.Error("journal Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal root"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// JournalVerify handles GET /v1/journal/verify. It walks the full chain and
// reports integrity.
func (s *Server) JournalVerify(c *gin.Context) {
	if err := s.journal.Verify(c.Request.Context()); err != nil {
		s.logger.Warn("journal integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// JournalEntry handles GET /v1/journal/entries/:idx.
func (s *Server) JournalEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}
	entry, err := s.journal.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
