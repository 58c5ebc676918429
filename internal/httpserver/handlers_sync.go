package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleTrigger runs one batch and returns its report
func (s *Server) handleTrigger(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.BatchTimeout)
	defer cancel()

	report, err := s.syncer.RunBatch(ctx)
	if err != nil {
		s.logger.Error("sync batch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync batch failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	accountID, ok := optionalID(c.Query("accountId"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid accountId"})
		return
	}

	statuses, err := s.syncer.Status(c.Request.Context(), currentUser(c), accountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

type resetRequest struct {
	AccountID *int64 `json:"accountId"`
}

func (s *Server) handleReset(c *gin.Context) {
	var req resetRequest
	// Empty body resets all of the user's accounts
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	n, err := s.syncer.ResetUserStuck(c.Request.Context(), currentUser(c), req.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "resetCount": n})
}
