package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/mailtriage/pkg/models"
)

type undoRequest struct {
	Sender string `json:"sender" binding:"required"`
}

func (s *Server) handleUndo(c *gin.Context) {
	var req undoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "sender is required"})
		return
	}

	affected, err := s.screener.Undo(c.Request.Context(), currentUser(c), req.Sender)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "affectedCount": affected})
}

type decisionRequest struct {
	Sender   string          `json:"sender" binding:"required"`
	Decision models.Decision `json:"decision" binding:"required"`
	Apply    bool            `json:"apply"`
}

func (s *Server) handleRecordDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender and decision are required"})
		return
	}

	decision, reclassified, err := s.screener.RecordDecision(c.Request.Context(), currentUser(c), req.Sender, req.Decision, req.Apply)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision, "reclassified": reclassified})
}

func (s *Server) handleListDecisions(c *gin.Context) {
	decisions, err := s.screener.List(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if decisions == nil {
		decisions = []*models.ScreeningDecision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}
