package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/mailtriage/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) handleListEmails(c *gin.Context) {
	view := models.View(c.DefaultQuery("view", string(models.ViewImbox)))
	switch view {
	case models.ViewImbox, models.ViewFeed, models.ViewPaperTrail, models.ViewScreener:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	emails, err := s.store.ListEmailsByView(c.Request.Context(), currentUser(c), view, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if emails == nil {
		emails = []*models.Email{}
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails, "view": view})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	msg, mirrored, err := s.syncer.MarkRead(c.Request.Context(), currentUser(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": msg, "providerUpdated": mirrored})
}
