package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/validation"
)

// writeError maps the error taxonomy onto status codes. Infrastructure
// errors are logged and hidden behind a generic 500.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	if verrs, ok := apperrors.AsValidation(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verrs.Fields})
		return
	}
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsConcurrency(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrBusinessProcess):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.WithContext(c.Request.Context()).Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

// inventoryReport - GET /ops/ticket-types/:id/inventory
func (s *Server) inventoryReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := s.deps.Inventory.Report(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// redeemTicket - POST /ops/ticket-instances/:id/redeem
func (s *Server) redeemTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Inventory.Redeem(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	logger.WithContext(c.Request.Context()).Info("Ticket redeemed", "ticket_instance_id", id)
	c.Status(http.StatusNoContent)
}

// expireCarts - POST /ops/carts/expire?limit=n
func (s *Server) expireCarts(c *gin.Context) {
	limit := s.deps.CartExpirationBatch
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	expired, err := s.deps.Services.Cart.ExpireCarts(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}

// listPublishers - GET /ops/publishers
func (s *Server) listPublishers(c *gin.Context) {
	pubs, err := s.deps.Publishers.ListPublishers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if pubs == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, pubs)
}

// createPublisher - POST /ops/publishers
func (s *Server) createPublisher(c *gin.Context) {
	var req validation.PublisherAttributes
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pub, err := s.deps.Publisher.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pub)
}

// runPublishers - POST /ops/publishers/run
// Runs one publishing pass now instead of waiting for the worker.
func (s *Server) runPublishers(c *gin.Context) {
	stats, err := s.deps.Publisher.PublishPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"published": stats.Published,
		"claimed":   stats.Claimed,
		"filtered":  stats.Filtered,
		"failed":    stats.Failed,
		"busy":      stats.Busy,
	})
}
