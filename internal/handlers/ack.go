package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copygrid/trade-relay/internal/auth"
	"github.com/copygrid/trade-relay/internal/models"
	"github.com/copygrid/trade-relay/internal/relay"
)

// RegisterAckRoutes registers the slave-side acknowledgment and
// pre-registration endpoints.
//
// POST /v1/ack records a terminal outcome; gone=true when the event was
// already collected (still a success). POST /v1/slaves pre-registers a
// slaveId so GC counts it before its first poll. Both are idempotent.
func RegisterAckRoutes(r gin.IRoutes, core *relay.Core) {
	r.POST("/v1/ack", func(c *gin.Context) {
		var req models.AckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.SlaveID == "" {
			req.SlaveID = auth.BoundSlave(c)
		}
		if !slaveMatches(c, req.SlaveID) {
			return
		}

		res, err := core.Ack(c.Request.Context(), req.Group, req.SlaveID, req.EventID, relay.AckStatus(req.Status), req.Error)
		if err != nil {
			if errors.Is(err, relay.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
			return
		}
		c.JSON(http.StatusOK, models.AckResponse{Recorded: !res.Gone, Gone: res.Gone})
	})

	r.POST("/v1/slaves", func(c *gin.Context) {
		var req models.RegisterSlaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.SlaveID == "" {
			req.SlaveID = auth.BoundSlave(c)
		}
		if !slaveMatches(c, req.SlaveID) {
			return
		}

		if err := core.RegisterSlave(c.Request.Context(), req.Group, req.SlaveID); err != nil {
			if errors.Is(err, relay.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"registered": true})
	})
}

// slaveMatches rejects requests whose slaveId conflicts with the
// credential's binding. Writes the error response itself.
func slaveMatches(c *gin.Context, slaveID string) bool {
	bound := auth.BoundSlave(c)
	if bound != "" && slaveID != "" && slaveID != bound {
		c.JSON(http.StatusForbidden, gin.H{"error": "slaveId does not match credential"})
		return false
	}
	return true
}
