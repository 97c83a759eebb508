package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/copygrid/trade-relay/internal/auth"
	"github.com/copygrid/trade-relay/internal/models"
	"github.com/copygrid/trade-relay/internal/relay"
)

// RegisterPushRoutes registers the master-side ingestion endpoint.
//
// POST /v1/push
// - Requires a master credential when keys are configured; the credential's
//   group wins over the body's.
// - Durable: success is returned only after the group record is flushed.
// - Idempotent: duplicates come back as success with duplicated=true and
//   the originally assigned id.
func RegisterPushRoutes(r gin.IRoutes, core *relay.Core) {
	r.POST("/v1/push", func(c *gin.Context) {
		var req models.PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		group := auth.Group(c)
		if group == "" {
			group = req.Group
		} else if req.Group != "" && req.Group != group {
			c.JSON(http.StatusForbidden, gin.H{"error": "group does not match credential"})
			return
		}

		in := relay.PushInput{
			Group:      group,
			Type:       relay.EventType(req.Type),
			Ticket:     req.Ticket,
			UID:        req.UID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Lots:       req.Lots,
			OpenPrice:  req.OpenPrice,
			ClosePrice: req.ClosePrice,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			Magic:      req.Magic,
			Comment:    req.Comment,
			Equity:     req.Equity,
		}
		if req.OpenTime > 0 {
			in.OpenTime = time.Unix(req.OpenTime, 0).UTC()
		}
		if req.CloseTime > 0 {
			in.CloseTime = time.Unix(req.CloseTime, 0).UTC()
		}

		res, err := core.Push(c.Request.Context(), in)
		if err != nil {
			if errors.Is(err, relay.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
			return
		}

		// 201 for new events, 200 for duplicates (idempotent success).
		status := http.StatusCreated
		if res.Duplicated {
			status = http.StatusOK
		}
		c.JSON(status, models.PushResponse{
			ID:         res.ID,
			Duplicated: res.Duplicated,
			Reason:     string(res.Reason),
		})
	})
}
