package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/copygrid/trade-relay/internal/auth"
	"github.com/copygrid/trade-relay/internal/models"
	"github.com/copygrid/trade-relay/internal/relay"
)

// PollLimits bound how many events one poll may request.
type PollLimits struct {
	Default int
	Max     int
}

// RegisterPollRoutes registers the slave-side delivery endpoint.
//
// GET /v1/events?group=G&slaveId=S&since=N&limit=L
// - Registers the slave on first contact and bumps its lastSeenAt.
// - Returns events with id > since that this slave has not acknowledged.
func RegisterPollRoutes(r gin.IRoutes, core *relay.Core, limits PollLimits) {
	r.GET("/v1/events", func(c *gin.Context) {
		group := c.Query("group")
		slaveID := c.Query("slaveId")

		if bound := auth.BoundSlave(c); bound != "" {
			if slaveID == "" {
				slaveID = bound
			} else if slaveID != bound {
				c.JSON(http.StatusForbidden, gin.H{"error": "slaveId does not match credential"})
				return
			}
		}

		since, err := parseInt64(c.Query("since"), 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
			return
		}
		limit, err := parseInt(c.Query("limit"), limits.Default)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit == 0 || limit > limits.Max {
			limit = limits.Max
		}

		res, err := core.Poll(c.Request.Context(), group, slaveID, since, limit)
		if err != nil {
			if errors.Is(err, relay.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
			return
		}

		events := res.Events
		if events == nil {
			events = []relay.Event{}
		}
		c.JSON(http.StatusOK, models.PollResponse{
			Events:     events,
			Count:      len(events),
			ServerTime: res.ServerTime,
			LastEquity: res.LastEquity,
		})
	})
}

func parseInt64(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
