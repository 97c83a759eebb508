package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copygrid/trade-relay/internal/models"
	"github.com/copygrid/trade-relay/internal/relay"
)

// RegisterHealthRoutes registers the public diagnostics endpoint: per-group
// event counts, slave counts and last known master equity.
func RegisterHealthRoutes(r gin.IRoutes, core *relay.Core) {
	r.GET("/health", func(c *gin.Context) {
		groups := core.Health()
		if groups == nil {
			groups = []relay.GroupHealth{}
		}
		c.JSON(http.StatusOK, models.HealthResponse{Status: "ok", Groups: groups})
	})
}
