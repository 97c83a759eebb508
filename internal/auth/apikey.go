package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys for the authenticated identities.
const (
	groupCtxKey      = "auth_group"
	boundSlaveCtxKey = "auth_slave"
)

// MasterMiddleware gates the push endpoint: X-API-Key must match a master
// credential, and the matched group is stored in the request context. When
// no master keys are configured the middleware is permissive (local dev)
// and the group comes from the request body instead.
func MasterMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		group, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(groupCtxKey, group)
		c.Next()
	}
}

// SlaveMiddleware enforces one-slave-per-credential on the poll/ack
// endpoints. When slave keys are configured, a valid key is required and
// the bound slaveId is stored in the context for the handlers to match
// against the request. With no keys configured it is permissive.
func SlaveMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		slaveID, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(boundSlaveCtxKey, slaveID)
		c.Next()
	}
}

// Group returns the credential's group, or "" in permissive mode.
func Group(c *gin.Context) string {
	v, _ := c.Get(groupCtxKey)
	s, _ := v.(string)
	return s
}

// BoundSlave returns the credential's slaveId, or "" in permissive mode.
func BoundSlave(c *gin.Context) string {
	v, _ := c.Get(boundSlaveCtxKey)
	s, _ := v.(string)
	return s
}
