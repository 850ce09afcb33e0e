package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/mw"
)

const actorKey = "actor"

// Identity resolves the caller from headers set by the authenticating
// proxy in front of the service. Requests without a valid user id are
// rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(mw.IdentityHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user id"})
			return
		}
		name := strings.TrimSpace(c.GetHeader("X-User-Name"))
		if name == "" {
			name = "user " + strconv.FormatInt(id, 10)
		}
		admin, _ := strconv.ParseBool(c.GetHeader("X-Admin"))
		c.Set(actorKey, lifecycle.Actor{UserID: id, Name: name, Admin: admin})
		c.Next()
	}
}

func actorFrom(c *gin.Context) lifecycle.Actor {
	a, _ := c.Get(actorKey)
	actor, _ := a.(lifecycle.Actor)
	return actor
}

func requireAdmin(c *gin.Context) bool {
	if !actorFrom(c).Admin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return false
	}
	return true
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
