package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classledger/internal/actor"
)

const actorKey = "actor"

// Authenticate enforces bearer JWT tokens signed with HS256 and stores the
// caller's actor.Actor on the context. When allowQuery is set, an
// access_token query parameter is accepted for clients that cannot send
// headers, such as EventSource.
func Authenticate(signingKey, issuer string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearer(c.GetHeader("Authorization"))
		if tokenStr == "" && allowQuery {
			tokenStr = c.Query("access_token")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "invalid token"})
			return
		}
		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

func bearer(authz string) string {
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...actor.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "not authenticated"})
			return
		}
		for _, r := range roles {
			if a.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized", "message": "role may not use this endpoint"})
	}
}

// ActorFrom returns the authenticated actor.
func ActorFrom(c *gin.Context) (actor.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return actor.Actor{}, false
	}
	a, ok := v.(actor.Actor)
	return a, ok
}
