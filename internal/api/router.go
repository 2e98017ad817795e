// Package api is the HTTP request boundary of the ledger and advisor registry.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classledger/internal/actor"
	"classledger/internal/advisor"
	"classledger/internal/attendance"
	"classledger/internal/auth"
	"classledger/internal/httpmiddleware"
	"classledger/internal/notify"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the router exposes.
type Deps struct {
	Attendance      *attendance.Service
	Advisors        *advisor.Service
	Hub             *notify.Hub
	Checks          map[string]HealthCheck
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	// KeepAlive is the ping interval of the change stream.
	KeepAlive time.Duration
	Logger    *zap.Logger
}

type handler struct {
	att       *attendance.Service
	adv       *advisor.Service
	hub       *notify.Hub
	checks    map[string]HealthCheck
	keepAlive time.Duration
	log       *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = 25 * time.Second
	}
	h := &handler{
		att:       d.Attendance,
		adv:       d.Advisors,
		hub:       d.Hub,
		checks:    d.Checks,
		keepAlive: d.KeepAlive,
		log:       d.Logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", auth.Authenticate(d.SigningKey, d.Issuer, false))
	if d.RateLimitPerMin > 0 {
		v1.Use(httpmiddleware.NewSimpleTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware())
	}

	staff := v1.Group("/attendance", auth.RequireRole(actor.RoleFaculty, actor.RoleAdmin))
	staff.POST("/mark", h.mark)
	staff.PUT("/edit", h.edit)
	staff.GET("/history", h.history)
	staff.GET("/summary", h.summary)
	staff.PATCH("/action", h.action)

	me := v1.Group("/students/me", auth.RequireRole(actor.RoleStudent))
	me.POST("/reason", h.reason)
	me.GET("/attendance", h.myAttendance)

	// EventSource cannot set headers, so the stream also takes ?access_token.
	r.GET("/v1/students/me/changes",
		auth.Authenticate(d.SigningKey, d.Issuer, true),
		auth.RequireRole(actor.RoleStudent),
		h.changes)

	admin := v1.Group("", auth.RequireRole(actor.RoleAdmin))
	admin.POST("/advisors/assign", h.assign)
	admin.POST("/advisors/:id/deactivate", h.deactivate)
	admin.DELETE("/advisors/:id", h.remove)
	admin.GET("/advisors", h.listAdvisors)
	admin.POST("/faculty/:id/assignments/rebuild", h.rebuildCache)

	v1.GET("/faculty/:id/assignments", auth.RequireRole(actor.RoleFaculty, actor.RoleAdmin), h.facultyCache)

	return r
}

func (h *handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// corsMiddleware answers browser preflights.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
