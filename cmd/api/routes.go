package main

import (
	"context"

	"call-relay/internal/auth"
	"call-relay/internal/calllog"
	"call-relay/internal/httpapi"
	"call-relay/internal/metrics"
	"call-relay/internal/presence"
	"call-relay/internal/rbac"
	"call-relay/internal/reporting"
	"call-relay/internal/signaling"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth      *auth.Manager
	metrics   *metrics.Collector
	signaling *signaling.Handler
	presence  *presence.Directory
	ledger    *calllog.Service
	reporting *reporting.Service
	dbPing    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Presence:  d.presence,
		Reporting: d.reporting,
		Ledger:    d.ledger,
		DBPing:    d.dbPing,
	}

	// public
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// The websocket handler verifies its own token: browsers cannot set
	// headers on the upgrade request, so it also accepts ?token=.
	r.GET("/ws", d.signaling.Serve)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", h.Me)
		v1.GET("/users/online", h.OnlineUsers)

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/stats", h.AdminStats)
			admin.GET("/calls/daily", h.AdminDailyCalls)
			admin.GET("/calls/:id", h.AdminGetCall)
		}
	}
}
