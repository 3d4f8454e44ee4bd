package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"call-relay/internal/auth"
	"call-relay/internal/calllog"
	"call-relay/internal/presence"
	"call-relay/internal/reporting"
	"call-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Presence  *presence.Directory
	Reporting *reporting.Service
	Ledger    *calllog.Service

	// DBPing is optional; when set, Health reports database reachability.
	DBPing func(ctx context.Context) error
}

func (h Handlers) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.Presence != nil {
		body["connections"] = h.Presence.ConnectionCount()
	}
	if h.DBPing != nil {
		if err := h.DBPing(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health db ping failed", "err", err)
			body["status"] = "degraded"
			body["db"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["db"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	out := gin.H{"id": uid, "name": auth.Name(c.Request.Context()), "role": role, "online": false}
	if h.Presence != nil {
		if e, ok := h.Presence.Get(uid); ok {
			out["online"] = e.Online
		}
	}
	c.JSON(http.StatusOK, out)
}

// OnlineUsers returns the same set a presence-update carries.
func (h Handlers) OnlineUsers(c *gin.Context) {
	if h.Presence == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": h.Presence.Online()})
}

// --- Admin ---

func (h Handlers) AdminStats(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	stats, err := h.Reporting.Dashboard(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("dashboard failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) AdminDailyCalls(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}
	report, err := h.Reporting.DailyCalls(c.Request.Context(), days)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("daily calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) AdminGetCall(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	entry, err := h.Ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
