package signaling

import (
	"net/http"
	"strings"
	"time"

	"call-relay/internal/auth"
	"call-relay/internal/config"
	"call-relay/internal/metrics"
	"call-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades authenticated requests to signaling connections.
type Handler struct {
	auth      *auth.Manager
	lifecycle *Lifecycle
	router    *Router
	metrics   *metrics.Collector
	cfg       config.SignalConfig
	upgrader  websocket.Upgrader
	clock     func() time.Time
}

func NewHandler(am *auth.Manager, lc *Lifecycle, router *Router, m *metrics.Collector, cfg config.SignalConfig) *Handler {
	return &Handler{
		auth:      am,
		lifecycle: lc,
		router:    router,
		metrics:   m,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		clock: time.Now,
	}
}

// Serve is the GET /ws handler. The token is verified before the upgrade;
// a refused request never touches presence or session state.
func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	claims, err := h.auth.Verify(auth.TokenFromRequest(c.Request), h.clock())
	if err != nil {
		h.metrics.AuthFailed()
		log.Warn("signaling auth failed", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.Warn("websocket upgrade failed", "identity", claims.UserID, "err", err)
		return
	}

	conn := NewConn(ws, claims.UserID, claims.Name, h.cfg, log)
	c.Set(logger.KeyIdentity, claims.UserID)
	c.Set(logger.KeyHandle, conn.Handle().String())
	conn.Serve(c.Request.Context(), h.lifecycle, h.router)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	anyOrigin := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
