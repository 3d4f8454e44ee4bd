package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"call-relay/internal/audit"
	"call-relay/internal/auth"
	"call-relay/internal/calllog"
	"call-relay/internal/config"
	"call-relay/internal/metrics"
	"call-relay/internal/presence"
	"call-relay/internal/rbac"
	"call-relay/internal/reporting"
	"call-relay/internal/session"
	"call-relay/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "routes-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	collector := metrics.NewCollector()
	ledger := calllog.NewService(calllog.NewMemoryRepo())
	dir := presence.NewDirectory()
	t.Cleanup(dir.Close)
	sessions := session.NewRegistry(ledger)
	router := signaling.NewRouter(signaling.RouterDeps{
		Directory: dir,
		Sessions:  sessions,
		Audit:     audit.NewService(audit.NewMemoryRepo()),
		Metrics:   collector,
	})
	lc := signaling.NewLifecycle(dir, sessions, router, collector, nil)

	r := gin.New()
	registerRoutes(r, routeDeps{
		auth:      am,
		metrics:   collector,
		signaling: signaling.NewHandler(am, lc, router, collector, config.SignalConfig{AllowedOrigins: []string{"*"}}),
		presence:  dir,
		ledger:    ledger,
		reporting: reporting.NewService(ledger, dir),
	})
	return r, am
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	r, _ := newTestEngine(t)

	assert.Equal(t, http.StatusOK, do(r, "/healthz", "").Code)

	w := do(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "callrelay_connections_active")

	assert.Equal(t, http.StatusUnauthorized, do(r, "/ws", "").Code)
}

func TestRoutes_V1RequiresToken(t *testing.T) {
	r, am := newTestEngine(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/v1/me", "").Code)

	user, err := am.IssueAccess(time.Now(), "alice", "Alice", rbac.RoleUser)
	require.NoError(t, err)
	admin, err := am.IssueAccess(time.Now(), "root", "Root", rbac.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(r, "/v1/me", user).Code)
	assert.Equal(t, http.StatusOK, do(r, "/v1/users/online", user).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/v1/admin/stats", user).Code)
	assert.Equal(t, http.StatusOK, do(r, "/v1/admin/stats", admin).Code)
	assert.Equal(t, http.StatusOK, do(r, "/v1/admin/calls/daily?days=3", admin).Code)
	assert.Equal(t, http.StatusNotFound, do(r, "/v1/admin/calls/missing", admin).Code)
}
