package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"call-relay/internal/auth"
	"call-relay/internal/calllog"
	"call-relay/internal/presence"
	"call-relay/internal/rbac"
	"call-relay/internal/reporting"
	"call-relay/internal/signal/signaltest"

	"github.com/gin-gonic/gin"
)

func newTestHandlers(t *testing.T) (Handlers, *calllog.Service) {
	t.Helper()
	dir := presence.NewDirectory()
	t.Cleanup(dir.Close)
	ledger := calllog.NewService(calllog.NewMemoryRepo())
	return Handlers{
		Presence:  dir,
		Ledger:    ledger,
		Reporting: reporting.NewService(ledger, dir),
	}, ledger
}

func withIdentity(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestOnlineUsers_ListsRegisteredIdentities(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	h.Presence.Register(context.Background(), signaltest.NewEndpoint("bob", "Bob"))
	h.Presence.Register(context.Background(), signaltest.NewEndpoint("alice", "Alice"))

	r := gin.New()
	r.GET("/v1/users/online", h.OnlineUsers)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users/online", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Users []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Users) != 2 || body.Users[0].ID != "alice" {
		t.Fatalf("unexpected users %+v", body.Users)
	}
}

func TestAdminStats_RequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, ledger := newTestHandlers(t)
	if _, err := ledger.Open(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, tc := range []struct {
		role string
		want int
	}{
		{rbac.RoleUser, http.StatusForbidden},
		{rbac.RoleAdmin, http.StatusOK},
	} {
		r := gin.New()
		r.GET("/v1/admin/stats", withIdentity("u1", tc.role), rbac.RequireAnyRole(rbac.RoleAdmin), h.AdminStats)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
		if w.Code != tc.want {
			t.Fatalf("role %s: expected %d, got %d", tc.role, tc.want, w.Code)
		}
		if tc.want != http.StatusOK {
			continue
		}
		var stats reporting.DashboardStats
		if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if stats.ActiveCalls != 1 || stats.CallsToday != 1 {
			t.Fatalf("unexpected stats %+v", stats)
		}
	}
}

func TestAdminDailyCalls_ValidatesDays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/daily", h.AdminDailyCalls)

	for _, tc := range []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?days=14", http.StatusOK},
		{"?days=abc", http.StatusBadRequest},
		{"?days=-1", http.StatusBadRequest},
		{"?days=1000", http.StatusBadRequest},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/daily"+tc.query, nil))
		if w.Code != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.query, tc.want, w.Code)
		}
	}
}

func TestAdminGetCall_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, ledger := newTestHandlers(t)
	e, err := ledger.Open(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := gin.New()
	r.GET("/calls/:id", h.AdminGetCall)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/"+e.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/calls/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealth_ReportsDegradedDB(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	h.DBPing = func(context.Context) error { return errors.New("down") }
	r := gin.New()
	r.GET("/healthz", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
