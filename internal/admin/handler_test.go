package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/remote/remotetest"
	"github.com/tomochart/guestlist/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupAdminRouter(t *testing.T) (*gin.Engine, *remotetest.Server) {
	t.Helper()

	srv := remotetest.New(t,
		"Guest", "Plus one", "Company", "Dept", "Responsible",
		"Check-in guest", "Check-in plus one", "Check-in time",
		"Gift received", "Farewell time",
	)
	srv.Seed(map[string]any{"Guest": "Ana Perić", "Dept": "Sales", "Check-in guest": true, "Check-in plus one": true, "Check-in time": "2026-06-20T18:00:00Z"})
	srv.Seed(map[string]any{"Guest": "Marko Marić", "Dept": "Legal", "Gift received": true, "Farewell time": "2026-06-20T23:00:00Z"})
	srv.Seed(map[string]any{"Guest": "Lea Horvat", "Dept": "Sales"})

	h := NewHandler(store.NewRemoteStore(srv.Client(), alias.DefaultSet()))
	r := gin.New()
	RegisterHandlers(r, h)
	return r, srv
}

func TestHandler_GetAdminStats_All(t *testing.T) {
	r, _ := setupAdminRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var m guest.Metrics
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := guest.Metrics{Arrived: 2, GiftsGiven: 1, TotalInvited: 3}
	if m != want {
		t.Fatalf("expected %+v, got %+v", want, m)
	}
}

func TestHandler_GetAdminStats_FilteredThroughAlias(t *testing.T) {
	r, _ := setupAdminRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats?department=Sales", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var m guest.Metrics
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := guest.Metrics{Arrived: 2, TotalInvited: 2}
	if m != want {
		t.Fatalf("expected %+v, got %+v", want, m)
	}
}

func TestHandler_GetAdminStats_RemoteDown(t *testing.T) {
	r, srv := setupAdminRouter(t)
	srv.FailNext(http.StatusInternalServerError, `{"error":{"type":"SERVER_ERROR","message":"boom"}}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetAdminAliases(t *testing.T) {
	r, _ := setupAdminRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/aliases", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var set map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&set); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got := set[string(alias.Department)]; len(got) < 2 || got[0] != "Department" {
		t.Fatalf("unexpected department aliases: %v", got)
	}
}

func TestHandler_GuardRunsFirst(t *testing.T) {
	srv := remotetest.New(t, "Guest")
	h := NewHandler(store.NewRemoteStore(srv.Client(), alias.DefaultSet()))
	r := gin.New()
	RegisterHandlers(r, h, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, Error{Message: "no"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(srv.Calls("")) != 0 {
		t.Fatal("guarded route must not reach the remote store")
	}
}
