package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/remote/remotetest"
	"github.com/tomochart/guestlist/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	srv := remotetest.New(t, "Guest", "Department", "Check-in guest", "Check-in plus one", "Check-in time")
	srv.Seed(map[string]any{"Guest": "Ana Perić"})

	a, err := auth.New(auth.Config{AdminPIN: "4321", KioskPIN: "1234", Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}
	r, err := NewRouter(store.NewRemoteStore(srv.Client(), alias.DefaultSet()), a, opts)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return r
}

func generous() Options {
	return Options{PageSize: 10, RateLimitRPS: 100, RateLimitBurst: 100, LoginRateLimitRPS: 100, LoginRateLimitBurst: 100}
}

func login(t *testing.T, r http.Handler, role, pin string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"role": role, "pin": pin})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestRouter_SessionCheckedBeforeBody(t *testing.T) {
	r := setupRouter(t, generous())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkin", bytes.NewReader([]byte(`{"recordId":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}

	cookie := login(t, r, "kiosk", "1234")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/checkin", bytes.NewReader([]byte(`{"recordId":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete body, got %d", w.Code)
	}
}

func TestRouter_KioskSessionListsGuests(t *testing.T) {
	r := setupRouter(t, generous())
	cookie := login(t, r, "kiosk", "1234")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guests?limit=5", nil)
	req.AddCookie(cookie)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_AdminRoutesNeedAdmin(t *testing.T) {
	r := setupRouter(t, generous())

	kiosk := login(t, r, "kiosk", "1234")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.AddCookie(kiosk)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for kiosk, got %d", w.Code)
	}

	adminCookie := login(t, r, "admin", "4321")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.AddCookie(adminCookie)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	opts := generous()
	opts.LoginRateLimitRPS = 0.001
	opts.LoginRateLimitBurst = 2
	r := setupRouter(t, opts)

	var last int
	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]string{"role": "kiosk", "pin": "0000"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}
