// Package servertest runs the full API against the in-memory remote store
// and can simulate the network going away.
package servertest

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/remote/remotetest"
	"github.com/tomochart/guestlist/internal/server"
	"github.com/tomochart/guestlist/internal/store"
)

const (
	KioskPIN = "1234"
	AdminPIN = "4321"
)

// Columns are the physical names the fake table uses by default: the first
// alias of every field.
func Columns() []string {
	set := alias.DefaultSet()
	cols := make([]string, 0, len(alias.AllFields))
	for _, f := range alias.AllFields {
		cols = append(cols, set[f][0])
	}
	return cols
}

type Env struct {
	*httptest.Server
	Remote *remotetest.Server

	offline atomic.Bool
}

// New starts the API. With no columns the table has every default column.
func New(t testing.TB, columns ...string) *Env {
	t.Helper()
	if len(columns) == 0 {
		columns = Columns()
	}

	e := &Env{Remote: remotetest.New(t, columns...)}

	a, err := auth.New(auth.Config{AdminPIN: AdminPIN, KioskPIN: KioskPIN, Secret: "servertest-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}
	r, err := server.NewRouter(store.NewRemoteStore(e.Remote.Client(), alias.DefaultSet()), a, server.Options{
		PageSize:            50,
		RateLimitRPS:        1000,
		RateLimitBurst:      1000,
		LoginRateLimitRPS:   1000,
		LoginRateLimitBurst: 1000,
	})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}

	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if e.offline.Load() {
			drop(w)
			return
		}
		r.ServeHTTP(w, req)
	}))
	t.Cleanup(e.Close)
	return e
}

// SetOffline makes every request fail at the transport level.
func (e *Env) SetOffline(off bool) {
	e.offline.Store(off)
}

func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
