// Package remotetest runs an in-memory stand-in for the remote tabular store.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tomochart/guestlist/internal/remote"
)

const (
	BaseID = "appTest"
	Table  = "Guests"
	APIKey = "test-key"
)

// Call is one request the fake received.
type Call struct {
	Method  string
	ID      string
	Formula string
	Fields  map[string]any
}

type failure struct {
	status int
	body   string
}

// Server keeps records in insertion order and only accepts the column
// names it was created with.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	columns  map[string]bool
	records  []remote.Record
	calls    []Call
	failures []failure
}

var formulaFieldRe = regexp.MustCompile(`\{([^}]+)\}`)

func New(t testing.TB, columns ...string) *Server {
	t.Helper()
	s := &Server{columns: make(map[string]bool, len(columns))}
	for _, c := range columns {
		s.columns[c] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Client returns a gateway pointed at the fake.
func (s *Server) Client() *remote.Client {
	return remote.NewClient(remote.Config{
		BaseURL: s.URL,
		BaseID:  BaseID,
		Table:   Table,
		APIKey:  APIKey,
	})
}

// Seed inserts a record directly and returns its id.
func (s *Server) Seed(fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := remote.Record{ID: newID(), Fields: map[string]any{}}
	merge(rec.Fields, fields)
	s.records = append(s.records, rec)
	return rec.ID
}

func (s *Server) Record(id string) (remote.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.records[i], true
	}
	return remote.Record{}, false
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Calls returns the recorded requests with the given method, or all of them
// when method is empty.
func (s *Server) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// FailNext makes the next request answer with status and a raw body.
func (s *Server) FailNext(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, body: body})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+APIKey {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing or bad token")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != BaseID || parts[1] != Table {
		writeError(w, http.StatusNotFound, "TABLE_NOT_FOUND", "")
		return
	}
	var id string
	if len(parts) == 3 {
		id = parts[2]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Method: r.Method, ID: id, Formula: r.URL.Query().Get("filterByFormula")}
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPatch) {
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.calls = append(s.calls, call)
			writeError(w, http.StatusUnprocessableEntity, "INVALID_REQUEST_BODY", err.Error())
			return
		}
		call.Fields = body.Fields
	}
	s.calls = append(s.calls, call)

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		s.list(w, r, call.Formula)
	case r.Method == http.MethodGet:
		s.get(w, id)
	case r.Method == http.MethodPost && id == "":
		s.create(w, call.Fields)
	case r.Method == http.MethodPatch && id != "":
		s.update(w, id, call.Fields)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "")
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, formula string) {
	if formula != "" {
		var unknown []string
		for _, m := range formulaFieldRe.FindAllStringSubmatch(formula, -1) {
			if !s.columns[m[1]] {
				unknown = append(unknown, m[1])
			}
		}
		if len(unknown) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_FILTER_BY_FORMULA",
				"The formula for filtering records is invalid: Unknown field names: "+strings.Join(unknown, ", "))
			return
		}
	}

	matched := s.records
	if formula != "" {
		matched = nil
		for _, rec := range s.records {
			if match(formula, rec.Fields) {
				matched = append(matched, rec)
			}
		}
	}

	size := remote.MaxPageSize
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < size {
			size = n
		}
	}
	start := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(v, "itr"))
		if err != nil || n < 0 || n > len(matched) {
			writeError(w, http.StatusUnprocessableEntity, "LIST_RECORDS_ITERATOR_NOT_AVAILABLE", "")
			return
		}
		start = n
	}
	end := min(start+size, len(matched))

	out := remote.ListResult{Records: append([]remote.Record{}, matched[start:end]...)}
	if end < len(matched) {
		out.Offset = fmt.Sprintf("itr%d", end)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) get(w http.ResponseWriter, id string) {
	i := s.indexOf(id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, s.records[i])
}

func (s *Server) create(w http.ResponseWriter, fields map[string]any) {
	if name, ok := s.firstUnknown(fields); ok {
		writeError(w, http.StatusUnprocessableEntity, "UNKNOWN_FIELD_NAME", fmt.Sprintf("Unknown field name: %q", name))
		return
	}
	rec := remote.Record{ID: newID(), Fields: map[string]any{}}
	merge(rec.Fields, fields)
	s.records = append(s.records, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) update(w http.ResponseWriter, id string, fields map[string]any) {
	i := s.indexOf(id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		return
	}
	if name, ok := s.firstUnknown(fields); ok {
		writeError(w, http.StatusUnprocessableEntity, "UNKNOWN_FIELD_NAME", fmt.Sprintf("Unknown field name: %q", name))
		return
	}
	merge(s.records[i].Fields, fields)
	writeJSON(w, http.StatusOK, s.records[i])
}

func (s *Server) firstUnknown(fields map[string]any) (string, bool) {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		if !s.columns[n] {
			return n, true
		}
	}
	return "", false
}

func (s *Server) indexOf(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// merge drops empty values the way the real store omits empty cells.
func merge(dst, src map[string]any) {
	for k, v := range src {
		switch v {
		case nil, false, "":
			delete(dst, k)
		default:
			dst[k] = v
		}
	}
}

func newID() string {
	return "rec" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"type": typ, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
