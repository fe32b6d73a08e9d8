// Package apiclient is the kiosk's client for the guest list API. Reads and
// guest creation go straight to the server; check-in and gift writes go
// through a Sender so they survive a dropped connection.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/queue"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 8 << 20
)

var (
	ErrUnauthorized = errors.New("session missing or expired")
	ErrNotFound     = errors.New("guest not found")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Sender delivers a replayable request. *queue.Queue satisfies it.
type Sender interface {
	Send(ctx context.Context, r queue.Request) (*queue.Response, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	base   string
	http   *http.Client
	sender Sender
}

// New returns a client with its own cookie jar. The session cookie set by
// Login is sent on every later request, replays included, as long as they
// go through HTTPClient.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Jar: jar, Timeout: timeout},
	}
	c.sender = direct{c}
	return c, nil
}

// HTTPClient is the cookie-carrying client. Hand it to the queue so replays
// authenticate with the current session.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// UseSender routes check-in and gift writes through s.
func (c *Client) UseSender(s Sender) {
	c.sender = s
}

func (c *Client) Login(ctx context.Context, role auth.Role, pin string) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expiresAt"`
	}
	body := map[string]string{"role": string(role), "pin": pin}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		return time.Time{}, fmt.Errorf("logging in as %s: %w", role, err)
	}
	return out.ExpiresAt, nil
}

// Health reports whether the API answers at all.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// FetchPage loads one page of the guest list.
func (c *Client) FetchPage(ctx context.Context, cursor string, filter guest.Filter, limit int) (*guest.Page, error) {
	q := filterQuery(filter)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("offset", cursor)
	}

	var page guest.Page
	if err := c.do(ctx, http.MethodGet, "/guests", q, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching guests: %w", err)
	}
	return &page, nil
}

// CreateGuest adds a guest. It is never queued: a replayed create would add
// the guest twice.
func (c *Client) CreateGuest(ctx context.Context, g guest.NewGuest) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/guests", nil, g, &out); err != nil {
		return "", fmt.Errorf("creating guest: %w", err)
	}
	return out.ID, nil
}

// CheckIn sends the absolute check-in state of a record.
func (c *Client) CheckIn(ctx context.Context, id string, guestIn, plusOneIn bool) (*guest.Record, error) {
	body := map[string]any{"recordId": id, "guest": guestIn, "plusOne": plusOneIn}
	rec, err := c.write(ctx, "/checkin", id, body)
	if err != nil {
		return nil, fmt.Errorf("checking in %s: %w", id, err)
	}
	return rec, nil
}

// Gift sends the absolute gift state of a record.
func (c *Client) Gift(ctx context.Context, id string, value bool) (*guest.Record, error) {
	body := map[string]any{"recordId": id, "value": value}
	rec, err := c.write(ctx, "/gift", id, body)
	if err != nil {
		return nil, fmt.Errorf("updating gift of %s: %w", id, err)
	}
	return rec, nil
}

// Stats asks for an authoritative recount. Needs an admin session.
func (c *Client) Stats(ctx context.Context, filter guest.Filter) (guest.Metrics, error) {
	var m guest.Metrics
	if err := c.do(ctx, http.MethodGet, "/admin/stats", filterQuery(filter), nil, &m); err != nil {
		return guest.Metrics{}, fmt.Errorf("fetching stats: %w", err)
	}
	return m, nil
}

// Aliases returns the server's field alias set. Needs an admin session.
func (c *Client) Aliases(ctx context.Context) (alias.Set, error) {
	var set alias.Set
	if err := c.do(ctx, http.MethodGet, "/admin/aliases", nil, nil, &set); err != nil {
		return nil, fmt.Errorf("fetching aliases: %w", err)
	}
	return set, nil
}

// write posts body to path. Writes for the same path and record share a
// queue key, so they reach the server in the order they were made.
func (c *Client) write(ctx context.Context, path, id string, body any) (*guest.Record, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}

	resp, err := c.sender.Send(ctx, queue.Request{
		Key:    http.MethodPost + " " + path + ":" + id,
		Method: http.MethodPost,
		URL:    c.base + path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   data,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, decodeError(resp.StatusCode, resp.Body)
	}

	var rec guest.Record
	if err := json.Unmarshal(resp.Body, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	log.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func filterQuery(f guest.Filter) url.Values {
	q := url.Values{}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Department != "" {
		q.Set("department", f.Department)
	}
	if f.Responsible != "" {
		q.Set("responsible", f.Responsible)
	}
	return q
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return &StatusError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &StatusError{StatusCode: status, Message: payload.Message}
}

// direct sends writes once with no queueing.
type direct struct {
	c *Client
}

func (d direct) Send(ctx context.Context, r queue.Request) (*queue.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range r.Header {
		req.Header[k] = v
	}

	resp, err := d.c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &queue.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
