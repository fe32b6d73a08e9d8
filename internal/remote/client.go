package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.airtable.com/v0"
	MaxPageSize    = 100

	maxResponseBytes = 8 << 20
)

type Config struct {
	BaseURL           string
	BaseID            string
	Table             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Record is a row as the store returns it: physical column names to values.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

type ListParams struct {
	PageSize int
	Offset   string
	Formula  string
}

type ListResult struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// Client talks to one table of the remote store. It owns no business logic.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	endpoint string
	apiKey   string
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &Client{
		http:     &http.Client{Transport: transport, Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
		endpoint: strings.TrimRight(base, "/") + "/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.Table),
		apiKey:   cfg.APIKey,
	}
}

// List returns one page of records. An empty Offset in the result means the
// last page was reached.
func (c *Client) List(ctx context.Context, p ListParams) (*ListResult, error) {
	q := url.Values{}
	if p.PageSize > 0 {
		size := p.PageSize
		if size > MaxPageSize {
			size = MaxPageSize
		}
		q.Set("pageSize", strconv.Itoa(size))
	}
	if p.Offset != "" {
		q.Set("offset", p.Offset)
	}
	if p.Formula != "" {
		q.Set("filterByFormula", p.Formula)
	}

	var out ListResult
	if err := c.do(ctx, http.MethodGet, "", q, nil, &out); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	var out Record
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}
	return &out, nil
}

// Update patches the given columns of one record and returns the full row.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) (*Record, error) {
	var out Record
	body := map[string]any{"fields": fields}
	if err := c.do(ctx, http.MethodPatch, "/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, fmt.Errorf("updating record %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, fields map[string]any) (*Record, error) {
	var out Record
	body := map[string]any{"fields": fields}
	if err := c.do(ctx, http.MethodPost, "", nil, body, &out); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for request slot: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("remote store call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
