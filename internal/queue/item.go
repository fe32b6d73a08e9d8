package queue

import (
	"net/http"
	"time"
)

// Item is a write that could not reach the server and waits for a replay.
type Item struct {
	ID         string      `json:"id"`
	Key        string      `json:"key,omitempty"`
	URL        string      `json:"url"`
	Method     string      `json:"method"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	Retries    int         `json:"retries"`
}

// DeadLetter is an item the queue gave up on.
type DeadLetter struct {
	Item       Item      `json:"item"`
	Reason     string    `json:"reason"`
	LastStatus int       `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	DroppedAt  time.Time `json:"droppedAt"`
}

// Settlement is the outcome of one drain, applied to the store at once so
// items enqueued while draining are left alone.
type Settlement struct {
	Delivered []string
	Retried   map[string]int
	Dead      []DeadLetter
}

// Request is a replayable HTTP request. The body is the full serialized
// payload, never a stream. Requests sharing a Key write the same target and
// are delivered in the order they were sent.
type Request struct {
	Key    string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func (it Item) request() Request {
	return Request{Key: it.Key, Method: it.Method, URL: it.URL, Header: it.Header, Body: it.Body}
}
