package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrQueued is returned by Send when the request could not reach the server
// and was stored for a later replay. Callers treat it as a soft success.
var ErrQueued = errors.New("request queued for retry")

const (
	DefaultMaxRetries = 5

	maxResponseBytes = 4 << 20
)

// State is the drain state machine: Idle or Draining.
type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	MaxRetries int
	// Online reports whether the client believes it has connectivity. When
	// true, a drain is started right after an enqueue.
	Online func() bool
	// OnDrop is called for every item the queue gives up on.
	OnDrop func(DeadLetter)
	// OnEnqueue is called after an item was stored.
	OnEnqueue func(Item)
	Now       func() time.Time
}

type DrainReport struct {
	Skipped   bool
	Delivered int
	Retried   int
	Dropped   int
}

// Queue sends writes and keeps the ones that hit a network failure.
type Queue struct {
	store Store
	doer  Doer
	opts  Options
	state atomic.Int32
	wg    sync.WaitGroup
}

func New(store Store, doer Doer, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{store: store, doer: doer, opts: opts}
}

func (q *Queue) State() State {
	return State(q.state.Load())
}

// Send tries the request once. A transport failure or timeout stores the
// request and returns ErrQueued; error responses from the server are
// returned as responses. Cancellation by the caller is not queued.
//
// A request whose Key matches a stored item is not tried at all: it is
// stored behind that item so a replay cannot overwrite it.
func (q *Queue) Send(ctx context.Context, r Request) (*Response, error) {
	if r.Key != "" {
		pending, err := q.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading queue: %w", err)
		}
		if waiting(pending, r.Key) {
			return nil, q.enqueue(ctx, r, errBehindQueued)
		}
	}

	req, err := build(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := q.exchange(req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, err
	}
	return nil, q.enqueue(ctx, r, err)
}

var errBehindQueued = errors.New("an earlier write to the same target is queued")

// enqueue stores r and returns ErrQueued, or the store error.
func (q *Queue) enqueue(ctx context.Context, r Request, cause error) error {
	it := Item{
		ID:         uuid.NewString(),
		Key:        r.Key,
		URL:        r.URL,
		Method:     r.Method,
		Header:     r.Header,
		Body:       r.Body,
		EnqueuedAt: q.opts.Now().UTC(),
	}
	if err := q.store.Append(context.WithoutCancel(ctx), it); err != nil {
		return fmt.Errorf("queueing failed request (%v): %w", cause, err)
	}

	log.WithError(cause).WithFields(log.Fields{
		"item_id": it.ID,
		"key":     it.Key,
		"method":  it.Method,
		"url":     it.URL,
	}).Warn("request queued for retry")

	if q.opts.OnEnqueue != nil {
		q.opts.OnEnqueue(it)
	}
	if q.opts.Online != nil && q.opts.Online() {
		q.Kick()
	}
	return ErrQueued
}

func waiting(items []Item, key string) bool {
	for _, it := range items {
		if it.Key == key {
			return true
		}
	}
	return false
}

// Kick starts a drain in the background.
func (q *Queue) Kick() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Drain(context.Background()); err != nil {
			log.WithError(err).Error("background drain failed")
		}
	}()
}

// Wait blocks until background drains started by Kick have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Drain replays every stored item once. Only one drain runs at a time; a
// concurrent call returns a skipped report. Replays are safe to repeat
// because each body carries an absolute state.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	if !q.state.CompareAndSwap(int32(Idle), int32(Draining)) {
		return DrainReport{Skipped: true}, nil
	}
	defer q.state.Store(int32(Idle))

	items, err := q.store.Load(ctx)
	if err != nil {
		return DrainReport{}, fmt.Errorf("loading queue: %w", err)
	}
	if len(items) == 0 {
		return DrainReport{}, nil
	}

	var report DrainReport
	settle := Settlement{Retried: make(map[string]int)}
	// Keys with an undelivered item: later items for them wait a turn.
	blocked := make(map[string]bool)

	for _, it := range items {
		if it.Key != "" && blocked[it.Key] {
			continue
		}
		req, err := build(ctx, it.request())
		if err != nil {
			settle.Dead = append(settle.Dead, q.deadLetter(it, "unbuildable request", 0, err))
			continue
		}

		resp, err := q.exchange(req)
		if err != nil && ctx.Err() != nil {
			break
		}

		switch {
		case err == nil && resp.OK():
			settle.Delivered = append(settle.Delivered, it.ID)
		case err == nil && permanent(resp.StatusCode):
			settle.Dead = append(settle.Dead, q.deadLetter(it, "rejected by server", resp.StatusCode, nil))
		default:
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			retries := it.Retries + 1
			if retries >= q.opts.MaxRetries {
				it.Retries = retries
				settle.Dead = append(settle.Dead, q.deadLetter(it, "retries exhausted", status, err))
				continue
			}
			settle.Retried[it.ID] = retries
			if it.Key != "" {
				blocked[it.Key] = true
			}
		}
	}

	if err := q.store.Settle(context.WithoutCancel(ctx), settle); err != nil {
		return DrainReport{}, fmt.Errorf("settling queue: %w", err)
	}

	report.Delivered = len(settle.Delivered)
	report.Retried = len(settle.Retried)
	report.Dropped = len(settle.Dead)

	for _, d := range settle.Dead {
		log.WithFields(log.Fields{
			"item_id":     d.Item.ID,
			"url":         d.Item.URL,
			"retries":     d.Item.Retries,
			"last_status": d.LastStatus,
			"reason":      d.Reason,
		}).Warn("dropping queued request")
		if q.opts.OnDrop != nil {
			q.opts.OnDrop(d)
		}
	}

	log.WithFields(log.Fields{
		"delivered": report.Delivered,
		"retried":   report.Retried,
		"dropped":   report.Dropped,
	}).Info("queue drained")
	return report, nil
}

// Pending lists items still waiting for delivery.
func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	return q.store.Load(ctx)
}

// Dead lists items the queue gave up on.
func (q *Queue) Dead(ctx context.Context) ([]DeadLetter, error) {
	return q.store.Dead(ctx)
}

func (q *Queue) deadLetter(it Item, reason string, status int, err error) DeadLetter {
	d := DeadLetter{Item: it, Reason: reason, LastStatus: status, DroppedAt: q.opts.Now().UTC()}
	if err != nil {
		d.LastError = err.Error()
	}
	return d
}

func (q *Queue) exchange(req *http.Request) (*Response, error) {
	resp, err := q.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func build(ctx context.Context, r Request) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", r.Method, r.URL, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// permanent reports client errors that a replay cannot fix. Auth, timeout
// and throttling answers are retried.
func permanent(status int) bool {
	if status < 400 || status > 499 {
		return false
	}
	switch status {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return true
}
