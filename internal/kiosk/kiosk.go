// Package kiosk wires the client side of the guest list: the API client,
// the durable retry queue, the loaded window with its search index and the
// mutation coordinator.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/apiclient"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/mutation"
	"github.com/tomochart/guestlist/internal/paginator"
	"github.com/tomochart/guestlist/internal/queue"
	"github.com/tomochart/guestlist/internal/search"
)

var ErrNotLoaded = errors.New("guest is not in the loaded list")

type Config struct {
	BaseURL    string
	Role       auth.Role
	PIN        string
	Timeout    time.Duration
	QueuePath  string
	MaxRetries int
	PageSize   int
	// Notify receives write failures and dropped queue items.
	Notify func(error)
}

type Kiosk struct {
	cfg Config

	API       *apiclient.Client
	Queue     *queue.Queue
	Window    *paginator.Paginator
	Index     *search.Live
	Mutations *mutation.Coordinator

	store  *queue.BoltStore
	online atomic.Bool
	// enqueued wakes the watcher after a write was stored.
	enqueued chan struct{}
}

// Open builds the kiosk, logs in and replays anything left in the queue by
// an earlier run. An unreachable server is not an error: the kiosk starts
// offline and the watcher catches up later.
func Open(ctx context.Context, cfg Config) (*Kiosk, error) {
	if cfg.Notify == nil {
		cfg.Notify = func(err error) { log.WithError(err).Warn("kiosk notification") }
	}

	api, err := apiclient.New(apiclient.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}

	st, err := queue.NewBoltStore(cfg.QueuePath)
	if err != nil {
		return nil, err
	}

	k := &Kiosk{cfg: cfg, API: api, store: st, enqueued: make(chan struct{}, 1)}
	k.Queue = queue.New(st, trackingDoer{k: k, c: api.HTTPClient()}, queue.Options{
		MaxRetries: cfg.MaxRetries,
		Online:     k.Online,
		OnDrop: func(d queue.DeadLetter) {
			cfg.Notify(fmt.Errorf("gave up on %s %s: %s", d.Item.Method, d.Item.URL, d.Reason))
		},
		OnEnqueue: func(queue.Item) {
			select {
			case k.enqueued <- struct{}{}:
			default:
			}
		},
	})
	api.UseSender(k.Queue)

	k.Window = paginator.New(api, cfg.PageSize)
	k.Index = search.NewLive(k.Window)
	k.Mutations = mutation.New(k.Window, api, mutation.Options{Notify: cfg.Notify})

	if err := k.connect(ctx); err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			st.Close()
			return nil, err
		}
		log.WithError(err).Warn("server unreachable, starting offline")
	}
	return k, nil
}

// Online reports whether the last contact with the server succeeded.
func (k *Kiosk) Online() bool {
	return k.online.Load()
}

// connect logs in and drains the queue. Replays need a fresh session, so
// the order matters.
func (k *Kiosk) connect(ctx context.Context) error {
	if _, err := k.API.Login(ctx, k.cfg.Role, k.cfg.PIN); err != nil {
		k.online.Store(false)
		return err
	}
	k.online.Store(true)

	if _, err := k.Queue.Drain(ctx); err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}
	return nil
}

// Load restarts the window on the first page for filter.
func (k *Kiosk) Load(ctx context.Context, filter guest.Filter) (*guest.Page, error) {
	return k.Window.LoadPage(ctx, "", filter)
}

func (k *Kiosk) LoadAll(ctx context.Context, filter guest.Filter) error {
	if _, err := k.Load(ctx, filter); err != nil {
		return err
	}
	return k.Window.LoadAll(ctx)
}

func (k *Kiosk) Search(query string) []guest.Record {
	return k.Index.Search(query)
}

// CheckIn sets the flags in u on a loaded record and waits for the write.
// A queued write is reported through Result.Queued, not as an error.
func (k *Kiosk) CheckIn(ctx context.Context, id string, u guest.CheckInUpdate) (mutation.Result, error) {
	rec, ok := k.Window.Get(id)
	if !ok {
		return mutation.Result{}, fmt.Errorf("%s: %w", id, ErrNotLoaded)
	}
	return await(ctx, k.Mutations.ToggleCheckIn(ctx, rec, u))
}

func (k *Kiosk) Gift(ctx context.Context, id string, value bool) (mutation.Result, error) {
	rec, ok := k.Window.Get(id)
	if !ok {
		return mutation.Result{}, fmt.Errorf("%s: %w", id, ErrNotLoaded)
	}
	return await(ctx, k.Mutations.ToggleGift(ctx, rec, value))
}

// Close waits for in-flight writes and background drains, then closes the
// queue database.
func (k *Kiosk) Close() error {
	k.Mutations.Wait()
	k.Queue.Wait()
	return k.store.Close()
}

// trackingDoer marks the kiosk offline when a replay or write cannot reach
// the server, so a queued write does not kick a drain that is bound to fail.
// Only the watcher marks it online again; it checks the server right after
// every enqueue instead of waiting for its next tick.
type trackingDoer struct {
	k *Kiosk
	c *http.Client
}

func (d trackingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.c.Do(req)
	if err != nil && req.Context().Err() == nil {
		d.k.online.Store(false)
	}
	return resp, err
}

func await(ctx context.Context, ch <-chan mutation.Result) (mutation.Result, error) {
	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		return mutation.Result{}, ctx.Err()
	}
}
