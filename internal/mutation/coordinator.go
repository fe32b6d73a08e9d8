// Package mutation applies check-in and gift toggles to the loaded window
// before the server confirms them, then reconciles with the server copy.
//
// Writes to one record go through a lane that runs them in issue order. A
// toggle issued while an earlier one is still in flight is computed from the
// earlier toggle's optimistic result, not from a stale copy.
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/queue"
)

// Window is the loaded record window. *paginator.Paginator satisfies it.
type Window interface {
	Get(id string) (guest.Record, bool)
	Replace(rec guest.Record) bool
	ApplyDelta(id string, d guest.Delta) bool
	Revalidate(ctx context.Context) error
}

// Writer sends absolute desired states to the server. A write that was
// stored for replay returns queue.ErrQueued.
type Writer interface {
	CheckIn(ctx context.Context, id string, guestIn, plusOneIn bool) (*guest.Record, error)
	Gift(ctx context.Context, id string, value bool) (*guest.Record, error)
}

type Options struct {
	// Notify receives failures that had no recovery. The window is
	// revalidated right after.
	Notify func(error)
	Now    func() time.Time
}

// Result is the outcome of one toggle. Record is the server copy on success
// and the optimistic state when the write was queued.
type Result struct {
	Record *guest.Record
	Queued bool
	Err    error
}

type op struct {
	ctx     context.Context
	desired guest.Record
	write   func(ctx context.Context) (*guest.Record, error)
	done    chan Result
}

type lane struct {
	ops    []op
	latest guest.Record
}

type Coordinator struct {
	window Window
	writer Writer
	opts   Options

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

func New(w Window, wr Writer, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notify == nil {
		opts.Notify = func(error) {}
	}
	return &Coordinator{
		window: w,
		writer: wr,
		opts:   opts,
		lanes:  make(map[string]*lane),
	}
}

// ToggleCheckIn sets the check-in flags named in u. The returned channel
// delivers one Result and may be ignored.
func (c *Coordinator) ToggleCheckIn(ctx context.Context, rec guest.Record, u guest.CheckInUpdate) <-chan Result {
	return c.submit(ctx, rec, func(base guest.Record) guest.Record {
		return base.WithCheckIn(u, c.opts.Now())
	}, func(next guest.Record) func(context.Context) (*guest.Record, error) {
		return func(ctx context.Context) (*guest.Record, error) {
			return c.writer.CheckIn(ctx, next.ID, next.GuestCheckIn, next.PlusOneCheckIn)
		}
	})
}

// ToggleGift sets the gift flag. The returned channel delivers one Result
// and may be ignored.
func (c *Coordinator) ToggleGift(ctx context.Context, rec guest.Record, value bool) <-chan Result {
	return c.submit(ctx, rec, func(base guest.Record) guest.Record {
		return base.WithGift(value, c.opts.Now())
	}, func(next guest.Record) func(context.Context) (*guest.Record, error) {
		return func(ctx context.Context) (*guest.Record, error) {
			return c.writer.Gift(ctx, next.ID, next.GiftReceived)
		}
	})
}

// Wait blocks until every lane is empty.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Pending returns the optimistic state of a record with writes in flight.
func (c *Coordinator) Pending(id string) (guest.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[id]
	if !ok {
		return guest.Record{}, false
	}
	return l.latest, true
}

func (c *Coordinator) submit(
	ctx context.Context,
	rec guest.Record,
	derive func(guest.Record) guest.Record,
	writeFor func(guest.Record) func(context.Context) (*guest.Record, error),
) <-chan Result {
	done := make(chan Result, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.baseLocked(rec)
	next := derive(base)

	c.window.Replace(next)
	c.window.ApplyDelta(next.ID, guest.DeltaBetween(base, next))

	o := op{ctx: ctx, desired: next, write: writeFor(next), done: done}
	l, running := c.lanes[next.ID]
	if !running {
		l = &lane{}
		c.lanes[next.ID] = l
	}
	l.ops = append(l.ops, o)
	l.latest = next

	if !running {
		c.wg.Add(1)
		go c.run(next.ID, l)
	}
	return done
}

// baseLocked picks the state a new toggle starts from: the newest pending
// optimistic state, then the window copy, then the caller's copy.
func (c *Coordinator) baseLocked(rec guest.Record) guest.Record {
	if l, ok := c.lanes[rec.ID]; ok {
		return l.latest
	}
	if cur, ok := c.window.Get(rec.ID); ok {
		return cur
	}
	return rec
}

func (c *Coordinator) run(id string, l *lane) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(l.ops) == 0 {
			delete(c.lanes, id)
			c.mu.Unlock()
			return
		}
		o := l.ops[0]
		l.ops = l.ops[1:]
		c.mu.Unlock()

		o.done <- c.apply(id, l, o)
	}
}

func (c *Coordinator) apply(id string, l *lane, o op) Result {
	rec, err := o.write(o.ctx)

	switch {
	case err == nil:
		c.mu.Lock()
		if len(l.ops) == 0 && rec != nil {
			c.window.Replace(*rec)
			l.latest = *rec
		}
		c.mu.Unlock()
		return Result{Record: rec}

	case errors.Is(err, queue.ErrQueued):
		log.WithField("record_id", id).Info("toggle queued until the server is reachable")
		desired := o.desired
		return Result{Record: &desired, Queued: true}

	default:
		log.WithError(err).WithField("record_id", id).Error("toggle failed, revalidating window")
		c.opts.Notify(err)
		if rerr := c.window.Revalidate(context.WithoutCancel(o.ctx)); rerr != nil {
			log.WithError(rerr).Error("revalidating window")
		}
		return Result{Err: err}
	}
}
