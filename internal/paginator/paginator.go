// Package paginator keeps the window of guest records the kiosk has loaded:
// cursor-linked pages, the metrics snapshot of the first page, and a fetch
// generation that discards results of superseded requests.
package paginator

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/guest"
)

// ErrStale is returned when the window was restarted while a fetch was in
// flight. The fetched page is discarded.
var ErrStale = errors.New("page fetch superseded")

const DefaultPageSize = 50

// Fetcher loads one page. An empty cursor asks for the first page.
type Fetcher interface {
	FetchPage(ctx context.Context, cursor string, filter guest.Filter, limit int) (*guest.Page, error)
}

type Paginator struct {
	fetcher  Fetcher
	pageSize int

	mu        sync.Mutex
	filter    guest.Filter
	records   []guest.Record
	index     map[string]int
	metrics   *guest.Metrics
	cursor    string
	loaded    bool
	exhausted bool
	gen       uint64
	version   uint64
}

func New(fetcher Fetcher, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		fetcher:  fetcher,
		pageSize: pageSize,
		index:    make(map[string]int),
	}
}

// LoadPage fetches the page at cursor for filter and merges it into the
// window. An empty cursor or a filter different from the current one
// restarts the window from the first page.
func (p *Paginator) LoadPage(ctx context.Context, cursor string, filter guest.Filter) (*guest.Page, error) {
	p.mu.Lock()
	if filter != p.filter {
		p.filter = filter
		cursor = ""
	}
	if cursor == "" {
		p.restartLocked()
	}
	gen := p.gen
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, cursor, filter, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		log.WithFields(log.Fields{"cursor": cursor, "generation": gen}).Debug("discarding superseded page")
		return nil, ErrStale
	}
	if err != nil {
		return nil, err
	}

	for _, rec := range page.Records {
		if i, ok := p.index[rec.ID]; ok {
			p.records[i] = rec
			continue
		}
		p.index[rec.ID] = len(p.records)
		p.records = append(p.records, rec)
	}
	if cursor == "" && page.Metrics != nil {
		m := *page.Metrics
		p.metrics = &m
	}
	p.cursor = page.Offset
	p.exhausted = page.Offset == ""
	p.loaded = true
	p.version++
	return page, nil
}

// Next loads the page after the last one fetched. It returns nil once the
// window holds the last page.
func (p *Paginator) Next(ctx context.Context) (*guest.Page, error) {
	p.mu.Lock()
	loaded, exhausted, cursor, filter := p.loaded, p.exhausted, p.cursor, p.filter
	p.mu.Unlock()

	if loaded && exhausted {
		return nil, nil
	}
	return p.LoadPage(ctx, cursor, filter)
}

// LoadAll follows cursors until the last page.
func (p *Paginator) LoadAll(ctx context.Context) error {
	for p.HasMore() {
		if _, err := p.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Revalidate drops every page and the metrics and reloads the first page.
func (p *Paginator) Revalidate(ctx context.Context) error {
	_, err := p.LoadPage(ctx, "", p.Filter())
	return err
}

// SetFilter restarts the window if f differs from the current filter. The
// next page load fetches from the first page.
func (p *Paginator) SetFilter(f guest.Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f == p.filter {
		return
	}
	p.filter = f
	p.restartLocked()
}

func (p *Paginator) Filter() guest.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// HasMore reports whether another page can be fetched.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.loaded || !p.exhausted
}

// Records returns a copy of the window in load order.
func (p *Paginator) Records() []guest.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]guest.Record, len(p.records))
	copy(out, p.records)
	return out
}

func (p *Paginator) Get(id string) (guest.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[id]
	if !ok {
		return guest.Record{}, false
	}
	return p.records[i], true
}

// Replace swaps the record with the same id in place. Records outside the
// window are ignored.
func (p *Paginator) Replace(rec guest.Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[rec.ID]
	if !ok {
		return false
	}
	p.records[i] = rec
	p.version++
	return true
}

// ApplyDelta adjusts the first page's metrics for a change to record id.
func (p *Paginator) ApplyDelta(id string, d guest.Delta) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[id]; !ok || p.metrics == nil || d.IsZero() {
		return false
	}
	m := p.metrics.Apply(d)
	p.metrics = &m
	return true
}

// Metrics returns the current snapshot, if the first page carried one.
func (p *Paginator) Metrics() (guest.Metrics, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metrics == nil {
		return guest.Metrics{}, false
	}
	return *p.metrics, true
}

// Version changes whenever the set or content of window records changes.
func (p *Paginator) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

func (p *Paginator) restartLocked() {
	p.gen++
	p.version++
	p.records = nil
	p.index = make(map[string]int)
	p.metrics = nil
	p.cursor = ""
	p.loaded = false
	p.exhausted = false
}
