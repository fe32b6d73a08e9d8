package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/remote"
)

// Gateway is the subset of the remote client the store uses.
type Gateway interface {
	alias.Writer
	List(ctx context.Context, p remote.ListParams) (*remote.ListResult, error)
	Get(ctx context.Context, id string) (*remote.Record, error)
}

// RemoteStore keeps guests in the remote table. Column names go through the
// alias set on both reads and writes.
type RemoteStore struct {
	gw       Gateway
	resolver *alias.Resolver
	now      func() time.Time

	// First-page counts per formula, reused for summaryTTL.
	summaryTTL time.Duration
	mu         sync.Mutex
	summaries  map[string]summaryEntry
	generation uint64
	flight     singleflight.Group
}

type summaryEntry struct {
	metrics guest.Metrics
	at      time.Time
}

var _ GuestStore = (*RemoteStore)(nil)

func NewRemoteStore(gw Gateway, set alias.Set) *RemoteStore {
	return &RemoteStore{
		gw:        gw,
		resolver:  alias.NewResolver(set, gw),
		now:       time.Now,
		summaries: make(map[string]summaryEntry),
	}
}

// SetSummaryTTL lets List reuse the counts of a first page for d. Every
// first page reads the whole filtered table otherwise. Writes through this
// store drop the cached counts; edits made directly in the table show up
// once d has passed. Zero disables the cache.
func (s *RemoteStore) SetSummaryTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryTTL = d
	s.summaries = make(map[string]summaryEntry)
	s.generation++
}

// Aliases returns the alias set used for this table.
func (s *RemoteStore) Aliases() alias.Set {
	return s.resolver.Set()
}

func (s *RemoteStore) List(ctx context.Context, q ListQuery) (*guest.Page, error) {
	var res *remote.ListResult
	formula, err := s.resolveFormula(ctx, q.Filter, func(formula string) error {
		r, err := s.gw.List(ctx, remote.ListParams{PageSize: q.Limit, Offset: q.Offset, Formula: formula})
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &guest.Page{
		Records:  make([]guest.Record, 0, len(res.Records)),
		Offset:   res.Offset,
		PageSize: q.Limit,
	}
	for _, r := range res.Records {
		page.Records = append(page.Records, s.toGuest(r))
	}

	if q.Offset == "" {
		m, err := s.summary(ctx, formula)
		if err != nil {
			return nil, err
		}
		page.Metrics = &m
	}
	return page, nil
}

// summary counts every record matching formula, or returns counts taken
// less than summaryTTL ago.
func (s *RemoteStore) summary(ctx context.Context, formula string) (guest.Metrics, error) {
	s.mu.Lock()
	ttl, gen := s.summaryTTL, s.generation
	e, ok := s.summaries[formula]
	s.mu.Unlock()

	if ttl <= 0 {
		all, err := s.all(ctx, formula)
		if err != nil {
			return guest.Metrics{}, err
		}
		return guest.Summarize(all), nil
	}
	if ok && s.now().Sub(e.at) < ttl {
		return e.metrics, nil
	}

	v, err, _ := s.flight.Do(formula, func() (any, error) {
		all, err := s.all(ctx, formula)
		if err != nil {
			return nil, err
		}
		m := guest.Summarize(all)

		s.mu.Lock()
		// A write landed while counting; the counts may predate it.
		if s.generation == gen {
			s.summaries[formula] = summaryEntry{metrics: m, at: s.now()}
		}
		s.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return guest.Metrics{}, err
	}
	return v.(guest.Metrics), nil
}

func (s *RemoteStore) dropSummaries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.summaries) > 0 {
		s.summaries = make(map[string]summaryEntry)
	}
	s.generation++
}

func (s *RemoteStore) Create(ctx context.Context, g guest.NewGuest) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	values := map[alias.Field]any{alias.Guest: g.Guest}
	optional := map[alias.Field]string{
		alias.Company:     g.Company,
		alias.Department:  g.Department,
		alias.Responsible: g.Responsible,
		alias.PlusOne:     g.PlusOne,
	}
	for f, v := range optional {
		if v != "" {
			values[f] = v
		}
	}

	rec, err := s.resolver.Create(ctx, values)
	if err != nil {
		return "", fmt.Errorf("creating guest: %w", err)
	}
	s.dropSummaries()
	log.WithField("record_id", rec.ID).Info("guest created")
	return rec.ID, nil
}

func (s *RemoteStore) SetCheckIn(ctx context.Context, id string, guestIn, plusOneIn bool) (*guest.Record, error) {
	cur, err := s.get(ctx, id)
	if err != nil || cur == nil {
		return nil, err
	}

	next := cur.WithCheckIn(guest.CheckInUpdate{Guest: &guestIn, PlusOne: &plusOneIn}, s.now())
	return s.update(ctx, id, map[alias.Field]any{
		alias.CheckInGuest:   next.GuestCheckIn,
		alias.CheckInPlusOne: next.PlusOneCheckIn,
		alias.CheckInTime:    formatTime(next.CheckInTime),
	})
}

func (s *RemoteStore) SetGift(ctx context.Context, id string, received bool) (*guest.Record, error) {
	cur, err := s.get(ctx, id)
	if err != nil || cur == nil {
		return nil, err
	}

	next := cur.WithGift(received, s.now())
	return s.update(ctx, id, map[alias.Field]any{
		alias.GiftReceived: next.GiftReceived,
		alias.FarewellTime: formatTime(next.FarewellTime),
	})
}

func (s *RemoteStore) Summarize(ctx context.Context, f guest.Filter) (guest.Metrics, error) {
	records, err := s.All(ctx, f)
	if err != nil {
		return guest.Metrics{}, err
	}
	return guest.Summarize(records), nil
}

// All returns every record matching f. Used by seeding and full recounts.
func (s *RemoteStore) All(ctx context.Context, f guest.Filter) ([]guest.Record, error) {
	var records []guest.Record
	_, err := s.resolveFormula(ctx, f, func(formula string) error {
		r, err := s.all(ctx, formula)
		records = r
		return err
	})
	return records, err
}

func (s *RemoteStore) all(ctx context.Context, formula string) ([]guest.Record, error) {
	var out []guest.Record
	offset := ""
	for {
		res, err := s.gw.List(ctx, remote.ListParams{PageSize: remote.MaxPageSize, Offset: offset, Formula: formula})
		if err != nil {
			return nil, err
		}
		for _, r := range res.Records {
			out = append(out, s.toGuest(r))
		}
		if res.Offset == "" {
			return out, nil
		}
		offset = res.Offset
	}
}

func (s *RemoteStore) get(ctx context.Context, id string) (*guest.Record, error) {
	rec, err := s.gw.Get(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g := s.toGuest(*rec)
	return &g, nil
}

func (s *RemoteStore) update(ctx context.Context, id string, values map[alias.Field]any) (*guest.Record, error) {
	rec, err := s.resolver.Update(ctx, id, values)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating guest %s: %w", id, err)
	}
	s.dropSummaries()
	g := s.toGuest(*rec)
	return &g, nil
}

// resolveFormula probes the filter's columns through the alias set and
// returns the formula the store accepted. first runs the real request.
func (s *RemoteStore) resolveFormula(ctx context.Context, f guest.Filter, first func(formula string) error) (string, error) {
	if f.IsZero() {
		return "", first("")
	}

	var accepted string
	err := s.resolver.Probe(ctx, filterFields(f), func(names map[alias.Field]string) error {
		formula := buildFormula(f, names)
		if err := first(formula); err != nil {
			return err
		}
		accepted = formula
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("filtering guests: %w", err)
	}
	return accepted, nil
}

func (s *RemoteStore) toGuest(r remote.Record) guest.Record {
	set := s.resolver.Set()
	f := r.Fields

	g := guest.Record{
		ID:                  r.ID,
		Department:          set.String(f, alias.Department),
		Responsible:         set.String(f, alias.Responsible),
		Company:             set.String(f, alias.Company),
		Guest:               set.String(f, alias.Guest),
		PlusOne:             set.String(f, alias.PlusOne),
		ArrivalConfirmation: guest.ParseConfirmation(set.String(f, alias.ArrivalConfirmation)),
		GuestCheckIn:        set.Bool(f, alias.CheckInGuest),
		PlusOneCheckIn:      set.Bool(f, alias.CheckInPlusOne),
		CheckInTime:         parseTime(set.String(f, alias.CheckInTime)),
		GiftReceived:        set.Bool(f, alias.GiftReceived),
		FarewellTime:        parseTime(set.String(f, alias.FarewellTime)),
	}
	return repair(g, parseTime(r.CreatedTime))
}

// repair restores the timestamp invariants on rows edited by hand in the
// store. A missing stamp falls back to the row's creation time.
func repair(g guest.Record, created *time.Time) guest.Record {
	if g.Validate() == nil {
		return g
	}
	log.WithField("record_id", g.ID).Debug("repairing timestamps of hand-edited row")

	fallback := time.Unix(0, 0).UTC()
	if created != nil {
		fallback = *created
	}
	switch {
	case !g.CheckedIn():
		g.CheckInTime = nil
	case g.CheckInTime == nil:
		t := fallback
		g.CheckInTime = &t
	}
	switch {
	case !g.GiftReceived:
		g.FarewellTime = nil
	case g.FarewellTime == nil:
		t := fallback
		g.FarewellTime = &t
	}
	return g
}

func filterFields(f guest.Filter) []alias.Field {
	var fields []alias.Field
	add := func(a alias.Field) {
		for _, existing := range fields {
			if existing == a {
				return
			}
		}
		fields = append(fields, a)
	}
	if strings.TrimSpace(f.Query) != "" {
		add(alias.Guest)
		add(alias.PlusOne)
		add(alias.Company)
		add(alias.Responsible)
	}
	if strings.TrimSpace(f.Department) != "" {
		add(alias.Department)
	}
	if strings.TrimSpace(f.Responsible) != "" {
		add(alias.Responsible)
	}
	return fields
}

var formulaEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quote(v string) string {
	return "'" + formulaEscaper.Replace(v) + "'"
}

// text coerces any cell (lists included) to lower-cased text.
func text(column string) string {
	return "LOWER(TRIM({" + column + "}&''))"
}

func buildFormula(f guest.Filter, names map[alias.Field]string) string {
	var clauses []string

	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		var anyOf []string
		for _, field := range []alias.Field{alias.Guest, alias.PlusOne, alias.Company, alias.Responsible} {
			anyOf = append(anyOf, "FIND("+quote(q)+", "+text(names[field])+")")
		}
		clauses = append(clauses, "OR("+strings.Join(anyOf, ", ")+")")
	}
	if d := strings.ToLower(strings.TrimSpace(f.Department)); d != "" {
		clauses = append(clauses, text(names[alias.Department])+" = "+quote(d))
	}
	if r := strings.ToLower(strings.TrimSpace(f.Responsible)); r != "" {
		clauses = append(clauses, text(names[alias.Responsible])+" = "+quote(r))
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return "AND(" + strings.Join(clauses, ", ") + ")"
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// formatTime returns an untyped nil for nil so the store clears the cell.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
