package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/queue"
)

var fixedNow = time.Date(2026, 6, 20, 18, 30, 0, 0, time.UTC)

type fakeWindow struct {
	mu           sync.Mutex
	records      map[string]guest.Record
	metrics      guest.Metrics
	revalidated  int
	serverCopies map[string]guest.Record
}

func newFakeWindow(recs ...guest.Record) *fakeWindow {
	w := &fakeWindow{records: make(map[string]guest.Record), serverCopies: make(map[string]guest.Record)}
	for _, r := range recs {
		w.records[r.ID] = r
		w.serverCopies[r.ID] = r
	}
	w.metrics = guest.Summarize(recs)
	return w
}

func (w *fakeWindow) Get(id string) (guest.Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.records[id]
	return r, ok
}

func (w *fakeWindow) Replace(rec guest.Record) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.records[rec.ID]; !ok {
		return false
	}
	w.records[rec.ID] = rec
	return true
}

func (w *fakeWindow) ApplyDelta(id string, d guest.Delta) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.records[id]; !ok {
		return false
	}
	w.metrics = w.metrics.Apply(d)
	return true
}

func (w *fakeWindow) Revalidate(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.revalidated++
	recs := make([]guest.Record, 0, len(w.serverCopies))
	for id, r := range w.serverCopies {
		w.records[id] = r
		recs = append(recs, r)
	}
	w.metrics = guest.Summarize(recs)
	return nil
}

func (w *fakeWindow) snapshot(id string) (guest.Record, guest.Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records[id], w.metrics
}

type call struct {
	kind    string
	id      string
	guest   bool
	plusOne bool
	gift    bool
}

// fakeWriter plays the server. Every write can be held on gate and can be
// failed with err.
type fakeWriter struct {
	mu     sync.Mutex
	calls  []call
	server map[string]guest.Record
	gate   chan struct{}
	err    error
	now    time.Time
}

func newFakeWriter(recs ...guest.Record) *fakeWriter {
	wr := &fakeWriter{server: make(map[string]guest.Record), now: fixedNow.Add(time.Minute)}
	for _, r := range recs {
		wr.server[r.ID] = r
	}
	return wr
}

func (wr *fakeWriter) wait() {
	if wr.gate != nil {
		<-wr.gate
	}
}

func (wr *fakeWriter) CheckIn(_ context.Context, id string, guestIn, plusOneIn bool) (*guest.Record, error) {
	wr.wait()
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.calls = append(wr.calls, call{kind: "checkin", id: id, guest: guestIn, plusOne: plusOneIn})
	if wr.err != nil {
		return nil, wr.err
	}
	rec := wr.server[id].WithCheckIn(guest.CheckInUpdate{Guest: &guestIn, PlusOne: &plusOneIn}, wr.now)
	wr.server[id] = rec
	return &rec, nil
}

func (wr *fakeWriter) Gift(_ context.Context, id string, value bool) (*guest.Record, error) {
	wr.wait()
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.calls = append(wr.calls, call{kind: "gift", id: id, gift: value})
	if wr.err != nil {
		return nil, wr.err
	}
	rec := wr.server[id].WithGift(value, wr.now)
	wr.server[id] = rec
	return &rec, nil
}

func (wr *fakeWriter) recorded() []call {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return append([]call(nil), wr.calls...)
}

func ptr(b bool) *bool { return &b }

func anaRecord() guest.Record {
	return guest.Record{ID: "rec1", Guest: "Ana Perić", ArrivalConfirmation: guest.ConfirmationUnknown}
}

func setupCoordinator(t *testing.T) (*Coordinator, *fakeWindow, *fakeWriter, *[]error) {
	t.Helper()
	rec := anaRecord()
	w := newFakeWindow(rec, guest.Record{ID: "rec2", Guest: "Marko Marić"})
	wr := newFakeWriter(rec, guest.Record{ID: "rec2", Guest: "Marko Marić"})
	var notified []error
	c := New(w, wr, Options{
		Now:    func() time.Time { return fixedNow },
		Notify: func(err error) { notified = append(notified, err) },
	})
	t.Cleanup(c.Wait)
	return c, w, wr, &notified
}

func TestToggleCheckIn_AppliesOptimisticallyThenReconciles(t *testing.T) {
	c, w, wr, _ := setupCoordinator(t)
	wr.gate = make(chan struct{})

	res := c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(true)})

	rec, m := w.snapshot("rec1")
	assert.True(t, rec.GuestCheckIn)
	require.NotNil(t, rec.CheckInTime)
	assert.Equal(t, fixedNow, *rec.CheckInTime)
	assert.Equal(t, 1, m.Arrived)
	require.NoError(t, rec.Validate())

	close(wr.gate)
	r := <-res
	require.NoError(t, r.Err)
	assert.False(t, r.Queued)

	rec, m = w.snapshot("rec1")
	assert.Equal(t, fixedNow.Add(time.Minute), *rec.CheckInTime, "server timestamp wins")
	assert.Equal(t, 1, m.Arrived)
}

func TestToggleCheckIn_AppliesInIssueOrder(t *testing.T) {
	c, w, wr, _ := setupCoordinator(t)
	wr.gate = make(chan struct{})

	first := c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(true)})
	second := c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(false)})

	rec, m := w.snapshot("rec1")
	assert.False(t, rec.GuestCheckIn)
	assert.Nil(t, rec.CheckInTime)
	assert.Equal(t, 0, m.Arrived)

	close(wr.gate)
	require.NoError(t, (<-first).Err)
	require.NoError(t, (<-second).Err)

	calls := wr.recorded()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].guest)
	assert.False(t, calls[1].guest)

	rec, _ = w.snapshot("rec1")
	assert.False(t, rec.GuestCheckIn)
	assert.False(t, wr.server["rec1"].GuestCheckIn)
}

func TestToggleCheckIn_BuildsOnPendingState(t *testing.T) {
	c, w, wr, _ := setupCoordinator(t)
	wr.gate = make(chan struct{})

	c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(true)})
	c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{PlusOne: ptr(true)})

	pending, ok := c.Pending("rec1")
	require.True(t, ok)
	assert.True(t, pending.GuestCheckIn)
	assert.True(t, pending.PlusOneCheckIn)

	close(wr.gate)
	c.Wait()

	calls := wr.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, call{kind: "checkin", id: "rec1", guest: true, plusOne: true}, calls[1])

	_, m := w.snapshot("rec1")
	assert.Equal(t, 2, m.Arrived)
	_, ok = c.Pending("rec1")
	assert.False(t, ok)
}

func TestToggleGift_TrueThenFalse(t *testing.T) {
	c, w, wr, _ := setupCoordinator(t)

	c.ToggleGift(context.Background(), anaRecord(), true)
	c.ToggleGift(context.Background(), anaRecord(), false)
	c.Wait()

	rec, m := w.snapshot("rec1")
	assert.False(t, rec.GiftReceived)
	assert.Nil(t, rec.FarewellTime)
	assert.Equal(t, 0, m.GiftsGiven)

	server := wr.server["rec1"]
	assert.False(t, server.GiftReceived)
	assert.Nil(t, server.FarewellTime)
}

func TestToggle_QueuedKeepsOptimisticState(t *testing.T) {
	c, w, wr, notified := setupCoordinator(t)
	wr.err = fmt.Errorf("sending check-in: %w", queue.ErrQueued)

	r := <-c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(true)})
	require.NoError(t, r.Err)
	assert.True(t, r.Queued)
	require.NotNil(t, r.Record)
	assert.True(t, r.Record.GuestCheckIn)

	rec, m := w.snapshot("rec1")
	assert.True(t, rec.GuestCheckIn)
	assert.NotNil(t, rec.CheckInTime)
	assert.Equal(t, 1, m.Arrived)
	assert.Empty(t, *notified)
	assert.Zero(t, w.revalidated)
}

func TestToggle_FailureNotifiesAndRevalidates(t *testing.T) {
	c, w, wr, notified := setupCoordinator(t)
	wr.err = errors.New("server returned 502")

	r := <-c.ToggleGift(context.Background(), anaRecord(), true)
	require.Error(t, r.Err)

	require.Len(t, *notified, 1)
	assert.Equal(t, 1, w.revalidated)

	rec, m := w.snapshot("rec1")
	assert.False(t, rec.GiftReceived)
	assert.Nil(t, rec.FarewellTime)
	assert.Equal(t, 0, m.GiftsGiven)
}

func TestToggle_IndependentRecordsDoNotBlock(t *testing.T) {
	c, w, wr, _ := setupCoordinator(t)

	c.ToggleCheckIn(context.Background(), anaRecord(), guest.CheckInUpdate{Guest: ptr(true)})
	c.ToggleGift(context.Background(), guest.Record{ID: "rec2"}, true)
	c.Wait()

	assert.Len(t, wr.recorded(), 2)
	rec, m := w.snapshot("rec2")
	assert.True(t, rec.GiftReceived)
	assert.Equal(t, "Marko Marić", rec.Guest, "window copy is the base, not the caller's partial copy")
	assert.Equal(t, guest.Metrics{Arrived: 1, GiftsGiven: 1, TotalInvited: 2}, m)
}

func TestToggle_InvariantsHoldOnEveryPath(t *testing.T) {
	c, w, _, _ := setupCoordinator(t)

	updates := []guest.CheckInUpdate{
		{Guest: ptr(true)},
		{PlusOne: ptr(true)},
		{Guest: ptr(false)},
		{PlusOne: ptr(false)},
	}
	for _, u := range updates {
		c.ToggleCheckIn(context.Background(), anaRecord(), u)
		rec, _ := w.snapshot("rec1")
		require.NoError(t, rec.Validate())
	}
	c.Wait()
	rec, _ := w.snapshot("rec1")
	require.NoError(t, rec.Validate())
	assert.False(t, rec.CheckedIn())
}
