package search

import (
	"sync"

	"github.com/tomochart/guestlist/internal/guest"
)

// Window is the part of the paginator the live index reads.
type Window interface {
	Records() []guest.Record
	Version() uint64
}

// Live keeps an Index in step with a changing window. The index is rebuilt
// on the first search after the window moved.
type Live struct {
	window Window

	mu      sync.Mutex
	idx     *Index
	version uint64
}

func NewLive(w Window) *Live {
	return &Live{window: w}
}

func (l *Live) Search(query string) []guest.Record {
	return l.Index().Search(query)
}

// Index returns the snapshot for the current window version.
func (l *Live) Index() *Index {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.window.Version()
	if l.idx == nil || v != l.version {
		l.idx = Build(l.window.Records())
		l.version = v
	}
	return l.idx
}
