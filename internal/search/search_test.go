package search

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomochart/guestlist/internal/guest"
)

func TestNormalize_Golden(t *testing.T) {
	inputs := []string{
		"Ivàn",
		"IVAN",
		"ivan ",
		"Ana Perić",
		"Đorđe Đukić",
		"Łukasz Żółć",
		"Søren  Kierkegaard",
		"Müller-Lüdenscheidt GmbH",
		"Zoë\tO'Brien",
		"Šećerana Čačak d.o.o.",
		"",
	}

	var buf bytes.Buffer
	for _, in := range inputs {
		fmt.Fprintf(&buf, "%q => %q\n", in, Normalize(in))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "normalize", buf.Bytes())
}

func TestSearch_DiacriticAndCaseInsensitive(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "a", Guest: "Ivàn Horvat"},
		{ID: "b", Guest: "IVAN"},
		{ID: "c", Guest: "ivan "},
		{ID: "d", Guest: "Marko Marić"},
	})

	got := idx.Search("Ivan")
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestSearch_ToleratesTypos(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "a", Guest: "Katarina Kovačević"},
		{ID: "b", Guest: "Ana Perić"},
	})

	assert.Equal(t, []string{"a"}, ids(idx.Search("kovacevic")))
	assert.Equal(t, []string{"a"}, ids(idx.Search("kovaceivc")), "two edits are allowed for nine letters")
	assert.Empty(t, idx.Search("kvcvc"))
}

func TestSearch_ShortQueriesMatchExactly(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "a", Guest: "Ana"},
		{ID: "b", Guest: "Ena"},
	})

	assert.Equal(t, []string{"a"}, ids(idx.Search("ana")))
}

func TestSearch_WeightsFields(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "company", Guest: "Petar", Company: "Horvat d.o.o."},
		{ID: "plus-one", Guest: "Petra", PlusOne: "Iva Horvat"},
		{ID: "guest", Guest: "Luka Horvat"},
		{ID: "none", Guest: "Marko"},
	})

	got := idx.Search("horvat")
	assert.Equal(t, []string{"guest", "plus-one", "company"}, ids(got))
}

func TestSearch_ExactBeatsFuzzy(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "fuzzy", Guest: "Marina Jurić"},
		{ID: "exact", Guest: "Marin Jurić"},
	})

	got := idx.Search("marin juric")
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].ID)
}

func TestSearch_EmptyQueryReturnsWindow(t *testing.T) {
	recs := []guest.Record{{ID: "a", Guest: "Ana"}, {ID: "b", Guest: "Bruno"}}
	idx := Build(recs)

	assert.Equal(t, []string{"a", "b"}, ids(idx.Search("   ")))
}

func TestSearch_IsDeterministic(t *testing.T) {
	idx := Build([]guest.Record{
		{ID: "a", Guest: "Ana Perić"},
		{ID: "b", Guest: "Ana Perić"},
		{ID: "c", Guest: "Ana Peric", Company: "Ana d.o.o."},
	})

	first := ids(idx.Search("ana"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ids(idx.Search("ana")))
	}
	assert.Equal(t, []string{"a", "b", "c"}, first)
}

type fakeWindow struct {
	records []guest.Record
	version uint64
	reads   int
}

func (w *fakeWindow) Records() []guest.Record {
	w.reads++
	return w.records
}

func (w *fakeWindow) Version() uint64 { return w.version }

func TestLive_RebuildsOnlyWhenWindowMoves(t *testing.T) {
	w := &fakeWindow{records: []guest.Record{{ID: "a", Guest: "Ana"}}, version: 1}
	l := NewLive(w)

	assert.Len(t, l.Search("ana"), 1)
	assert.Len(t, l.Search("ana"), 1)
	assert.Equal(t, 1, w.reads)

	w.records = append(w.records, guest.Record{ID: "b", Guest: "Ana Marija"})
	w.version++
	assert.Len(t, l.Search("ana"), 2)
	assert.Equal(t, 2, w.reads)
}

func TestSubstringDistance(t *testing.T) {
	tests := []struct {
		pattern, text string
		want          int
	}{
		{"ana", "ana", 0},
		{"ana", "marijana", 0},
		{"ana", "anna", 1},
		{"peric", "ana peric", 0},
		{"perci", "ana peric", 1},
		{"abc", "", 3},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, substringDistance([]rune(tt.pattern), []rune(tt.text)))
		})
	}
}

func ids(recs []guest.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
