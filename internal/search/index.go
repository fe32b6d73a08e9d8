// Package search ranks the loaded guest window against a free-text query.
// Matching ignores case and diacritics and tolerates a few typos anywhere
// inside a field.
package search

import (
	"sort"

	"github.com/tomochart/guestlist/internal/guest"
)

// Field weights. A hit on the guest name outranks a hit on the company.
const (
	weightGuest       = 1.0
	weightPlusOne     = 0.7
	weightResponsible = 0.7
	weightCompany     = 0.4
)

type entry struct {
	record      guest.Record
	guest       []rune
	plusOne     []rune
	responsible []rune
	company     []rune
}

// Index is an immutable snapshot of normalized fields.
type Index struct {
	entries []entry
}

// Build normalizes every record once.
func Build(records []guest.Record) *Index {
	idx := &Index{entries: make([]entry, len(records))}
	for i, r := range records {
		idx.entries[i] = entry{
			record:      r,
			guest:       []rune(Normalize(r.Guest)),
			plusOne:     []rune(Normalize(r.PlusOne)),
			responsible: []rune(Normalize(r.Responsible)),
			company:     []rune(Normalize(r.Company)),
		}
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.entries)
}

type hit struct {
	pos   int
	score float64
}

// Search returns matching records, best first. Records with equal scores
// keep their window order. An empty query returns the whole window.
func (idx *Index) Search(query string) []guest.Record {
	q := []rune(Normalize(query))
	if len(q) == 0 {
		out := make([]guest.Record, len(idx.entries))
		for i, e := range idx.entries {
			out[i] = e.record
		}
		return out
	}

	maxDist := len(q) / 4
	var hits []hit
	for i, e := range idx.entries {
		best := 0.0
		for _, f := range []struct {
			text   []rune
			weight float64
		}{
			{e.guest, weightGuest},
			{e.plusOne, weightPlusOne},
			{e.responsible, weightResponsible},
			{e.company, weightCompany},
		} {
			if len(f.text) == 0 {
				continue
			}
			d := substringDistance(q, f.text)
			if d > maxDist {
				continue
			}
			if s := f.weight * (1 - float64(d)/float64(len(q))); s > best {
				best = s
			}
		}
		if best > 0 {
			hits = append(hits, hit{pos: i, score: best})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	out := make([]guest.Record, len(hits))
	for i, h := range hits {
		out[i] = idx.entries[h.pos].record
	}
	return out
}

// substringDistance is the smallest edit distance between pattern and any
// substring of text. The first row is all zeros so a match may start
// anywhere, and the minimum of the last row lets it end anywhere.
func substringDistance(pattern, text []rune) int {
	prev := make([]int, len(text)+1)
	cur := make([]int, len(text)+1)

	for i := 1; i <= len(pattern); i++ {
		cur[0] = i
		for j := 1; j <= len(text); j++ {
			cost := 1
			if pattern[i-1] == text[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}

	best := prev[0]
	for _, d := range prev[1:] {
		best = min(best, d)
	}
	return best
}
