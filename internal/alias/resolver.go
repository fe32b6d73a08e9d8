package alias

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/remote"
)

// ErrSchemaMismatch means every alias combination was rejected by the
// store. Operators cannot fix this; the deployment's alias set is wrong.
var ErrSchemaMismatch = errors.New("no alias combination accepted by the remote store")

const maxCombinations = 256

// Writer is the part of the remote gateway the resolver drives.
type Writer interface {
	Update(ctx context.Context, id string, fields map[string]any) (*remote.Record, error)
	Create(ctx context.Context, fields map[string]any) (*remote.Record, error)
}

// Resolver writes logical fields to a table whose column labels drift.
type Resolver struct {
	set    Set
	writer Writer
	order  map[Field]int
}

func NewResolver(set Set, w Writer) *Resolver {
	order := make(map[Field]int, len(AllFields))
	for i, f := range AllFields {
		order[f] = i
	}
	return &Resolver{set: set, writer: w, order: order}
}

// Set returns the alias set the resolver probes with.
func (r *Resolver) Set() Set {
	return r.set
}

// Update patches record id, probing aliases until the store accepts them.
func (r *Resolver) Update(ctx context.Context, id string, values map[Field]any) (*remote.Record, error) {
	var out *remote.Record
	err := r.Probe(ctx, r.fieldsOf(values), func(names map[Field]string) error {
		rec, err := r.writer.Update(ctx, id, physical(values, names))
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a record. A rejected create stores nothing, so probing
// cannot leave duplicates behind.
func (r *Resolver) Create(ctx context.Context, values map[Field]any) (*remote.Record, error) {
	var out *remote.Record
	err := r.Probe(ctx, r.fieldsOf(values), func(names map[Field]string) error {
		rec, err := r.writer.Create(ctx, physical(values, names))
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Probe calls attempt with one physical name per field, walking the alias
// combinations in order: the first field varies slowest, and each field
// tries its aliases in configured order. Unknown-field errors advance to the
// next combination and rule out the rejected names; any other error stops
// the probe.
func (r *Resolver) Probe(ctx context.Context, fields []Field, attempt func(names map[Field]string) error) error {
	candidates := make([][]string, len(fields))
	for i, f := range fields {
		candidates[i] = r.set[f]
		if len(candidates[i]) == 0 {
			return fmt.Errorf("%w: %s has no aliases", ErrIncompleteSet, f)
		}
	}

	rejected := make(map[Field]map[string]bool)
	idx := make([]int, len(fields))
	var lastErr error
	attempts := 0

	for first := true; ; first = false {
		if !first && !advance(idx, candidates) {
			break
		}
		if ruledOut(fields, candidates, idx, rejected) {
			continue
		}
		if attempts == maxCombinations {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++

		names := make(map[Field]string, len(fields))
		for i, f := range fields {
			names[f] = candidates[i][idx[i]]
		}

		err := attempt(names)
		if err == nil {
			if attempts > 1 {
				log.WithFields(log.Fields{"attempts": attempts, "aliases": names}).Info("alias fallback accepted")
			}
			return nil
		}
		if !errors.Is(err, remote.ErrUnknownFieldName) {
			return err
		}

		lastErr = err
		bad := remote.UnknownFieldNames(err)
		log.WithError(err).WithField("rejected", bad).Debug("alias combination rejected")
		for _, name := range bad {
			for _, f := range fields {
				if names[f] != name {
					continue
				}
				if rejected[f] == nil {
					rejected[f] = make(map[string]bool)
				}
				rejected[f][name] = true
			}
		}
	}

	if lastErr == nil {
		return ErrSchemaMismatch
	}
	return fmt.Errorf("%w: %w", ErrSchemaMismatch, lastErr)
}

func (r *Resolver) fieldsOf(values map[Field]any) []Field {
	fields := make([]Field, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		oi, iok := r.order[fields[i]]
		oj, jok := r.order[fields[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return fields[i] < fields[j]
	})
	return fields
}

// advance moves idx to the next combination, last field fastest. It
// reports false once every combination was produced.
func advance(idx []int, candidates [][]string) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(candidates[i]) {
			return true
		}
		idx[i] = 0
	}
	return false
}

func ruledOut(fields []Field, candidates [][]string, idx []int, rejected map[Field]map[string]bool) bool {
	for i, f := range fields {
		if rejected[f][candidates[i][idx[i]]] {
			return true
		}
	}
	return false
}

func physical(values map[Field]any, names map[Field]string) map[string]any {
	out := make(map[string]any, len(values))
	for f, v := range values {
		out[names[f]] = v
	}
	return out
}
