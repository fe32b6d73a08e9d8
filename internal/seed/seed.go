package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/search"
)

type SeedData struct {
	Guests []guest.NewGuest `json:"guests"`
}

// Store is what seeding needs from the guest table.
type Store interface {
	All(ctx context.Context, f guest.Filter) ([]guest.Record, error)
	Create(ctx context.Context, g guest.NewGuest) (string, error)
}

// LoadFromFile reads seed data from a JSON file and creates the guests that
// are not in the table yet. Names are compared after search normalization,
// so re-running a seed is harmless. Returns nil if path is empty (seeding
// disabled).
func LoadFromFile(ctx context.Context, path string, s Store) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file %s: %w", path, err)
	}

	var sd SeedData
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	existing, err := s.All(ctx, guest.Filter{})
	if err != nil {
		return fmt.Errorf("listing existing guests: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[search.Normalize(r.Guest)] = true
	}

	var created, skipped int
	for i, g := range sd.Guests {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("seed guest #%d: %w", i+1, err)
		}
		key := search.Normalize(g.Guest)
		if known[key] {
			skipped++
			continue
		}
		if _, err := s.Create(ctx, g); err != nil {
			return fmt.Errorf("seeding guest %q: %w", g.Guest, err)
		}
		known[key] = true
		created++
	}

	log.WithFields(log.Fields{"created": created, "skipped": skipped}).Info("seeded guests from file")
	return nil
}
