package store

import (
	"context"

	"github.com/tomochart/guestlist/internal/guest"
)

type ListQuery struct {
	Filter guest.Filter
	Limit  int
	Offset string
}

// GuestStore is what the HTTP handlers need from the guest table. Lookups of
// unknown ids return (nil, nil).
type GuestStore interface {
	List(ctx context.Context, q ListQuery) (*guest.Page, error)
	Create(ctx context.Context, g guest.NewGuest) (string, error)
	SetCheckIn(ctx context.Context, id string, guestIn, plusOneIn bool) (*guest.Record, error)
	SetGift(ctx context.Context, id string, received bool) (*guest.Record, error)
	Summarize(ctx context.Context, f guest.Filter) (guest.Metrics, error)
}
