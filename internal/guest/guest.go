package guest

import (
	"errors"
	"strings"
	"time"
)

// Confirmation is the invitee's answer to the arrival confirmation question.
type Confirmation string

const (
	ConfirmationYes     Confirmation = "YES"
	ConfirmationNo      Confirmation = "NO"
	ConfirmationUnknown Confirmation = "UNKNOWN"
)

var (
	ErrGuestNameRequired   = errors.New("guest name is required")
	ErrCheckInTimeMismatch = errors.New("check-in time must be set iff someone is checked in")
	ErrGiftTimeMismatch    = errors.New("farewell time must be set iff the gift was received")
)

// ParseConfirmation maps the loose values operators type into the store.
func ParseConfirmation(v string) Confirmation {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "da", "y", "true":
		return ConfirmationYes
	case "no", "ne", "n", "false":
		return ConfirmationNo
	default:
		return ConfirmationUnknown
	}
}

// Record is one invitee row as seen by operators.
type Record struct {
	ID                  string       `json:"id"`
	Department          string       `json:"department"`
	Responsible         string       `json:"responsible"`
	Company             string       `json:"company"`
	Guest               string       `json:"guest"`
	PlusOne             string       `json:"plusOne"`
	ArrivalConfirmation Confirmation `json:"arrivalConfirmation"`
	GuestCheckIn        bool         `json:"guestCheckIn"`
	PlusOneCheckIn      bool         `json:"plusOneCheckIn"`
	CheckInTime         *time.Time   `json:"checkInTime"`
	GiftReceived        bool         `json:"giftReceived"`
	FarewellTime        *time.Time   `json:"farewellTime"`
}

// CheckInUpdate carries the booleans a toggle wants to change. Nil leaves
// the current value alone.
type CheckInUpdate struct {
	Guest   *bool `json:"guest,omitempty"`
	PlusOne *bool `json:"plusOne,omitempty"`
}

// CheckedIn reports whether the guest or the companion has arrived.
func (r Record) CheckedIn() bool {
	return r.GuestCheckIn || r.PlusOneCheckIn
}

// WithCheckIn returns the record after applying u at time now. The arrival
// time is stamped on the first check-in and kept until nobody is checked in.
func (r Record) WithCheckIn(u CheckInUpdate, now time.Time) Record {
	if u.Guest != nil {
		r.GuestCheckIn = *u.Guest
	}
	if u.PlusOne != nil {
		r.PlusOneCheckIn = *u.PlusOne
	}
	switch {
	case !r.CheckedIn():
		r.CheckInTime = nil
	case r.CheckInTime == nil:
		t := now.UTC()
		r.CheckInTime = &t
	}
	return r
}

// WithGift returns the record with the gift flag set to received.
func (r Record) WithGift(received bool, now time.Time) Record {
	r.GiftReceived = received
	switch {
	case !received:
		r.FarewellTime = nil
	case r.FarewellTime == nil:
		t := now.UTC()
		r.FarewellTime = &t
	}
	return r
}

// Validate checks the timestamp invariants.
func (r Record) Validate() error {
	if (r.CheckInTime != nil) != r.CheckedIn() {
		return ErrCheckInTimeMismatch
	}
	if (r.FarewellTime != nil) != r.GiftReceived {
		return ErrGiftTimeMismatch
	}
	return nil
}

// NewGuest is the payload for creating an invitee.
type NewGuest struct {
	Guest       string `json:"guest"`
	Company     string `json:"company,omitempty"`
	Department  string `json:"department,omitempty"`
	Responsible string `json:"responsible,omitempty"`
	PlusOne     string `json:"plusOne,omitempty"`
}

// Validate trims every field in place and rejects a blank guest name.
func (n *NewGuest) Validate() error {
	n.Guest = strings.TrimSpace(n.Guest)
	n.Company = strings.TrimSpace(n.Company)
	n.Department = strings.TrimSpace(n.Department)
	n.Responsible = strings.TrimSpace(n.Responsible)
	n.PlusOne = strings.TrimSpace(n.PlusOne)
	if n.Guest == "" {
		return ErrGuestNameRequired
	}
	return nil
}
