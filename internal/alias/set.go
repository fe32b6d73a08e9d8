package alias

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a logical column name used by the application.
type Field string

const (
	Guest               Field = "guest"
	PlusOne             Field = "plusOne"
	Company             Field = "company"
	Department          Field = "department"
	Responsible         Field = "responsible"
	ArrivalConfirmation Field = "arrivalConfirmation"
	CheckInGuest        Field = "checkInGuest"
	CheckInPlusOne      Field = "checkInPlusOne"
	CheckInTime         Field = "checkInTime"
	GiftReceived        Field = "giftReceived"
	FarewellTime        Field = "farewellTime"
)

// AllFields lists every logical field in probing order.
var AllFields = []Field{
	Guest,
	PlusOne,
	Company,
	Department,
	Responsible,
	ArrivalConfirmation,
	CheckInGuest,
	CheckInPlusOne,
	CheckInTime,
	GiftReceived,
	FarewellTime,
}

var ErrIncompleteSet = errors.New("alias set is incomplete")

// Set maps each logical field to the physical column names it may have in
// the remote table, most likely first.
type Set map[Field][]string

// DefaultSet covers the column labels seen across deployed tables.
func DefaultSet() Set {
	return Set{
		Guest:               {"Guest", "Guest name", "Name"},
		PlusOne:             {"Plus one", "PlusOne", "Companion"},
		Company:             {"Company", "Organization"},
		Department:          {"Department", "Dept"},
		Responsible:         {"Responsible", "Responsible person"},
		ArrivalConfirmation: {"Arrival confirmation", "Confirmed arrival", "RSVP"},
		CheckInGuest:        {"Check-in guest", "Checkin guest", "Check in guest"},
		CheckInPlusOne:      {"Check-in plus one", "Checkin plus one", "Check in plus one"},
		CheckInTime:         {"Check-in time", "Checkin time", "Check in time"},
		GiftReceived:        {"Gift received", "Gift"},
		FarewellTime:        {"Farewell time", "Gift time"},
	}
}

// LoadFile reads a YAML mapping of logical field to alias list and lays it
// over the defaults. An empty path returns the defaults.
func LoadFile(path string) (Set, error) {
	set := DefaultSet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alias file %s: %w", path, err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing alias file %s: %w", path, err)
	}

	known := make(map[Field]bool, len(AllFields))
	for _, f := range AllFields {
		known[f] = true
	}
	for k, names := range raw {
		f := Field(k)
		if !known[f] {
			return nil, fmt.Errorf("alias file %s: unknown logical field %q", path, k)
		}
		set[f] = names
	}
	return set, nil
}

// Validate checks that every logical field has at least one usable alias and
// that no field lists the same alias twice.
func (s Set) Validate() error {
	for _, f := range AllFields {
		names := s[f]
		if len(names) == 0 {
			return fmt.Errorf("%w: %s has no aliases", ErrIncompleteSet, f)
		}
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				return fmt.Errorf("%w: %s has a blank alias", ErrIncompleteSet, f)
			}
			if seen[n] {
				return fmt.Errorf("%w: %s lists %q twice", ErrIncompleteSet, f, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// Lookup returns the first present, non-empty value among f's aliases.
func (s Set) Lookup(fields map[string]any, f Field) (any, bool) {
	for _, name := range s[f] {
		v, ok := fields[name]
		if ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

// String is Lookup for text columns.
func (s Set) String(fields map[string]any, f Field) string {
	v, ok := s.Lookup(fields, f)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		// Linked or multi-select cells come back as lists.
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// Bool is Lookup for checkbox columns. Missing cells are false.
func (s Set) Bool(fields map[string]any, f Field) bool {
	v, ok := s.Lookup(fields, f)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "da", "1", "x":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
