package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnknownFieldName matches store errors caused by a column name the
	// table does not have, whether in a write body or a filter formula.
	ErrUnknownFieldName = errors.New("unknown field name")
	ErrNotFound         = errors.New("record not found")
)

const (
	typeUnknownFieldName = "UNKNOWN_FIELD_NAME"
	typeInvalidFormula   = "INVALID_FILTER_BY_FORMULA"
	typeNotFound         = "NOT_FOUND"
)

// APIError is a non-2xx answer from the store.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote store: %d %s", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("remote store: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnknownFieldName:
		return e.Type == typeUnknownFieldName ||
			(e.Type == typeInvalidFormula && strings.Contains(e.Message, "Unknown field name"))
	case ErrNotFound:
		return e.StatusCode == 404 || e.Type == typeNotFound
	}
	return false
}

var (
	quotedFieldRe = regexp.MustCompile(`Unknown field name: "([^"]+)"`)
	fieldListRe   = regexp.MustCompile(`Unknown field names: (.+)$`)
)

// UnknownFieldNames extracts the rejected column names from err, if the
// store named them.
func UnknownFieldNames(err error) []string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !errors.Is(apiErr, ErrUnknownFieldName) {
		return nil
	}
	if m := quotedFieldRe.FindStringSubmatch(apiErr.Message); m != nil {
		return []string{m[1]}
	}
	if m := fieldListRe.FindStringSubmatch(apiErr.Message); m != nil {
		var names []string
		for _, n := range strings.Split(m[1], ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return names
	}
	return nil
}

// decodeAPIError understands both {"error":{"type","message"}} and the
// shorter {"error":"NOT_FOUND"} bodies.
func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		apiErr.Type = detail.Type
		apiErr.Message = detail.Message
		return apiErr
	}

	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		apiErr.Type = code
	}
	return apiErr
}
