package guest

// Page is one fetched slice of the guest list. Offset is the opaque cursor
// for the next page and is empty on the last one. Metrics is only present on
// the first page of a window.
type Page struct {
	Records  []Record `json:"records"`
	Offset   string   `json:"offset,omitempty"`
	PageSize int      `json:"pageSize"`
	Metrics  *Metrics `json:"stats,omitempty"`
}

// Filter narrows a listing. The zero value lists everything.
type Filter struct {
	Query       string `json:"q,omitempty"`
	Department  string `json:"department,omitempty"`
	Responsible string `json:"responsible,omitempty"`
}

// IsZero reports whether f filters nothing.
func (f Filter) IsZero() bool {
	return f == Filter{}
}
