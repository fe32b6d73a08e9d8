package guest

// Metrics are the running totals shown on the dashboard.
type Metrics struct {
	Arrived      int `json:"arrived"`
	GiftsGiven   int `json:"giftsGiven"`
	TotalInvited int `json:"totalInvited"`
}

// Delta is a signed change to Metrics caused by one record changing.
type Delta struct {
	Arrived      int
	GiftsGiven   int
	TotalInvited int
}

// IsZero reports whether applying d would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Apply returns m with d added.
func (m Metrics) Apply(d Delta) Metrics {
	m.Arrived += d.Arrived
	m.GiftsGiven += d.GiftsGiven
	m.TotalInvited += d.TotalInvited
	return m
}

// DeltaBetween is the metrics change from prev to next of the same record.
func DeltaBetween(prev, next Record) Delta {
	return Delta{
		Arrived:    arrivedCount(next) - arrivedCount(prev),
		GiftsGiven: boolCount(next.GiftReceived) - boolCount(prev.GiftReceived),
	}
}

// Summarize recomputes metrics from scratch. Only full revalidation and the
// server should need this.
func Summarize(records []Record) Metrics {
	var m Metrics
	for _, r := range records {
		m.Arrived += arrivedCount(r)
		m.GiftsGiven += boolCount(r.GiftReceived)
		m.TotalInvited++
	}
	return m
}

func arrivedCount(r Record) int {
	return boolCount(r.GuestCheckIn) + boolCount(r.PlusOneCheckIn)
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
