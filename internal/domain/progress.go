package domain

// Progress is a pair of byte counters for a region: how much is fetched
// or already durable, and how much the full request amounts to.
type Progress struct {
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
}
