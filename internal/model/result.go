package model

import "fmt"

// DetailedSyncResult reports what one reconciliation run changed on the
// remote calendar. It is created at the start of a run and returned at the
// end; it is never persisted.
type DetailedSyncResult struct {
	Added   []Booking `json:"added"`
	Updated []Booking `json:"updated"`
	Deleted []Booking `json:"deleted"`

	// Total is the number of local bookings processed.
	Total int `json:"total"`
}

// NewDetailedSyncResult returns an empty result whose lists marshal as [] rather than null.
func NewDetailedSyncResult() *DetailedSyncResult {
	return &DetailedSyncResult{
		Added:   []Booking{},
		Updated: []Booking{},
		Deleted: []Booking{},
	}
}

// SyncCounts is the count-only view of a [DetailedSyncResult].
type SyncCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// Counts returns the number of bookings in each list.
func (r *DetailedSyncResult) Counts() SyncCounts {
	return SyncCounts{
		Added:   len(r.Added),
		Updated: len(r.Updated),
		Deleted: len(r.Deleted),
		Total:   r.Total,
	}
}

// Changed reports whether the run mutated the remote calendar at all.
func (r *DetailedSyncResult) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Deleted) > 0
}

// Summary returns a one-line description suitable for logs and the CLI.
func (r *DetailedSyncResult) Summary() string {
	if !r.Changed() {
		return fmt.Sprintf("calendar already up to date (%d bookings checked)", r.Total)
	}
	return fmt.Sprintf("%d added, %d updated, %d deleted (%d bookings checked)",
		len(r.Added), len(r.Updated), len(r.Deleted), r.Total)
}
