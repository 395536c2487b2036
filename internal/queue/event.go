// Package queue defines the visit events exchanged over RabbitMQ plus the
// publisher and background consumer for them.
package queue

// Event types carried in VisitEvent.Type.
const (
	EventCheckedIn  = "visit.checked_in"
	EventCheckedOut = "visit.checked_out"
)

// VisitEvent is published after a check-in or check-out commits.  It
// carries enough for downstream consumers to log or notify without
// querying the primary database.
type VisitEvent struct {
	Type       string `json:"type"`
	VisitID    uint64 `json:"visit_id"`
	PersonID   uint64 `json:"person_id"`
	PersonName string `json:"person_name"`
	DNI        int64  `json:"dni"`
	Badge      string `json:"badge_number"`
	SiteID     uint64 `json:"site_id"`
	SiteName   string `json:"site_name"`
	OrgUnitID  uint64 `json:"org_unit_id"`
	UserID     uint64 `json:"user_id"`
	OccurredAt string `json:"occurred_at"`
}
