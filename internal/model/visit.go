package model

import (
	"errors"
	"time"
)

// ErrExitNotAfterEntry is returned by Visit.CheckTimes when a closed
// visit's exit does not come strictly after its entry.
var ErrExitNotAfterEntry = errors.New("exit must be after entry")

// Visit is a single stay of a person at a site.  It is open while ExitAt
// is nil and closed once check-out stamps the exit.  BadgeNumber is the
// badge the person carried at check-in; the open-badge uniqueness rule is
// evaluated against it.
//
// Entry and exit are wall-clock times in the organization's zone and are
// persisted as separate DATE and TIME columns.
type Visit struct {
	ID                  uint64     `json:"id"`                   // visits.id
	PersonID            uint64     `json:"person_id"`            // visits.person_id
	SiteID              uint64     `json:"site_id"`              // visits.site_id
	OrgUnitID           uint64     `json:"org_unit_id"`          // visits.org_unit_id
	BadgeNumber         string     `json:"badge_number"`         // visits.badge_number
	EntryAt             time.Time  `json:"entry_at"`             // visits.entry_date + entry_time
	ExitAt              *time.Time `json:"exit_at"`              // visits.exit_date + exit_time
	ReceptionistName    string     `json:"receptionist_name"`    // visits.receptionist_name
	ReceptionistSurname string     `json:"receptionist_surname"` // visits.receptionist_surname
	Notes               *string    `json:"notes"`                // visits.notes
	CreatedBy           *uint64    `json:"created_by"`           // visits.created_by (nullable)
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsOpen reports whether no exit has been recorded yet.
func (v *Visit) IsOpen() bool { return v.ExitAt == nil }

// CheckTimes enforces exit > entry on closed visits.
func (v *Visit) CheckTimes() error {
	if v.ExitAt == nil {
		return nil
	}
	if !v.ExitAt.After(v.EntryAt) {
		return ErrExitNotAfterEntry
	}
	return nil
}

// ReceptionistFullName mirrors the form label; empty names read as
// "No especificado".
func (v *Visit) ReceptionistFullName() string {
	n := v.ReceptionistName
	if v.ReceptionistSurname != "" {
		if n != "" {
			n += " "
		}
		n += v.ReceptionistSurname
	}
	if n == "" {
		return "No especificado"
	}
	return n
}
