package model

import (
	"strings"
	"time"
)

// Person is a visitor identity keyed by national id (DNI).  Mutable
// fields are refreshed from the latest check-in form.  The photo bytes
// live in the photo store; PhotoKey references them.
type Person struct {
	ID          uint64    `json:"id"`           // persons.id
	DNI         int64     `json:"dni"`          // persons.dni (unique)
	FirstName   string    `json:"first_name"`   // persons.first_name
	LastName    string    `json:"last_name"`    // persons.last_name
	Phone       *string   `json:"phone"`        // persons.phone
	Email       *string   `json:"email"`        // persons.email
	BadgeNumber string    `json:"badge_number"` // persons.badge_number
	Notes       *string   `json:"notes"`        // persons.notes
	PhotoKey    *string   `json:"-"`            // persons.photo_key
	HasPhoto    bool      `json:"has_photo"`
	CreatedAt   time.Time `json:"created_at"` // persons.created_at
	UpdatedAt   time.Time `json:"updated_at"` // persons.updated_at
}

// FullName joins first and last name.
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
