package model

import "time"

// Site is a physical facility with its own visitor log ("sede").  It
// corresponds to a row in the `sites` table.
//
// Fields:
//
//	ID        – primary key identifier.
//	Name      – display name, unique across sites.
//	Address   – optional street address.
//	Active    – inactive sites reject new check-ins.
//	CreatedAt – timestamp of creation.
//	UpdatedAt – timestamp of last update.
type Site struct {
	ID        uint64    `json:"id"`         // sites.id
	Name      string    `json:"name"`       // sites.name
	Address   *string   `json:"address"`    // sites.address (nullable)
	Active    bool      `json:"active"`     // sites.active
	CreatedAt time.Time `json:"created_at"` // sites.created_at
	UpdatedAt time.Time `json:"updated_at"` // sites.updated_at
}
