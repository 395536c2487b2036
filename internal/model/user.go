package model

import "time"

// User represents an operator account as stored in the `users` table.
// Access to sites is governed by the attached UserProfile rather than by
// a role column.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique login name.
//	Email        – contact address (optional).
//	FirstName    – given name.
//	LastName     – family name.
//	PasswordHash – bcrypt hashed password.
//	IsSuperuser  – superusers see every site regardless of profile.
//	IsActive     – inactive users cannot log in.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    `json:"id"`           // users.id
	Username     string    `json:"username"`     // users.username
	Email        string    `json:"email"`        // users.email
	FirstName    string    `json:"first_name"`   // users.first_name
	LastName     string    `json:"last_name"`    // users.last_name
	PasswordHash string    `json:"-"`            // users.password_hash
	IsSuperuser  bool      `json:"is_superuser"` // users.is_superuser
	IsActive     bool      `json:"is_active"`    // users.is_active
	CreatedAt    time.Time `json:"created_at"`   // users.created_at
	UpdatedAt    time.Time `json:"updated_at"`   // users.updated_at
}

// UserProfile extends a user one-to-one with site assignment and the
// administrator flag.  SiteID is nil when no site has been assigned or
// the site was deleted.
type UserProfile struct {
	UserID    uint64    `json:"user_id"`  // user_profiles.user_id
	SiteID    *uint64   `json:"site_id"`  // user_profiles.site_id (nullable)
	IsAdmin   bool      `json:"is_admin"` // user_profiles.is_admin
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA‑256 hash of the token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}

// Live reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && now.UTC().Before(t.ExpiresAt)
}
