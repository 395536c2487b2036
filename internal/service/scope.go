package service

import (
	"context"

	"github.com/iliyamo/visitor-access-control/internal/model"
)

// Actor is the authenticated user behind a call.  Profile is nil when the
// account has none, which grants no site scope.
type Actor struct {
	UserID      uint64
	Username    string
	IsSuperuser bool
	Profile     *model.UserProfile
}

// IsAdmin reports superuser or profile administrator status.
func (a Actor) IsAdmin() bool {
	return a.IsSuperuser || (a.Profile != nil && a.Profile.IsAdmin)
}

// Scope is the set of sites an actor may read and write: every site when
// Global, otherwise only SiteID.
type Scope struct {
	Global bool
	SiteID uint64
}

// ResolveScope maps an actor to its scope.  Non-admins without a
// profile or without an assigned site get ErrNoSiteAssigned.
func ResolveScope(a Actor) (Scope, error) {
	if a.IsAdmin() {
		return Scope{Global: true}, nil
	}
	if a.Profile == nil || a.Profile.SiteID == nil || *a.Profile.SiteID == 0 {
		return Scope{}, ErrNoSiteAssigned
	}
	return Scope{SiteID: *a.Profile.SiteID}, nil
}

// Pin returns the site a scoped operation must use.  Single-site scopes
// ignore the requested value.
func (s Scope) Pin(requested uint64) uint64 {
	if s.Global {
		return requested
	}
	return s.SiteID
}

// Allows reports whether siteID is inside the scope.
func (s Scope) Allows(siteID uint64) bool {
	return s.Global || s.SiteID == siteID
}

// Filter returns the site id list queries must be restricted to; zero
// means unrestricted.
func (s Scope) Filter(requested uint64) uint64 {
	return s.Pin(requested)
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
