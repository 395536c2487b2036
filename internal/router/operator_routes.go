package router

import "github.com/labstack/echo/v4"

// RegisterOperator mounts the routes open to any authenticated actor.
// Scope checks happen in the services.
func RegisterOperator(g *echo.Group, d Deps) {
	g.GET("/me", d.Auth.Me)
	g.POST("/auth/logout", d.Auth.Logout)
	g.POST("/auth/password", d.Auth.ChangePassword)

	g.GET("/home", d.Home.Home)

	g.GET("/visits", d.Visits.History)
	g.GET("/visits/active", d.Visits.Active)
	g.GET("/visits/badge", d.Visits.BadgeCheck)
	g.GET("/visits/creators", d.Visits.Creators)
	g.GET("/visits/:id", d.Visits.Detail)
	g.POST("/visits", d.Visits.CheckIn)
	g.POST("/visits/:id/checkout", d.Visits.CheckOut)

	g.GET("/persons/search", d.Persons.Search)
	g.GET("/persons/:id", d.Persons.Get)
	g.GET("/persons/:id/photo", d.Persons.Photo)

	cached := d.Cache.Middleware()
	g.GET("/sites", d.Sites.List, cached)
	g.GET("/sites/:id", d.Sites.Get)
	g.GET("/sites/:id/org-units", d.Sites.Units, cached)

	g.GET("/org-units", d.OrgUnits.List, cached)
	g.GET("/org-units/areas", d.OrgUnits.Areas, cached)
	g.GET("/org-units/areas/:code/sub-areas", d.OrgUnits.SubAreas, cached)
}
