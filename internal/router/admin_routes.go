package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/middleware"
)

// RegisterAdmin mounts the administrator routes.  The services enforce
// the same rule; the middleware answers early.
func RegisterAdmin(g *echo.Group, d Deps) {
	admin := middleware.RequireAdmin()

	g.PATCH("/visits/:id", d.Visits.Correct, admin)

	g.GET("/persons", d.Persons.List, admin)
	g.PUT("/persons/:id", d.Persons.Update, admin)

	g.POST("/sites", d.Sites.Create, admin)
	g.PUT("/sites/:id", d.Sites.Update, admin)
	g.DELETE("/sites/:id", d.Sites.Delete, admin)

	g.POST("/org-units", d.OrgUnits.Create, admin)
	g.PUT("/org-units/:id", d.OrgUnits.Update, admin)
	g.DELETE("/org-units/:id", d.OrgUnits.Delete, admin)

	g.GET("/users", d.Users.List, admin)
	g.POST("/users", d.Users.Create, admin)
	g.PUT("/users/:id/profile", d.Users.UpdateProfile, admin)

	g.GET("/reports/visits", d.Reports.Report, admin)
}
