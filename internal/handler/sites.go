package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/service"
)

// Purger drops cached listings after a write.
type Purger interface {
	Purge(ctx context.Context)
}

type nopPurger struct{}

func (nopPurger) Purge(context.Context) {}

func purgerOr(p Purger) Purger {
	if p == nil {
		return nopPurger{}
	}
	return p
}

// SiteHandler serves sites and their org unit associations.
type SiteHandler struct {
	Errors
	Sites    *service.SiteService
	OrgUnits *service.OrgUnitService
	Cache    Purger
}

func NewSiteHandler(sites *service.SiteService, units *service.OrgUnitService, cache Purger, errs Errors) *SiteHandler {
	return &SiteHandler{Errors: errs, Sites: sites, OrgUnits: units, Cache: purgerOr(cache)}
}

type siteReq struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Active  *bool    `json:"active"`
	UnitIDs []uint64 `json:"unit_ids"`
}

func (r siteReq) input() service.SiteInput {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return service.SiteInput{Name: r.Name, Address: r.Address, Active: active, UnitIDs: r.UnitIDs}
}

// List returns the sites in scope; ?activas=1 hides inactive ones.
func (h *SiteHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	sites, err := h.Sites.List(ctx, actor(c), c.QueryParam("activas") == "1")
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": sites})
}

// Get returns a site with its org unit ids.
func (h *SiteHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	a := actor(c)
	site, err := h.Sites.Get(ctx, a, id)
	if err != nil {
		return h.respond(c, err)
	}
	ids, err := h.Sites.UnitIDs(ctx, a, id)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"site": site, "unit_ids": ids})
}

// Units lists the org units offered at a site, for the check-in form.
func (h *SiteHandler) Units(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	units, err := h.OrgUnits.ForSite(ctx, actor(c), id)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": units})
}

func (h *SiteHandler) Create(c echo.Context) error {
	var req siteReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	site, err := h.Sites.Create(ctx, actor(c), req.input())
	if err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusCreated, site)
}

func (h *SiteHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	var req siteReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	site, err := h.Sites.Update(ctx, actor(c), id, req.input())
	if err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusOK, site)
}

// Delete removes a site; one still referenced by org units or visits
// answers 409 with the dependent count.
func (h *SiteHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Sites.Delete(ctx, actor(c), id); err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}
