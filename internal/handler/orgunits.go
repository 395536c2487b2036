package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

// OrgUnitHandler serves the organizational hierarchy.
type OrgUnitHandler struct {
	Errors
	Units *service.OrgUnitService
	Cache Purger
}

func NewOrgUnitHandler(units *service.OrgUnitService, cache Purger, errs Errors) *OrgUnitHandler {
	return &OrgUnitHandler{Errors: errs, Units: units, Cache: purgerOr(cache)}
}

func (h *OrgUnitHandler) list(c echo.Context, units []*model.OrgUnit, err error) error {
	if err != nil {
		return h.respond(c, err)
	}
	if units == nil {
		units = []*model.OrgUnit{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": units})
}

// List returns every unit; ?parent=CODE narrows to that unit's children.
func (h *OrgUnitHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	if parent := strings.TrimSpace(c.QueryParam("parent")); parent != "" {
		units, err := h.Units.Children(ctx, parent)
		return h.list(c, units, err)
	}
	units, err := h.Units.List(ctx)
	return h.list(c, units, err)
}

// Areas lists the direct children of institutions.
func (h *OrgUnitHandler) Areas(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	units, err := h.Units.Areas(ctx)
	return h.list(c, units, err)
}

// SubAreas lists the sub-areas of the area named by :code.
func (h *OrgUnitHandler) SubAreas(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	units, err := h.Units.SubAreas(ctx, c.Param("code"))
	return h.list(c, units, err)
}

type orgUnitReq struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	ParentCode string `json:"parent_code"`
	Active     *bool  `json:"active"`
}

func (r orgUnitReq) input() service.OrgUnitInput {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return service.OrgUnitInput{Name: r.Name, Code: r.Code, ParentCode: r.ParentCode, Active: active}
}

func (h *OrgUnitHandler) Create(c echo.Context) error {
	var req orgUnitReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, err := h.Units.Create(ctx, actor(c), req.input())
	if err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusCreated, u)
}

// Update edits a unit.  Changing the code renames the parent code of
// every child in the same transaction.
func (h *OrgUnitHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	var req orgUnitReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	u, err := h.Units.Update(ctx, actor(c), id, req.input())
	if err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.JSON(http.StatusOK, u)
}

func (h *OrgUnitHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Units.Delete(ctx, actor(c), id); err != nil {
		return h.respond(c, err)
	}
	h.Cache.Purge(ctx)
	return c.NoContent(http.StatusNoContent)
}
