package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/service"
)

// VisitHandler serves check-in, check-out and the visit listings.
type VisitHandler struct {
	Errors
	Visits  *service.VisitService
	Queries *service.QueryService
	Loc     *time.Location
}

func NewVisitHandler(visits *service.VisitService, queries *service.QueryService, loc *time.Location, errs Errors) *VisitHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &VisitHandler{Errors: errs, Visits: visits, Queries: queries, Loc: loc}
}

// Active lists open visits in the caller's scope.
func (h *VisitHandler) Active(c echo.Context) error {
	f, err := visitFilter(c, h.Loc)
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	page, err := h.Queries.Active(ctx, actor(c), f)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// History lists open and closed visits in scope.
func (h *VisitHandler) History(c echo.Context) error {
	f, err := visitFilter(c, h.Loc)
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	page, err := h.Queries.History(ctx, actor(c), f)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// Detail returns one visit in scope.
func (h *VisitHandler) Detail(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Queries.Detail(ctx, actor(c), id)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Creators lists users who registered visits in scope; ?estado=activas
// narrows to open visits.
func (h *VisitHandler) Creators(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	users, err := h.Queries.Creators(ctx, actor(c), c.QueryParam("estado") == "activas")
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users})
}

type checkInReq struct {
	PersonID            uint64 `json:"person_id" form:"person_id"`
	DNI                 int64  `json:"dni" form:"dni"`
	FirstName           string `json:"first_name" form:"first_name"`
	LastName            string `json:"last_name" form:"last_name"`
	Phone               string `json:"phone" form:"phone"`
	Email               string `json:"email" form:"email"`
	Badge               string `json:"badge_number" form:"badge_number"`
	PersonNotes         string `json:"person_notes" form:"person_notes"`
	SiteID              uint64 `json:"site_id" form:"site_id"`
	OrgUnitID           uint64 `json:"org_unit_id" form:"org_unit_id"`
	ReceptionistName    string `json:"receptionist_name" form:"receptionist_name"`
	ReceptionistSurname string `json:"receptionist_surname" form:"receptionist_surname"`
	Notes               string `json:"notes" form:"notes"`
	Photo               string `json:"photo" form:"photo"`
}

// CheckIn opens a visit from a JSON body or a multipart form (photo as
// the "photo_file" part or a base64 "photo" field).
func (h *VisitHandler) CheckIn(c echo.Context) error {
	var req checkInReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	photo, err := photoFrom(c, req.Photo)
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Visits.CheckIn(ctx, actor(c), service.CheckInInput{
		PersonID:            req.PersonID,
		DNI:                 req.DNI,
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Phone:               req.Phone,
		Email:               req.Email,
		Badge:               req.Badge,
		PersonNotes:         req.PersonNotes,
		SiteID:              req.SiteID,
		OrgUnitID:           req.OrgUnitID,
		ReceptionistName:    req.ReceptionistName,
		ReceptionistSurname: req.ReceptionistSurname,
		Notes:               req.Notes,
		Photo:               photo,
	})
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// CheckOut closes an open visit.
func (h *VisitHandler) CheckOut(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Visits.CheckOut(ctx, actor(c), id)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// BadgeCheck answers whether ?badge is free at ?site_id.
func (h *VisitHandler) BadgeCheck(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	st, err := h.Visits.BadgeAvailability(ctx, actor(c), queryUint(c, "site_id"), c.QueryParam("badge"))
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

type correctionReq struct {
	OrgUnitID           *uint64 `json:"org_unit_id"`
	ReceptionistName    *string `json:"receptionist_name"`
	ReceptionistSurname *string `json:"receptionist_surname"`
	Notes               *string `json:"notes"`
	ExitDate            string  `json:"exit_date"`
	ExitTime            string  `json:"exit_time"`
}

// Correct applies an administrator's edit to a visit.
func (h *VisitHandler) Correct(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	var req correctionReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	in := service.CorrectionInput{
		OrgUnitID:           req.OrgUnitID,
		ReceptionistName:    req.ReceptionistName,
		ReceptionistSurname: req.ReceptionistSurname,
		Notes:               req.Notes,
	}
	if d, t := strings.TrimSpace(req.ExitDate), strings.TrimSpace(req.ExitTime); d != "" || t != "" {
		exit, err := time.ParseInLocation("2006-01-02 15:04", d+" "+t, h.Loc)
		if err != nil {
			return h.respond(c, &service.ValidationError{Fields: map[string]string{"exit_at": "expected exit_date YYYY-MM-DD and exit_time HH:MM"}})
		}
		in.ExitAt = &exit
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Visits.Correct(ctx, actor(c), id, in)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
