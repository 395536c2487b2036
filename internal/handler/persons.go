package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

// PersonHandler serves the visitor registry.
type PersonHandler struct {
	Errors
	Persons *service.PersonService
	Photos  *service.PhotoService
	Queries *service.QueryService
}

func NewPersonHandler(persons *service.PersonService, photos *service.PhotoService, queries *service.QueryService, errs Errors) *PersonHandler {
	return &PersonHandler{Errors: errs, Persons: persons, Photos: photos, Queries: queries}
}

// Search looks a person up by ?dni to prefill check-in, with their open
// visit in scope if any.
func (h *PersonHandler) Search(c echo.Context) error {
	dni, err := strconv.ParseInt(strings.TrimSpace(c.QueryParam("dni")), 10, 64)
	if err != nil {
		return h.respond(c, &service.ValidationError{Fields: map[string]string{"dni": "must be a positive number"}})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Queries.SearchPerson(ctx, actor(c), dni)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// List pages the registry; ?q matches name, DNI or badge.
func (h *PersonHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	page, err := h.Persons.List(ctx, actor(c), repository.PersonQuery{
		Search:   strings.TrimSpace(c.QueryParam("q")),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	})
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// Get returns one person.
func (h *PersonHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	p, err := h.Persons.Get(ctx, actor(c), id)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type personReq struct {
	DNI       int64  `json:"dni" form:"dni"`
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
	Phone     string `json:"phone" form:"phone"`
	Email     string `json:"email" form:"email"`
	Badge     string `json:"badge_number" form:"badge_number"`
	Notes     string `json:"notes" form:"notes"`
	Photo     string `json:"photo" form:"photo"`
}

// Update edits a person, replacing the photo when one is sent.
func (h *PersonHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	var req personReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	photo, err := photoFrom(c, req.Photo)
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	res, err := h.Persons.Update(ctx, actor(c), id, service.PersonInput{
		DNI:       req.DNI,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		Badge:     req.Badge,
		Notes:     req.Notes,
		Photo:     photo,
	})
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Photo streams the stored image with its content type.
func (h *PersonHandler) Photo(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if _, err := h.Persons.Get(ctx, actor(c), id); err != nil {
		return h.respond(c, err)
	}
	data, ct, err := h.Photos.Load(ctx, id)
	if err != nil {
		return h.respond(c, err)
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	return c.Blob(http.StatusOK, ct, data)
}
