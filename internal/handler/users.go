package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/service"
)

// UserHandler serves operator account administration.
type UserHandler struct {
	Errors
	Users *service.UserService
}

func NewUserHandler(users *service.UserService, errs Errors) *UserHandler {
	return &UserHandler{Errors: errs, Users: users}
}

func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	users, err := h.Users.List(ctx, actor(c))
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users})
}

type userReq struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Password    string  `json:"password"`
	IsSuperuser bool    `json:"is_superuser"`
	SiteID      *uint64 `json:"site_id"`
	IsAdmin     bool    `json:"is_admin"`
}

// Create adds an operator together with its profile.
func (h *UserHandler) Create(c echo.Context) error {
	var req userReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Users.Create(ctx, actor(c), service.UserInput{
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Password:    req.Password,
		IsSuperuser: req.IsSuperuser,
		SiteID:      req.SiteID,
		IsAdmin:     req.IsAdmin,
	})
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

type profileReq struct {
	SiteID   *uint64 `json:"site_id"`
	IsAdmin  bool    `json:"is_admin"`
	IsActive *bool   `json:"is_active"`
}

// UpdateProfile assigns a site and the administrator flag.
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.respond(c, err)
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	v, err := h.Users.UpdateProfile(ctx, actor(c), id, service.ProfileInput{
		SiteID: req.SiteID, IsAdmin: req.IsAdmin, IsActive: req.IsActive,
	})
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
