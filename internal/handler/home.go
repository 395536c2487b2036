package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/service"
)

// HomeHandler serves the dashboard counters.
type HomeHandler struct {
	Errors
	Queries *service.QueryService
}

func NewHomeHandler(queries *service.QueryService, errs Errors) *HomeHandler {
	return &HomeHandler{Errors: errs, Queries: queries}
}

func (h *HomeHandler) Home(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	home, err := h.Queries.Home(ctx, actor(c))
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, home)
}
