package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/service"
)

// ActorLoader resolves a token subject into the current actor.
type ActorLoader interface {
	LoadActor(ctx context.Context, userID uint64) (service.Actor, error)
}

// LoadActor reloads the authenticated user and profile on every request
// and stores the actor in the request context, so deactivation and site
// changes apply without waiting for token expiry.  It must run after
// JWTAuth.
func LoadActor(loader ActorLoader, loginURL string, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := c.Get("user_id").(uint64)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": "missing bearer token",
					"login": LoginLocation(loginURL, c.Request()),
				})
			}
			actor, err := loader.LoadActor(c.Request().Context(), id)
			switch {
			case err == nil:
			case errors.Is(err, service.ErrNotFound):
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": "unknown user",
					"login": LoginLocation(loginURL, c.Request()),
				})
			case errors.Is(err, service.ErrForbidden):
				return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
			default:
				log.Error("load actor", zap.Uint64("user_id", id), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			c.SetRequest(c.Request().WithContext(service.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// Actor returns the actor stored by LoadActor.
func Actor(c echo.Context) (service.Actor, bool) {
	return service.ActorFrom(c.Request().Context())
}

// userID returns the authenticated user id as a key component, or
// "anon" before authentication.
func userID(c echo.Context) string {
	if id, ok := c.Get("user_id").(uint64); ok && id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
