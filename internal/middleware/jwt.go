package middleware // package middleware holds the echo middleware shared by every route group

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// LoginLocation returns loginURL with the request path as the next
// parameter, so clients can resume where authentication was demanded.
func LoginLocation(loginURL string, r *http.Request) string {
	return loginURL + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

// JWTAuth validates a Bearer access token and stores the user id
// (uint64) under "user_id" and the claims under "claims".
func JWTAuth(secret, loginURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			unauthorized := func(msg string) error {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": msg,
					"login": LoginLocation(loginURL, c.Request()),
				})
			}
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized("missing bearer token")
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return unauthorized("invalid token")
			}
			id, _ := claims.UserID()
			c.Set("user_id", id)
			c.Set("claims", claims)
			return next(c)
		}
	}
}
