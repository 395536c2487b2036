package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/config"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Errors
	Cfg    config.Config
	Users  *service.UserService
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, users *service.UserService, tokens *repository.TokenRepo, errs Errors) *AuthHandler {
	return &AuthHandler{Errors: errs, Cfg: cfg, Users: users, Tokens: tokens}
}

type loginReq struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Next     string `json:"next" form:"next" query:"next"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type authResp struct {
	User     userPart  `json:"user"`
	Access   tokenPart `json:"access"`
	Refresh  tokenPart `json:"refresh"`
	Redirect string    `json:"redirect,omitempty"`
}

// SafeRedirect keeps next only when it is a same-origin absolute path.
// Anything else falls back to "/".
func SafeRedirect(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return u.RequestURI()
}

// issue signs an access token for a and answers with the pair.  store
// persists the fresh refresh token.
func (h *AuthHandler) issue(c echo.Context, a service.Actor, redirect string,
	store func(ctx context.Context, hash string, exp time.Time) error) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, a.UserID, a.Username, a.IsAdmin(), h.Cfg.AccessTTLMin)
	if err != nil {
		return h.respond(c, err)
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return h.respond(c, err)
	}
	if err := store(ctx, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return h.refreshFailed(c, err)
	}
	return c.JSON(http.StatusOK, authResp{
		User:     userPart{ID: a.UserID, Username: a.Username, IsAdmin: a.IsAdmin()},
		Access:   tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:  tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
		Redirect: redirect,
	})
}

// Login verifies username and password and returns a token pair.  When
// the client passes next, the sanitized value comes back as redirect.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return h.respond(c, err)
	}
	a, err := h.Users.LoadActor(ctx, u.ID)
	if err != nil {
		return h.respond(c, err)
	}
	redirect := ""
	if req.Next != "" {
		redirect = SafeRedirect(req.Next)
	}
	return h.issue(c, a, redirect, func(ctx context.Context, hash string, exp time.Time) error {
		return h.Tokens.StoreRefresh(ctx, a.UserID, hash, exp)
	})
}

func (h *AuthHandler) refreshOwner(c echo.Context) (string, service.Actor, error) {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return "", service.Actor{}, &service.ValidationError{Fields: map[string]string{"refresh_token": "required"}}
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))
	ctx, cancel := withTimeout(c)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now())
	if err != nil {
		return "", service.Actor{}, err
	}
	a, err := h.Users.LoadActor(ctx, userID)
	if err != nil {
		return "", service.Actor{}, err
	}
	return hash, a, nil
}

func (h *AuthHandler) refreshFailed(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrTokenInvalid) || errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrForbidden) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	return h.respond(c, err)
}

// Refresh rotates the refresh token: the presented one is revoked and a
// new pair issued.  A token can be rotated once.
func (h *AuthHandler) Refresh(c echo.Context) error {
	hash, a, err := h.refreshOwner(c)
	if err != nil {
		return h.refreshFailed(c, err)
	}
	return h.issue(c, a, "", func(ctx context.Context, newHash string, exp time.Time) error {
		_, err := h.Tokens.Rotate(ctx, hash, newHash, exp, time.Now())
		return err
	})
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	_, a, err := h.refreshOwner(c)
	if err != nil {
		return h.refreshFailed(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, a.UserID, a.Username, a.IsAdmin(), h.Cfg.AccessTTLMin)
	if err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"access": tokenPart{Token: access.Token, Expires: access.Exp}})
}

// Logout revokes the refresh token in the body, or every session of the
// caller when none is given.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	ctx, cancel := withTimeout(c)
	defer cancel()

	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		if err := h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(raw)); err != nil {
			return h.respond(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
	}
	if err := h.Tokens.RevokeAllForUser(ctx, actor(c).UserID); err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out from all sessions"})
}

// Me describes the caller: user, profile and resolved scope.  A
// non-admin without a site gets the assignment message in the payload.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	a := actor(c)
	v, scope, err := h.Users.Me(ctx, a)
	if err != nil {
		return h.respond(c, err)
	}
	out := echo.Map{
		"user":     v,
		"is_admin": a.IsAdmin(),
		"scope":    echo.Map{"global": scope.Global, "site_id": scope.SiteID},
	}
	if _, err := service.ResolveScope(a); err != nil {
		out["message"] = service.NoSiteAssignedMessage
	}
	return c.JSON(http.StatusOK, out)
}

type passwordReq struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// ChangePassword stores a new password and ends every session.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req passwordReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Users.ChangePassword(ctx, actor(c), req.Current, req.New); err != nil {
		return h.respond(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}
