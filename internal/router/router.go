package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/handler"
	"github.com/iliyamo/visitor-access-control/internal/middleware"
)

// Deps carries every handler and middleware input the routes need.
// Metrics, Cache, Limit and LoginLimit may be nil.
type Deps struct {
	Auth     *handler.AuthHandler
	Home     *handler.HomeHandler
	Visits   *handler.VisitHandler
	Persons  *handler.PersonHandler
	Sites    *handler.SiteHandler
	OrgUnits *handler.OrgUnitHandler
	Users    *handler.UserHandler
	Reports  *handler.ReportHandler

	JWTSecret string
	LoginURL  string
	Actors    middleware.ActorLoader
	Log       *zap.Logger
	DB        handler.Pinger

	Metrics    http.Handler
	Cache      *middleware.ResponseCache
	Limit      echo.MiddlewareFunc
	LoginLimit echo.MiddlewareFunc
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}

// Register mounts the whole API on e.
func Register(e *echo.Echo, d Deps) {
	RegisterPublic(e, d)
	RegisterAuth(e, d)
	g := Protected(e, d)
	RegisterOperator(g, d)
	RegisterAdmin(g, d)
}

// RegisterPublic mounts the unauthenticated health endpoints.
func RegisterPublic(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAuth mounts the token endpoints.  Login carries its own, stricter
// rate limit.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth", orPass(d.Limit))
	g.POST("/login", d.Auth.Login, orPass(d.LoginLimit))
	g.POST("/refresh", d.Auth.Refresh)
	g.POST("/refresh-access", d.Auth.RefreshAccess)
}

// Protected returns the /v1 group every authenticated route hangs off:
// token check, actor load, then the rate limit keyed by user.
func Protected(e *echo.Echo, d Deps) *echo.Group {
	return e.Group("/v1",
		middleware.JWTAuth(d.JWTSecret, d.LoginURL),
		middleware.LoadActor(d.Actors, d.LoginURL, d.Log),
		orPass(d.Limit),
	)
}
