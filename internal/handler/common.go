// Package handler holds the echo handlers of the /v1 API.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/middleware"
	"github.com/iliyamo/visitor-access-control/internal/report"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// dbTimeout bounds the store work of one request.
const dbTimeout = 5 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// actor returns the authenticated actor.  Routes without LoadActor get the
// zero actor, which resolves to no scope.
func actor(c echo.Context) service.Actor {
	a, _ := middleware.Actor(c)
	return a
}

func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.ValidationError{Fields: map[string]string{name: "invalid id"}}
	}
	return id, nil
}

func queryUint(c echo.Context, name string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimSpace(c.QueryParam(name)), 10, 64)
	return n
}

func queryInt(c echo.Context, name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(c.QueryParam(name)))
	return n
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
}

// photoFrom takes the photo from a multipart "photo_file" part, else
// from text holding a data URL or raw base64.  No photo yields nil.
func photoFrom(c echo.Context, text string) (*service.Photo, error) {
	if fh, err := c.FormFile("photo_file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, utils.MaxPhotoBytes+1))
		if err != nil {
			return nil, err
		}
		return service.PhotoFromBytes(data, fh.Header.Get(echo.HeaderContentType))
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return service.PhotoFromString(text)
}

// visitFilter reads the shared listing filters.  Malformed dates are field
// errors; a malformed numeric filter is ignored.
func visitFilter(c echo.Context, loc *time.Location) (repository.VisitFilter, error) {
	f := repository.VisitFilter{
		FirstName: strings.TrimSpace(c.QueryParam("nombre")),
		LastName:  strings.TrimSpace(c.QueryParam("apellido")),
		DNI:       strings.TrimSpace(c.QueryParam("dni")),
		Badge:     strings.TrimSpace(c.QueryParam("tarjetavisita")),
		SiteID:    queryUint(c, "sede"),
		OrgUnitID: queryUint(c, "area"),
		CreatedBy: queryUint(c, "usuario"),
		Page:      queryInt(c, "page"),
		PageSize:  queryInt(c, "page_size"),
	}
	f.Status = repository.ParseStatus(c.QueryParam("estado"))
	fields := map[string]string{}
	for _, d := range []struct {
		param string
		dst   **time.Time
	}{{"fecha_inicio", &f.From}, {"fecha_fin", &f.To}} {
		raw := strings.TrimSpace(c.QueryParam(d.param))
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(repository.DateLayout, raw, loc)
		if err != nil {
			fields[d.param] = "expected YYYY-MM-DD"
			continue
		}
		*d.dst = &t
	}
	if len(fields) > 0 {
		return f, &service.ValidationError{Fields: fields}
	}
	return f, nil
}

// Errors renders domain errors as JSON.  Anything unrecognized is logged
// and answered with a generic 500.
type Errors struct {
	Log *zap.Logger
}

func (e Errors) respond(c echo.Context, err error) error {
	var (
		ve *service.ValidationError
		bu *service.BadgeInUseError
		de *service.DependentsError
		nf *service.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": ve.Fields})
	case errors.As(err, &bu):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":      "badge in use",
			"message":    bu.Message(),
			"visit_id":   bu.VisitID,
			"first_name": bu.FirstName,
			"last_name":  bu.LastName,
			"site_id":    bu.SiteID,
			"site_name":  bu.SiteName,
			"entry_date": bu.EntryAt.Format(repository.DateLayout),
			"entry_time": bu.EntryAt.Format("15:04"),
		})
	case errors.Is(err, service.ErrAlreadyClosed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "visit already closed"})
	case errors.As(err, &de):
		return c.JSON(http.StatusConflict, echo.Map{"error": de.Error(), "dependents": de.Count})
	case errors.Is(err, service.ErrNoSiteAssigned):
		return c.JSON(http.StatusForbidden, echo.Map{"error": service.NoSiteAssignedMessage})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, echo.Map{"error": nf.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrInvalidLogin):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, report.ErrPDFUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": report.ErrPDFUnavailable.Error()})
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	rid, _ := c.Get("request_id").(string)
	log.Error("request failed",
		zap.String("request_id", rid),
		zap.String("method", c.Request().Method),
		zap.String("route", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
