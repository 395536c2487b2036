package handler

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/visitor-access-control/internal/report"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

// exportTimeout bounds file exports, which read the whole filtered set.
const exportTimeout = 60 * time.Second

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF  = "application/pdf"
)

// ReportHandler serves the administrator visit report and its exports.
type ReportHandler struct {
	Errors
	Queries *service.QueryService
	PDF     *report.PDF
	Loc     *time.Location
}

func NewReportHandler(queries *service.QueryService, pdf *report.PDF, loc *time.Location, errs Errors) *ReportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportHandler{Errors: errs, Queries: queries, PDF: pdf, Loc: loc}
}

// Report answers ?format=xlsx|pdf with a file over the unpaginated
// filtered set, anything else with one JSON page.
func (h *ReportHandler) Report(c echo.Context) error {
	f, err := visitFilter(c, h.Loc)
	if err != nil {
		return h.respond(c, err)
	}
	a := actor(c)
	format := c.QueryParam("format")
	if format != "xlsx" && format != "pdf" {
		ctx, cancel := withTimeout(c)
		defer cancel()
		page, err := h.Queries.Report(ctx, a, f)
		if err != nil {
			return h.respond(c, err)
		}
		return c.JSON(http.StatusOK, page)
	}

	if format == "pdf" && (h.PDF == nil || !h.PDF.Enabled) {
		return h.respond(c, report.ErrPDFUnavailable)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), exportTimeout)
	defer cancel()
	rows, err := h.Queries.Export(ctx, a, f)
	if err != nil {
		return h.respond(c, err)
	}

	if format == "xlsx" {
		data, err := report.XLSX(rows)
		if err != nil {
			return h.respond(c, err)
		}
		return attachment(c, report.XLSXFilename, mimeXLSX, data)
	}
	var buf bytes.Buffer
	if err := h.PDF.Write(ctx, &buf, rows); err != nil {
		return h.respond(c, err)
	}
	return attachment(c, report.PDFFilename, mimePDF, buf.Bytes())
}

func attachment(c echo.Context, name, mime string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, mime, data)
}
