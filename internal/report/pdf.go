package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// ErrPDFUnavailable means PDF export is disabled or the engine failed.
var ErrPDFUnavailable = errors.New("pdf engine unavailable")

// PhotoFunc loads a person's photo for the report thumbnails.  ok is
// false when there is none.
type PhotoFunc func(ctx context.Context, personID uint64) (data []byte, contentType string, ok bool)

// PDF renders the visit report on landscape A4 pages.
type PDF struct {
	Enabled bool
	Title   string
	Logo    []byte // PNG or JPEG; nil prints no logo
	Photos  PhotoFunc
	Now     func() time.Time
}

// NewPDF builds a renderer.  logoPath may be empty; an unreadable logo
// is reported so the caller can log it and carry on without one.
func NewPDF(enabled bool, logoPath string) (*PDF, error) {
	p := &PDF{Enabled: enabled, Title: "Informe de visitas", Now: time.Now}
	if logoPath == "" {
		return p, nil
	}
	logo, err := os.ReadFile(logoPath)
	if err != nil {
		return p, fmt.Errorf("read logo: %w", err)
	}
	p.Logo = logo
	return p, nil
}

// imageType maps a sniffed content type to the fpdf image type.
func imageType(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	}
	return ""
}

var pdfWidths = []float64{20, 20, 42, 16, 34, 46, 17, 17, 30, 22}

const (
	rowHeight   = 7.0
	photoHeight = 12.0
)

// Write renders rows into w.  Any engine failure is wrapped in
// ErrPDFUnavailable.
func (p *PDF) Write(ctx context.Context, w io.Writer, rows []repository.VisitRow) error {
	if p == nil || !p.Enabled {
		return ErrPDFUnavailable
	}
	doc := fpdf.New("L", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(p.Title, true)
	doc.SetAutoPageBreak(true, 12)
	doc.AliasNbPages("")

	logoType := imageType(p.Logo)
	if logoType != "" {
		doc.RegisterImageOptionsReader("logo", fpdf.ImageOptions{ImageType: logoType}, bytes.NewReader(p.Logo))
	}
	generated := p.now().Format("02/01/2006 15:04")

	doc.SetHeaderFunc(func() {
		if logoType != "" {
			doc.ImageOptions("logo", 10, 8, 0, 14, false, fpdf.ImageOptions{ImageType: logoType}, 0, "")
		}
		doc.SetFont("Helvetica", "B", 14)
		doc.SetXY(10, 10)
		doc.CellFormat(0, 8, tr(p.Title), "", 1, "C", false, 0, "")
		doc.SetFont("Helvetica", "", 8)
		doc.CellFormat(0, 5, tr(fmt.Sprintf("Generado %s - %d registros", generated, len(rows))), "", 1, "C", false, 0, "")
		doc.Ln(4)
		p.tableHeader(doc, tr)
	})
	doc.SetFooterFunc(func() {
		doc.SetY(-10)
		doc.SetFont("Helvetica", "I", 7)
		doc.CellFormat(0, 5, fmt.Sprintf("%d/{nb}", doc.PageNo()), "", 0, "R", false, 0, "")
	})

	doc.AddPage()
	doc.SetFont("Helvetica", "", 7)
	for i, r := range rows {
		if i%200 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		p.row(ctx, doc, tr, r)
	}
	if len(rows) == 0 {
		doc.CellFormat(0, rowHeight, tr("Sin visitas para los filtros seleccionados"), "1", 1, "C", false, 0, "")
	}
	if err := doc.Output(w); err != nil {
		return fmt.Errorf("%w: %v", ErrPDFUnavailable, err)
	}
	return nil
}

func (p *PDF) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *PDF) tableHeader(doc *fpdf.Fpdf, tr func(string) string) {
	doc.SetFont("Helvetica", "B", 7)
	doc.SetFillColor(31, 78, 120)
	doc.SetTextColor(255, 255, 255)
	for i, h := range Headers {
		doc.CellFormat(pdfWidths[i], rowHeight, tr(h), "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)
	doc.SetTextColor(0, 0, 0)
	doc.SetFont("Helvetica", "", 7)
}

func (p *PDF) row(ctx context.Context, doc *fpdf.Fpdf, tr func(string) string, r repository.VisitRow) {
	h := rowHeight
	var photo, kind string
	if p.Photos != nil {
		if data, _, ok := p.Photos(ctx, r.PersonID); ok {
			if kind = imageType(data); kind != "" {
				photo = fmt.Sprintf("person-%d", r.PersonID)
				if info := doc.GetImageInfo(photo); info == nil {
					doc.RegisterImageOptionsReader(photo, fpdf.ImageOptions{ImageType: kind}, bytes.NewReader(data))
				}
				if doc.Ok() {
					h = photoHeight
				} else {
					// unreadable photo: drop the thumbnail, keep the row
					doc.ClearError()
					photo = ""
				}
			}
		}
	}
	_, pageH := doc.GetPageSize()
	_, _, _, bottom := doc.GetMargins()
	if doc.GetY()+h > pageH-bottom {
		doc.AddPage()
	}
	x, y := doc.GetXY()
	for i, c := range cells(r) {
		text := tr(c)
		if i == 2 && photo != "" {
			doc.ImageOptions(photo, x+1, y+1, 0, h-2, false, fpdf.ImageOptions{ImageType: kind}, 0, "")
			text = strings.Repeat(" ", 14) + text
		}
		doc.CellFormat(pdfWidths[i], h, text, "1", 0, "L", false, 0, "")
		x += pdfWidths[i]
	}
	doc.Ln(-1)
}
