// Package report renders the filtered visit report as XLSX and PDF
// files.
package report

import (
	"strconv"
	"time"

	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// Download names served to browsers.
const (
	XLSXFilename = "informe_visitas.xlsx"
	PDFFilename  = "informe_visitas.pdf"
)

// Headers are the report columns, in order.
var Headers = []string{
	"Fecha",
	"DNI",
	"Nombre",
	"Tarjeta",
	"Sede",
	"Área",
	"Hora entrada",
	"Hora salida",
	"Recepcionista",
	"Registrado por",
}

// displayDate turns a stored 2006-01-02 date into 02/01/2006.
func displayDate(s string) string {
	t, err := time.Parse(repository.DateLayout, s)
	if err != nil {
		return s
	}
	return t.Format("02/01/2006")
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// cells flattens one row into display strings matching Headers.
func cells(r repository.VisitRow) []string {
	receptionist := r.ReceptionistName
	if r.ReceptionistSurname != "" {
		receptionist += " " + r.ReceptionistSurname
	}
	if receptionist == "" {
		receptionist = "No especificado"
	}
	return []string{
		displayDate(r.EntryDate),
		strconv.FormatInt(r.DNI, 10),
		r.FirstName + " " + r.LastName,
		r.BadgeNumber,
		r.SiteName,
		r.OrgUnitName,
		r.EntryTime,
		orDash(r.ExitTime),
		receptionist,
		orDash(r.CreatedByUsername),
	}
}
