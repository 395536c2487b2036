package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/visitor-access-control/internal/repository"
)

func sampleRows() []repository.VisitRow {
	exit := "10:30"
	user := "recepcion"
	return []repository.VisitRow{
		{ID: 2, PersonID: 3, FirstName: "Ana", LastName: "Gómez", DNI: 30111222, BadgeNumber: "V001",
			SiteName: "Sede La Plata", OrgUnitName: "Dirección de Compras", EntryDate: "2024-05-02",
			EntryTime: "09:15", ExitTime: &exit, ReceptionistName: "Laura", ReceptionistSurname: "Díaz",
			CreatedByUsername: &user},
		{ID: 1, PersonID: 4, FirstName: "Juan", LastName: "Pérez", DNI: 20999888, BadgeNumber: "V001",
			SiteName: "Sede Central Buenos Aires", OrgUnitName: "Dirección de RRHH", EntryDate: "2024-05-01",
			EntryTime: "08:00", Open: true},
	}
}

func TestCells(t *testing.T) {
	got := cells(sampleRows()[1])
	require.Len(t, got, len(Headers))
	assert.Equal(t, "01/05/2024", got[0])
	assert.Equal(t, "Juan Pérez", got[2])
	assert.Equal(t, "-", got[7])
	assert.Equal(t, "No especificado", got[8])
	assert.Equal(t, "-", got[9])
}

func TestXLSX(t *testing.T) {
	data, err := XLSX(sampleRows())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "02/05/2024", rows[1][0])
	assert.Equal(t, "30111222", rows[1][1])
	assert.Equal(t, "Ana Gómez", rows[1][2])
	assert.Equal(t, "10:30", rows[1][7])
	assert.Equal(t, "Laura Díaz", rows[1][8])
	assert.Equal(t, "-", rows[2][7])
}

func TestXLSXEmpty(t *testing.T) {
	data, err := XLSX(nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// 1x1 transparent PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestPDF(t *testing.T) {
	logo, err := base64.StdEncoding.DecodeString(pixelPNG)
	require.NoError(t, err)

	var photoCalls int
	p := &PDF{
		Enabled: true,
		Title:   "Informe de visitas",
		Logo:    logo,
		Now:     func() time.Time { return time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC) },
		Photos: func(_ context.Context, id uint64) ([]byte, string, bool) {
			photoCalls++
			if id == 3 {
				return logo, "image/png", true
			}
			return nil, "", false
		},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(context.Background(), &buf, sampleRows()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, 2, photoCalls)
}

func TestPDFSkipsUnreadablePhoto(t *testing.T) {
	p := &PDF{
		Enabled: true,
		Photos: func(context.Context, uint64) ([]byte, string, bool) {
			// PNG signature followed by garbage
			return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...), "image/png", true
		},
	}
	var buf bytes.Buffer
	require.NoError(t, p.Write(context.Background(), &buf, sampleRows()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestPDFDisabled(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, (&PDF{}).Write(context.Background(), &buf, nil), ErrPDFUnavailable)
	var nilPDF *PDF
	assert.ErrorIs(t, nilPDF.Write(context.Background(), &buf, nil), ErrPDFUnavailable)
	assert.Zero(t, buf.Len())
}

func TestNewPDFMissingLogo(t *testing.T) {
	p, err := NewPDF(true, "/nonexistent/logo.png")
	assert.Error(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled)
	assert.Nil(t, p.Logo)
}
