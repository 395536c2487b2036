// Package importer loads legacy person, photo and user exports into the
// store.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// PersonRecord is one person from a JSON or XLSX export.
type PersonRecord struct {
	DNI       int64  `json:"-"`
	RawDNI    any    `json:"dni"`
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Phone     string `json:"telefono"`
	Email     string `json:"email"`
	Badge     string `json:"tarjetavisita"`
	Notes     string `json:"observaciones"`
	Photo     string `json:"photo"` // base64, optional
}

// PhotoRecord pairs a DNI with a data URL or raw base64 image.
type PhotoRecord struct {
	Line int
	DNI  int64
	Data string
}

// UserRecord is one row of the users CSV export.
type UserRecord struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// parseDNI accepts digits with optional leading zeros, as exported by the
// legacy system.
func parseDNI(s string) (int64, error) {
	s = strings.TrimLeft(strings.TrimSpace(s), "0")
	if s == "" {
		return 0, errors.New("empty dni")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid dni %q", s)
	}
	return n, nil
}

// ReadPersonsJSON decodes an array of persons.  Entries without a usable
// DNI are dropped.
func ReadPersonsJSON(r io.Reader) ([]PersonRecord, int, error) {
	var raw []PersonRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decode persons: %w", err)
	}
	out := raw[:0]
	skipped := 0
	for _, p := range raw {
		var s string
		switch v := p.RawDNI.(type) {
		case float64:
			s = strconv.FormatFloat(v, 'f', 0, 64)
		case string:
			s = v
		}
		dni, err := parseDNI(s)
		if err != nil {
			skipped++
			continue
		}
		p.DNI = dni
		out = append(out, p)
	}
	return out, skipped, nil
}

// ReadPersonsXLSX reads the first sheet.  Columns are matched by header
// name (dni, nombre, apellido, telefono, email, tarjetavisita,
// observaciones), case-insensitively.
func ReadPersonsXLSX(r io.Reader) ([]PersonRecord, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, 0, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, 0, nil
	}
	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["dni"]; !ok {
		return nil, 0, errors.New("missing dni column")
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []PersonRecord
	skipped := 0
	for _, row := range rows[1:] {
		dni, err := parseDNI(cell(row, "dni"))
		if err != nil {
			skipped++
			continue
		}
		out = append(out, PersonRecord{
			DNI:       dni,
			FirstName: cell(row, "nombre"),
			LastName:  cell(row, "apellido"),
			Phone:     cell(row, "telefono"),
			Email:     cell(row, "email"),
			Badge:     cell(row, "tarjetavisita"),
			Notes:     cell(row, "observaciones"),
		})
	}
	return out, skipped, nil
}

func newCSV(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ReadPhotosCSV reads "dni;photo" rows after a header line.  Everything
// after the first separator is the photo.  Rows with a bad DNI or an
// empty photo are reported in skipped by line number.
func ReadPhotosCSV(r io.Reader) ([]PhotoRecord, []int, error) {
	cr := newCSV(r)
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var (
		out     []PhotoRecord
		skipped []int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		line, _ := cr.FieldPos(0)
		var data string
		if len(row) > 1 {
			// data URLs carry their own ';'
			data = strings.TrimSpace(strings.Join(row[1:], ";"))
		}
		if data == "" {
			skipped = append(skipped, line)
			continue
		}
		dni, err := parseDNI(row[0])
		if err != nil {
			skipped = append(skipped, line)
			continue
		}
		out = append(out, PhotoRecord{Line: line, DNI: dni, Data: data})
	}
	return out, skipped, nil
}

// ReadUsersCSV reads a ';' CSV with username, email and name columns.
// The last word of name is the last name.
func ReadUsersCSV(r io.Reader) ([]UserRecord, error) {
	cr := newCSV(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["username"]; !ok {
		return nil, errors.New("missing username column")
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	var out []UserRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		u := UserRecord{Username: get(row, "username"), Email: get(row, "email")}
		if u.Username == "" {
			continue
		}
		if words := strings.Fields(get(row, "name")); len(words) > 0 {
			u.LastName = words[len(words)-1]
			u.FirstName = strings.Join(words[:len(words)-1], " ")
		}
		out = append(out, u)
	}
}
