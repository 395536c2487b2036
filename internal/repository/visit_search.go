package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Visit status filter values.
const (
	StatusOpen   = "activas"
	StatusClosed = "completadas"
)

// ParseStatus maps a status filter value to StatusOpen or StatusClosed.
// "open" and "closed" are accepted alongside the Spanish values; anything
// else yields "".
func ParseStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusOpen, "open":
		return StatusOpen
	case StatusClosed, "closed":
		return StatusClosed
	}
	return ""
}

// VisitFilter defines filters & pagination for visit listings.  SiteID is
// expected to be already pinned by the caller's scope.
type VisitFilter struct {
	From      *time.Time // entry date >= From (date part)
	To        *time.Time // entry date <= To (date part)
	FirstName string
	LastName  string
	DNI       string
	Badge     string
	SiteID    uint64
	OrgUnitID uint64
	CreatedBy uint64
	Status    string // StatusOpen | StatusClosed | ""
	Page      int
	PageSize  int
}

// VisitRow is a visit joined with the names operators read in listings.
type VisitRow struct {
	ID                  uint64  `json:"id"`
	PersonID            uint64  `json:"person_id"`
	FirstName           string  `json:"first_name"`
	LastName            string  `json:"last_name"`
	DNI                 int64   `json:"dni"`
	BadgeNumber         string  `json:"badge_number"`
	SiteID              uint64  `json:"site_id"`
	SiteName            string  `json:"site_name"`
	OrgUnitID           uint64  `json:"org_unit_id"`
	OrgUnitName         string  `json:"org_unit_name"`
	OrgUnitCode         string  `json:"org_unit_code"`
	EntryDate           string  `json:"entry_date"`
	EntryTime           string  `json:"entry_time"`
	ExitDate            *string `json:"exit_date"`
	ExitTime            *string `json:"exit_time"`
	ReceptionistName    string  `json:"receptionist_name"`
	ReceptionistSurname string  `json:"receptionist_surname"`
	Notes               *string `json:"notes"`
	CreatedByID         *uint64 `json:"created_by_id"`
	CreatedByUsername   *string `json:"created_by_username"`
	Open                bool    `json:"open"`
}

const visitRowSelect = `SELECT v.id, p.id, p.first_name, p.last_name, p.dni, v.badge_number,
		s.id, s.name, u.id, u.name, u.code,
		DATE_FORMAT(v.entry_date, '%Y-%m-%d'), TIME_FORMAT(v.entry_time, '%H:%i'),
		DATE_FORMAT(v.exit_date, '%Y-%m-%d'), TIME_FORMAT(v.exit_time, '%H:%i'),
		v.receptionist_name, v.receptionist_surname, v.notes, v.created_by, cu.username
	FROM visits v
	JOIN persons p    ON p.id = v.person_id
	JOIN sites s      ON s.id = v.site_id
	JOIN org_units u  ON u.id = v.org_unit_id
	LEFT JOIN users cu ON cu.id = v.created_by`

const visitRowFrom = ` FROM visits v
	JOIN persons p    ON p.id = v.person_id`

func scanVisitRow(s rowScanner) (VisitRow, error) {
	var (
		d                  VisitRow
		exitDate, exitTime sql.NullString
		notes, creator     sql.NullString
		createdBy          sql.NullInt64
	)
	if err := s.Scan(&d.ID, &d.PersonID, &d.FirstName, &d.LastName, &d.DNI, &d.BadgeNumber,
		&d.SiteID, &d.SiteName, &d.OrgUnitID, &d.OrgUnitName, &d.OrgUnitCode,
		&d.EntryDate, &d.EntryTime, &exitDate, &exitTime,
		&d.ReceptionistName, &d.ReceptionistSurname, &notes, &createdBy, &creator); err != nil {
		return d, err
	}
	d.ExitDate = nullStringPtr(exitDate)
	d.ExitTime = nullStringPtr(exitTime)
	d.Notes = nullStringPtr(notes)
	d.CreatedByUsername = nullStringPtr(creator)
	if createdBy.Valid {
		id := uint64(createdBy.Int64)
		d.CreatedByID = &id
	}
	d.Open = d.ExitTime == nil
	return d, nil
}

// where renders the filter into a SQL condition and its arguments.
func (f VisitFilter) where() (string, []any) {
	where := []string{}
	args := []any{}
	like := func(col, v string) {
		if v = strings.TrimSpace(v); v != "" {
			where = append(where, "LOWER("+col+") LIKE ?")
			args = append(args, "%"+strings.ToLower(v)+"%")
		}
	}
	if f.From != nil {
		where = append(where, "v.entry_date >= ?")
		args = append(args, f.From.Format(DateLayout))
	}
	if f.To != nil {
		where = append(where, "v.entry_date <= ?")
		args = append(args, f.To.Format(DateLayout))
	}
	like("p.first_name", f.FirstName)
	like("p.last_name", f.LastName)
	like("CAST(p.dni AS CHAR)", f.DNI)
	like("v.badge_number", f.Badge)
	if f.SiteID != 0 {
		where = append(where, "v.site_id = ?")
		args = append(args, f.SiteID)
	}
	if f.OrgUnitID != 0 {
		where = append(where, "v.org_unit_id = ?")
		args = append(args, f.OrgUnitID)
	}
	if f.CreatedBy != 0 {
		where = append(where, "v.created_by = ?")
		args = append(args, f.CreatedBy)
	}
	switch ParseStatus(f.Status) {
	case StatusOpen:
		where = append(where, "v.exit_time IS NULL")
	case StatusClosed:
		where = append(where, "v.exit_time IS NOT NULL")
	}
	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

// Search returns one page of visits matching f, newest entry first, and
// the total number of matches.
func (r *VisitRepo) Search(ctx context.Context, f VisitFilter, defPageSize int) ([]VisitRow, int64, error) {
	cond, args := f.where()

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+visitRowFrom+" WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, size := normalizePage(f.Page, f.PageSize, defPageSize)
	rows, err := r.db.QueryContext(ctx,
		visitRowSelect+" WHERE "+cond+" ORDER BY v.entry_date DESC, v.entry_time DESC LIMIT ? OFFSET ?",
		append(append([]any{}, args...), size, (page-1)*size)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]VisitRow, 0, size)
	for rows.Next() {
		d, err := scanVisitRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// SearchAll returns every visit matching f in listing order.  Pagination
// fields are ignored.  limit caps the result; zero means no cap.
func (r *VisitRepo) SearchAll(ctx context.Context, f VisitFilter, limit int) ([]VisitRow, error) {
	cond, args := f.where()
	q := visitRowSelect + " WHERE " + cond + " ORDER BY v.entry_date DESC, v.entry_time DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VisitRow
	for rows.Next() {
		d, err := scanVisitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Detail fetches one joined visit row or ErrNotFound.
func (r *VisitRepo) Detail(ctx context.Context, id uint64) (*VisitRow, error) {
	d, err := scanVisitRow(r.db.QueryRowContext(ctx, visitRowSelect+" WHERE v.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// OpenForPerson returns the most recent open visit of a person, limited
// to siteID when non-zero, or ErrNotFound.
func (r *VisitRepo) OpenForPerson(ctx context.Context, personID, siteID uint64) (*VisitRow, error) {
	q := visitRowSelect + " WHERE v.person_id = ? AND v.exit_time IS NULL"
	args := []any{personID}
	if siteID != 0 {
		q += " AND v.site_id = ?"
		args = append(args, siteID)
	}
	q += " ORDER BY v.entry_date DESC, v.entry_time DESC LIMIT 1"
	d, err := scanVisitRow(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// HomeStats are the dashboard counters.
type HomeStats struct {
	Active int64 `json:"active_visits"`
	Today  int64 `json:"today_visits"`
	Total  int64 `json:"total_visits"`
}

// Stats counts active, today's and all visits, limited to siteID when
// non-zero.
func (r *VisitRepo) Stats(ctx context.Context, siteID uint64, today time.Time) (HomeStats, error) {
	cond, args := "1=1", []any{}
	if siteID != 0 {
		cond, args = "site_id = ?", []any{siteID}
	}
	var s HomeStats
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(exit_time IS NULL), 0),
			COALESCE(SUM(entry_date = ?), 0),
			COUNT(*)
		 FROM visits WHERE `+cond,
		append([]any{today.In(r.loc).Format(DateLayout)}, args...)...).Scan(&s.Active, &s.Today, &s.Total)
	return s, err
}

// UserRef is a minimal user reference for filter dropdowns.
type UserRef struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Creators lists the users who registered visits, limited to siteID when
// non-zero and to open visits when openOnly.
func (r *VisitRepo) Creators(ctx context.Context, siteID uint64, openOnly bool) ([]UserRef, error) {
	q := `SELECT DISTINCT u.id, u.username FROM visits v JOIN users u ON u.id = v.created_by WHERE 1=1`
	var args []any
	if siteID != 0 {
		q += " AND v.site_id = ?"
		args = append(args, siteID)
	}
	if openOnly {
		q += " AND v.exit_time IS NULL"
	}
	q += " ORDER BY u.username"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRef
	for rows.Next() {
		var u UserRef
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
