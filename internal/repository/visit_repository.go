package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/visitor-access-control/internal/model"
)

// Wall-clock layouts used for the DATE and TIME(6) visit columns.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05.000000"
	wallLayout = "2006-01-02 15:04:05.999999"
)

// VisitRepo encapsulates queries for the `visits` table.  Entry and exit
// columns hold local wall-clock values; loc is the zone they are read in.
type VisitRepo struct {
	db  *sql.DB
	loc *time.Location
}

// NewVisitRepo constructs a VisitRepo.  A nil loc means UTC.
func NewVisitRepo(db *sql.DB, loc *time.Location) *VisitRepo {
	if loc == nil {
		loc = time.UTC
	}
	return &VisitRepo{db: db, loc: loc}
}

// DB exposes the handle so services can open transactions.
func (r *VisitRepo) DB() *sql.DB { return r.db }

// Location returns the zone visit times are expressed in.
func (r *VisitRepo) Location() *time.Location { return r.loc }

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const visitColumns = `v.id, v.person_id, v.site_id, v.org_unit_id, v.badge_number,
	DATE_FORMAT(v.entry_date, '%Y-%m-%d'), TIME_FORMAT(v.entry_time, '%H:%i:%s.%f'),
	DATE_FORMAT(v.exit_date, '%Y-%m-%d'), TIME_FORMAT(v.exit_time, '%H:%i:%s.%f'),
	v.receptionist_name, v.receptionist_surname, v.notes, v.created_by, v.created_at, v.updated_at`

// ParseWall combines DATE and TIME column text into a time in loc.
func ParseWall(date, clock string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(wallLayout, date+" "+clock, loc)
}

func (r *VisitRepo) scanVisit(s rowScanner) (*model.Visit, error) {
	var (
		v                    model.Visit
		entryDate, entryTime string
		exitDate, exitTime   sql.NullString
		notes                sql.NullString
		createdBy            sql.NullInt64
	)
	if err := s.Scan(&v.ID, &v.PersonID, &v.SiteID, &v.OrgUnitID, &v.BadgeNumber,
		&entryDate, &entryTime, &exitDate, &exitTime,
		&v.ReceptionistName, &v.ReceptionistSurname, &notes, &createdBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	entry, err := ParseWall(entryDate, entryTime, r.loc)
	if err != nil {
		return nil, fmt.Errorf("visit %d entry: %w", v.ID, err)
	}
	v.EntryAt = entry
	if exitDate.Valid && exitTime.Valid {
		exit, err := ParseWall(exitDate.String, exitTime.String, r.loc)
		if err != nil {
			return nil, fmt.Errorf("visit %d exit: %w", v.ID, err)
		}
		v.ExitAt = &exit
	}
	v.Notes = nullStringPtr(notes)
	if createdBy.Valid {
		id := uint64(createdBy.Int64)
		v.CreatedBy = &id
	}
	return &v, nil
}

// GetByID fetches a visit or returns ErrNotFound.
func (r *VisitRepo) GetByID(ctx context.Context, id uint64) (*model.Visit, error) {
	v, err := r.scanVisit(r.db.QueryRowContext(ctx, "SELECT "+visitColumns+" FROM visits v WHERE v.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// GetForUpdateTx reads a visit with an exclusive row lock.
func (r *VisitRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Visit, error) {
	v, err := r.scanVisit(tx.QueryRowContext(ctx, "SELECT "+visitColumns+" FROM visits v WHERE v.id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// BadgeHolder describes the open visit currently holding a badge at a site.
type BadgeHolder struct {
	VisitID   uint64
	PersonID  uint64
	FirstName string
	LastName  string
	SiteID    uint64
	SiteName  string
	Badge     string
	EntryAt   time.Time
}

const openBadgeQuery = `SELECT v.id, p.id, p.first_name, p.last_name, s.id, s.name, v.badge_number,
		DATE_FORMAT(v.entry_date, '%Y-%m-%d'), TIME_FORMAT(v.entry_time, '%H:%i:%s.%f')
	FROM visits v
	JOIN persons p ON p.id = v.person_id
	JOIN sites s   ON s.id = v.site_id
	WHERE v.site_id = ? AND v.badge_number = ? AND v.exit_time IS NULL
	ORDER BY v.id
	LIMIT 1`

func (r *VisitRepo) findOpenByBadge(ctx context.Context, q queryRower, siteID uint64, badge string, lock bool) (*BadgeHolder, error) {
	query := openBadgeQuery
	if lock {
		query += " FOR UPDATE"
	}
	var (
		h           BadgeHolder
		date, clock string
	)
	err := q.QueryRowContext(ctx, query, siteID, badge).Scan(
		&h.VisitID, &h.PersonID, &h.FirstName, &h.LastName, &h.SiteID, &h.SiteName, &h.Badge, &date, &clock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if h.EntryAt, err = ParseWall(date, clock, r.loc); err != nil {
		return nil, err
	}
	return &h, nil
}

// FindOpenByBadge returns the open visit holding badge at site, or
// ErrNotFound when the badge is free there.
func (r *VisitRepo) FindOpenByBadge(ctx context.Context, siteID uint64, badge string) (*BadgeHolder, error) {
	return r.findOpenByBadge(ctx, r.db, siteID, badge, false)
}

// FindOpenByBadgeTx is FindOpenByBadge inside tx, locking the holder row.
func (r *VisitRepo) FindOpenByBadgeTx(ctx context.Context, tx *sql.Tx, siteID uint64, badge string) (*BadgeHolder, error) {
	return r.findOpenByBadge(ctx, tx, siteID, badge, true)
}

// CreateTx inserts an open visit and sets its id.  A unique violation on
// the open-badge key surfaces as ErrDuplicate.
func (r *VisitRepo) CreateTx(ctx context.Context, tx *sql.Tx, v *model.Visit) error {
	entry := v.EntryAt.In(r.loc)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO visits (person_id, site_id, org_unit_id, badge_number, entry_date, entry_time,
		   receptionist_name, receptionist_surname, notes, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.PersonID, v.SiteID, v.OrgUnitID, v.BadgeNumber,
		entry.Format(DateLayout), entry.Format(TimeLayout),
		v.ReceptionistName, v.ReceptionistSurname, v.Notes, v.CreatedBy)
	if err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint64(id)
	return nil
}

// CloseTx stamps the exit of an open visit.  ErrConflict means the
// visit was already closed.
func (r *VisitRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, exitAt time.Time) error {
	exit := exitAt.In(r.loc)
	res, err := tx.ExecContext(ctx,
		"UPDATE visits SET exit_date = ?, exit_time = ? WHERE id = ? AND exit_time IS NULL",
		exit.Format(DateLayout), exit.Format(TimeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateTx rewrites the correctable fields of a visit.  A nil ExitAt
// keeps the stored exit, so a closed visit cannot be reopened here.
func (r *VisitRepo) UpdateTx(ctx context.Context, tx *sql.Tx, v *model.Visit) error {
	var exitDate, exitTime any
	if v.ExitAt != nil {
		exit := v.ExitAt.In(r.loc)
		exitDate, exitTime = exit.Format(DateLayout), exit.Format(TimeLayout)
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE visits SET org_unit_id = ?, receptionist_name = ?, receptionist_surname = ?, notes = ?,
		   exit_date = COALESCE(?, exit_date), exit_time = COALESCE(?, exit_time) WHERE id = ?`,
		v.OrgUnitID, v.ReceptionistName, v.ReceptionistSurname, v.Notes, exitDate, exitTime, v.ID)
	return err
}
